// Package config layers the logging and sink configuration spec.md §6
// describes on top of viper, bound to pflag so cmd/mordorctl can override
// any key from the command line.
package config

import (
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/corvus-oss/mordor/logging"
)

// maskKeys lists the "log.{level}mask" keys in descending severity. The
// order does not affect the result: when more than one regex matches,
// LevelFor picks the highest matching level.
var maskKeys = []struct {
	key   string
	level logging.Level
}{
	{"log.fatalmask", logging.LevelFatal},
	{"log.errormask", logging.LevelError},
	{"log.warningmask", logging.LevelWarning},
	{"log.infomask", logging.LevelInfo},
	{"log.verbosemask", logging.LevelVerbose},
	{"log.debugmask", logging.LevelDebug},
	{"log.tracemask", logging.LevelTrace},
}

// Sink is one of the enabled output sinks from spec.md §6's log.{stdout,
// file,syslog,debug} toggles.
type Sink string

const (
	SinkStdout Sink = "stdout"
	SinkFile   Sink = "file"
	SinkSyslog Sink = "syslog"
	SinkDebug  Sink = "debug"
)

// Registry wraps a *viper.Viper with the log.* keys spec.md §6 names.
type Registry struct {
	v *viper.Viper
}

// New builds a Registry with defaults matching the teacher's own
// conservative logging posture: stdout on, everything else off, INFO.
func New() *Registry {
	v := viper.New()
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file", false)
	v.SetDefault("log.syslog", false)
	v.SetDefault("log.debug", false)
	for _, m := range maskKeys {
		v.SetDefault(m.key, "")
	}
	v.SetEnvPrefix("mordor")
	v.AutomaticEnv()
	return &Registry{v: v}
}

// BindFlags registers --log-stdout, --log-file, --log-syslog, --log-debug
// and --log-{level}mask on fs and binds them into the Registry, so
// cmd/mordorctl's CLI flags override config file and env values.
func (r *Registry) BindFlags(fs *pflag.FlagSet) {
	fs.Bool("log-stdout", r.v.GetBool("log.stdout"), "enable the stdout log sink")
	fs.Bool("log-file", r.v.GetBool("log.file"), "enable the file log sink")
	fs.Bool("log-syslog", r.v.GetBool("log.syslog"), "enable the syslog log sink")
	fs.Bool("log-debug", r.v.GetBool("log.debug"), "enable the debug log sink")
	for _, m := range maskKeys {
		flagName := "log-" + strings.TrimPrefix(m.key, "log.")
		fs.String(flagName, "", "regex of logger names forced to "+m.level.String())
	}
	_ = r.v.BindPFlag("log.stdout", fs.Lookup("log-stdout"))
	_ = r.v.BindPFlag("log.file", fs.Lookup("log-file"))
	_ = r.v.BindPFlag("log.syslog", fs.Lookup("log-syslog"))
	_ = r.v.BindPFlag("log.debug", fs.Lookup("log-debug"))
	for _, m := range maskKeys {
		flagName := "log-" + strings.TrimPrefix(m.key, "log.")
		_ = r.v.BindPFlag(m.key, fs.Lookup(flagName))
	}
}

// ReadInConfig loads the config file at path when path is non-empty, and
// an unreadable or missing file there is returned as an error. With an
// empty path it searches for a "mordor" config file in . and
// $HOME/.mordor; finding none in that search is not an error.
func (r *Registry) ReadInConfig(path string) error {
	if path != "" {
		r.v.SetConfigFile(path)
	} else {
		r.v.SetConfigName("mordor")
		r.v.AddConfigPath(".")
		r.v.AddConfigPath("$HOME/.mordor")
	}
	if err := r.v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			return nil
		}
		return err
	}
	return nil
}

// Sinks returns the set of sinks log.{stdout,file,syslog,debug} enable.
func (r *Registry) Sinks() []Sink {
	var out []Sink
	if r.v.GetBool("log.stdout") {
		out = append(out, SinkStdout)
	}
	if r.v.GetBool("log.file") {
		out = append(out, SinkFile)
	}
	if r.v.GetBool("log.syslog") {
		out = append(out, SinkSyslog)
	}
	if r.v.GetBool("log.debug") {
		out = append(out, SinkDebug)
	}
	return out
}

// LevelFor evaluates every log.{level}mask regex against name and returns
// the highest level whose regex matches, defaulting to logging.LevelInfo.
func (r *Registry) LevelFor(name string) logging.Level {
	masks := make(map[logging.Level]*regexp.Regexp, len(maskKeys))
	for _, m := range maskKeys {
		pattern := r.v.GetString(m.key)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		masks[m.level] = re
	}
	if level, ok := logging.LevelForMask(name, masks); ok {
		return level
	}
	return logging.LevelInfo
}

// ApplyLevel sets l's level via LevelFor(l.Name()). Call once per logger
// after flags/config are loaded, and again whenever a mask changes.
func (r *Registry) ApplyLevel(l *logging.Logger) {
	l.SetLevel(r.LevelFor(l.Name()))
}
