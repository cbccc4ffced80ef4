// Package logging generalizes the teacher's flat, level-filtered Logger
// interface (DefaultLogger, SetLevel) into the hierarchical, colon-keyed
// tree spec.md §4.7 asks for, with fiber-scoped disabling. The leaf-level
// Logger.Debug/Info/... calls keep the teacher's printf-style shape.
package logging

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/corvus-oss/mordor/internal/goid"
)

// Level is the ordered severity set from spec.md §4.7. Higher is noisier.
type Level int8

const (
	LevelNone Level = iota
	LevelFatal
	LevelError
	LevelWarning
	LevelInfo
	LevelVerbose
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelFatal:
		return "FATAL"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelVerbose:
		return "VERBOSE"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config mask name ("fatalmask", "debugmask", ...) or a
// bare level name to a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSuffix(strings.TrimSuffix(s, "mask"), "Mask")) {
	case "NONE":
		return LevelNone, true
	case "FATAL":
		return LevelFatal, true
	case "ERROR":
		return LevelError, true
	case "WARNING", "WARN":
		return LevelWarning, true
	case "INFO":
		return LevelInfo, true
	case "VERBOSE":
		return LevelVerbose, true
	case "DEBUG":
		return LevelDebug, true
	case "TRACE":
		return LevelTrace, true
	default:
		return LevelNone, false
	}
}

// Record is what a LogSink receives, matching spec.md §6's sink contract.
type Record struct {
	LoggerName string
	Time       time.Time
	Elapsed    time.Duration
	ThreadID   int64
	FiberID    int64
	Level      Level
	Message    string
	File       string
	Line       int
}

// LogSink receives finished Records. Implementations must not block the
// emitting Fiber indefinitely; slow sinks should buffer internally.
type LogSink interface {
	Emit(Record)
}

// Logger is one node of the colon-keyed hierarchy ("a:b:c").
type Logger struct {
	mu           sync.RWMutex
	name         string
	level        Level
	sinks        []LogSink
	inheritSinks bool
	parent       *Logger
	children     map[string]*Logger
}

// Name returns the logger's full colon-joined name.
func (l *Logger) Name() string { return l.name }

// SetLevel sets this logger's own filtering level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Level returns this logger's own filtering level (not inherited).
func (l *Logger) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetSinks replaces this logger's own sink list.
func (l *Logger) SetSinks(sinks ...LogSink) {
	l.mu.Lock()
	l.sinks = append([]LogSink(nil), sinks...)
	l.mu.Unlock()
}

// AddSink appends one sink to this logger's own sink list.
func (l *Logger) AddSink(sink LogSink) {
	l.mu.Lock()
	l.sinks = append(l.sinks, sink)
	l.mu.Unlock()
}

// SetInheritSinks controls whether ancestor sinks also receive this
// logger's records.
func (l *Logger) SetInheritSinks(inherit bool) {
	l.mu.Lock()
	l.inheritSinks = inherit
	l.mu.Unlock()
}

// Enabled reports whether level would be emitted, per spec.md: level <= logger.level.
func (l *Logger) Enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level <= l.level
}

func (l *Logger) snapshotSinkChain() []LogSink {
	var chain []LogSink
	for n := l; n != nil; {
		n.mu.RLock()
		chain = append(chain, n.sinks...)
		inherit := n.inheritSinks
		n.mu.RUnlock()
		if !inherit {
			break
		}
		n = n.parent
	}
	return chain
}

func (l *Logger) emit(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	if disabledFor(currentDisablerKey()) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	rec := Record{
		LoggerName: l.name,
		Time:       time.Now(),
		ThreadID:   goid.Current(),
		Level:      level,
		Message:    msg,
	}
	for _, sink := range l.snapshotSinkChain() {
		sink.Emit(rec)
	}
}

func (l *Logger) Fatal(format string, args ...interface{})   { l.emit(LevelFatal, format, args...) }
func (l *Logger) Error(format string, args ...interface{})   { l.emit(LevelError, format, args...) }
func (l *Logger) Warning(format string, args ...interface{}) { l.emit(LevelWarning, format, args...) }
func (l *Logger) Info(format string, args ...interface{})    { l.emit(LevelInfo, format, args...) }
func (l *Logger) Verbose(format string, args ...interface{}) { l.emit(LevelVerbose, format, args...) }
func (l *Logger) Debug(format string, args ...interface{})   { l.emit(LevelDebug, format, args...) }
func (l *Logger) Trace(format string, args ...interface{})   { l.emit(LevelTrace, format, args...) }

// registry is the process-wide logger tree, rooted at the empty name.
type registry struct {
	mu   sync.Mutex
	root *Logger
}

var reg = &registry{root: &Logger{name: "", level: LevelInfo, inheritSinks: true}}

// Get returns (creating if necessary) the Logger named by a colon-separated
// path such as "a:b:c", materializing any missing intermediates, per
// spec.md §4.7. A newly created logger starts at its parent's level at that
// moment; later SetLevel calls on the parent do not change it.
func Get(name string) *Logger {
	if name == "" {
		return reg.root
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	node := reg.root
	var built strings.Builder
	for i, part := range strings.Split(name, ":") {
		if i > 0 {
			built.WriteByte(':')
		}
		built.WriteString(part)
		if node.children == nil {
			node.children = make(map[string]*Logger)
		}
		child, ok := node.children[part]
		if !ok {
			child = &Logger{name: built.String(), level: node.Level(), inheritSinks: true, parent: node}
			node.children[part] = child
		}
		node = child
	}
	return node
}

// Root returns the top-level Logger.
func Root() *Logger { return reg.root }

// LevelForMask evaluates a set of level->regex masks against name and
// returns the highest level whose regex matches, per spec.md §6's
// "log.{level}mask" config keys; ok is false if nothing matched.
func LevelForMask(name string, masks map[Level]*regexp.Regexp) (Level, bool) {
	best := LevelNone
	matched := false
	for level, re := range masks {
		if re == nil {
			continue
		}
		if re.MatchString(name) && (!matched || level > best) {
			best = level
			matched = true
		}
	}
	return best, matched
}

// disabler state: fiber-scoped suppression flag. The key is whatever
// currentDisablerKey returns for the calling goroutine; the mordor package
// overrides this at init time (via SetDisablerKeyFunc) to key by *Fiber
// pointer, since a goroutine may host many Fibers over its lifetime and the
// disabling is meant to scope to one of them, not the goroutine itself. A
// package with no Fiber substrate loaded falls back to goroutine id.
var (
	disabledMu         sync.Mutex
	disabled           = map[interface{}]int{} // disabler key -> nesting depth
	currentDisablerKey = defaultDisablerKey
)

func defaultDisablerKey() interface{} { return goid.Current() }

// SetDisablerKeyFunc overrides how LogDisabler identifies "the current
// Fiber". Called once by the mordor package at init time; not meant for
// general use.
func SetDisablerKeyFunc(f func() interface{}) {
	if f == nil {
		f = defaultDisablerKey
	}
	currentDisablerKey = f
}

func disabledFor(key interface{}) bool {
	disabledMu.Lock()
	defer disabledMu.Unlock()
	return disabled[key] > 0
}

// LogDisabler suppresses all emission for the current Fiber between its
// creation and Release/Close. It nests: the flag only clears once every
// LogDisabler opened for this Fiber has been released.
type LogDisabler struct {
	key      interface{}
	released bool
}

// NewLogDisabler begins suppressing log emission for the current Fiber.
func NewLogDisabler() *LogDisabler {
	key := currentDisablerKey()
	disabledMu.Lock()
	disabled[key]++
	disabledMu.Unlock()
	return &LogDisabler{key: key}
}

// Release ends this disabler's suppression. Safe to call more than once.
func (d *LogDisabler) Release() {
	if d.released {
		return
	}
	d.released = true
	disabledMu.Lock()
	disabled[d.key]--
	if disabled[d.key] <= 0 {
		delete(disabled, d.key)
	}
	disabledMu.Unlock()
}

// Close implements io.Closer so LogDisabler can be used in a defer/with
// pattern: defer logging.NewLogDisabler().Close()
func (d *LogDisabler) Close() error {
	d.Release()
	return nil
}
