package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"sync"
)

const recordTimeFormat = "2006-01-02 15:04:05.000"

func formatRecord(r Record) string {
	return fmt.Sprintf("[%s] [%s] [%s] [tid=%d fid=%d] %s",
		r.Time.Format(recordTimeFormat), r.Level, r.LoggerName, r.ThreadID, r.FiberID, r.Message)
}

// writerSink serializes records to an io.Writer one at a time.
// NewStdoutSink and NewDebugConsoleSink both return writerSinks, over
// different io.Writers, mirroring the teacher's habit of keeping one small
// concrete type behind several constructors.
type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *writerSink) Emit(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, formatRecord(r))
}

// NewStdoutSink returns a LogSink that writes to os.Stdout.
func NewStdoutSink() LogSink {
	return &writerSink{w: os.Stdout}
}

// NewDebugConsoleSink returns a LogSink for the platform debug console.
// There is no portable Go equivalent of OutputDebugString outside
// cgo/Windows syscalls, so — absent a third-party debug-console client in
// the example corpus — this falls back to stderr, in the same record
// format as the stdout sink.
func NewDebugConsoleSink() LogSink {
	return &writerSink{w: os.Stderr}
}

// FileSink appends whole records to a file, opened O_APPEND so that
// concurrent writers interleave whole records atomically up to the
// platform write limit, per spec.md §6.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (creating if necessary) path in append mode.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Emit(r Record) {
	line := formatRecord(r) + "\n"
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.WriteString(line)
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// SyslogSink forwards records to the local syslog daemon. There is no
// third-party syslog client anywhere in the example corpus, so this uses
// the standard library's log/syslog, which is itself the idiomatic choice
// absent an ecosystem alternative (see DESIGN.md).
type SyslogSink struct {
	w *syslog.Writer
}

// NewSyslogSink dials the local syslog daemon under the given tag.
func NewSyslogSink(tag string) (*SyslogSink, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, tag)
	if err != nil {
		return nil, err
	}
	return &SyslogSink{w: w}, nil
}

func (s *SyslogSink) Emit(r Record) {
	msg := formatRecord(r)
	switch r.Level {
	case LevelFatal:
		s.w.Crit(msg)
	case LevelError:
		s.w.Err(msg)
	case LevelWarning:
		s.w.Warning(msg)
	case LevelInfo, LevelVerbose:
		s.w.Info(msg)
	default:
		s.w.Debug(msg)
	}
}

// Close releases the syslog connection.
func (s *SyslogSink) Close() error {
	return s.w.Close()
}
