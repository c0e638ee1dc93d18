package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

// source yields the zerolog logger to write through at call time.
type source interface {
	current() zerolog.Logger
}

type static zerolog.Logger

func (s static) current() zerolog.Logger { return zerolog.Logger(s) }

// Logger writes structured events. The zero value discards everything.
type Logger struct {
	src    source
	fields []Field
}

// Nop returns a logger that is explicitly disabled.
func Nop() Logger { return Logger{src: static(zerolog.Nop())} }

// NewConsole is a pretty stderr logger for CLI commands, which run without
// a Service.
func NewConsole(level string) Logger {
	zl := zerolog.New(consoleWriter(os.Stderr)).Level(parseLevel(level, zerolog.InfoLevel))
	return Logger{src: static(zl.With().Timestamp().Logger())}
}

// NewWriter writes JSON lines to w. Level defaults to debug.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel))
	return Logger{src: static(zl.With().Timestamp().Logger())}
}

func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

// Enabled reports whether events at level would be written.
func (l Logger) Enabled(level Level) bool {
	if l.src == nil {
		return false
	}
	return level >= l.src.current().GetLevel()
}

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := Logger{src: l.src, fields: make([]Field, 0, len(l.fields)+len(fields))}
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

// emit must be called directly from the level methods; callerSkip counts
// on it.
func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	if l.src == nil {
		return
	}
	zl := l.src.current()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if c := caller(callerSkip); c != "" {
		e.Str(zerolog.CallerFieldName, c)
	}
	applyFields(e, l.fields)
	applyFields(e, fields)
	e.Msg(msg)
}

// callerSkip steps over caller, emit and the level method.
const callerSkip = 3

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
