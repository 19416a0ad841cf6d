package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes structured entries through zerolog. Error entries are also
// handed to an optional collector that aggregates them for Kafka.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
	// Rotation settings, used only when Output is a file path.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, toFile := openOutput(cfg)
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat, NoColor: toFile}
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()
	return &Logger{zl: zl}, nil
}

func openOutput(cfg *Config) (io.Writer, bool) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, false
	case "stderr":
		return os.Stderr, false
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    positive(cfg.MaxSizeMB, 100),
		MaxBackups: positive(cfg.MaxBackups, 5),
		MaxAge:     positive(cfg.MaxAgeDays, 14),
		Compress:   true,
	}, true
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that carries fields on every entry.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value())
	}
	return &Logger{zl: ctx.Logger(), collector: l.collector}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.write(zerolog.InfoLevel, msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) { l.write(zerolog.WarnLevel, msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(zerolog.ErrorLevel, msg, fields)
	if l.collector != nil {
		l.collector.AddLog("error", msg, fieldMap(fields), callerOf(2))
	}
}

func (l *Logger) write(level zerolog.Level, msg string, fields []Field) {
	ev := l.zl.WithLevel(level)
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.apply(ev)
	}
	ev.Msg(msg)
}

// callerOf renders the caller skip frames up as dir/file.go:line.
func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
}

func fieldMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value()
	}
	return m
}

// AddCollector starts shipping aggregated error logs through cfg.Publisher,
// replacing any previous collector.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	l.RemoveCollector()
	l.collector = NewLogCollector(cfg)
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindError
	kindAny
)

// Field is one structured key/value pair.
type Field struct {
	Key  string
	kind fieldKind
	str  string
	num  int64
	flt  float64
	val  interface{}
}

func (f Field) apply(ev *zerolog.Event) {
	switch f.kind {
	case kindString:
		ev.Str(f.Key, f.str)
	case kindInt:
		ev.Int64(f.Key, f.num)
	case kindFloat:
		ev.Float64(f.Key, f.flt)
	case kindBool:
		ev.Bool(f.Key, f.num != 0)
	case kindError:
		if err, _ := f.val.(error); err != nil {
			ev.AnErr(f.Key, err)
		}
	default:
		ev.Interface(f.Key, f.val)
	}
}

// Value is the field's plain value; errors render as their message.
func (f Field) Value() interface{} {
	switch f.kind {
	case kindString:
		return f.str
	case kindInt:
		return f.num
	case kindFloat:
		return f.flt
	case kindBool:
		return f.num != 0
	case kindError:
		if err, _ := f.val.(error); err != nil {
			return err.Error()
		}
		return nil
	default:
		return f.val
	}
}

func String(key, value string) Field { return Field{Key: key, kind: kindString, str: value} }

func Int(key string, value int) Field { return Field{Key: key, kind: kindInt, num: int64(value)} }

func Int64(key string, value int64) Field { return Field{Key: key, kind: kindInt, num: value} }

func Float64(key string, value float64) Field { return Field{Key: key, kind: kindFloat, flt: value} }

func Error(err error) Field { return Field{Key: zerolog.ErrorFieldName, kind: kindError, val: err} }

func Any(key string, value interface{}) Field { return Field{Key: key, kind: kindAny, val: value} }

func Bool(key string, v bool) Field {
	f := Field{Key: key, kind: kindBool}
	if v {
		f.num = 1
	}
	return f
}

// Duration logs d in milliseconds.
func Duration(key string, d time.Duration) Field { return Int64(key, d.Milliseconds()) }

func Strings(key string, value []string) Field { return String(key, strings.Join(value, ", ")) }

func Time(key string, t time.Time) Field { return String(key, t.Format(time.RFC3339)) }
