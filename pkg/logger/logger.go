package logger

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a set of structured values attached to a log record.
type Fields map[string]any

type Logger interface {
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
	// Record writes one structured entry at level with fields attached.
	Record(ctx context.Context, level logrus.Level, fields Fields, msg string, args ...any)
}

type logrusLogger struct {
	logger *logrus.Logger
}

// getCallerFunctionName returns the short name of the function that called
// into the package-level helpers.
func getCallerFunctionName(skip int) string {
	pc := make([]uintptr, 1)
	if runtime.Callers(skip, pc) == 0 {
		return "unknown"
	}
	funcName := runtime.FuncForPC(pc[0]).Name()
	parts := strings.Split(funcName, ".")
	return parts[len(parts)-1]
}

func (l *logrusLogger) entry(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if traceID := getTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

func (l *logrusLogger) log(ctx context.Context, level logrus.Level, fields Fields, msg string, args []any) {
	if !l.logger.IsLevelEnabled(level) {
		return
	}
	entry := l.entry(ctx)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	// 5: runtime.Callers, getCallerFunctionName, log, method, package helper
	args = append([]any{getCallerFunctionName(5)}, args...)
	entry.Logf(level, "[%s] "+msg, args...)
}

func (l *logrusLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, logrus.WarnLevel, nil, msg, args)
}

func (l *logrusLogger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, logrus.ErrorLevel, nil, msg, args)
}

func (l *logrusLogger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, logrus.InfoLevel, nil, msg, args)
}

func (l *logrusLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, logrus.DebugLevel, nil, msg, args)
}

func (l *logrusLogger) Record(ctx context.Context, level logrus.Level, fields Fields, msg string, args ...any) {
	l.log(ctx, level, fields, msg, args)
}

var defaultLogger Logger = newStderrLogger()

type LoggerConfig struct {
	Level      string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	MaxSize    int    `json:"max_size,omitempty" yaml:"max_size,omitempty" toml:"max_size,omitempty"`          // MB per file, default 100
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" toml:"max_backups,omitempty"` // default 3
	MaxAge     int    `json:"max_age,omitempty" yaml:"max_age,omitempty" toml:"max_age,omitempty"`             // days, default 7
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty" toml:"compress,omitempty"`
}

func newStderrLogger() Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{logger: log}
}

// InitLogger replaces the default logger with one built from cfg. Records are
// JSON so trace IDs and failure fields can be extracted from the file.
func InitLogger(cfg *LoggerConfig) {
	if cfg == nil {
		cfg = &LoggerConfig{}
	}
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		maxAge := cfg.MaxAge
		if maxAge <= 0 {
			maxAge = 7
		}

		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   cfg.Compress,
		})
	}

	defaultLogger = &logrusLogger{logger: log}
}

// Use installs an existing logrus logger, mainly for tests that attach a hook.
func Use(l *logrus.Logger) {
	defaultLogger = &logrusLogger{logger: l}
}

func Warn(ctx context.Context, msg string, args ...any) {
	defaultLogger.Warn(ctx, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	defaultLogger.Error(ctx, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	defaultLogger.Info(ctx, msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	defaultLogger.Debug(ctx, msg, args...)
}

// Record writes a structured entry through the default logger.
func Record(ctx context.Context, level logrus.Level, fields Fields, msg string, args ...any) {
	defaultLogger.Record(ctx, level, fields, msg, args...)
}

func GetDefaultLogger() Logger {
	return defaultLogger
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID attaches a trace ID that every record logged with ctx carries.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTraceID returns the trace ID carried by ctx, if any.
func GetTraceID(ctx context.Context) string {
	return getTraceID(ctx)
}
