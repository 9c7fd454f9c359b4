// Package logging wraps zap with the handful of helpers the engine uses:
// environment presets, dotted component names and a no-op logger for tests.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors zapcore levels so callers don't import zapcore.
type Level int8

const (
	DebugLevel Level = -1
	InfoLevel  Level = 0
	WarnLevel  Level = 1
	ErrorLevel Level = 2
)

func ParseLevel(s string) (Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return Level(l), nil
}

type Logger struct {
	*zap.Logger
	level *zap.AtomicLevel
	name  string
}

// Config selects the output preset and level.
type Config struct {
	Environment string `yaml:"environment"`
	Level       string `yaml:"level"`
}

func NewDefaultConfig() Config {
	return Config{Environment: "dev", Level: "info"}
}

// New builds a logger from cfg. Unknown environments fall back to the
// production JSON preset.
func New(cfg Config) (*Logger, error) {
	log := NewLoggerFromEnv(cfg.Environment)
	if cfg.Level != "" {
		lvl, err := ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		log.SetLevel(lvl)
	}
	return log, nil
}

func NewLoggerFromEnv(env string) *Logger {
	var (
		enc   zapcore.Encoder
		level zap.AtomicLevel
	)
	switch env {
	case "dev":
		enc = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			MessageKey:     "M",
			LineEnding:     "\n",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		enc = zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "@timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     "\n",
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeName:     zapcore.FullNameEncoder,
		})
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
	return &Logger{Logger: zap.New(core, zap.AddCaller()), level: &level}
}

// NewTestLogger discards everything.
func NewTestLogger() *Logger {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	return &Logger{Logger: zap.NewNop(), level: &level}
}

// Wrap adopts an existing zap logger, e.g. an observer core in tests.
func Wrap(l *zap.Logger) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	return &Logger{Logger: l, level: &level}
}

func (log *Logger) GetName() string { return log.name }

func (log *Logger) GetLevel() Level { return Level(log.level.Level()) }

func (log *Logger) SetLevel(l Level) {
	log.level.SetLevel(zapcore.Level(l))
}

// Named returns a child logger; names nest with dots.
func (log *Logger) Named(name string) *Logger {
	full := name
	if log.name != "" {
		full = log.name + "." + name
	}
	return &Logger{Logger: log.Logger.Named(name), level: log.level, name: full}
}

func (log *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: log.Logger.With(fields...), level: log.level, name: log.name}
}

// AtExit flushes buffered entries. Meant to be deferred right after the
// logger is built.
func (log *Logger) AtExit() {
	if log.Logger != nil {
		_ = log.Logger.Sync()
	}
}
