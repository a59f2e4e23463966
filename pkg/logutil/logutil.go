// Package logutil owns the process-wide zap logger.
package logutil

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the level and encoding of the global logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `toml:"level"`
	// Format is console or json. Empty picks console on a terminal and
	// json otherwise.
	Format string `toml:"format"`
}

var globalLogger atomic.Pointer[zap.Logger]

func init() {
	logger, err := newLogger(LogConfig{}, zapcore.Lock(os.Stderr))
	if err != nil {
		logger = zap.NewNop()
	}
	globalLogger.Store(logger)
}

// SetupLogger replaces the global logger.
func SetupLogger(cfg LogConfig) error {
	logger, err := newLogger(cfg, zapcore.Lock(os.Stderr))
	if err != nil {
		return err
	}
	SetGlobalLogger(logger)
	return nil
}

// SetGlobalLogger installs logger as the global logger.
func SetGlobalLogger(logger *zap.Logger) {
	globalLogger.Store(logger)
}

// GetGlobalLogger returns the global logger.
func GetGlobalLogger() *zap.Logger {
	return globalLogger.Load()
}

func newLogger(cfg LogConfig, out zapcore.WriteSyncer) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	encoder, err := getLoggerEncoder(cfg.Format, isTerminal(out))
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder, out, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel)), nil
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, errors.Wrapf(err, "invalid log level %q", s)
	}
	return level, nil
}

func getLoggerEncoder(format string, tty bool) (zapcore.Encoder, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(format) {
	case "":
		if !tty {
			return zapcore.NewJSONEncoder(encoderConfig), nil
		}
		fallthrough
	case "console":
		if tty {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		return zapcore.NewConsoleEncoder(encoderConfig), nil
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig), nil
	default:
		return nil, errors.Newf("unsupported log format %q", format)
	}
}

func isTerminal(out zapcore.WriteSyncer) bool {
	f, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}
