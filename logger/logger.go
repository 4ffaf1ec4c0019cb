package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

func init() {
	log, _ = zap.NewProduction()
}

// Configure replaces the package logger. Call once from main before
// any component starts.
func Configure(debug bool) {
	conf := zap.NewProductionConfig()
	if debug {
		conf.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := conf.Build(zap.AddCallerSkip(1))
	if err != nil {
		return
	}
	log = l
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	log.Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
}

func Sync() error {
	return log.Sync()
}
