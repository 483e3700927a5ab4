package logger

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct {
	logger *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a development console logger at the given level.
func NewZapLogger(level string) *ZapLogger {
	developmentConfig := zap.NewDevelopmentConfig()

	developmentConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	developmentConfig.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	developmentConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	developmentConfig.EncoderConfig.CallerKey = "caller"
	developmentConfig.DisableCaller = false
	developmentConfig.Level = zap.NewAtomicLevelAt(toZapLevel(level))

	logger, err := developmentConfig.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)
	if err != nil {
		log.Fatal("error occurred while building zap logger: ", err)
	}

	return &ZapLogger{
		logger: logger.Sugar(),
	}
}

// NewFromZap wraps an existing zap logger, e.g. one from zaptest.
func NewFromZap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{
		logger: l.WithOptions(zap.AddCallerSkip(1)).Sugar(),
	}
}

func toZapLevel(levelStr string) zapcore.Level {
	var level zapcore.Level
	err := level.UnmarshalText([]byte(levelStr))
	if err != nil {
		log.Println("WARN (toZapLevel): failed to unmarshal zap log level from string - using INFO level")
		return zapcore.InfoLevel
	}

	return level
}

// Named returns a child logger with the given name segment.
func (l *ZapLogger) Named(name string) *ZapLogger {
	return &ZapLogger{logger: l.logger.Named(name)}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *ZapLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warnw(msg, keysAndValues...)
}

func (l *ZapLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) {
	l.logger.Fatalw(msg, keysAndValues...)
}

func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
