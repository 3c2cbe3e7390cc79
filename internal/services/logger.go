package services

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines common logging interface for all services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// ProductionLogger is a structured logger backed by zap.
type ProductionLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a logger for the given service. Production uses the JSON
// encoder; every other environment gets the console encoder.
func NewLogger(service, env, level string) (*ProductionLogger, error) {
	var cfg zap.Config
	if strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ProductionLogger{sugar: base.Sugar().With("service", service)}, nil
}

// NewLoggerFromZap wraps an existing zap logger, e.g. zaptest or zap.NewNop.
func NewLoggerFromZap(base *zap.Logger) *ProductionLogger {
	return &ProductionLogger{sugar: base.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (p *ProductionLogger) Info(msg string, keysAndValues ...interface{}) {
	p.sugar.Infow(msg, keysAndValues...)
}

func (p *ProductionLogger) Error(msg string, keysAndValues ...interface{}) {
	p.sugar.Errorw(msg, keysAndValues...)
}

func (p *ProductionLogger) Debug(msg string, keysAndValues ...interface{}) {
	p.sugar.Debugw(msg, keysAndValues...)
}

func (p *ProductionLogger) Warn(msg string, keysAndValues ...interface{}) {
	p.sugar.Warnw(msg, keysAndValues...)
}

// Named returns a child logger tagged with a component name.
func (p *ProductionLogger) Named(component string) *ProductionLogger {
	return &ProductionLogger{sugar: p.sugar.Named(component)}
}

// Sync flushes buffered entries.
func (p *ProductionLogger) Sync() error {
	return p.sugar.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NoOpLogger is a logger that does nothing (for testing)
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *NoOpLogger) Error(msg string, keysAndValues ...interface{}) {}
func (n *NoOpLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *NoOpLogger) Warn(msg string, keysAndValues ...interface{})  {}
