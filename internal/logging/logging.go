// Package logging builds the single zap.Logger each daemon process
// constructs once and passes down to every component by constructor
// injection, the way the teacher threads a *log.Logger into its services.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style JSON logger, or a human-readable console
// logger when dev is true.
func New(dev bool) (*zap.Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	return cfg.Build()
}

// Component returns a named sub-logger, the zap idiom for the teacher's
// "COMPONENT_NAME: "-prefix convention.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.Named(name)
}
