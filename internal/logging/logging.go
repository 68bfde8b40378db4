// Package logging builds the zap logger shared by the ledger binaries.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment names accepted by New. Unknown names get the production profile.
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvLocal       = "local"
	EnvTest        = "test"
)

// New creates a JSON logger writing to stderr and returns it with its
// runtime-adjustable level. An empty level means debug for development and
// local environments and info elsewhere.
func New(env, level string) (*zap.Logger, zap.AtomicLevel, error) {
	atomic, err := resolveLevel(env, level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	cfg := configFor(env)
	cfg.Level = atomic
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("env", env)), atomic, nil
}

func resolveLevel(env, level string) (zap.AtomicLevel, error) {
	if strings.TrimSpace(level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return zap.AtomicLevel{}, fmt.Errorf("invalid level %q: %w", level, err)
		}
		return zap.NewAtomicLevelAt(parsed), nil
	}

	if isDevelopment(env) {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
	}
	return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
}

func configFor(env string) zap.Config {
	cfg := zap.NewProductionConfig()
	if isDevelopment(env) {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}

func isDevelopment(env string) bool {
	return env == EnvDevelopment || env == EnvLocal
}
