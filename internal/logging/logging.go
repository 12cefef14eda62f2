// Package logging builds the zap loggers used by both binaries.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.Mutex
	root = zap.NewNop()
)

// Setup configures the process-wide root logger.  "prod" gets JSON output
// at info level; anything else gets the console encoder at debug level.
// BRICK_LOG_LEVEL overrides the level.
func Setup(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(env, "prod") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if lvl := os.Getenv("BRICK_LOG_LEVEL"); lvl != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(lvl)); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(l)
		}
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	mu.Lock()
	root = l
	mu.Unlock()
	return l, nil
}

// Logger returns a named child of the root logger.  Before Setup it is a
// no-op logger, which keeps tests quiet.
func Logger(name string) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return root.Named(name).Sugar()
}
