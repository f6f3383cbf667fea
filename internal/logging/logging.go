package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// New builds a logger writing to stderr. format is "json" (the default) or
// "console" for human-readable output.
func New(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
	if level = strings.TrimSpace(level); level != "" {
		atomic, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = atomic
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
