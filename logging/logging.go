// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package logging builds the node's single zap logger from
// config.LoggingConfig, the way a server binary wires up its one
// structured-logging sink before anything else starts.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/merklekv/merklekv/config"
)

// New returns a zap.Logger configured per cfg: console or JSON encoding,
// and a level parsed from cfg.Level. config.Config.Validate already
// restricts Level to debug/info/warn/error, so the error return here only
// guards against being called on an unvalidated Config.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	var zcfg zap.Config
	switch cfg.Format {
	case "console":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Encoding = "console"
	default:
		zcfg = zap.NewProductionConfig()
		zcfg.Encoding = "json"
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown level %q", level)
	}
}
