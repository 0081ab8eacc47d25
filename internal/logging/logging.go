// Package logging builds the zap logger shared by the server and CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a sugared logger writing to stderr and the atomic level
// backing it, so the level can be changed while running. encoding is
// "json" or "console".
func New(level, encoding string) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	return build(level, encoding, "stderr")
}

// NewFile returns a JSON logger appending to path. The TUI uses it since
// the terminal belongs to the UI.
func NewFile(path, level string) (*zap.SugaredLogger, error) {
	log, _, err := build(level, "json", path)
	return log, err
}

func build(level, encoding, output string) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, lvl, fmt.Errorf("log level %q: %w", level, err)
	}
	if encoding == "" {
		encoding = "json"
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	if encoding == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := zap.Config{
		Level:            lvl,
		Encoding:         encoding,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{output},
		EncoderConfig:    encoderCfg,
	}.Build()
	if err != nil {
		return nil, lvl, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), lvl, nil
}

// SetLevel parses level and applies it to lvl.
func SetLevel(lvl zap.AtomicLevel, level string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	lvl.SetLevel(l)
	return nil
}

func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
