package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/howkawgew/PlasmoSyncBot/config"
)

func TestLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, logLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, logLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, logLevel(""), "empty level falls back to info")
	assert.Equal(t, zapcore.InfoLevel, logLevel("loud"), "unknown level falls back to info")
}

func TestBuildLogger(t *testing.T) {
	logger := buildLogger(&config.Config{LogLevel: "debug", PrettyLogs: true})
	assert.NotNil(t, logger)

	logger = buildLogger(&config.Config{LogLevel: "error"})
	assert.NotNil(t, logger)
}
