package utils

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode returns development logger", func(t *testing.T) {
		logger, err := NewLogger(true)
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger(true) returned nil logger")
		}
		_ = logger.Sync()
	})

	t.Run("production mode returns production logger", func(t *testing.T) {
		logger, err := NewLogger(false)
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger(false) returned nil logger")
		}
		_ = logger.Sync()
	})
}

func TestNewLoggerWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "usine.log")
	core, logs := observer.New(zapcore.InfoLevel)

	logger, err := NewLoggerWithFile(false, FileOptions{Path: path}, core)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello file")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
	if logs.FilterMessage("hello file").Len() != 1 {
		t.Error("extra core did not receive the entry")
	}
}
