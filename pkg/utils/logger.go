package utils

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating log file written next to console output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger returns a zap logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewLoggerWithFile builds the console logger from NewLogger and, when file.Path is set,
// tees every entry into a lumberjack-rotated JSON file. Extra cores (for example an
// in-memory ring) are attached to the same tee.
func NewLoggerWithFile(debug bool, file FileOptions, extra ...zapcore.Core) (*zap.Logger, error) {
	base, err := NewLogger(debug)
	if err != nil {
		return nil, err
	}
	cores := []zapcore.Core{base.Core()}
	if file.Path != "" {
		if err := os.MkdirAll(filepath.Dir(file.Path), 0755); err != nil {
			return nil, err
		}
		level := zapcore.InfoLevel
		if debug {
			level = zapcore.DebugLevel
		}
		rotator := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    orDefault(file.MaxSizeMB, 10),
			MaxBackups: orDefault(file.MaxBackups, 3),
			MaxAge:     orDefault(file.MaxAgeDays, 28),
			Compress:   true,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}
	cores = append(cores, extra...)
	opts := []zap.Option{zap.AddCaller()}
	if debug {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
