// Package log configures the daemon's structured operational logger.
//
// This is distinct from the tamper-evident audit log (internal/audit):
// this package is for operator-facing diagnostics (connection churn,
// dispatch timing, config reloads); the audit log is a fixed-schema
// record of every tool attempt and is never routed through zap.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger      *zap.Logger
	enabled     bool
	initialized bool
	mu          sync.Mutex
)

// Init initializes the logger based on the BASTION_AGENT_LOG_LEVEL env var
// (or level, when non-empty, which takes precedence — set by --log-level/--verbose).
// Valid levels: "", "info", "debug". Empty disables logging (zap.NewNop).
func Init(level string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return nil
	}
	initialized = true

	if level == "" {
		level = os.Getenv("BASTION_AGENT_LOG_LEVEL")
	}
	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	zapLevel := zapcore.InfoLevel
	if level == "debug" {
		zapLevel = zapcore.DebugLevel
	}

	enabled = true

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(homeDir, ".bastion-agent")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	logPath := filepath.Join(logDir, "agent.log")

	writeSyncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     7, // Days
		Compress:   true,
	})

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "",
		MessageKey:     "M",
		StacktraceKey:  "",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		writeSyncer,
		zapLevel,
	)

	logger = zap.New(core)
	logger.Info("logging started", zap.String("level", level))

	return nil
}

// IsEnabled returns whether logging is enabled.
func IsEnabled() bool {
	return enabled
}

// Logger returns the underlying zap logger, or a no-op logger if Init
// was never called or logging is disabled.
func Logger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Sync flushes any buffered log entries.
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// LogDispatch logs a completed tool dispatch with timing.
func LogDispatch(tool, toolCallID string, durationMs int64, outcome string) {
	if !enabled {
		return
	}
	logger.Info(fmt.Sprintf("[dispatch] %s id=%s %dms %s", tool, toolCallID, durationMs, outcome))
}

// LogSession logs session lifecycle events (start/resume/end).
func LogSession(sessionID, event string) {
	if !enabled {
		return
	}
	logger.Info(fmt.Sprintf("[session] %s %s", sessionID, event))
}
