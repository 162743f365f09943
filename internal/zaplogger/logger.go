// Package zaplogger builds the structured logger used across cmd/zace and
// wraps it as a runloop.Observer, so every step event the scheduler emits
// (plan_started, tool_call_started, tool_call_retrying, compaction_triggered,
// ...) gets a structured
// log line instead of disappearing into stdout noise.
package zaplogger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors the teacher-pack's logger config shape: level/format/output.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// New builds a *zap.Logger from Config, defaulting to console/info/stdout.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = "stdout"
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{cfg.OutputPath},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zcfg.Build()
}

// Observer implements runloop.Observer against a *zap.Logger: every
// scheduler event becomes a structured log line, and streamed planner tokens
// are written directly to stdout (they are not log events, just output).
type Observer struct {
	Log *zap.Logger
}

func NewObserver(log *zap.Logger) *Observer {
	return &Observer{Log: log}
}

func (o *Observer) OnEvent(name string, payload map[string]any) {
	fields := make([]zap.Field, 0, len(payload)+1)
	for k, v := range payload {
		fields = append(fields, zap.Any(k, v))
	}
	o.Log.Info(name, fields...)
}

func (o *Observer) OnToken(token string) {
	fmt.Fprint(os.Stdout, token)
}
