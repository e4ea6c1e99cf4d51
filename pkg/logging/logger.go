// Package logging wraps go.uber.org/zap with the startup and redaction
// conventions the rest of the module expects, mirroring the teacher
// library's logger package (InitLogger/Info/Error/With/Sync, a package
// global plus env-driven config).
package logging

import (
	"os"
	"strings"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the package-level logger. Call Init before using it; a sane
// development default is installed at package init so importers that skip
// Init (e.g. quick scripts, tests) don't nil-panic.
var Log *zap.Logger

func init() {
	Log, _ = zap.NewDevelopment()
}

// Init builds the logger according to AIAgentPayments_LogLevel,
// AIAgentPayments_LogFile, and AIAgentPayments_LogColors, and in production
// mode uses zap's JSON production config with an ISO8601 time encoder.
func Init(devMode bool) error {
	var cfg zap.Config
	if devMode {
		cfg = zap.NewDevelopmentConfig()
		if strings.EqualFold(os.Getenv("AIAgentPayments_LogColors"), "false") {
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		} else {
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if lvl := os.Getenv("AIAgentPayments_LogLevel"); lvl != "" {
		var zl zapcore.Level
		if err := zl.UnmarshalText([]byte(strings.ToLower(lvl))); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(zl)
		}
	}

	if file := os.Getenv("AIAgentPayments_LogFile"); file != "" {
		cfg.OutputPaths = []string{file}
		cfg.ErrorOutputPaths = []string{file}
	}

	built, err := cfg.Build()
	if err != nil {
		return payerrors.Configuration("failed to initialize logger", map[string]any{"error": err.Error()})
	}
	Log = built
	return nil
}

// Redacted returns a zap.Field whose string value has passed through the
// secret redactor — use this instead of zap.String for anything that might
// carry a key, token, or webhook secret.
func Redacted(key, value string) zapcore.Field {
	return zap.String(key, payerrors.Redact(value))
}

// Sync flushes buffered log entries.
func Sync() error {
	if Log == nil {
		return nil
	}
	return Log.Sync()
}
