package storage

import (
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"go.uber.org/zap"
)

// excessiveLatency is the §4.1 threshold above which a health check is
// logged as suspiciously slow.
const excessiveLatency = 30 * time.Second

// RunHealthCheck times inner (the concrete backend's read+write round-trip)
// and logs an escalation if it exceeds excessiveLatency. inner must return
// nil on success; any non-nil return is the health failure itself, not a
// "contract violation" — the contract violation the teacher's base class
// flags is a check function that panics/returns a non-error sentinel
// instead of the expected nil, which in Go is simply impossible to express
// any other way than "inner's signature is error", so this helper's only
// remaining job is the latency flag and outcome log.
func RunHealthCheck(name string, inner func() error) error {
	start := time.Now()
	err := inner()
	elapsed := time.Since(start)

	if elapsed > excessiveLatency {
		logging.Log.Warn("storage health check exceeded latency threshold",
			zap.String("backend", name),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", excessiveLatency),
		)
	}

	if err != nil {
		logging.Log.Error("storage health check failed",
			zap.String("backend", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return err
	}

	logging.Log.Debug("storage health check passed",
		zap.String("backend", name),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}
