package usdt

import (
	"context"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"go.uber.org/zap"
)

// scopeLockTimeout is §5's 10-second lock-acquisition cap.
const scopeLockTimeout = 10 * time.Second

// withScope implements §4.3.2: acquire the reentrant lock (bounded by
// scopeLockTimeout), run body, commit on normal return if the backend
// supports transactions, rollback and re-raise on error. Release is
// guaranteed on every exit path via defer.
func (p *Provider) withScope(ctx context.Context, body func(ctx context.Context) error) error {
	if err := p.scopeLock.Acquire(scopeLockTimeout); err != nil {
		return err
	}
	defer p.scopeLock.Release()
	p.maybeResetCounters()

	supportsTxn := p.Backend.Capabilities().SupportsTransactions
	if supportsTxn {
		if err := p.Backend.BeginTransaction(ctx); err != nil {
			return err
		}
	}

	if err := body(ctx); err != nil {
		if supportsTxn {
			if rbErr := p.Backend.Rollback(ctx); rbErr != nil {
				logging.Log.Error("rollback failed after scope body error", zap.Error(rbErr))
			}
		}
		return err
	}

	if supportsTxn {
		if err := p.Backend.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}
