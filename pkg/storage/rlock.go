package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"go.uber.org/zap"
)

// contentionEscalationThreshold is the §5 "50/h" level: every time the
// contention count reaches a multiple of it, Acquire writes an escalation
// log line; other timeouts are returned without a log line.
const contentionEscalationThreshold = 50

// ReentrantLock is a goroutine-scoped re-entrant mutex: the goroutine that
// already holds it may acquire it again without deadlocking (e.g. a
// verification scope calling ListTransactions while already inside its own
// transaction scope). Ownership is tracked by goroutine id (see
// goroutine.go) rather than by an explicit token, since the storage
// Backend interface has no room to thread one through every call.
type ReentrantLock struct {
	mu         sync.Mutex
	owner      int64
	held       bool
	depth      int
	contention int64
	name       string
}

// NewReentrantLock builds a lock; name is used only for log lines.
func NewReentrantLock(name string) *ReentrantLock {
	return &ReentrantLock{name: name}
}

// Acquire blocks (polling) until the lock is free or owned by the calling
// goroutine, or timeout elapses. On timeout it increments the contention
// counter and returns a ProviderError.
func (l *ReentrantLock) Acquire(timeout time.Duration) error {
	self := goroutineID()
	deadline := time.Now().Add(timeout)
	for {
		l.mu.Lock()
		if !l.held {
			l.held = true
			l.owner = self
			l.depth = 1
			l.mu.Unlock()
			return nil
		}
		if l.owner == self {
			l.depth++
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if time.Now().After(deadline) {
			count := atomic.AddInt64(&l.contention, 1)
			if count > 0 && count%contentionEscalationThreshold == 0 {
				logging.Log.Error("storage lock contention threshold exceeded",
					zap.String("lock", l.name), zap.Int64("contention_count", count))
			}
			return payerrors.Provider("timed out acquiring storage transaction lock", map[string]any{
				"lock":            l.name,
				"timeout_seconds": timeout.Seconds(),
			})
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Release decrements the re-entrancy depth, freeing the lock once it
// reaches zero. A Release from a goroutine that does not hold the lock is
// a no-op, so deferred cleanups are always safe.
func (l *ReentrantLock) Release() {
	self := goroutineID()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held || l.owner != self {
		return
	}
	l.depth--
	if l.depth <= 0 {
		l.held = false
		l.depth = 0
		l.owner = 0
	}
}

// ContentionCount returns the number of Acquire timeouts observed so far.
func (l *ReentrantLock) ContentionCount() int64 {
	return atomic.LoadInt64(&l.contention)
}

// ResetContention zeroes the contention counter; called once per hour per §5.
func (l *ReentrantLock) ResetContention() {
	atomic.StoreInt64(&l.contention, 0)
}
