package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
)

// scopeLockTimeout is §5's 10-second cap on lock acquisition.
const scopeLockTimeout = 10 * time.Second

// defaultMaxDataSize bounds the estimated serialized size of any single
// record; §4.1 requires every backend to enforce this before persisting.
const defaultMaxDataSize = 1 << 20 // 1 MiB

// MemoryBackend is the in-memory test/dev Storage Backend: maps guarded by
// a reentrant lock, with transaction scope implemented as a snapshot taken
// on Begin and restored on Rollback, dropped on Commit.
type MemoryBackend struct {
	lock *ReentrantLock

	plans         map[string]*domain.PaymentPlan
	subscriptions map[string]*domain.Subscription
	userSubIndex  map[string]string // userID -> active subscription id
	usage         map[string][]*domain.UsageRecord
	transactions  map[string]*domain.PaymentTransaction

	snapshot *memorySnapshot
}

type memorySnapshot struct {
	plans         map[string]*domain.PaymentPlan
	subscriptions map[string]*domain.Subscription
	userSubIndex  map[string]string
	usage         map[string][]*domain.UsageRecord
	transactions  map[string]*domain.PaymentTransaction
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		lock:          NewReentrantLock("memory-backend"),
		plans:         make(map[string]*domain.PaymentPlan),
		subscriptions: make(map[string]*domain.Subscription),
		userSubIndex:  make(map[string]string),
		usage:         make(map[string][]*domain.UsageRecord),
		transactions:  make(map[string]*domain.PaymentTransaction),
	}
}

// Capabilities reports what the in-memory backend supports.
func (m *MemoryBackend) Capabilities() Capabilities {
	return Capabilities{
		SupportsTransactions:   true,
		SupportsBulkOperations: true,
		MaxDataSize:            defaultMaxDataSize,
	}
}

func estimatedSize(v any) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, payerrors.Validation("record", v, "not JSON-serializable")
	}
	return int64(len(b)), nil
}

func (m *MemoryBackend) checkSize(v any) error {
	size, err := estimatedSize(v)
	if err != nil {
		return err
	}
	if size > m.Capabilities().MaxDataSize {
		return payerrors.Validation("record", nil, "exceeds max_data_size")
	}
	return nil
}

func (m *MemoryBackend) withLock(fn func()) error {
	if err := m.lock.Acquire(scopeLockTimeout); err != nil {
		return err
	}
	defer m.lock.Release()
	fn()
	return nil
}

// SavePlan persists p, validating size.
func (m *MemoryBackend) SavePlan(_ context.Context, p *domain.PaymentPlan) error {
	if err := m.checkSize(p); err != nil {
		return err
	}
	return m.withLock(func() {
		cp := *p
		m.plans[p.ID] = &cp
	})
}

func (m *MemoryBackend) GetPlan(_ context.Context, id string) (*domain.PaymentPlan, error) {
	var out *domain.PaymentPlan
	err := m.withLock(func() {
		if p, ok := m.plans[id]; ok {
			cp := *p
			out = &cp
		}
	})
	return out, err
}

func (m *MemoryBackend) ListPlans(_ context.Context) ([]*domain.PaymentPlan, error) {
	var out []*domain.PaymentPlan
	err := m.withLock(func() {
		for _, p := range m.plans {
			cp := *p
			out = append(out, &cp)
		}
	})
	return out, err
}

func (m *MemoryBackend) SaveSubscription(_ context.Context, s *domain.Subscription) error {
	if err := m.checkSize(s); err != nil {
		return err
	}
	return m.withLock(func() {
		cp := *s
		m.subscriptions[s.ID] = &cp
		if s.IsActive() {
			m.userSubIndex[s.UserID] = s.ID
		} else if m.userSubIndex[s.UserID] == s.ID {
			delete(m.userSubIndex, s.UserID)
		}
	})
}

func (m *MemoryBackend) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	var out *domain.Subscription
	err := m.withLock(func() {
		if s, ok := m.subscriptions[id]; ok {
			cp := *s
			out = &cp
		}
	})
	return out, err
}

func (m *MemoryBackend) GetUserSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	var out *domain.Subscription
	err := m.withLock(func() {
		id, ok := m.userSubIndex[userID]
		if !ok {
			return
		}
		s, ok := m.subscriptions[id]
		if !ok || !s.IsActive() {
			return
		}
		cp := *s
		out = &cp
	})
	return out, err
}

func (m *MemoryBackend) SaveUsage(_ context.Context, r *domain.UsageRecord) error {
	if err := m.checkSize(r); err != nil {
		return err
	}
	return m.withLock(func() {
		cp := *r
		m.usage[r.UserID] = append(m.usage[r.UserID], &cp)
	})
}

func (m *MemoryBackend) GetUserUsage(_ context.Context, userID string, from, to *time.Time) ([]*domain.UsageRecord, error) {
	var out []*domain.UsageRecord
	err := m.withLock(func() {
		for _, r := range m.usage[userID] {
			if from != nil && r.Timestamp.Before(*from) {
				continue
			}
			if to != nil && r.Timestamp.After(*to) {
				continue
			}
			cp := *r
			out = append(out, &cp)
		}
	})
	if err != nil {
		return nil, err
	}
	sortUsageByTimestampAsc(out)
	return out, nil
}

func (m *MemoryBackend) SaveTransaction(_ context.Context, t *domain.PaymentTransaction) error {
	if err := m.checkSize(t); err != nil {
		return err
	}
	var duplicate bool
	err := m.withLock(func() {
		if _, ok := m.transactions[t.ID]; ok {
			duplicate = true
			return
		}
		cp := *t
		m.transactions[t.ID] = &cp
	})
	if err != nil {
		return err
	}
	if duplicate {
		return payerrors.Storage("duplicate transaction id", map[string]any{"id": t.ID})
	}
	return nil
}

func (m *MemoryBackend) UpdateTransaction(_ context.Context, t *domain.PaymentTransaction) error {
	if err := m.checkSize(t); err != nil {
		return err
	}
	var notFound bool
	err := m.withLock(func() {
		if _, ok := m.transactions[t.ID]; !ok {
			notFound = true
			return
		}
		cp := *t
		m.transactions[t.ID] = &cp
	})
	if err != nil {
		return err
	}
	if notFound {
		return payerrors.Storage("transaction not found", map[string]any{"id": t.ID})
	}
	return nil
}

func (m *MemoryBackend) GetTransaction(_ context.Context, id string) (*domain.PaymentTransaction, error) {
	var out *domain.PaymentTransaction
	err := m.withLock(func() {
		if t, ok := m.transactions[id]; ok {
			cp := *t
			out = &cp
		}
	})
	return out, err
}

func (m *MemoryBackend) ListTransactions(_ context.Context, userID *string, status *domain.TransactionStatus, limit int) ([]*domain.PaymentTransaction, error) {
	var out []*domain.PaymentTransaction
	err := m.withLock(func() {
		for _, t := range m.transactions {
			if userID != nil && t.UserID != *userID {
				continue
			}
			if status != nil && t.Status != *status {
				continue
			}
			cp := *t
			out = append(out, &cp)
		}
	})
	if err != nil {
		return nil, err
	}
	sortTransactionsByCreatedAtDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// BeginTransaction snapshots all maps; §4.1 "single active transaction per
// thread" is enforced by ReentrantLock's goroutine-ownership semantics.
func (m *MemoryBackend) BeginTransaction(_ context.Context) error {
	if err := m.lock.Acquire(scopeLockTimeout); err != nil {
		return err
	}
	if m.snapshot != nil {
		m.lock.Release()
		return payerrors.Storage("transaction already in progress for this goroutine", nil)
	}
	m.snapshot = &memorySnapshot{
		plans:         cloneMap(m.plans),
		subscriptions: cloneMap(m.subscriptions),
		userSubIndex:  cloneStringMap(m.userSubIndex),
		usage:         cloneSliceMap(m.usage),
		transactions:  cloneMap(m.transactions),
	}
	return nil
}

func (m *MemoryBackend) Commit(_ context.Context) error {
	if m.snapshot == nil {
		return payerrors.Storage("commit without an active transaction", nil)
	}
	m.snapshot = nil
	m.lock.Release()
	return nil
}

func (m *MemoryBackend) Rollback(_ context.Context) error {
	if m.snapshot == nil {
		return payerrors.Storage("rollback without an active transaction", nil)
	}
	m.plans = m.snapshot.plans
	m.subscriptions = m.snapshot.subscriptions
	m.userSubIndex = m.snapshot.userSubIndex
	m.usage = m.snapshot.usage
	m.transactions = m.snapshot.transactions
	m.snapshot = nil
	m.lock.Release()
	return nil
}

// HealthCheck performs a read+write round-trip on a scratch transaction.
func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	return RunHealthCheck("memory", func() error {
		scratch := &domain.PaymentTransaction{
			ID:       "__health_check__",
			UserID:   "__health_check__",
			Currency: "USD",
			Status:   domain.TransactionPending,
		}
		if err := m.SaveTransaction(ctx, scratch); err != nil {
			return err
		}
		defer func() {
			_ = m.withLock(func() { delete(m.transactions, scratch.ID) })
		}()
		got, err := m.GetTransaction(ctx, scratch.ID)
		if err != nil {
			return err
		}
		if got == nil || got.ID != scratch.ID {
			return payerrors.Storage("health check round-trip mismatch", nil)
		}
		return nil
	})
}

func (m *MemoryBackend) Close() error { return nil }

func cloneMap[V any](src map[string]*V) map[string]*V {
	out := make(map[string]*V, len(src))
	for k, v := range src {
		cp := *v
		out[k] = &cp
	}
	return out
}

func cloneStringMap(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneSliceMap(src map[string][]*domain.UsageRecord) map[string][]*domain.UsageRecord {
	out := make(map[string][]*domain.UsageRecord, len(src))
	for k, v := range src {
		cp := make([]*domain.UsageRecord, len(v))
		for i, r := range v {
			rc := *r
			cp[i] = &rc
		}
		out[k] = cp
	}
	return out
}
