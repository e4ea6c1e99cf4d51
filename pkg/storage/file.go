package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/gofrs/flock"
)

// file names under the backend directory, per §6 "File storage layout".
const (
	filePlans         = "payment_plans.json"
	fileSubscriptions = "subscriptions.json"
	fileUserSubs      = "user_subscriptions.json"
	fileUsage         = "usage_records.json"
	fileTransactions  = "transactions.json"
)

// FileBackend persists one JSON file per record type under a directory.
// Each read/write takes an OS-level advisory file lock (github.com/gofrs/flock,
// which wraps flock(2) on POSIX and LockFileEx on Windows — the portable
// locking semantics §4.1 asks for); writes go through a sibling .tmp file
// and an atomic rename.
type FileBackend struct {
	dir       string
	scopeLock *ReentrantLock

	inTxn   bool
	staged  map[string][]byte // filename -> pending bytes, populated during a scope
}

// NewFileBackend opens (creating if absent) dir as the backend's storage directory.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, payerrors.Storage("failed to create storage directory", map[string]any{"dir": dir, "error": err.Error()})
	}
	return &FileBackend{dir: dir, scopeLock: NewReentrantLock("file-backend")}, nil
}

func (f *FileBackend) Capabilities() Capabilities {
	return Capabilities{SupportsTransactions: true, SupportsBulkOperations: false, MaxDataSize: defaultMaxDataSize}
}

func (f *FileBackend) lockPath(name string) string { return filepath.Join(f.dir, name+".lock") }
func (f *FileBackend) dataPath(name string) string { return filepath.Join(f.dir, name) }

// readJSON reads name into dst (a pointer to map). Inside an open
// transaction scope, a prior write to name in the same scope is staged,
// not yet on disk; readJSON must see that staged write, or read-your-own-
// writes within the scope breaks (provider.SaveWithRetry's update-then-
// read-back round trip in particular depends on it).
func (f *FileBackend) readJSON(name string, dst any) error {
	if f.inTxn {
		if data, ok := f.staged[name]; ok {
			if len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, dst); err != nil {
				return payerrors.Storage("corrupt staged data", map[string]any{"file": name, "error": err.Error()})
			}
			return nil
		}
	}

	fl := flock.New(f.lockPath(name))
	locked, err := fl.TryLockContext(lockCtx(), 50*time.Millisecond)
	if err != nil || !locked {
		return payerrors.Storage("failed to acquire shared file lock", map[string]any{"file": name})
	}
	defer fl.Unlock()

	path := f.dataPath(name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return payerrors.Storage("failed to read storage file", map[string]any{"file": name, "error": err.Error()})
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return payerrors.Storage("corrupt storage file", map[string]any{"file": name, "error": err.Error()})
	}
	return nil
}

// writeJSON writes dst to name via a .tmp file + atomic rename, under an
// exclusive lock. If a scope is active, the bytes are staged instead of
// written immediately, so Commit/Rollback can apply-or-discard atomically.
func (f *FileBackend) writeJSON(name string, src any) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return payerrors.Validation(name, nil, "not JSON-serializable")
	}
	if int64(len(data)) > f.Capabilities().MaxDataSize {
		return payerrors.Validation(name, nil, "exceeds max_data_size")
	}

	if f.inTxn {
		f.staged[name] = data
		return nil
	}
	return f.commitFile(name, data)
}

func (f *FileBackend) commitFile(name string, data []byte) error {
	fl := flock.New(f.lockPath(name))
	locked, err := fl.TryLockContext(lockCtx(), 50*time.Millisecond)
	if err != nil || !locked {
		return payerrors.Storage("failed to acquire exclusive file lock", map[string]any{"file": name})
	}
	defer fl.Unlock()

	tmp := f.dataPath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return payerrors.Storage("failed to write temp file", map[string]any{"file": name, "error": err.Error()})
	}
	if err := os.Rename(tmp, f.dataPath(name)); err != nil {
		return payerrors.Storage("failed to atomically rename temp file", map[string]any{"file": name, "error": err.Error()})
	}
	return nil
}

func lockCtx() context.Context { return context.Background() }

// --- plans ---

func (f *FileBackend) SavePlan(_ context.Context, p *domain.PaymentPlan) error {
	m := map[string]*domain.PaymentPlan{}
	if err := f.readJSON(filePlans, &m); err != nil {
		return err
	}
	m[p.ID] = p
	return f.writeJSON(filePlans, m)
}

func (f *FileBackend) GetPlan(_ context.Context, id string) (*domain.PaymentPlan, error) {
	m := map[string]*domain.PaymentPlan{}
	if err := f.readJSON(filePlans, &m); err != nil {
		return nil, err
	}
	return m[id], nil
}

func (f *FileBackend) ListPlans(_ context.Context) ([]*domain.PaymentPlan, error) {
	m := map[string]*domain.PaymentPlan{}
	if err := f.readJSON(filePlans, &m); err != nil {
		return nil, err
	}
	out := make([]*domain.PaymentPlan, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out, nil
}

// --- subscriptions ---

func (f *FileBackend) SaveSubscription(_ context.Context, s *domain.Subscription) error {
	m := map[string]*domain.Subscription{}
	if err := f.readJSON(fileSubscriptions, &m); err != nil {
		return err
	}
	m[s.ID] = s
	if err := f.writeJSON(fileSubscriptions, m); err != nil {
		return err
	}

	userSubs := map[string]string{}
	if err := f.readJSON(fileUserSubs, &userSubs); err != nil {
		return err
	}
	if s.IsActive() {
		userSubs[s.UserID] = s.ID
	} else if userSubs[s.UserID] == s.ID {
		delete(userSubs, s.UserID)
	}
	return f.writeJSON(fileUserSubs, userSubs)
}

func (f *FileBackend) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	m := map[string]*domain.Subscription{}
	if err := f.readJSON(fileSubscriptions, &m); err != nil {
		return nil, err
	}
	return m[id], nil
}

func (f *FileBackend) GetUserSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	userSubs := map[string]string{}
	if err := f.readJSON(fileUserSubs, &userSubs); err != nil {
		return nil, err
	}
	id, ok := userSubs[userID]
	if !ok {
		return nil, nil
	}
	m := map[string]*domain.Subscription{}
	if err := f.readJSON(fileSubscriptions, &m); err != nil {
		return nil, err
	}
	s, ok := m[id]
	if !ok || !s.IsActive() {
		return nil, nil
	}
	return s, nil
}

// --- usage ---

func (f *FileBackend) SaveUsage(_ context.Context, r *domain.UsageRecord) error {
	m := map[string][]*domain.UsageRecord{}
	if err := f.readJSON(fileUsage, &m); err != nil {
		return err
	}
	m[r.UserID] = append(m[r.UserID], r)
	return f.writeJSON(fileUsage, m)
}

func (f *FileBackend) GetUserUsage(_ context.Context, userID string, from, to *time.Time) ([]*domain.UsageRecord, error) {
	m := map[string][]*domain.UsageRecord{}
	if err := f.readJSON(fileUsage, &m); err != nil {
		return nil, err
	}
	var out []*domain.UsageRecord
	for _, r := range m[userID] {
		if from != nil && r.Timestamp.Before(*from) {
			continue
		}
		if to != nil && r.Timestamp.After(*to) {
			continue
		}
		out = append(out, r)
	}
	sortUsageByTimestampAsc(out)
	return out, nil
}

// --- transactions ---

func (f *FileBackend) SaveTransaction(_ context.Context, t *domain.PaymentTransaction) error {
	m := map[string]*domain.PaymentTransaction{}
	if err := f.readJSON(fileTransactions, &m); err != nil {
		return err
	}
	if _, exists := m[t.ID]; exists {
		return payerrors.Storage("duplicate transaction id", map[string]any{"id": t.ID})
	}
	m[t.ID] = t
	return f.writeJSON(fileTransactions, m)
}

func (f *FileBackend) UpdateTransaction(_ context.Context, t *domain.PaymentTransaction) error {
	m := map[string]*domain.PaymentTransaction{}
	if err := f.readJSON(fileTransactions, &m); err != nil {
		return err
	}
	if _, exists := m[t.ID]; !exists {
		return payerrors.Storage("transaction not found", map[string]any{"id": t.ID})
	}
	m[t.ID] = t
	return f.writeJSON(fileTransactions, m)
}

func (f *FileBackend) GetTransaction(_ context.Context, id string) (*domain.PaymentTransaction, error) {
	m := map[string]*domain.PaymentTransaction{}
	if err := f.readJSON(fileTransactions, &m); err != nil {
		return nil, err
	}
	return m[id], nil
}

func (f *FileBackend) ListTransactions(_ context.Context, userID *string, status *domain.TransactionStatus, limit int) ([]*domain.PaymentTransaction, error) {
	m := map[string]*domain.PaymentTransaction{}
	if err := f.readJSON(fileTransactions, &m); err != nil {
		return nil, err
	}
	var out []*domain.PaymentTransaction
	for _, t := range m {
		if userID != nil && t.UserID != *userID {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, t)
	}
	sortTransactionsByCreatedAtDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- transaction scope ---

func (f *FileBackend) BeginTransaction(_ context.Context) error {
	if err := f.scopeLock.Acquire(scopeLockTimeout); err != nil {
		return err
	}
	if f.inTxn {
		f.scopeLock.Release()
		return payerrors.Storage("transaction already in progress for this goroutine", nil)
	}
	f.inTxn = true
	f.staged = map[string][]byte{}
	return nil
}

func (f *FileBackend) Commit(_ context.Context) error {
	if !f.inTxn {
		return payerrors.Storage("commit without an active transaction", nil)
	}
	for name, data := range f.staged {
		if err := f.commitFile(name, data); err != nil {
			f.inTxn = false
			f.staged = nil
			f.scopeLock.Release()
			return err
		}
	}
	f.inTxn = false
	f.staged = nil
	f.scopeLock.Release()
	return nil
}

func (f *FileBackend) Rollback(_ context.Context) error {
	if !f.inTxn {
		return payerrors.Storage("rollback without an active transaction", nil)
	}
	f.inTxn = false
	f.staged = nil
	f.scopeLock.Release()
	return nil
}

func (f *FileBackend) HealthCheck(ctx context.Context) error {
	return RunHealthCheck("file", func() error {
		scratch := &domain.PaymentTransaction{
			ID: "__health_check__", UserID: "__health_check__", Currency: "USD", Status: domain.TransactionPending,
		}
		m := map[string]*domain.PaymentTransaction{}
		if err := f.readJSON(fileTransactions, &m); err != nil {
			return err
		}
		delete(m, scratch.ID) // tolerate a stale scratch record from a previous crashed run
		m[scratch.ID] = scratch
		if err := f.writeJSON(fileTransactions, m); err != nil {
			return err
		}
		got, err := f.GetTransaction(ctx, scratch.ID)
		if err != nil {
			return err
		}
		if got == nil || got.ID != scratch.ID {
			return payerrors.Storage("health check round-trip mismatch", nil)
		}
		delete(m, scratch.ID)
		return f.writeJSON(fileTransactions, m)
	})
}

func (f *FileBackend) Close() error { return nil }
