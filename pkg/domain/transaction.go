package domain

import (
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/sanitize"
	"github.com/shopspring/decimal"
)

// TransactionStatus enumerates the states a PaymentTransaction passes through.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
	TransactionCancelled TransactionStatus = "cancelled"
)

// allowedTransactionTransitions is the status machine of §3:
//   pending -> completed | failed | cancelled
//   completed -> failed | refunded
// Any other source->target pair is rejected. Same-status is a no-op.
var allowedTransactionTransitions = map[TransactionStatus]map[TransactionStatus]bool{
	TransactionPending: {
		TransactionCompleted: true,
		TransactionFailed:    true,
		TransactionCancelled: true,
	},
	TransactionCompleted: {
		TransactionFailed:   true,
		TransactionRefunded: true,
	},
}

// PaymentTransaction is the unit a PaymentProvider produces.
type PaymentTransaction struct {
	ID            string
	UserID        string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Status        TransactionStatus
	CreatedAt     time.Time
	CompletedAt   *time.Time
	Metadata      map[string]any
}

// Validate enforces §3's PaymentTransaction invariants.
func (t *PaymentTransaction) Validate() error {
	id, err := sanitize.String("id", t.ID, 100)
	if err != nil {
		return err
	}
	t.ID = id

	userID, err := sanitize.String("user_id", t.UserID, 255)
	if err != nil {
		return err
	}
	t.UserID = userID

	if t.Amount.IsNegative() {
		return payerrors.Validation("amount", t.Amount, "must be >= 0")
	}

	switch t.Status {
	case TransactionPending, TransactionCompleted, TransactionFailed, TransactionRefunded, TransactionCancelled:
	default:
		return payerrors.Validation("status", t.Status, "must be one of pending, completed, failed, refunded, cancelled")
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Metadata != nil {
		if err := sanitize.Metadata(t.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// setStatus applies the §3 status machine, allowing the one documented
// exceptional edge (completed -> failed) and rejecting everything else not
// explicitly listed. Same-status assignment is a no-op.
func (t *PaymentTransaction) setStatus(newStatus TransactionStatus) error {
	if t.Status == newStatus {
		return nil
	}
	if allowedTransactionTransitions[t.Status][newStatus] {
		t.Status = newStatus
		return nil
	}
	return payerrors.Validation("status", newStatus, "illegal transition from "+string(t.Status))
}

// MarkCompleted moves a pending transaction to completed and stamps
// CompletedAt.
func (t *PaymentTransaction) MarkCompleted() error {
	if err := t.setStatus(TransactionCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.CompletedAt = &now
	return nil
}

// MarkFailed moves a pending or completed transaction to failed. The
// completed->failed edge is the exceptional "transaction emitted then
// failed later" case §3 explicitly allows.
func (t *PaymentTransaction) MarkFailed() error {
	return t.setStatus(TransactionFailed)
}

// MarkRefunded moves a completed transaction to refunded.
func (t *PaymentTransaction) MarkRefunded() error {
	return t.setStatus(TransactionRefunded)
}

// MarkCancelled moves a pending transaction to cancelled.
func (t *PaymentTransaction) MarkCancelled() error {
	return t.setStatus(TransactionCancelled)
}
