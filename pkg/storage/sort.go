package storage

import (
	"sort"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
)

// sortUsageByTimestampAsc matches §4.1's "list sorted by timestamp asc"
// contract for get_user_usage.
func sortUsageByTimestampAsc(records []*domain.UsageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

// sortTransactionsByCreatedAtDesc matches §4.1's "list sorted by
// created_at desc" contract for list_transactions.
func sortTransactionsByCreatedAtDesc(txs []*domain.PaymentTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}
