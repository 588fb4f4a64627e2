package counter

import (
	"context"
	"fmt"

	"github.com/s3db/s3db/internal/resource"
)

// LagReport summarizes how far one originalId's consolidated counter has
// fallen behind its transaction log — the async-mode equivalent of
// findOrphanedPartitions for counters: a diagnostic, not a correctness
// requirement, since §4.8's invariant holds regardless of lag.
type LagReport struct {
	OriginalID        string
	UnappliedCount    int
	OldestUnappliedAt string
}

// Audit scans the transaction log for originalID and reports how many
// transactions remain unapplied, grounded on the teacher's
// OptimisticTransaction's ordering discipline around deferred writes
// (transaction.go) retargeted here into a read-only lag report rather than
// a rollback mechanism.
func (e *Engine) Audit(ctx context.Context, originalID string) (*LagReport, error) {
	records, err := e.transactions.Query(ctx, nil, resource.QueryOptions{
		Partition:       "byOriginal",
		PartitionValues: map[string]interface{}{"originalId": originalID},
	})
	if err != nil {
		return nil, fmt.Errorf("auditing %s: %w", originalID, err)
	}

	report := &LagReport{OriginalID: originalID}
	for _, rec := range records {
		if applied, _ := rec.Data["applied"].(bool); applied {
			continue
		}
		report.UnappliedCount++
		ts := fmt.Sprintf("%v", rec.Data["timestamp"])
		if report.OldestUnappliedAt == "" || ts < report.OldestUnappliedAt {
			report.OldestUnappliedAt = ts
		}
	}
	return report, nil
}
