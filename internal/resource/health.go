package resource

import (
	"context"
	"time"

	"github.com/s3db/s3db/internal/blob"
)

// HealthReport summarizes one partition index's drift against the
// resource's record count. Grounded on the teacher's IndexHealthMonitor
// (index_health.go), retargeted from Redis-index drift sampling to
// S3 partition-index entry counting, since partition entries here are
// zero-byte objects rather than Redis set members.
type HealthReport struct {
	Timestamp       time.Time
	Partition       string
	RecordCount     int
	IndexEntryCount int
	DriftPercentage float64
}

// HealthMonitor samples partition index health for a Resource each time
// Check is called; it runs no background loop of its own.
type HealthMonitor struct {
	resource       *Resource
	driftThreshold float64
}

// NewHealthMonitor builds a monitor with the teacher's 5% drift-alert
// default.
func NewHealthMonitor(r *Resource) *HealthMonitor {
	return &HealthMonitor{resource: r, driftThreshold: 5.0}
}

func (m *HealthMonitor) WithDriftThreshold(pct float64) *HealthMonitor {
	m.driftThreshold = pct
	return m
}

// Check samples every partition index and reports entry-count drift
// against the resource's total record count, plus the orphaned-partition
// report from partitions.go.
func (m *HealthMonitor) Check(ctx context.Context) ([]HealthReport, map[string]OrphanReport, error) {
	recordCount, err := m.resource.Count(ctx)
	if err != nil {
		return nil, nil, err
	}

	reports := make([]HealthReport, 0, len(m.resource.partitions))
	for _, part := range m.resource.partitions {
		result, err := m.resource.backend.ListObjects(ctx, m.resource.partitionPrefix(part), blob.ListOptions{})
		if err != nil {
			return nil, nil, err
		}
		entryCount := len(result.Keys)

		drift := 0.0
		if recordCount > 0 {
			diff := entryCount - recordCount
			if diff < 0 {
				diff = -diff
			}
			drift = float64(diff) / float64(recordCount) * 100
		}

		reports = append(reports, HealthReport{
			Timestamp:       time.Now().UTC(),
			Partition:       part.Name,
			RecordCount:     recordCount,
			IndexEntryCount: entryCount,
			DriftPercentage: drift,
		})
	}

	orphans := m.resource.FindOrphanedPartitions()
	return reports, orphans, nil
}

// Unhealthy filters Check's reports down to those exceeding the configured
// drift threshold.
func (m *HealthMonitor) Unhealthy(reports []HealthReport) []HealthReport {
	var out []HealthReport
	for _, r := range reports {
		if r.DriftPercentage > m.driftThreshold {
			out = append(out, r)
		}
	}
	return out
}
