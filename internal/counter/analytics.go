package counter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/s3db/s3db/internal/resource"
)

// AnalyticsPartitions is the partition set an analytics rollup resource
// must carry so getLastNDays/getTopRecords can list by day without a full
// scan.
func AnalyticsPartitions() []resource.PartitionDef {
	return []resource.PartitionDef{{Name: "byDay", Fields: []string{"day"}}}
}

// Rollups maintains the daily cohort `<resource>_analytics_<field>/data/
// <day>/<id>` objects spec.md §4.8 describes, one per (day, originalId)
// with an accumulating {sum, count}.
type Rollups struct {
	res *resource.Resource
}

// NewRollups wraps res (which must carry AnalyticsPartitions()) as a
// cohort accumulator.
func NewRollups(res *resource.Resource) *Rollups {
	return &Rollups{res: res}
}

func rollupID(day, originalID string) string {
	return day + "/" + originalID
}

// Bump adds delta to the (day, originalID) cohort's sum and countDelta to
// its count, creating the cohort if absent.
func (a *Rollups) Bump(ctx context.Context, originalID, day string, delta float64, countDelta int) error {
	id := rollupID(day, originalID)
	existing, err := a.res.GetOrNull(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := a.res.Insert(ctx, id, map[string]interface{}{
			"day":        day,
			"originalId": originalID,
			"sum":        delta,
			"count":      countDelta,
		})
		return err
	}
	sum := toFloat(existing.Data["sum"]) + delta
	count := int(toFloat(existing.Data["count"])) + countDelta
	_, err = a.res.Update(ctx, id, map[string]interface{}{"sum": sum, "count": count})
	return err
}

// DaySeries is one day's point in a getLastNDays result.
type DaySeries struct {
	Day   string
	Sum   float64
	Count int
}

// GetLastNDays returns the N most recent days of cohort data ending today,
// zero-filling missing days when fillGaps is set (spec.md §4.8:
// "getLastNDays(field, N, {fillGaps}) reads the cohort range and returns a
// zero-filled series").
func (a *Rollups) GetLastNDays(ctx context.Context, originalID string, n int, fillGaps bool) ([]DaySeries, error) {
	out := make([]DaySeries, 0, n)
	today := time.Now().UTC()
	for i := n - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i).Format("2006-01-02")
		rec, err := a.res.GetOrNull(ctx, rollupID(day, originalID))
		if err != nil {
			return nil, err
		}
		if rec == nil {
			if fillGaps {
				out = append(out, DaySeries{Day: day})
			}
			continue
		}
		out = append(out, DaySeries{
			Day:   day,
			Sum:   toFloat(rec.Data["sum"]),
			Count: int(toFloat(rec.Data["count"])),
		})
	}
	return out, nil
}

// TopRecord is one entry in a getTopRecords result.
type TopRecord struct {
	OriginalID string
	Sum        float64
}

// GetTopRecords reads the analytics rollups for day and returns the
// originalIds with the highest cumulative sum, descending, truncated to
// limit (spec.md §4.8: "getTopRecords(resource, field, {limit}) reads the
// analytics rollups sorted by sum desc").
func (a *Rollups) GetTopRecords(ctx context.Context, day string, limit int) ([]TopRecord, error) {
	ids, err := a.res.ListPartition(ctx, "byDay", map[string]interface{}{"day": day}, 0)
	if err != nil {
		return nil, fmt.Errorf("listing day %s cohorts: %w", day, err)
	}

	totals := make(map[string]float64)
	for _, id := range ids {
		rec, err := a.res.GetOrNull(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		originalID := fmt.Sprintf("%v", rec.Data["originalId"])
		totals[originalID] += toFloat(rec.Data["sum"])
	}

	out := make([]TopRecord, 0, len(totals))
	for id, sum := range totals {
		out = append(out, TopRecord{OriginalID: id, Sum: sum})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sum > out[j].Sum })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
