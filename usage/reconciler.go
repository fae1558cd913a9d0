package usage

import (
	"context"
	"fmt"

	"github.com/goliatone/go-subsync/core"
)

// Reconciler merges source usage records into a target ledger. A record
// whose (bucket, scope) key already exists in the target is added onto it;
// any other record is inserted as given.
//
// Merge is not idempotent: running the same records twice counts them twice.
// Callers that may re-run a batch track merged source ids themselves.
type Reconciler struct{}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Merge processes records in order. The first oracle error stops the run and
// is returned unchanged together with the report of the records merged so
// far.
func (r *Reconciler) Merge(
	ctx context.Context,
	records []core.UsageRecord,
	lookup core.UsageLookupFunc,
	upsert core.UsageUpsertFunc,
) (core.MergeReport, error) {
	report := core.MergeReport{}
	if lookup == nil || upsert == nil {
		return report, fmt.Errorf("usage: lookup and upsert oracles are required")
	}
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		existing, found, err := lookup(ctx, record.Key)
		if err != nil {
			return report, err
		}
		merged := record
		if found {
			merged.Key = existing.Key
			merged.Counters = existing.Counters.Add(record.Counters)
		}
		if err := upsert(ctx, merged); err != nil {
			return report, err
		}
		report.Processed++
		if found {
			report.Updated++
		} else {
			report.Inserted++
		}
	}
	return report, nil
}

var _ core.UsageReconciler = (*Reconciler)(nil)
