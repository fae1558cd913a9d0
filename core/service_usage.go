package core

import (
	"context"
	"strings"
	"time"
)

// MergeUsage adds records into the target usage ledger. Records sharing a
// (bucket, scope) key with a stored record are summed into it.
func (s *Service) MergeUsage(ctx context.Context, records []UsageRecord) (report MergeReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"records": len(records),
	}
	defer func() {
		fields["processed"] = report.Processed
		fields["inserted"] = report.Inserted
		fields["updated"] = report.Updated
		fields["skipped"] = report.Skipped
		s.observeOperation(ctx, startedAt, "merge_usage", err, fields)
	}()

	report, err = s.mergeUsage(ctx, records)
	if err != nil {
		err = s.mapError(err)
	}
	return report, err
}

func (s *Service) mergeUsage(ctx context.Context, records []UsageRecord) (MergeReport, error) {
	if s == nil || s.usageReconciler == nil {
		return MergeReport{}, dependencyError("usage reconciler")
	}
	if s.usageLedger == nil {
		return MergeReport{}, dependencyError("usage ledger")
	}
	normalized, err := s.normalizeUsageRecords(records)
	if err != nil {
		return MergeReport{}, err
	}

	pending, skipped, err := s.pendingUsageRecords(ctx, normalized)
	if err != nil {
		return MergeReport{}, err
	}
	upsert := UsageUpsertFunc(s.usageLedger.Upsert)
	if s.mergeMarker != nil {
		upsert = s.markingUpsert(upsert)
	}
	report, err := s.usageReconciler.Merge(ctx, pending, s.usageLedger.Lookup, upsert)
	report.Skipped += skipped
	return report, err
}

func (s *Service) normalizeUsageRecords(records []UsageRecord) ([]UsageRecord, error) {
	out := make([]UsageRecord, 0, len(records))
	for _, record := range records {
		record.Key = record.Key.Normalize(s.bucketSize)
		if err := record.Key.Scope.Validate(); err != nil {
			return nil, err
		}
		record.SourceID = strings.TrimSpace(record.SourceID)
		out = append(out, record)
	}
	return out, nil
}

// pendingUsageRecords drops records whose source id was already merged, in a
// previous run or earlier in the same batch.
func (s *Service) pendingUsageRecords(ctx context.Context, records []UsageRecord) ([]UsageRecord, int, error) {
	if s.mergeMarker == nil {
		return records, 0, nil
	}
	pending := make([]UsageRecord, 0, len(records))
	batch := map[string]struct{}{}
	skipped := 0
	for _, record := range records {
		if record.SourceID == "" {
			pending = append(pending, record)
			continue
		}
		if _, ok := batch[record.SourceID]; ok {
			skipped++
			continue
		}
		seen, err := s.mergeMarker.Seen(ctx, record.SourceID)
		if err != nil {
			return nil, 0, err
		}
		if seen {
			skipped++
			continue
		}
		batch[record.SourceID] = struct{}{}
		pending = append(pending, record)
	}
	return pending, skipped, nil
}

func (s *Service) markingUpsert(next UsageUpsertFunc) UsageUpsertFunc {
	return func(ctx context.Context, record UsageRecord) error {
		if err := next(ctx, record); err != nil {
			return err
		}
		if record.SourceID == "" {
			return nil
		}
		return s.mergeMarker.Mark(ctx, record.SourceID)
	}
}
