package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-subsync/core"
)

type memoryLedger struct {
	records map[core.UsageKey]core.UsageRecord
	upserts []core.UsageRecord
	failAt  int
}

func newMemoryLedger(seed ...core.UsageRecord) *memoryLedger {
	ledger := &memoryLedger{records: map[core.UsageKey]core.UsageRecord{}, failAt: -1}
	for _, record := range seed {
		ledger.records[record.Key] = record
	}
	return ledger
}

func (l *memoryLedger) lookup(_ context.Context, key core.UsageKey) (core.UsageRecord, bool, error) {
	record, ok := l.records[key]
	return record, ok, nil
}

func (l *memoryLedger) upsert(_ context.Context, record core.UsageRecord) error {
	if l.failAt >= 0 && len(l.upserts) == l.failAt {
		return errors.New("ledger write failed")
	}
	l.upserts = append(l.upserts, record)
	l.records[record.Key] = record
	return nil
}

func usageKey(hour int, scopeID string) core.UsageKey {
	return core.UsageKey{
		Bucket: time.Date(2024, 3, 1, hour, 0, 0, 0, time.UTC),
		Scope:  core.UsageScope{Type: "node", ID: scopeID},
	}
}

func TestReconciler_AddsOntoExistingRecords(t *testing.T) {
	ledger := newMemoryLedger(core.UsageRecord{
		Key:      usageKey(10, "n1"),
		Counters: core.UsageCounters{Uplink: 100, Downlink: 50},
	})
	report, err := NewReconciler().Merge(context.Background(), []core.UsageRecord{
		{Key: usageKey(10, "n1"), Counters: core.UsageCounters{Uplink: 7, Downlink: 3}, SourceID: "src-1"},
	}, ledger.lookup, ledger.upsert)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := ledger.records[usageKey(10, "n1")]
	if got.Counters.Uplink != 107 || got.Counters.Downlink != 53 {
		t.Fatalf("expected summed counters, got %#v", got.Counters)
	}
	if got.SourceID != "src-1" {
		t.Fatalf("expected source id to pass through, got %q", got.SourceID)
	}
	if report.Processed != 1 || report.Updated != 1 || report.Inserted != 0 {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestReconciler_InsertsMissingRecordsVerbatim(t *testing.T) {
	ledger := newMemoryLedger()
	incoming := core.UsageRecord{Key: usageKey(11, "n2"), Counters: core.UsageCounters{UsedTraffic: 42}}
	report, err := NewReconciler().Merge(context.Background(), []core.UsageRecord{incoming}, ledger.lookup, ledger.upsert)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if ledger.records[incoming.Key] != incoming {
		t.Fatalf("expected verbatim insert, got %#v", ledger.records[incoming.Key])
	}
	if report.Inserted != 1 || report.Processed != 1 {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestReconciler_SumsDuplicateKeysWithinBatch(t *testing.T) {
	ledger := newMemoryLedger()
	records := []core.UsageRecord{
		{Key: usageKey(12, "n1"), Counters: core.UsageCounters{Uplink: 1}},
		{Key: usageKey(12, "n1"), Counters: core.UsageCounters{Uplink: 2}},
		{Key: usageKey(12, "n1"), Counters: core.UsageCounters{Uplink: 4}},
	}
	report, err := NewReconciler().Merge(context.Background(), records, ledger.lookup, ledger.upsert)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(ledger.records) != 1 {
		t.Fatalf("expected a single record per key, got %d", len(ledger.records))
	}
	if ledger.records[usageKey(12, "n1")].Counters.Uplink != 7 {
		t.Fatalf("expected uplink 7, got %#v", ledger.records[usageKey(12, "n1")])
	}
	if report.Processed != 3 || report.Inserted != 1 || report.Updated != 2 {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestReconciler_RerunDoubleCounts(t *testing.T) {
	ledger := newMemoryLedger()
	records := []core.UsageRecord{{Key: usageKey(13, "n1"), Counters: core.UsageCounters{Downlink: 5}}}
	reconciler := NewReconciler()
	for i := 0; i < 2; i++ {
		if _, err := reconciler.Merge(context.Background(), records, ledger.lookup, ledger.upsert); err != nil {
			t.Fatalf("merge run %d: %v", i, err)
		}
	}
	if ledger.records[usageKey(13, "n1")].Counters.Downlink != 10 {
		t.Fatalf("expected rerun to add again, got %#v", ledger.records[usageKey(13, "n1")])
	}
}

func TestReconciler_StopsOnOracleError(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.failAt = 1
	records := []core.UsageRecord{
		{Key: usageKey(14, "n1"), Counters: core.UsageCounters{Uplink: 1}},
		{Key: usageKey(14, "n2"), Counters: core.UsageCounters{Uplink: 1}},
		{Key: usageKey(14, "n3"), Counters: core.UsageCounters{Uplink: 1}},
	}
	report, err := NewReconciler().Merge(context.Background(), records, ledger.lookup, ledger.upsert)
	if err == nil || err.Error() != "ledger write failed" {
		t.Fatalf("expected unmodified upsert error, got %v", err)
	}
	if report.Processed != 1 || len(ledger.upserts) != 1 {
		t.Fatalf("expected merge to stop after first record, report=%#v upserts=%d", report, len(ledger.upserts))
	}

	lookupErr := errors.New("lookup failed")
	_, err = NewReconciler().Merge(context.Background(), records, func(context.Context, core.UsageKey) (core.UsageRecord, bool, error) {
		return core.UsageRecord{}, false, lookupErr
	}, ledger.upsert)
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestReconciler_RequiresOracles(t *testing.T) {
	if _, err := NewReconciler().Merge(context.Background(), nil, nil, nil); err == nil {
		t.Fatalf("expected missing oracles to fail")
	}
}
