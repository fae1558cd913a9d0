package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	UsageMergeJobID      = "subsync.usage.merge"
	UsageMergeScriptPath = "subsync/usage/merge"

	usageMergeDedupPolicy = "drop"
	usageMergeRetryDelay  = 30 * time.Second
)

// EncodeUsageMergeJob packs a usage batch into a job message. The batch id
// doubles as the idempotency key, so enqueueing the same batch twice is
// dropped by queues that honour deduplication.
func EncodeUsageMergeJob(batchID string, records []UsageRecord) (*JobExecutionMessage, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, fmt.Errorf("core: usage merge batch id is required")
	}
	encoded := make([]any, 0, len(records))
	for _, record := range records {
		encoded = append(encoded, map[string]any{
			"bucket":       record.Key.Bucket.UTC().Format(time.RFC3339),
			"scope_type":   record.Key.Scope.Type,
			"scope_id":     record.Key.Scope.ID,
			"uplink":       strconv.FormatInt(record.Counters.Uplink, 10),
			"downlink":     strconv.FormatInt(record.Counters.Downlink, 10),
			"used_traffic": strconv.FormatInt(record.Counters.UsedTraffic, 10),
			"source_id":    record.SourceID,
		})
	}
	return &JobExecutionMessage{
		JobID:      UsageMergeJobID,
		ScriptPath: UsageMergeScriptPath,
		Parameters: map[string]any{
			"batch_id": batchID,
			"records":  encoded,
		},
		IdempotencyKey: "usage-merge:" + batchID,
		DedupPolicy:    usageMergeDedupPolicy,
	}, nil
}

// DecodeUsageMergeJob is the inverse of EncodeUsageMergeJob. It accepts
// parameters that went through a JSON round trip; counters may be decimal
// strings or exactly representable numbers.
func DecodeUsageMergeJob(msg *JobExecutionMessage) (string, []UsageRecord, error) {
	if msg == nil {
		return "", nil, fmt.Errorf("core: usage merge message is required")
	}
	if strings.TrimSpace(msg.JobID) != UsageMergeJobID {
		return "", nil, fmt.Errorf("core: invalid usage merge job id %q", msg.JobID)
	}
	batchID := strings.TrimSpace(fmt.Sprint(msg.Parameters["batch_id"]))
	if batchID == "" || batchID == "<nil>" {
		return "", nil, fmt.Errorf("core: usage merge batch id is required")
	}
	rawRecords, ok := msg.Parameters["records"].([]any)
	if !ok {
		if typed, typedOK := msg.Parameters["records"].([]map[string]any); typedOK {
			rawRecords = make([]any, 0, len(typed))
			for _, entry := range typed {
				rawRecords = append(rawRecords, entry)
			}
		} else if msg.Parameters["records"] != nil {
			return "", nil, fmt.Errorf("core: invalid usage merge records")
		}
	}

	records := make([]UsageRecord, 0, len(rawRecords))
	for i, raw := range rawRecords {
		entry, ok := raw.(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("core: invalid usage merge record %d", i)
		}
		record, err := decodeUsageRecord(entry)
		if err != nil {
			return "", nil, fmt.Errorf("core: invalid usage merge record %d: %w", i, err)
		}
		records = append(records, record)
	}
	return batchID, records, nil
}

func decodeUsageRecord(entry map[string]any) (UsageRecord, error) {
	bucketRaw, _ := entry["bucket"].(string)
	bucket, err := time.Parse(time.RFC3339, strings.TrimSpace(bucketRaw))
	if err != nil {
		return UsageRecord{}, fmt.Errorf("bucket: %w", err)
	}
	var counters UsageCounters
	for key, target := range map[string]*int64{
		"uplink":       &counters.Uplink,
		"downlink":     &counters.Downlink,
		"used_traffic": &counters.UsedTraffic,
	} {
		value, err := int64Param(entry[key])
		if err != nil {
			return UsageRecord{}, fmt.Errorf("%s: %w", key, err)
		}
		*target = value
	}
	scopeType, _ := entry["scope_type"].(string)
	scopeID, _ := entry["scope_id"].(string)
	sourceID, _ := entry["source_id"].(string)
	return UsageRecord{
		Key: UsageKey{
			Bucket: bucket.UTC(),
			Scope:  UsageScope{Type: scopeType, ID: scopeID},
		},
		Counters: counters,
		SourceID: sourceID,
	}, nil
}

// maxExactFloat is the largest magnitude a float64 holds without losing
// integer precision. Counters are encoded as decimal strings to stay exact.
const maxExactFloat = 1 << 53

func int64Param(value any) (int64, error) {
	switch typed := value.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(typed), nil
	case int64:
		return typed, nil
	case int32:
		return int64(typed), nil
	case float64:
		if typed != math.Trunc(typed) {
			return 0, fmt.Errorf("non-integer value %v", typed)
		}
		if math.Abs(typed) > maxExactFloat {
			return 0, fmt.Errorf("value %v exceeds exact float range", typed)
		}
		return int64(typed), nil
	case json.Number:
		return typed.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}
}

// EnqueueUsageMerge schedules a usage batch for a background worker.
func (s *Service) EnqueueUsageMerge(ctx context.Context, batchID string, records []UsageRecord) (msg *JobExecutionMessage, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"batch_id": batchID,
		"records":  len(records),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "enqueue_usage_merge", err, fields)
	}()

	if s == nil || s.jobEnqueuer == nil {
		err = s.mapError(dependencyError("job enqueuer"))
		return nil, err
	}
	msg, err = EncodeUsageMergeJob(batchID, records)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	if enqueueErr := s.jobEnqueuer.Enqueue(ctx, msg); enqueueErr != nil {
		err = s.mapError(enqueueErr)
		return nil, err
	}
	return msg, nil
}

// ProcessUsageMergeDelivery merges the batch carried by a delivery. Messages
// that cannot be decoded are dead-lettered; merge failures are requeued.
// A requeued batch may have been partly applied, so workers should run with
// usage.track_merges enabled.
func (s *Service) ProcessUsageMergeDelivery(ctx context.Context, delivery JobDelivery) (report MergeReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["processed"] = report.Processed
		fields["skipped"] = report.Skipped
		s.observeOperation(ctx, startedAt, "process_usage_merge", err, fields)
	}()

	if delivery == nil {
		err = s.mapError(fmt.Errorf("core: job delivery is required"))
		return MergeReport{}, err
	}
	batchID, records, decodeErr := DecodeUsageMergeJob(delivery.Message())
	if decodeErr != nil {
		if nackErr := delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: decodeErr.Error()}); nackErr != nil {
			err = s.mapError(nackErr)
			return MergeReport{}, err
		}
		err = s.mapError(decodeErr)
		return MergeReport{}, err
	}
	fields["batch_id"] = batchID
	fields["records"] = len(records)

	report, err = s.mergeUsage(ctx, records)
	if err != nil {
		if nackErr := delivery.Nack(ctx, JobNackOptions{
			Delay:   usageMergeRetryDelay,
			Requeue: true,
			Reason:  err.Error(),
		}); nackErr != nil {
			err = s.mapError(nackErr)
			return report, err
		}
		err = s.mapError(err)
		return report, err
	}
	if ackErr := delivery.Ack(ctx); ackErr != nil {
		err = s.mapError(ackErr)
		return report, err
	}
	return report, nil
}
