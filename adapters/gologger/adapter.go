package gologger

import (
	"context"

	"github.com/goliatone/go-subsync/core"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultLoggerName = "subsync"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the glog pair and returns its go-job bridges.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// JobHook logs usage merge worker events.
type JobHook struct {
	logger glog.Logger
}

func NewJobHook(logger glog.Logger) *JobHook {
	return &JobHook{logger: glog.Ensure(logger)}
}

func (h *JobHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "info", "usage merge job started", event)
}

func (h *JobHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "info", "usage merge job succeeded", event)
}

func (h *JobHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "error", "usage merge job failed", event)
}

func (h *JobHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "warn", "usage merge job retry scheduled", event)
}

func (h *JobHook) log(ctx context.Context, level string, message string, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	logger := h.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	args := eventArgs(event)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func eventArgs(event core.JobWorkerEvent) []any {
	args := []any{
		"attempt", event.Attempt,
		"duration_ms", event.Duration.Milliseconds(),
	}
	if event.Message != nil {
		args = append(args,
			"job_id", event.Message.JobID,
			"idempotency_key", event.Message.IdempotencyKey,
		)
		if batchID, ok := event.Message.Parameters["batch_id"]; ok {
			args = append(args, "batch_id", batchID)
		}
	}
	if event.Delay > 0 {
		args = append(args, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

var _ core.JobWorkerHook = (*JobHook)(nil)
