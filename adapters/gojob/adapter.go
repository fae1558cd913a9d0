package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-subsync/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const JobIDUsageMerge = core.UsageMergeJobID

// RetryPolicy bounds how often a failed usage merge is requeued.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt applies the policy to a nack issued on the given attempt.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	return queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

// DeliveryAdapter exposes a go-job delivery as a core.JobDelivery. Nacks are
// bounded by the retry policy for the delivery's attempt number.
type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
	attempt  int
	settled  func(acked bool)
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy, attempt: 1}
}

func (d *DeliveryAdapter) Attempt() int {
	if d == nil {
		return 0
	}
	return d.attempt
}

func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	if err := d.delivery.Ack(ctx); err != nil {
		return err
	}
	if d.settled != nil {
		d.settled(true)
	}
	return nil
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.NackForAttempt(ctx, opts, d.Attempt())
}

func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, attempt)
	if err := d.delivery.Nack(ctx, ToNackOptions(normalized)); err != nil {
		return err
	}
	if d.settled != nil && !normalized.Requeue {
		d.settled(false)
	}
	return nil
}

// DequeuerAdapter counts deliveries per idempotency key so requeued batches
// carry their attempt number into the retry policy.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy

	mu       sync.Mutex
	attempts map[string]int
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{
		dequeuer: dequeuer,
		policy:   policy,
		attempts: map[string]int{},
	}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	adapted := NewDeliveryAdapter(delivery, a.policy)
	key := deliveryKey(delivery)
	if key == "" {
		return adapted, nil
	}

	a.mu.Lock()
	a.attempts[key]++
	adapted.attempt = a.attempts[key]
	a.mu.Unlock()

	adapted.settled = func(bool) {
		a.mu.Lock()
		delete(a.attempts, key)
		a.mu.Unlock()
	}
	return adapted, nil
}

func deliveryKey(delivery queue.Delivery) string {
	if delivery == nil || delivery.Message() == nil {
		return ""
	}
	return strings.TrimSpace(delivery.Message().IdempotencyKey)
}

// UsageMergeProcessor merges the usage batch carried by a delivery and
// settles it.
type UsageMergeProcessor interface {
	ProcessUsageMergeDelivery(ctx context.Context, delivery core.JobDelivery) (core.MergeReport, error)
}

// UsageMergeWorker drains usage merge jobs from a queue.
type UsageMergeWorker struct {
	dequeuer  core.JobDequeuer
	processor UsageMergeProcessor
	hook      core.JobWorkerHook
	now       func() time.Time
}

func NewUsageMergeWorker(dequeuer core.JobDequeuer, processor UsageMergeProcessor, hook core.JobWorkerHook) *UsageMergeWorker {
	return &UsageMergeWorker{
		dequeuer:  dequeuer,
		processor: processor,
		hook:      hook,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce handles a single delivery. Deliveries for other jobs are
// dead-lettered untouched.
func (w *UsageMergeWorker) RunOnce(ctx context.Context) (core.MergeReport, error) {
	if w == nil || w.dequeuer == nil || w.processor == nil {
		return core.MergeReport{}, fmt.Errorf("gojob: usage merge worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.MergeReport{}, dequeueError{err: err}
	}
	if delivery == nil {
		return core.MergeReport{}, nil
	}
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDUsageMerge {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		return core.MergeReport{}, delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("unexpected job id %q", jobID),
		})
	}

	event := core.JobWorkerEvent{
		Message:   msg,
		Attempt:   deliveryAttempt(delivery),
		StartedAt: w.now(),
	}
	w.onStart(ctx, event)
	report, err := w.processor.ProcessUsageMergeDelivery(ctx, delivery)
	event.Duration = w.now().Sub(event.StartedAt)
	event.Err = err
	if err != nil {
		w.onFailure(ctx, event)
		return report, err
	}
	w.onSuccess(ctx, event)
	return report, nil
}

// Run processes deliveries until ctx is done or the dequeuer fails.
func (w *UsageMergeWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isDequeueError(err) {
				return err
			}
		}
	}
}

type dequeueError struct {
	err error
}

func (e dequeueError) Error() string { return "gojob: dequeue: " + e.err.Error() }

func (e dequeueError) Unwrap() error { return e.err }

func isDequeueError(err error) bool {
	var target dequeueError
	return errors.As(err, &target)
}

func deliveryAttempt(delivery core.JobDelivery) int {
	if counted, ok := delivery.(interface{ Attempt() int }); ok {
		return counted.Attempt()
	}
	return 1
}

func (w *UsageMergeWorker) onStart(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *UsageMergeWorker) onSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *UsageMergeWorker) onFailure(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

// WorkerHookAdapter forwards go-job worker events to a core.JobWorkerHook.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, mapWorkerEvent(event))
}

func mapWorkerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer = (*DequeuerAdapter)(nil)
	_ worker.Hook      = (*WorkerHookAdapter)(nil)
)
