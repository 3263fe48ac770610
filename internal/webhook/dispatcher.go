// Package webhook delivers domain events to registered subscriber endpoints.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
	"github.com/JakeFAU/catalog-ingest/internal/events"
	"github.com/JakeFAU/catalog-ingest/internal/hash/sha256"
	"github.com/JakeFAU/catalog-ingest/internal/id/uuid"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
	"github.com/JakeFAU/catalog-ingest/internal/policy/ratelimit"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultTimeout     = 10 * time.Second
	defaultUserAgent   = "catalog-ingest-webhooks/1.0"
	backlogLogInterval = 5 * time.Second
	maxResponseDrained = 64 << 10
)

// Delivery outcomes recorded in metrics.
const (
	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeFailure = "failure"
	outcomeTest    = "test"
)

// Config tunes the delivery pool. QueueSize is the backlog depth above which a warning is
// logged; deliveries beyond it still wait for a worker. HostRPS caps attempts per second per destination host; zero
// disables it. A non-empty SigningSecret adds an X-Webhook-Signature header to every request.
type Config struct {
	Workers        int
	QueueSize      int
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	UserAgent      string
	HostRPS        float64
	HostBurst      int
	SigningSecret  string
}

// DeliveryResult reports the outcome of a synchronous test delivery.
type DeliveryResult struct {
	Success    bool
	StatusCode int
	Error      string
	Duration   time.Duration
}

type deliveryJob struct {
	event   catalog.Event
	body    []byte
	webhook catalog.Webhook
}

// Dispatcher fans events out to active subscribers through a backlog drained by a fixed pool of
// delivery goroutines. Publish never blocks on the network and never discards a delivery.
type Dispatcher struct {
	registry catalog.WebhookRegistry
	client   *http.Client
	cfg      Config
	policy   *RetryPolicy
	limiter  *ratelimit.Limiter
	signer   *sha256.Signer
	backlog  *backlog
	ids      uuid.Generator
	clock    catalog.Clock
	logger   *zap.Logger

	backlogLimiter rateLimiter
}

// New builds a Dispatcher. A nil client uses a default http.Client; timeouts are applied per
// request from cfg.Timeout.
func New(registry catalog.WebhookRegistry, client *http.Client, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry:       registry,
		client:         client,
		cfg:            cfg,
		policy:         NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		limiter:        ratelimit.New(ratelimit.Config{RPS: cfg.HostRPS, Burst: cfg.HostBurst}),
		signer:         sha256.New(cfg.SigningSecret),
		backlog:        newBacklog(cfg.QueueSize),
		clock:          system.New(),
		logger:         logger.Named("webhook"),
		backlogLimiter: rateLimiter{interval: backlogLogInterval},
	}
}

// Handle lets the dispatcher subscribe to the event bus.
func (d *Dispatcher) Handle(ctx context.Context, event catalog.Event) error {
	_, err := d.enqueue(ctx, event)
	return err
}

// Publish queues one delivery per active subscriber of eventType and returns how many were
// queued.
func (d *Dispatcher) Publish(ctx context.Context, eventType catalog.EventType, data map[string]any) (int, error) {
	return d.enqueue(ctx, catalog.Event{Type: eventType, Timestamp: d.clock.Now(), Data: data})
}

// Backlog returns the number of deliveries waiting for a worker.
func (d *Dispatcher) Backlog() int {
	return d.backlog.len()
}

func (d *Dispatcher) enqueue(ctx context.Context, event catalog.Event) (int, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.clock.Now()
	}
	subscribers, err := d.registry.ListActive(ctx, event.Type)
	if err != nil {
		return 0, fmt.Errorf("list webhooks for %s: %w", event.Type, err)
	}
	if len(subscribers) == 0 {
		return 0, nil
	}
	body, err := events.Encode(event)
	if err != nil {
		return 0, err
	}

	for _, wh := range subscribers {
		depth := d.backlog.push(deliveryJob{event: event, body: body, webhook: wh})
		metrics.SetWebhookBacklog(depth)
		if depth > d.cfg.QueueSize && d.backlogLimiter.Allow(d.clock.Now()) {
			d.logger.Warn("webhook backlog above queue_size, deliveries are waiting",
				zap.String("event_type", string(event.Type)),
				zap.Int("backlog", depth),
				zap.Int("queue_size", d.cfg.QueueSize),
			)
		}
	}
	return len(subscribers), nil
}

// Run drains the backlog with cfg.Workers goroutines until ctx is canceled. Canceling ctx also
// aborts in-flight requests and pending backoff waits.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if job, depth, ok := d.backlog.pop(); ok {
					metrics.SetWebhookBacklog(depth)
					d.deliver(ctx, job)
					continue
				}
				select {
				case <-ctx.Done():
				case <-d.backlog.ready():
				}
			}
		}()
	}
	wg.Wait()
	if pending := d.backlog.len(); pending > 0 {
		d.logger.Warn("webhook dispatcher stopped with queued deliveries", zap.Int("pending", pending))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job deliveryJob) {
	logger := d.logger.With(
		zap.Int64("webhook_id", job.webhook.ID),
		zap.String("event_type", string(job.event.Type)),
	)
	deliveryID := d.ids.NewDeliveryID()
	for attempt := 1; ; attempt++ {
		result := d.attempt(ctx, job.webhook, job.event.Type, job.body, deliveryID, attempt)
		if result.Succeeded() {
			metrics.ObserveDelivery(job.webhook.URL, string(job.event.Type), outcomeSuccess, result.Duration)
			logger.Debug("webhook delivered", zap.Int("attempt", attempt), zap.Int("status_code", result.StatusCode))
			return
		}
		if !d.policy.ShouldRetry(attempt) || ctx.Err() != nil {
			metrics.ObserveDelivery(job.webhook.URL, string(job.event.Type), outcomeFailure, result.Duration)
			logger.Error("webhook delivery failed permanently",
				zap.Int("attempt", attempt),
				zap.Int("status_code", result.StatusCode),
				zap.Error(result.Err),
			)
			return
		}
		metrics.ObserveDelivery(job.webhook.URL, string(job.event.Type), outcomeRetry, result.Duration)
		wait := d.policy.Backoff(attempt)
		logger.Warn("webhook delivery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("status_code", result.StatusCode),
			zap.Duration("backoff", wait),
			zap.Error(result.Err),
		)
		if err := sleep(ctx, wait); err != nil {
			logger.Info("webhook delivery abandoned on shutdown", zap.Int("attempt", attempt))
			return
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, wh catalog.Webhook, eventType catalog.EventType, body []byte, deliveryID string, attempt int) catalog.DeliveryAttempt {
	result := catalog.DeliveryAttempt{
		EventType: eventType,
		WebhookID: wh.ID,
		URL:       wh.URL,
		Attempt:   attempt,
	}
	if err := d.limiter.Wait(ctx, wh.URL); err != nil {
		result.Err = err
		return result
	}
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		result.Err = fmt.Errorf("build request: %w", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("X-Webhook-Event", string(eventType))
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(attempt))
	if d.signer.Enabled() {
		req.Header.Set("X-Webhook-Signature", d.signer.Sign(body))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrained))
	result.StatusCode = resp.StatusCode
	if !result.Succeeded() {
		result.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return result
}

// TestDeliver sends one synthetic event to the webhook and reports the outcome. It ignores the
// active flag and never retries.
func (d *Dispatcher) TestDeliver(ctx context.Context, id int64) (DeliveryResult, error) {
	wh, err := d.registry.Get(ctx, id)
	if err != nil {
		return DeliveryResult{}, err
	}
	eventType := catalog.EventProductCreated
	if len(wh.EventTypes) > 0 {
		eventType = wh.EventTypes[0]
	}
	body, err := events.Encode(catalog.Event{
		Type:      eventType,
		Timestamp: d.clock.Now(),
		Data:      TestPayload(),
	})
	if err != nil {
		return DeliveryResult{}, err
	}

	result := d.attempt(ctx, wh, eventType, body, d.ids.NewDeliveryID(), 1)
	metrics.ObserveDelivery(wh.URL, string(eventType), outcomeTest, result.Duration)
	out := DeliveryResult{
		Success:    result.Succeeded(),
		StatusCode: result.StatusCode,
		Duration:   result.Duration,
	}
	if result.Err != nil {
		out.Error = result.Err.Error()
	}
	d.logger.Info("webhook test delivery",
		zap.Int64("webhook_id", wh.ID),
		zap.Bool("success", out.Success),
		zap.Int("status_code", out.StatusCode),
	)
	return out, nil
}

// TestPayload is the synthetic product sent by TestDeliver.
func TestPayload() map[string]any {
	return map[string]any{
		"sku":         "test-sku-123",
		"name":        "Test Product",
		"description": "This is a test product for webhook validation",
		"active":      true,
		"test":        true,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
