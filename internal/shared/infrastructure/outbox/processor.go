package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/convert"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
)

// ProcessorConfig holds configuration for the outbox processor.
type ProcessorConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	Retention        time.Duration
	CleanupInterval  time.Duration
}

// DefaultProcessorConfig returns the defaults used by cmd/worker.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
		Retention:        7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Stats is a snapshot of processor activity.
type Stats struct {
	IsRunning       bool
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastProcessedAt *time.Time
}

// Processor polls the outbox and relays messages to the broker.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	config    ProcessorConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewProcessor creates a new outbox processor. m may be nil.
func NewProcessor(repo Repository, publisher eventbus.Publisher, config ProcessorConfig, m *metrics.Metrics, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultProcessorConfig().PollInterval
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		config:    config,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the polling loop in a goroutine. Calling Start twice is a no-op.
func (p *Processor) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
	)
}

// Stop signals the loop to exit and waits for it.
func (p *Processor) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("outbox processor stopped")
}

// IsRunning reports whether the loop is active.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	defer p.running.Store(false)

	poll := time.NewTicker(p.config.PollInterval)
	defer poll.Stop()

	cleanupEvery := p.config.CleanupInterval
	if cleanupEvery <= 0 {
		cleanupEvery = time.Hour
	}
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-poll.C:
			if err := p.ProcessOnce(ctx); err != nil {
				p.logger.Error("failed to process outbox batch", "error", err)
			}
		case <-cleanup.C:
			if _, err := p.Cleanup(ctx); err != nil {
				p.logger.Error("failed to purge outbox", "error", err)
			}
		}
	}
}

// ProcessOnce publishes one batch of due messages.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	now := p.now()
	msgs, err := p.repo.FetchPending(ctx, p.config.BatchSize, now)
	if err != nil {
		p.recordError(err)
		return err
	}
	p.recordBatch(msgs, now)

	for _, msg := range msgs {
		err := p.publisher.Publish(ctx, eventbus.Publication{
			MessageID:  msg.EventID,
			RoutingKey: msg.RoutingKey,
			Payload:    msg.Payload,
			OccurredAt: msg.CreatedAt,
		})
		if err == nil {
			if markErr := p.repo.MarkPublished(ctx, msg.EventID, p.now()); markErr != nil {
				p.logger.Error("failed to mark message as published", "event_id", msg.EventID, "error", markErr)
				continue
			}
			p.recordPublished()
			continue
		}

		p.logger.Warn("failed to publish message",
			"event_id", msg.EventID,
			"routing_key", msg.RoutingKey,
			"retry_count", msg.RetryCount,
			"error", err,
		)
		if p.shouldDeadLetter(msg) {
			p.recordDead(err)
			if markErr := p.repo.MarkDead(ctx, msg.EventID, err.Error(), p.now()); markErr != nil {
				p.logger.Error("failed to dead-letter message", "event_id", msg.EventID, "error", markErr)
			}
			continue
		}

		p.recordFailed(err)
		next := p.now().Add(p.retryBackoff(msg.RetryCount + 1))
		if markErr := p.repo.MarkFailed(ctx, msg.EventID, err.Error(), next); markErr != nil {
			p.logger.Error("failed to mark message as failed", "event_id", msg.EventID, "error", markErr)
		}
	}
	return nil
}

// Cleanup deletes published messages past the retention window.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	if p.config.Retention <= 0 {
		return 0, nil
	}
	n, err := p.repo.PurgePublished(ctx, p.now().Add(-p.config.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("purged published outbox messages", "count", n)
	}
	return n, nil
}

func (p *Processor) shouldDeadLetter(msg *Message) bool {
	if p.config.MaxRetries <= 0 {
		return true
	}
	return msg.RetryCount+1 >= p.config.MaxRetries
}

func (p *Processor) retryBackoff(attempt int) time.Duration {
	base := p.config.RetryBackoffBase
	if base <= 0 {
		base = time.Second
	}
	maxBackoff := p.config.RetryBackoffMax
	if maxBackoff <= 0 {
		maxBackoff = time.Minute
	}

	backoff := base * time.Duration(convert.ShiftClamped(attempt-1, 20))
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// GetStats returns a snapshot of processor statistics.
func (p *Processor) GetStats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s := p.stats
	s.IsRunning = p.IsRunning()
	return s
}

func (p *Processor) recordBatch(msgs []*Message, now time.Time) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.LastProcessedAt = &now
	p.stats.LagSeconds = 0
	if len(msgs) > 0 {
		p.stats.LagSeconds = now.Sub(msgs[0].CreatedAt).Seconds()
	}
	if p.metrics != nil {
		p.metrics.OutboxLag.Set(p.stats.LagSeconds)
	}
}

func (p *Processor) recordPublished() {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.PublishedCount++
	if p.metrics != nil {
		p.metrics.OutboxPublished.Inc()
	}
}

func (p *Processor) recordFailed(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.FailedCount++
	p.stats.LastError = err.Error()
	if p.metrics != nil {
		p.metrics.OutboxFailed.Inc()
	}
}

func (p *Processor) recordDead(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.DeadCount++
	p.stats.LastError = err.Error()
	if p.metrics != nil {
		p.metrics.OutboxDead.Inc()
	}
}

func (p *Processor) recordError(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.LastError = err.Error()
}
