// Package notify delivers message notices to recipients outside the open
// conversation: persisted in-app notices and optional email.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cobuilders/inbox/internal/logging"
	"github.com/cobuilders/inbox/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Sink delivers a single notice.
type Sink interface {
	Deliver(ctx context.Context, notice models.Notice) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, notice models.Notice) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, notice models.Notice) error {
	return f(ctx, notice)
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// Workers bounds concurrent deliveries. Notices arriving while every
	// worker is busy are dropped.
	// Default: 4
	Workers int

	// Timeout bounds a single delivery.
	// Default: 10s
	Timeout time.Duration
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers: 4,
		Timeout: 10 * time.Second,
	}
}

// Stats counts delivery outcomes.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Dispatcher is a fire-and-forget Notifier. Notify never blocks the caller
// and never reports delivery errors back; failures are logged and counted.
type Dispatcher struct {
	config DispatcherConfig
	sink   Sink
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.RWMutex
	closed bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher creates a Dispatcher delivering to sink.
func NewDispatcher(config DispatcherConfig, sink Sink) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = DefaultDispatcherConfig().Workers
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultDispatcherConfig().Timeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		config: config,
		sink:   sink,
		logger: logging.Component("notify"),
		ctx:    ctx,
		cancel: cancel,
	}
	d.group.SetLimit(config.Workers)
	return d
}

// Notify schedules delivery of notice and returns immediately.
func (d *Dispatcher) Notify(notice models.Notice) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Debug().Str("conversation_id", notice.ConversationID).Msg("notice after close dropped")
		return
	}

	started := d.group.TryGo(func() error {
		d.deliver(notice)
		return nil
	})
	if !started {
		d.dropped.Add(1)
		d.logger.Warn().
			Str("recipient_id", notice.RecipientID).
			Str("conversation_id", notice.ConversationID).
			Int("workers", d.config.Workers).
			Msg("notification dispatcher saturated, notice dropped")
	}
}

func (d *Dispatcher) deliver(notice models.Notice) {
	ctx, cancel := context.WithTimeout(d.ctx, d.config.Timeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, notice); err != nil {
		d.failed.Add(1)
		d.logger.Warn().Err(err).
			Str("recipient_id", notice.RecipientID).
			Str("conversation_id", notice.ConversationID).
			Msg("notification delivery failed")
		return
	}
	d.delivered.Add(1)
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Close stops accepting notices and waits for in-flight deliveries.
// Cancelling ctx abandons the wait and cancels deliveries still running.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
