package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultQueueSize is the dispatcher buffer used when none is configured.
const DefaultQueueSize = 256

// Dispatcher delivers events from a transport to the registered handlers on
// a single goroutine, in the order they were emitted. Emit never blocks the
// producer: when the queue is full the event is dropped and counted.
type Dispatcher struct {
	channel  string
	handlers *Handlers
	logger   *slog.Logger
	metrics  *Metrics

	events chan Event
	stopCh chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Channel   string
	Handlers  *Handlers
	Logger    *slog.Logger
	Metrics   *Metrics
	QueueSize int
}

// NewDispatcher creates a dispatcher. Call Start to begin delivery; events
// emitted before that are buffered.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Handlers == nil {
		cfg.Handlers = newHandlers(&sync.Mutex{})
	}
	return &Dispatcher{
		channel:  cfg.Channel,
		handlers: cfg.Handlers,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		events:   make(chan Event, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Subsequent calls are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Emit queues ev for delivery. It reports false when the event was dropped,
// either because the queue is full or the dispatcher has stopped.
func (d *Dispatcher) Emit(ev Event) bool {
	select {
	case <-d.stopCh:
		return false
	default:
	}

	select {
	case d.events <- ev:
		return true
	default:
		d.metrics.eventDropped(d.channel, ev.kind())
		d.logger.Warn("dispatcher queue full, dropping event",
			"channel", d.channel,
			"kind", ev.kind(),
			"queue_size", cap(d.events),
		)
		return false
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.events)
}

// Stop ends delivery and waits for the in-flight handler to return or for
// ctx to expire. Events still queued are discarded.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	// A dispatcher that was never started has no goroutine to wait for.
	d.startOnce.Do(func() { close(d.done) })

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher %s: %w", d.channel, ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-d.stopCh:
			return
		case ev := <-d.events:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.handlerError(d.channel, ev.kind())
			d.logger.Error("handler panicked", "channel", d.channel, "kind", ev.kind(), "panic", r)
		}
	}()

	hs := d.handlers.load()
	var err error
	handled := true

	switch e := ev.(type) {
	case MessageEvent:
		if hs.message == nil {
			handled = false
			break
		}
		err = hs.message(ctx, e.Message.Clone())
	case ReceiptEvent:
		if hs.status == nil {
			handled = false
			break
		}
		err = hs.status(ctx, e.Receipt.Clone())
	case ConnectionEvent:
		if hs.connection == nil {
			handled = false
			break
		}
		err = hs.connection(ctx, e.Connected, e.Reason)
	case LoggedOutEvent:
		if hs.connection == nil {
			handled = false
			break
		}
		err = hs.connection(ctx, false, "logged out: "+e.Reason)
	case PresenceEvent:
		if hs.presence == nil {
			handled = false
			break
		}
		hs.presence(ctx, e)
	case ChallengeEvent:
		if hs.challenge == nil {
			handled = false
			break
		}
		hs.challenge(ctx, e.Challenge)
	}

	if !handled {
		d.logger.Debug("no handler registered", "channel", d.channel, "kind", ev.kind())
		return
	}
	d.metrics.eventHandled(d.channel, ev.kind())
	if err != nil {
		d.metrics.handlerError(d.channel, ev.kind())
		d.logger.Error("handler failed", "channel", d.channel, "kind", ev.kind(), "error", err)
	}
}
