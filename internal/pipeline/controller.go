// Package pipeline orchestrates one feed's ingestion loop: connect,
// receive, normalize, deduplicate, persist, fan out, and reconnect with
// backoff until stopped.
package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/unibosoft/quakefeed/internal/dedup"
	"github.com/unibosoft/quakefeed/internal/feed"
	"github.com/unibosoft/quakefeed/internal/hub"
	"github.com/unibosoft/quakefeed/internal/observability"
	"github.com/unibosoft/quakefeed/internal/quake"
	"github.com/unibosoft/quakefeed/internal/store"
)

// Reconnect and persistence retry defaults. All of them are configurable
// through Options.
const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultPersistRetries = 3
	DefaultPersistBackoff = 250 * time.Millisecond
	DefaultDrainTimeout   = 10 * time.Second
	DefaultSeedWindow     = 24 * time.Hour
)

// Notifier delivers stored events to out-of-band targets (webhooks).
// Optional; the WebSocket fan-out does not depend on it.
type Notifier interface {
	Notify(ctx context.Context, e *quake.Event)
}

// SourceFactory builds a fresh feed.Source for each controller run, so a
// restarted controller never inherits a closed socket.
type SourceFactory func() feed.Source

// Controller supervises one feed connection and runs every message
// through normalize, dedup, persist and publish, strictly in arrival
// order.
type Controller struct {
	provider   string
	newSource  SourceFactory
	normalizer quake.Normalizer
	dedup      *dedup.Deduplicator
	store      store.EventStore
	publisher  hub.Publisher
	notifier   Notifier
	metrics    *observability.Metrics
	logger     zerolog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	persistRetries int
	persistBackoff time.Duration
	drainTimeout   time.Duration
	seedWindow     time.Duration

	mu     sync.Mutex
	state  State
	conn   quake.ConnectionState
	source feed.Source
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Controller) {
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

// WithPersistRetry sets how often and how fast a failed store call is
// retried before the event is dropped.
func WithPersistRetry(retries int, backoff time.Duration) Option {
	return func(c *Controller) {
		c.persistRetries = retries
		c.persistBackoff = backoff
	}
}

// WithDrainTimeout bounds how long Stop waits for the loop to wind down
// before force-closing the source.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Controller) { c.drainTimeout = d }
}

// WithSeedWindow sets how far back the dedup cache is seeded from the
// store on start.
func WithSeedWindow(d time.Duration) Option {
	return func(c *Controller) { c.seedWindow = d }
}

// WithNotifier attaches an out-of-band notifier for stored events.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// NewController wires a feed pipeline. The dedup cache may be shared with
// other controllers; everything else is owned by this one.
func NewController(
	provider string,
	newSource SourceFactory,
	normalizer quake.Normalizer,
	dd *dedup.Deduplicator,
	st store.EventStore,
	pub hub.Publisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		provider:       provider,
		newSource:      newSource,
		normalizer:     normalizer,
		dedup:          dd,
		store:          st,
		publisher:      pub,
		metrics:        metrics,
		logger:         logger.With().Str("provider", provider).Logger(),
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		persistRetries: DefaultPersistRetries,
		persistBackoff: DefaultPersistBackoff,
		drainTimeout:   DefaultDrainTimeout,
		seedWindow:     DefaultSeedWindow,
		state:          StateIdle,
		conn:           quake.ConnectionState{Provider: provider, Status: quake.ConnStopped},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the outer lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnState returns a snapshot of the inner connection state.
func (c *Controller) ConnState() quake.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Start spawns the pipeline as a background task. It returns immediately;
// connection progress is observable via ConnState and the status fan-out.
// Starting an already started controller is an error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle, StateFailed:
	default:
		return &quake.ConfigError{Reason: "controller already started"}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateStarting

	go func() {
		defer close(c.done)
		c.run(runCtx)
		c.mu.Lock()
		failed := c.state == StateFailed
		if !failed {
			c.state = StateIdle
		}
		c.mu.Unlock()
		if !failed {
			c.setConn(quake.ConnStopped, nil, 0)
		}
	}()
	return nil
}

// Stop signals cancellation, waits up to the drain timeout for the loop
// to finish, then force-closes the source. The controller returns to Idle
// and can be started again.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning && c.state != StateStarting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(c.drainTimeout):
		c.logger.Warn().Dur("timeout", c.drainTimeout).Msg("drain timeout exceeded, force closing feed")
		c.mu.Lock()
		source := c.source
		c.mu.Unlock()
		if source != nil {
			_ = source.Close()
		}
		<-done
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.setConn(quake.ConnStopped, nil, 0)
	return nil
}

// Serve runs the pipeline in the calling goroutine until the context is
// cancelled. It implements suture.Service; supervisors use this entry
// point instead of Start/Stop.
func (c *Controller) Serve(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateFailed:
	default:
		c.mu.Unlock()
		return &quake.ConfigError{Reason: "controller already started"}
	}
	c.state = StateStarting
	c.done = make(chan struct{})
	c.cancel = func() {}
	c.mu.Unlock()

	defer close(c.done)
	c.run(ctx)

	c.mu.Lock()
	failed := c.state == StateFailed
	if !failed {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if failed {
		// A configuration error will not heal on restart; stop the
		// supervisor from spinning on it.
		return suture.ErrDoNotRestart
	}
	c.setConn(quake.ConnStopped, nil, 0)
	return ctx.Err()
}

// run is the supervised connect/receive loop. Transient failures never
// escape it; it exits only on cancellation or a configuration error.
func (c *Controller) run(ctx context.Context) {
	c.mu.Lock()
	c.source = c.newSource()
	source := c.source
	c.mu.Unlock()
	defer c.shutdown(source)

	c.seed(ctx)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if attempt == 0 {
			c.setConn(quake.ConnConnecting, nil, 0)
		} else {
			c.setConn(quake.ConnReconnecting, nil, attempt)
		}

		if err := source.Connect(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, feed.ErrClosed) {
				return
			}
			var cfgErr *quake.ConfigError
			if errors.As(err, &cfgErr) {
				c.fail(err)
				return
			}
			attempt++
			c.metrics.Reconnects.WithLabelValues(c.provider).Inc()
			c.setConn(quake.ConnReconnecting, err, attempt)
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("connect failed, backing off")
			if !c.sleep(ctx, c.backoff(attempt)) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.state == StateStarting {
			c.state = StateRunning
		}
		c.mu.Unlock()
		c.setConn(quake.ConnConnected, nil, attempt)
		c.metrics.Connected.WithLabelValues(c.provider).Set(1)

		attempt = c.readLoop(ctx, source, attempt)
		c.metrics.Connected.WithLabelValues(c.provider).Set(0)

		if ctx.Err() != nil {
			return
		}

		attempt++
		c.metrics.Reconnects.WithLabelValues(c.provider).Inc()
		c.setConn(quake.ConnReconnecting, nil, attempt)
		if !c.sleep(ctx, c.backoff(attempt)) {
			return
		}
	}
}

// readLoop pulls frames until the connection drops. Each frame finishes
// its whole normalize-dedup-persist-publish path before the next one is
// read, keeping the dedup cache consistent with arrival order. Returns
// the reconnect attempt counter (reset to zero once any frame arrived).
func (c *Controller) readLoop(ctx context.Context, source feed.Source, attempt int) int {
	for {
		msg, err := source.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, feed.ErrClosed) {
				c.logger.Warn().Err(err).Msg("feed receive failed")
			}
			return attempt
		}

		attempt = 0
		c.mu.Lock()
		c.conn.LastMessageAt = msg.ReceivedAt
		c.conn.ReconnectAttempt = 0
		c.mu.Unlock()

		c.process(ctx, msg)
	}
}

// process runs one frame through the pipeline stages in order.
func (c *Controller) process(ctx context.Context, msg feed.Message) {
	c.metrics.MessagesReceived.WithLabelValues(c.provider).Inc()

	event, err := c.normalizer.Normalize(msg.Data, msg.ReceivedAt)
	if err != nil {
		var implausible *quake.ImplausibleTimeError
		if errors.As(err, &implausible) {
			c.metrics.ValidationErrors.WithLabelValues(c.provider, "implausible_time").Inc()
			c.logger.Warn().Err(err).Str("raw", string(msg.Data)).Msg("implausible event time")
			return
		}
		var invalid *quake.ValidationError
		if errors.As(err, &invalid) {
			c.metrics.ValidationErrors.WithLabelValues(c.provider, "invalid").Inc()
			c.logger.Warn().Err(err).Str("raw", string(msg.Data)).Msg("rejected frame")
			return
		}
		c.logger.Error().Err(err).Str("raw", string(msg.Data)).Msg("normalizer failure")
		return
	}

	if dup, of := c.dedup.Observe(event); dup {
		kind := "proximity"
		if of == event.Key() {
			kind = "exact"
		}
		c.metrics.Duplicates.WithLabelValues(c.provider, kind).Inc()
		c.logger.Debug().Str("source_id", event.SourceID).Str("duplicate_of", of).Str("kind", kind).Msg("suppressed duplicate")
		return
	}
	c.metrics.DedupCacheSize.Set(float64(c.dedup.Len()))

	stored, record, err := c.persist(ctx, event)
	if err != nil {
		c.metrics.PersistFailures.WithLabelValues(c.provider).Inc()
		c.logger.Error().Err(err).Str("source_id", event.SourceID).Str("raw", string(msg.Data)).Msg("dropping event after persistence retries")
		return
	}
	if !stored {
		// Another instance won the insert race; treat as a redelivery.
		c.metrics.Duplicates.WithLabelValues(c.provider, "exact").Inc()
		c.logger.Debug().Str("source_id", event.SourceID).Msg("already persisted elsewhere")
		return
	}

	c.publisher.Publish(hub.GroupQuakes, hub.Message{Type: hub.MessageTypeNewEvent, Data: record})
	c.metrics.Published.WithLabelValues(hub.MessageTypeNewEvent).Inc()
	c.metrics.EventsStored.WithLabelValues(c.provider).Inc()
	c.logger.Info().
		Str("source_id", event.SourceID).
		Float64("magnitude", event.Magnitude).
		Str("region", event.LocationLabel).
		Msg("stored earthquake")

	if c.notifier != nil {
		c.notifier.Notify(ctx, record)
	}
}

// persist retries UpsertIfNew a bounded number of times with a short
// backoff. Exhaustion surfaces as an error; the caller logs and drops.
func (c *Controller) persist(ctx context.Context, e *quake.Event) (bool, *quake.Event, error) {
	var lastErr error
	for i := 0; i <= c.persistRetries; i++ {
		if i > 0 && !c.sleep(ctx, c.persistBackoff) {
			return false, nil, lastErr
		}
		stored, record, err := c.store.UpsertIfNew(ctx, e)
		if err == nil {
			return stored, record, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("try", i+1).Str("source_id", e.SourceID).Msg("persist failed")
	}
	return false, nil, lastErr
}

// seed warms the dedup cache from the store so dedup survives restarts.
// Failure is logged, not fatal: an empty cache only risks a duplicate
// broadcast, which the store's upsert still prevents from double-storing.
func (c *Controller) seed(ctx context.Context) {
	events, err := c.store.QueryRecent(ctx, c.seedWindow)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dedup cache seed failed, starting cold")
		return
	}
	c.dedup.Seed(events)
	c.logger.Info().Int("events", len(events)).Msg("dedup cache seeded")
}

// shutdown releases the feed socket on the way out of run.
func (c *Controller) shutdown(source feed.Source) {
	if err := source.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("feed close")
	}
}

// fail moves the controller to Failed. Only configuration errors land
// here; transient trouble stays inside the reconnect loop.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	c.setConn(quake.ConnFailed, err, 0)
	c.logger.Error().Err(err).Msg("controller failed, operator action required")
}

// setConn mutates the inner connection state and publishes a status
// message on every transition so dashboards can follow reconnects.
func (c *Controller) setConn(status quake.ConnStatus, err error, attempt int) {
	c.mu.Lock()
	changed := c.conn.Status != status || c.conn.ReconnectAttempt != attempt
	c.conn.Status = status
	c.conn.ReconnectAttempt = attempt
	if err != nil {
		c.conn.LastError = err.Error()
	} else if status == quake.ConnConnected || status == quake.ConnStopped {
		c.conn.LastError = ""
	}
	snapshot := c.conn
	c.mu.Unlock()

	if changed {
		c.publisher.Publish(hub.GroupQuakes, hub.Message{Type: hub.MessageTypeStatus, Data: snapshot})
		c.metrics.Published.WithLabelValues(hub.MessageTypeStatus).Inc()
	}
}

// backoff returns the exponential delay for the given attempt with full
// jitter on the upper half, capped at maxBackoff.
func (c *Controller) backoff(attempt int) time.Duration {
	delay := c.initialBackoff
	for i := 1; i < attempt && delay < c.maxBackoff; i++ {
		delay *= 2
	}
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half)
}

// sleep waits for d unless the context ends first.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
