package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultSweepTimeout is the idle time after which the sweeper expires
	// an ACTIVE session.
	DefaultSweepTimeout = 60 * time.Minute
)

// SweepResult reports one sweep pass.
type SweepResult struct {
	Expired  int           `json:"expired"`
	Purged   int           `json:"purged"`
	Duration time.Duration `json:"duration_ns"`
}

// Sweeper periodically expires idle sessions and purges records past the
// durability window.
type Sweeper struct {
	store    *Store
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the pass interval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(w *Sweeper) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithSweepTimeout sets the idle time after which sessions are expired.
func WithSweepTimeout(d time.Duration) SweeperOption {
	return func(w *Sweeper) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithSweepLogger sets the logger.
func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(w *Sweeper) {
		w.logger = logger
	}
}

// NewSweeper creates a sweeper over store. It does nothing until Start.
func NewSweeper(store *Store, opts ...SweeperOption) *Sweeper {
	w := &Sweeper{
		store:    store,
		interval: DefaultSweepInterval,
		timeout:  DefaultSweepTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "store.sweeper")
	return w
}

// Start runs one pass immediately and then one per interval until ctx is
// cancelled or Stop is called. Starting a running sweeper is a no-op.
func (w *Sweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(sweepCtx, w.done)
}

// Stop cancels the loop and waits for the current pass to finish.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the loop is active.
func (w *Sweeper) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.cancel()
		close(done)
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "sweeper stopping")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *Sweeper) pass(ctx context.Context) {
	res, err := w.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
		return
	}
	if res.Expired > 0 || res.Purged > 0 {
		w.logger.InfoContext(ctx, "swept sessions",
			slog.Int("expired", res.Expired),
			slog.Int("purged", res.Purged),
			slog.Duration("duration", res.Duration),
		)
	}
}

// Sweep runs a single pass synchronously.
func (w *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var res SweepResult

	expired, err := w.store.ExpireIdle(ctx, w.timeout)
	res.Expired = expired
	if err != nil {
		res.Duration = time.Since(start)
		return res, err
	}

	res.Purged, err = w.store.Purge(ctx)
	res.Duration = time.Since(start)
	return res, err
}
