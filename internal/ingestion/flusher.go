package ingestion

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"beacon/pkg/clients"
	"beacon/pkg/logging"
)

// BatchInserter writes a batch of events to the analytics backend.
type BatchInserter interface {
	InsertEvents(ctx context.Context, events []TrackingEvent) error
}

// FlusherConfig configures the background flusher
type FlusherConfig struct {
	// Interval between periodic flushes
	Interval time.Duration

	// InsertTimeout bounds a single insert attempt
	InsertTimeout time.Duration

	// ShutdownTimeout bounds the final flush on Close
	ShutdownTimeout time.Duration

	Retry clients.RetryConfig
}

// DefaultFlusherConfig returns sensible defaults
func DefaultFlusherConfig() FlusherConfig {
	return FlusherConfig{
		Interval:        2 * time.Second,
		InsertTimeout:   15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Retry:           clients.DefaultRetryConfig(),
	}
}

// Flusher drains the buffer on a timer (or early, when the buffer signals
// its high-water mark) and writes each drained batch to the backend with
// bounded retries. A batch that still fails after the retries is dropped;
// delivery is at-most-once and batches are never requeued.
type Flusher struct {
	buffer   *Buffer
	inserter BatchInserter
	cfg      FlusherConfig
	executor failsafe.Executor[any]
	logger   logging.Logger

	// OnFlush is invoked after each insert attempt cycle with the batch
	// size, elapsed time and outcome. Optional.
	OnFlush func(n int, elapsed time.Duration, err error)

	stop chan struct{}
	done chan struct{}
}

// NewFlusher creates a flusher for the given buffer and backend.
func NewFlusher(buffer *Buffer, inserter BatchInserter, cfg FlusherConfig, logger logging.Logger) *Flusher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = 15 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	return &Flusher{
		buffer:   buffer,
		inserter: inserter,
		cfg:      cfg,
		executor: clients.NewRetryExecutor(cfg.Retry),
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop. Call Close to stop it.
func (f *Flusher) Start() {
	go f.run()
}

func (f *Flusher) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush(context.Background())
		case <-f.buffer.Wake():
			f.flush(context.Background())
		case <-f.stop:
			return
		}
	}
}

// flush drains the buffer and writes the batch, retrying transient failures.
func (f *Flusher) flush(ctx context.Context) {
	batch := f.buffer.Drain()
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	err := clients.Retry(ctx, f.executor, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.InsertTimeout)
		defer cancel()
		return f.inserter.InsertEvents(attemptCtx, batch)
	})
	elapsed := time.Since(start)

	if err != nil {
		f.logger.WithFields(logging.Fields{
			"events":  len(batch),
			"elapsed": elapsed.String(),
			"error":   err.Error(),
		}).Error("Dropping batch after retries exhausted")
	} else {
		f.logger.WithFields(logging.Fields{
			"events":  len(batch),
			"elapsed": elapsed.String(),
		}).Debug("Flushed events")
	}

	if f.OnFlush != nil {
		f.OnFlush(len(batch), elapsed, err)
	}
}

// Close stops the loop and performs a best-effort final flush bounded by the
// shutdown timeout.
func (f *Flusher) Close() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ShutdownTimeout)
	defer cancel()
	f.flush(ctx)
}
