package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// RecorderConfig tunes the recorder's queue
type RecorderConfig struct {
	BufferSize   int
	Workers      int
	WriteTimeout time.Duration
}

// Recorder consumes emitted events and writes them to a sink on background workers.
// Write failures are logged and swallowed. When the queue is full the event is written
// synchronously on the emitting goroutine, so no event is dropped.
type Recorder struct {
	sink         Sink
	logger       *observability.Logger
	metrics      *observability.Metrics
	writeTimeout time.Duration

	queue  chan Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

var _ Emitter = (*Recorder)(nil)

// NewRecorder creates a recorder and starts its workers
func NewRecorder(sink Sink, cfg RecorderConfig, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		sink:         sink,
		logger:       logger.WithField("component", "audit_recorder"),
		metrics:      metrics,
		writeTimeout: cfg.WriteTimeout,
		queue:        make(chan Event, cfg.BufferSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Emit enriches the event from ctx and queues it
func (r *Recorder) Emit(ctx context.Context, event Event) {
	event = Enrich(ctx, event)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.write(event)
		return
	}

	select {
	case r.queue <- event:
		if r.metrics != nil {
			r.metrics.AuditQueueDepth.Inc()
		}
	default:
		if r.metrics != nil {
			r.metrics.AuditQueueOverflowed.Inc()
		}
		r.write(event)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for event := range r.queue {
		if r.metrics != nil {
			r.metrics.AuditQueueDepth.Dec()
		}
		r.safeWrite(event)
	}
}

func (r *Recorder) safeWrite(event Event) {
	defer observability.RecoverPanic(r.logger, "audit recorder")
	r.write(event)
}

func (r *Recorder) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	start := time.Now()
	err := r.sink.Write(ctx, &event)

	if r.metrics != nil {
		r.metrics.AuditWriteDuration.Observe(time.Since(start).Seconds())
		outcome := "written"
		if err != nil {
			outcome = "failed"
		}
		r.metrics.AuditEventsTotal.WithLabelValues(string(event.Action), outcome).Inc()
	}

	if err != nil {
		r.logger.WithError(err).
			WithField("audit_action", string(event.Action)).
			WithField("request_id", event.RequestID).
			Error("audit write failed")
	}
}

// Close stops accepting queued events and drains the queue. Events emitted after Close
// are written synchronously.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit recorder drain interrupted: %w", ctx.Err())
	}
}
