package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// Recorder is an asynchronous observability sink. Events are handed
// off through a buffered channel; when the buffer is full the event is
// dropped and counted, so recording can never block the pipeline.
type Recorder struct {
	events  chan core.MetricEvent
	dropped atomic.Uint64
	logger  *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder draining into the logger. bufferSize
// of 0 falls back to a sane default.
func NewRecorder(bufferSize int, logger *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &Recorder{
		events: make(chan core.MetricEvent, bufferSize),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record hands off an event without blocking. Events that do not fit
// in the buffer are dropped.
func (r *Recorder) Record(ev core.MetricEvent) {
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded due to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Stop drains remaining events and stops the background goroutine.
func (r *Recorder) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.events:
			r.log(ev)
		case <-r.stopCh:
			for {
				select {
				case ev := <-r.events:
					r.log(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) log(ev core.MetricEvent) {
	fields := []zap.Field{
		zap.String("operation", ev.Operation),
		zap.String("message_id", ev.MessageID),
		zap.Duration("duration", ev.Duration),
		zap.Bool("cache_hit", ev.CacheHit),
	}
	if ev.TokensPerSec > 0 {
		fields = append(fields, zap.Float64("tokens_per_sec", ev.TokensPerSec))
	}
	if ev.Err != "" {
		fields = append(fields, zap.String("error", ev.Err))
	}
	r.logger.Debug("Pipeline event", fields...)
}

// Nop is a sink that discards every event. Useful in tests and for
// wiring when observability is disabled.
type Nop struct{}

// Record implements core.MetricsSink.
func (Nop) Record(core.MetricEvent) {}
