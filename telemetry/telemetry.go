// Package telemetry implements the process-wide telemetry bridge: a bounded
// record queue drained by a single broadcaster that fans each record out to
// every attached sink. The transport a sink uses (WebSocket, Prometheus, a
// test spy) is entirely outside this package's concern.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/ezex-io/flowrt/logger"
)

// Record is a single telemetry observation. NodeID is empty for
// pipeline-level events.
type Record struct {
	PipelineID string    `json:"pipeline_id"`
	NodeID     string    `json:"node_id,omitempty"`
	Metric     string    `json:"metric"`
	Value      any       `json:"value,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink is a push destination for telemetry records. Deliver should not block
// for long; a sink that returns an error is dropped from the subscriber set.
type Sink interface {
	Deliver(Record) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Record) error

func (f SinkFunc) Deliver(r Record) error { return f(r) }

const defaultQueueSize = 256

type options struct {
	queueSize int
}

// Option configures a Bridge at construction time.
type Option func(*options)

// WithQueueSize overrides the bounded queue's buffer size.
func WithQueueSize(size int) Option {
	return func(o *options) { o.queueSize = size }
}

// Bridge is a process-wide telemetry fan-out point: a bounded record queue
// drained by a single broadcaster goroutine that fans each record out to
// every attached sink.
type Bridge struct {
	mu     sync.Mutex
	sinks  map[Sink]struct{}
	queue  chan Record
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates a Bridge with its broadcaster loop already running.
func New(opts ...Option) *Bridge {
	cfg := options{queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		sinks:  make(map[Sink]struct{}),
		queue:  make(chan Record, cfg.queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	go b.receiveLoop()

	return b
}

// receiveLoop drains the record queue and fans each one out to every
// attached sink until the bridge is shut down.
func (b *Bridge) receiveLoop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case record, ok := <-b.queue:
			if !ok {
				return
			}
			b.broadcast(record)
		}
	}
}

// Attach registers a sink to receive every subsequently emitted record.
func (b *Bridge) Attach(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sinks[sink] = struct{}{}
}

// Detach removes a sink from the subscriber set.
func (b *Bridge) Detach(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sinks, sink)
}

// Emit enqueues a record for asynchronous delivery. Non-blocking, best-effort:
// producers (node threads, bus workers) never wait on the broadcaster, and a
// full queue drops the record rather than stalling the caller.
func (b *Bridge) Emit(record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return
	}

	select {
	case b.queue <- record:
	default:
		logger.Warn("telemetry: record queue full, dropping", "metric", record.Metric)
	}
}

func (b *Bridge) broadcast(record Record) {
	b.mu.Lock()
	sinks := make([]Sink, 0, len(b.sinks))
	for s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Deliver(record); err != nil {
			logger.Warn("telemetry: sink failed, detaching", "error", err)
			b.Detach(sink)
		}
	}
}

// Shutdown stops the broadcaster loop. Idempotent.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
}
