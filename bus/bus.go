// Package bus implements the data bus: a named-channel publish/subscribe
// fabric with a shared worker pool, per-channel FIFO delivery, and a
// serialization boundary that gives every subscriber its own copy of a
// published payload.
//
// Unlike telemetry's single broadcaster goroutine, a bus channel cannot
// afford its own goroutine (a pipeline may register dozens of them), so
// delivery is instead multiplexed onto a bounded worker pool: see 4.2b for
// the per-channel draining-flag scheme that keeps publish order intact.
package bus

import (
	"context"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ezex-io/flowrt/errors"
	"github.com/ezex-io/flowrt/logger"
	"github.com/ezex-io/flowrt/packet"
)

// Subscriber receives a freshly-decoded copy of a published payload along
// with the name of the channel it arrived on.
type Subscriber func(payload any, channelName string)

const (
	defaultWorkers = 16
	minWorkers     = 10
	maxWorkers     = 20
	jobQueueSize   = 1024
)

type options struct {
	workers int
}

// Option configures a Bus at construction time.
type Option func(*options)

// WithWorkers sets the shared worker pool width. New clamps the value to
// [10,20].
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

type channel struct {
	mu          sync.Mutex
	name        string
	subscribers []Subscriber
	pending     []any
	draining    bool
}

// Bus is a named-channel publish/subscribe fabric. The zero value is not
// usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]*channel
	enabled  bool

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan func()
	wg     sync.WaitGroup
}

// New creates a Bus with its worker pool already running.
func New(opts ...Option) *Bus {
	cfg := options{workers: defaultWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.workers < minWorkers || cfg.workers > maxWorkers {
		if cfg.workers != defaultWorkers {
			logger.Warn("bus: worker count outside [10,20], clamping", "requested", cfg.workers)
		}
		cfg.workers = clamp(cfg.workers, minWorkers, maxWorkers)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		channels: make(map[string]*channel),
		enabled:  true,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan func(), jobQueueSize),
	}

	for i := 0; i < cfg.workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	return b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}

func (b *Bus) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case job, ok := <-b.jobs:
			if !ok {
				return
			}
			job()
		}
	}
}

// RegisterChannel creates the named channel if it does not already exist.
// Idempotent.
func (b *Bus) RegisterChannel(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[name]; !ok {
		b.channels[name] = &channel{name: name}
	}
}

// Subscribe appends cb to channel's subscriber list, registering the channel
// first if needed.
func (b *Bus) Subscribe(channelName string, cb Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[channelName]
	if !ok {
		ch = &channel{name: channelName}
		b.channels[channelName] = ch
	}

	ch.mu.Lock()
	ch.subscribers = append(ch.subscribers, cb)
	ch.mu.Unlock()
}

// Publish schedules payload for delivery to channelName's subscribers and
// returns immediately. Dropped silently if the bus is disabled or the
// channel has no subscribers.
func (b *Bus) Publish(channelName string, payload any) {
	b.mu.RLock()
	enabled := b.enabled
	ch, ok := b.channels[channelName]
	b.mu.RUnlock()

	if !enabled || !ok {
		return
	}

	ch.mu.Lock()
	if len(ch.subscribers) == 0 {
		ch.mu.Unlock()

		return
	}

	ch.pending = append(ch.pending, payload)
	shouldSubmit := !ch.draining
	if shouldSubmit {
		ch.draining = true
	}
	ch.mu.Unlock()

	if shouldSubmit {
		b.submit(func() { b.drain(ch) })
	}
}

func (b *Bus) submit(job func()) {
	select {
	case b.jobs <- job:
	case <-b.ctx.Done():
	}
}

// drain owns ch exclusively until its pending queue is empty, delivering in
// strict publish order. Subscribers of other channels run concurrently on
// the same pool.
func (b *Bus) drain(ch *channel) {
	for {
		ch.mu.Lock()
		if len(ch.pending) == 0 {
			ch.draining = false
			ch.mu.Unlock()

			return
		}

		payload := ch.pending[0]
		ch.pending = ch.pending[1:]
		subs := make([]Subscriber, len(ch.subscribers))
		copy(subs, ch.subscribers)
		ch.mu.Unlock()

		b.deliver(ch.name, payload, subs)
	}
}

// deliver round-trips payload through msgpack once per subscriber, giving
// each its own decoded copy, and isolates per-callback panics/failures so one
// bad subscriber cannot block delivery to the rest. A packet is encoded with
// its struct fields (via MarshalBinary) so decode sees a packet-shaped map.
func (b *Bus) deliver(channelName string, payload any, subs []Subscriber) {
	var (
		data []byte
		err  error
	)
	if p, ok := payload.(packet.Packet); ok {
		data, err = p.MarshalBinary()
	} else {
		data, err = msgpack.Marshal(payload)
	}
	if err != nil {
		logger.Error("bus: failed to encode payload", "channel", channelName, "error", err)

		return
	}

	for _, sub := range subs {
		copyVal, err := decode(data)
		if err != nil {
			logger.Error("bus: failed to decode payload for subscriber", "channel", channelName, "error", err)

			continue
		}

		b.invoke(sub, copyVal, channelName)
	}
}

func (b *Bus) invoke(sub Subscriber, payload any, channelName string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bus: subscriber panicked", "channel", channelName, "recovered", r)
		}
	}()

	sub(payload, channelName)
}

// decode unpacks data and, if it looks packet-shaped (carries a "data_type"
// key), reconstitutes it into a packet.Packet. Otherwise the decoded value is
// returned as-is.
func decode(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	m, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}

	if _, ok := m["data_type"]; !ok {
		return v, nil
	}

	var p packet.Packet
	if err := mapstructure.Decode(m, &p); err != nil {
		return nil, errors.NewKind(errors.KindProcessing, "bus: failed to reconstitute packet: "+err.Error())
	}

	return p, nil
}

// SetEnabled gates delivery. Used by a pipeline to stop and resume dataflow
// atomically without tearing down subscriptions.
func (b *Bus) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enabled = enabled
}

// Flush clears all channels and subscriptions.
func (b *Bus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.channels = make(map[string]*channel)
}

// Shutdown disables the bus, drains the worker pool, and waits for all
// workers to quit. Idempotent.
func (b *Bus) Shutdown() {
	b.SetEnabled(false)
	b.cancel()
	b.wg.Wait()
}
