package processors

import (
	"context"
	"sync"
	"time"

	"github.com/ezex-io/flowrt/logger"
	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/packet"
	"github.com/ezex-io/flowrt/registry"
)

const delayTag = "delay"

const (
	defaultDelayMS      = 1000
	defaultMaxQueueSize = 1000
)

// DelayParams configures the delay and backpressure behavior of Delay.
type DelayParams struct {
	DelayMS        int  `json:"delay_ms" mapstructure:"delay_ms"`
	MaxQueueSize   int  `json:"max_queue_size" mapstructure:"max_queue_size"`
	DropOnOverflow bool `json:"drop_on_overflow" mapstructure:"drop_on_overflow"`
}

type delayedPacket struct {
	fireAt time.Time
	value  packet.Packet
}

// Delay republishes each accepted packet after a fixed delay, on its own
// timer goroutine rather than the process()/OnData path.
type Delay struct {
	*node.Base

	mu     sync.Mutex
	params DelayParams
	queue  []delayedPacket

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newDelay(name string, cfg map[string]any) (node.Node, error) {
	params, err := decodeParams[DelayParams](cfg)
	if err != nil {
		return nil, err
	}
	if params.DelayMS <= 0 {
		params.DelayMS = defaultDelayMS
	}
	if params.MaxQueueSize <= 0 {
		params.MaxQueueSize = defaultMaxQueueSize
	}

	d := &Delay{
		params: params,
		wake:   make(chan struct{}, 1),
	}

	base, err := node.NewBase(delayTag, name,
		node.WithAsyncCapable(),
		node.WithProcessFunc(d.process),
		node.WithStartFunc(d.start0),
		node.WithStopFunc(d.stop0),
	)
	if err != nil {
		return nil, err
	}
	d.Base = base

	return d, nil
}

func (d *Delay) start0(_ context.Context, b *node.Base) error {
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go d.run(b)

	return nil
}

func (d *Delay) process(_ context.Context, b *node.Base) error {
	for _, ch := range b.Inputs() {
		p, ok := b.PopInput(ch)
		if !ok {
			continue
		}

		d.enqueue(b, p)
	}

	return nil
}

func (d *Delay) enqueue(b *node.Base, p packet.Packet) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) >= d.params.MaxQueueSize {
		if d.params.DropOnOverflow {
			logger.Warn("delay: queue full, dropping packet", "node", b.Name())

			return
		}
		d.queue = d.queue[1:]
	}

	d.queue = append(d.queue, delayedPacket{
		fireAt: time.Now().Add(time.Duration(d.params.DelayMS) * time.Millisecond),
		value:  p,
	})

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Delay) run(b *node.Base) {
	defer close(d.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		d.mu.Lock()
		var wait time.Duration
		if len(d.queue) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(d.queue[0].fireAt)
		}
		d.mu.Unlock()

		timer.Reset(wait)

		select {
		case <-d.stop:
			return
		case <-d.wake:
			continue
		case <-timer.C:
			d.flushDue(b)
		}
	}
}

func (d *Delay) flushDue(b *node.Base) {
	now := time.Now()

	d.mu.Lock()
	var due []delayedPacket
	i := 0
	for i < len(d.queue) && !d.queue[i].fireAt.After(now) {
		due = append(due, d.queue[i])
		i++
	}
	d.queue = d.queue[i:]
	d.mu.Unlock()

	for _, dp := range due {
		b.Publish(b.Outputs()[0], dp.value)
	}
}

func (d *Delay) stop0(ctx context.Context, _ *node.Base) error {
	close(d.stop)

	select {
	case <-d.done:
	case <-ctx.Done():
	}

	return nil
}

// ApplyParams lets the control surface retune the delay/backpressure knobs
// live; already-queued packets keep their original fire time.
func (d *Delay) ApplyParams(raw map[string]any) error {
	params, err := decodeParams[DelayParams](raw)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if params.DelayMS > 0 {
		d.params.DelayMS = params.DelayMS
	}
	if params.MaxQueueSize > 0 {
		d.params.MaxQueueSize = params.MaxQueueSize
	}
	d.params.DropOnOverflow = params.DropOnOverflow
	d.mu.Unlock()

	return nil
}

func init() {
	_ = registry.Register(delayTag, "processors", DelayParams{}, newDelay)
}
