package sources

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/types"
)

const timerTag = "timer"

// TimerParams configures Timer's tick interval.
type TimerParams struct {
	IntervalMS int `json:"interval_ms" mapstructure:"interval_ms"`
}

// Timer emits a STREAM tick on its own interval, independent of the pipeline
// frame rate. Async-capable: excluded from the run loop's generator sweep,
// ticked by its own goroutine instead.
type Timer struct {
	*node.Base

	clock    clock.Clock
	interval time.Duration
	start    time.Time

	stop chan struct{}
	done chan struct{}
}

func newTimer(name string, cfg map[string]any) (node.Node, error) {
	params, err := decodeParams[TimerParams](cfg)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(params.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	t := &Timer{clock: clock.New(), interval: interval}

	base, err := node.NewBase(timerTag, name,
		node.WithGenerator(),
		node.WithAsyncCapable(),
		node.WithAcceptedDataTypes(types.Stream),
		node.WithMinMaxInputs(0, 0),
		node.WithStartFunc(t.start0),
		node.WithStopFunc(t.stop0),
	)
	if err != nil {
		return nil, err
	}
	t.Base = base

	return t, nil
}

func (t *Timer) start0(_ context.Context, b *node.Base) error {
	t.start = t.clock.Now()
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	go t.run(b)

	return nil
}

func (t *Timer) run(b *node.Base) {
	defer close(t.done)

	ticker := t.clock.Ticker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(t.start)
			b.Publish(b.Outputs()[0], b.CreatePacket(elapsed))
		}
	}
}

func (t *Timer) stop0(ctx context.Context, _ *node.Base) error {
	close(t.stop)

	select {
	case <-t.done:
	case <-ctx.Done():
	}

	return nil
}

func init() {
	_ = registry.Register(timerTag, "sources", TimerParams{}, newTimer)
}
