package processors_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezex-io/flowrt/bus"
	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/packet"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/telemetry"
	"github.com/ezex-io/flowrt/types"
)

func attach(t *testing.T, n node.Node, inputs []string) chan packet.Packet {
	t.Helper()
	b := bus.New()
	tb := telemetry.New()
	n.Attach(b, tb, "test-pipeline")
	n.SetInputs(inputs)

	for _, in := range inputs {
		b.RegisterChannel(in)
	}

	received := make(chan packet.Packet, 16)
	b.Subscribe(n.Outputs()[0], func(payload any, _ string) {
		if p, ok := payload.(packet.Packet); ok {
			received <- p
		}
	})

	t.Cleanup(func() {
		b.Shutdown()
		tb.Shutdown()
	})

	return received
}

func TestMathMultiplyScalesInput(t *testing.T) {
	n, err := registry.Create("math_multiply", "mult1", map[string]any{"multiplier": 3.0})
	require.NoError(t, err)

	received := attach(t, n, []string{"upstream_out"})

	n.OnData(packet.New(2.0, types.Stream, types.CategoryGeneric), "upstream_out")

	p := <-received
	assert.InDelta(t, 6.0, p.Content, 0.0001)
}

func TestMathAddRequiresBothInputs(t *testing.T) {
	n, err := registry.Create("math_add", "add1", nil)
	require.NoError(t, err)

	received := attach(t, n, []string{"a_out", "b_out"})

	n.OnData(packet.New(2.0, types.Stream, types.CategoryGeneric), "a_out")

	select {
	case <-received:
		t.Fatal("should not process with only one input ready")
	case <-time.After(50 * time.Millisecond):
	}

	n.OnData(packet.New(3.0, types.Stream, types.CategoryGeneric), "b_out")

	p := <-received
	assert.InDelta(t, 5.0, p.Content, 0.0001)
}

func TestDelayRepublishesAfterInterval(t *testing.T) {
	n, err := registry.Create("delay", "delay1", map[string]any{"delay_ms": 20})
	require.NoError(t, err)

	received := attach(t, n, []string{"upstream_out"})

	require.NoError(t, n.Start(context.Background()))
	defer func() { _ = n.Stop(context.Background()) }()

	start := time.Now()
	n.OnData(packet.New("hello", types.Stream, types.CategoryGeneric), "upstream_out")

	select {
	case p := <-received:
		assert.Equal(t, "hello", p.Content)
		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delay did not republish")
	}
}
