package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezex-io/flowrt/bus"
	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/packet"
	"github.com/ezex-io/flowrt/telemetry"
	"github.com/ezex-io/flowrt/types"
)

func newAttached(t *testing.T, typeTag, name string, opts ...node.Option) (*node.Base, *bus.Bus, *telemetry.Bridge) {
	t.Helper()
	n, err := node.NewBase(typeTag, name, opts...)
	require.NoError(t, err)

	b := bus.New()
	tb := telemetry.New()
	n.Attach(b, tb, "pipeline-1")

	t.Cleanup(func() {
		b.Shutdown()
		tb.Shutdown()
	})

	return n, b, tb
}

func TestNodeIDHasTypeTagPrefix(t *testing.T) {
	n, err := node.NewBase("math_multiply", "mult1")
	require.NoError(t, err)
	assert.Regexp(t, `^math_multiply-[0-9a-f]{6}$`, n.ID())
}

func TestDefaultPassThrough(t *testing.T) {
	n, b, _ := newAttached(t, "pass", "p1")
	n.SetInputs([]string{"up_out"})

	out := make(chan packet.Packet, 1)
	b.Subscribe(n.Outputs()[0], func(payload any, _ string) {
		if p, ok := payload.(packet.Packet); ok {
			out <- p
		}
	})

	p := packet.New(int64(7), types.Stream, types.CategoryGeneric)
	n.OnData(p, "up_out")

	select {
	case got := <-out:
		assert.Equal(t, int64(7), got.Content)
	case <-time.After(time.Second):
		t.Fatal("pass-through packet never published")
	}
}

func TestValidationRejectsWrongDataType(t *testing.T) {
	n, _, _ := newAttached(t, "strict", "s1", node.WithAcceptedDataTypes(types.Static))
	n.SetInputs([]string{"up_out"})

	p := packet.New(1, types.Stream, types.CategoryGeneric)
	n.OnData(p, "up_out")

	assert.Empty(t, n.BufferedChannels())
}

func TestBufferOverflowDropsAndCounts(t *testing.T) {
	n, _, _ := newAttached(t, "ov", "o1", node.WithBufferCap(2), node.WithMinMaxInputs(2, 2))
	n.SetInputs([]string{"a_out"})

	for i := 0; i < 5; i++ {
		n.OnData(packet.New(i, types.Stream, types.CategoryGeneric), "a_out")
	}

	assert.EqualValues(t, 3, n.DroppedCount("a_out"))
}

func TestMinInputsGatesProcess(t *testing.T) {
	var calls int
	n, _, _ := newAttached(t, "gate", "g1",
		node.WithMinMaxInputs(2, 2),
		node.WithProcessFunc(func(_ context.Context, _ *node.Base) error { calls++; return nil }))
	n.SetInputs([]string{"a_out", "b_out"})

	n.OnData(packet.New(1, types.Stream, types.CategoryGeneric), "a_out")
	assert.Equal(t, 0, calls, "must not process until min_inputs buffers are non-empty")

	n.OnData(packet.New(2, types.Stream, types.CategoryGeneric), "b_out")
	assert.Equal(t, 1, calls)
}

func TestReferenceBindingUpdatesParamFromReferenceChannel(t *testing.T) {
	var seen int
	n, err := node.NewBase("ref", "r1", node.WithParams(struct{}{}, func(paramName string, v any) {
		if paramName == "multiplier" {
			seen = v.(int)
		}
	}))
	require.NoError(t, err)
	n.RegisterReference("multiplier", node.Binding{Path: []string{"content"}, DeclaredType: node.KindInt}, "cfg_out")

	n.OnData(packet.New(5, types.Stream, types.CategoryGeneric), "cfg_out")
	assert.Equal(t, 5, seen)
}

func TestProcessingErrorTelemetryStillPanics(t *testing.T) {
	n, _, _ := newAttached(t, "fail", "f1",
		node.WithMinMaxInputs(1, 1),
		node.WithProcessFunc(func(_ context.Context, _ *node.Base) error { return assertErr{} }))
	n.SetInputs([]string{"a_out"})

	assert.Panics(t, func() {
		n.OnData(packet.New(1, types.Stream, types.CategoryGeneric), "a_out")
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestCreatePacketDefaultsAndModifyPacketAppendsChain(t *testing.T) {
	n, err := node.NewBase("gen", "g1", node.WithGenerator())
	require.NoError(t, err)

	created := n.CreatePacket(1)
	assert.Equal(t, types.Stream, created.DataType)

	modified := n.ModifyPacket(created, 2)
	assert.Equal(t, []string{n.ID()}, modified.ProcessingChain)
}
