package exporters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezex-io/flowrt/bus"
	"github.com/ezex-io/flowrt/nodes/exporters"
	"github.com/ezex-io/flowrt/packet"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/telemetry"
	"github.com/ezex-io/flowrt/types"
)

func TestConsoleLoggerRecordsAcceptedPackets(t *testing.T) {
	n, err := registry.Create("console_logger", "log1", nil)
	require.NoError(t, err)

	b := bus.New()
	tb := telemetry.New()
	n.Attach(b, tb, "test-pipeline")
	n.SetInputs([]string{"upstream_out"})

	t.Cleanup(func() {
		b.Shutdown()
		tb.Shutdown()
	})

	cl, ok := n.(*exporters.ConsoleLogger)
	require.True(t, ok)

	n.OnData(packet.New("line one", types.Event, types.CategoryGeneric), "upstream_out")

	received := cl.Received()
	require.Len(t, received, 1)
	assert.Equal(t, "line one", received[0].Content)
}
