// Package exporters implements the built-in sink nodes: terminal nodes that
// consume packets without publishing further output.
package exporters

import (
	"context"
	"sync"

	"github.com/ezex-io/flowrt/logger"
	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/packet"
	"github.com/ezex-io/flowrt/registry"
)

const consoleLoggerTag = "console_logger"

const receivedRingCap = 256

// ConsoleLogger logs every accepted packet via the process logger and keeps
// an in-process ring buffer of the last receivedRingCap packets for tests to
// inspect via Received.
type ConsoleLogger struct {
	*node.Base

	mu       sync.Mutex
	received []packet.Packet
}

func newConsoleLogger(name string, _ map[string]any) (node.Node, error) {
	c := &ConsoleLogger{}

	base, err := node.NewBase(consoleLoggerTag, name,
		node.WithProcessFunc(c.process),
	)
	if err != nil {
		return nil, err
	}
	c.Base = base

	return c, nil
}

func (c *ConsoleLogger) process(_ context.Context, b *node.Base) error {
	for _, ch := range b.Inputs() {
		p, ok := b.PopInput(ch)
		if !ok {
			continue
		}

		logger.Info("console_logger: packet received",
			"node", b.Name(), "data_type", p.DataType, "category", p.Category, "content", p.Content)

		c.mu.Lock()
		c.received = append(c.received, p)
		if len(c.received) > receivedRingCap {
			c.received = c.received[len(c.received)-receivedRingCap:]
		}
		c.mu.Unlock()
	}

	return nil
}

// Received returns the packets this node has logged, oldest first. Only the
// most recent receivedRingCap (256) packets are kept.
func (c *ConsoleLogger) Received() []packet.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]packet.Packet, len(c.received))
	copy(out, c.received)

	return out
}

func init() {
	_ = registry.Register(consoleLoggerTag, "exporters", nil, newConsoleLogger)
}
