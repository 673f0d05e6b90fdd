package sources

import (
	"context"
	"sync"

	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/types"
)

const constantTag = "constant"

// ConstantParams configures the fixed value Constant emits.
type ConstantParams struct {
	Value any `json:"value" mapstructure:"value"`
}

// Constant emits the same configured value once per frame.
type Constant struct {
	*node.Base

	mu    sync.Mutex
	value any
}

func newConstant(name string, cfg map[string]any) (node.Node, error) {
	params, err := decodeParams[ConstantParams](cfg)
	if err != nil {
		return nil, err
	}

	c := &Constant{value: params.Value}

	base, err := node.NewBase(constantTag, name,
		node.WithGenerator(),
		node.WithAcceptedDataTypes(types.Static),
		node.WithMinMaxInputs(0, 0),
		node.WithProcessFunc(c.process),
	)
	if err != nil {
		return nil, err
	}
	c.Base = base

	return c, nil
}

func (c *Constant) process(_ context.Context, b *node.Base) error {
	c.mu.Lock()
	v := c.value
	c.mu.Unlock()

	b.Publish(b.Outputs()[0], b.CreatePacket(v))

	return nil
}

// ApplyParams lets the control surface swap the emitted value live.
func (c *Constant) ApplyParams(raw map[string]any) error {
	params, err := decodeParams[ConstantParams](raw)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.value = params.Value
	c.mu.Unlock()

	return nil
}

func init() {
	_ = registry.Register(constantTag, "sources", ConstantParams{}, newConstant)
}
