package processors

import (
	"context"

	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/types"
)

const mathAddTag = "math_add"

// MathAdd sums the first packet buffered on each of its two input channels,
// firing only once both are ready (min_inputs=max_inputs=2).
type MathAdd struct {
	*node.Base
}

func newMathAdd(name string, _ map[string]any) (node.Node, error) {
	m := &MathAdd{}

	base, err := node.NewBase(mathAddTag, name,
		node.WithMinMaxInputs(2, 2),
		node.WithAcceptedDataTypes(types.Stream, types.Static, types.Derived, types.Event, types.Transactional),
		node.WithProcessFunc(m.process),
	)
	if err != nil {
		return nil, err
	}
	m.Base = base

	return m, nil
}

func (m *MathAdd) process(_ context.Context, b *node.Base) error {
	inputs := b.Inputs()
	if len(inputs) != 2 {
		return nil
	}

	first, ok1 := b.PopInput(inputs[0])
	second, ok2 := b.PopInput(inputs[1])
	if !ok1 || !ok2 {
		return nil
	}

	a, aok := asFloat(first.Content)
	bv, bok := asFloat(second.Content)
	if !aok || !bok {
		return nil
	}

	b.Publish(b.Outputs()[0], b.ModifyPacket(first, a+bv))

	return nil
}

func init() {
	_ = registry.Register(mathAddTag, "processors", nil, newMathAdd)
}
