// Package processors implements the built-in single-purpose transform nodes:
// event-driven, processing exactly the packets delivered to them via OnData.
package processors

import (
	"context"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/ezex-io/flowrt/errors"
	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/types"
)

const mathMultiplyTag = "math_multiply"

// MathMultiplyParams configures the scalar applied to every input value.
type MathMultiplyParams struct {
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier"`
}

// MathMultiply multiplies its single numeric input by a configured
// multiplier, publishing a DERIVED-type packet.
type MathMultiply struct {
	*node.Base

	mu         sync.Mutex
	multiplier float64
}

func newMathMultiply(name string, cfg map[string]any) (node.Node, error) {
	params, err := decodeParams[MathMultiplyParams](cfg)
	if err != nil {
		return nil, err
	}
	if params.Multiplier == 0 {
		params.Multiplier = 1
	}

	m := &MathMultiply{multiplier: params.Multiplier}

	base, err := node.NewBase(mathMultiplyTag, name,
		node.WithAcceptedDataTypes(types.Stream, types.Static, types.Derived, types.Event, types.Transactional),
		node.WithProcessFunc(m.process),
	)
	if err != nil {
		return nil, err
	}
	m.Base = base

	return m, nil
}

func (m *MathMultiply) process(_ context.Context, b *node.Base) error {
	p, ok := b.PopInput(b.Inputs()[0])
	if !ok {
		return nil
	}

	n, ok := asFloat(p.Content)
	if !ok {
		return nil
	}

	m.mu.Lock()
	multiplier := m.multiplier
	m.mu.Unlock()

	b.Publish(b.Outputs()[0], b.ModifyPacket(p, n*multiplier))

	return nil
}

// ApplyParams lets the control surface adjust the multiplier live.
func (m *MathMultiply) ApplyParams(raw map[string]any) error {
	params, err := decodeParams[MathMultiplyParams](raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.multiplier = params.Multiplier
	m.mu.Unlock()

	return nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func decodeParams[T any](raw map[string]any) (T, error) {
	var out T
	if raw == nil {
		return out, nil
	}

	if err := mapstructure.Decode(raw, &out); err != nil {
		return out, errors.NewKind(errors.KindConfiguration, "processors: invalid params: "+err.Error())
	}

	return out, nil
}

func init() {
	_ = registry.Register(mathMultiplyTag, "processors", MathMultiplyParams{}, newMathMultiply)
}
