// Package sources implements the built-in generator nodes: nodes that drive
// dataflow rather than react to it, ticked once per frame by the pipeline
// run loop's generator sweep.
package sources

import (
	"context"
	"sync"

	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/types"
)

const numberGeneratorTag = "number_generator"

// NumberGeneratorParams configures NumberGenerator's ramp.
type NumberGeneratorParams struct {
	StartValue   float64  `json:"start_value" mapstructure:"start_value"`
	StepPerFrame float64  `json:"step_per_frame" mapstructure:"step_per_frame"`
	MaxValue     *float64 `json:"max_value,omitempty" mapstructure:"max_value"`
	WrapAround   bool     `json:"wrap_around" mapstructure:"wrap_around"`
}

// NumberGenerator emits a STREAM packet carrying an incrementing value once
// per frame tick.
type NumberGenerator struct {
	*node.Base

	mu      sync.Mutex
	params  NumberGeneratorParams
	current float64
}

func newNumberGenerator(name string, cfg map[string]any) (node.Node, error) {
	params, err := decodeParams[NumberGeneratorParams](cfg)
	if err != nil {
		return nil, err
	}

	g := &NumberGenerator{params: params, current: params.StartValue}

	base, err := node.NewBase(numberGeneratorTag, name,
		node.WithGenerator(),
		node.WithAcceptedDataTypes(types.Stream),
		node.WithMinMaxInputs(0, 0),
		node.WithProcessFunc(g.process),
	)
	if err != nil {
		return nil, err
	}
	g.Base = base

	return g, nil
}

func (g *NumberGenerator) process(_ context.Context, b *node.Base) error {
	g.mu.Lock()
	value := g.current
	g.current += g.params.StepPerFrame
	if g.params.MaxValue != nil && g.current > *g.params.MaxValue {
		if g.params.WrapAround {
			g.current = g.params.StartValue
		} else {
			g.current = *g.params.MaxValue
		}
	}
	g.mu.Unlock()

	b.Publish(b.Outputs()[0], b.CreatePacket(value))

	return nil
}

// ApplyParams lets the control surface adjust the ramp live without a full
// pipeline rebuild.
func (g *NumberGenerator) ApplyParams(raw map[string]any) error {
	params, err := decodeParams[NumberGeneratorParams](raw)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.params = params
	g.mu.Unlock()

	return nil
}

func init() {
	_ = registry.Register(numberGeneratorTag, "sources", NumberGeneratorParams{}, newNumberGenerator)
}
