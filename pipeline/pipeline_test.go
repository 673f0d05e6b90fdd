package pipeline_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezex-io/flowrt/config"
	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/pipeline"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/telemetry"
	"github.com/ezex-io/flowrt/types"
)

type counterParams struct {
	Start int `json:"start"`
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()

	require.NoError(t, r.Register("counter", "sources", counterParams{}, func(name string, cfg map[string]any) (node.Node, error) {
		start := 0
		if v, ok := cfg["start"].(int); ok {
			start = v
		}

		count := start

		return node.NewBase("counter", name,
			node.WithGenerator(),
			node.WithMinMaxInputs(0, 0),
			node.WithAcceptedDataTypes(types.Stream),
			node.WithProcessFunc(func(_ context.Context, b *node.Base) error {
				count++
				b.Publish(b.Outputs()[0], b.CreatePacket(count))

				return nil
			}),
		)
	}))

	require.NoError(t, r.Register("doubler", "processors", nil, func(name string, _ map[string]any) (node.Node, error) {
		return node.NewBase("doubler", name,
			node.WithProcessFunc(func(_ context.Context, b *node.Base) error {
				for _, ch := range b.Inputs() {
					p, ok := b.PopInput(ch)
					if !ok {
						continue
					}

					n, _ := p.Content.(int)
					b.Publish(b.Outputs()[0], b.ModifyPacket(p, n*2))
				}

				return nil
			}),
		)
	}))

	return r
}

func simpleConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Settings: config.Settings{FPSLimit: 1000},
		Nodes: []config.NodeConfig{
			{Type: "counter", Name: "gen1"},
			{Type: "doubler", Name: "dbl1", Inputs: []string{"gen1"}},
		},
	}
}

func TestBuildWiresNodesAndValidatesArity(t *testing.T) {
	r := newTestRegistry(t)
	p := pipeline.New("pl1", telemetry.New(), pipeline.WithRegistry(r))

	require.NoError(t, p.Build(simpleConfig()))

	infos := p.GetNodes()
	assert.Len(t, infos, 2)
}

func TestBuildRejectsUnknownInput(t *testing.T) {
	r := newTestRegistry(t)
	p := pipeline.New("pl2", telemetry.New(), pipeline.WithRegistry(r))

	cfg := config.PipelineConfig{
		Nodes: []config.NodeConfig{
			{Type: "doubler", Name: "dbl1", Inputs: []string{"missing_out"}},
		},
	}

	assert.Error(t, p.Build(cfg))
}

func TestStartTicksGeneratorsAndShutdownIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	p := pipeline.New("pl3", telemetry.New(), pipeline.WithRegistry(r))

	require.NoError(t, p.Build(simpleConfig()))
	require.NoError(t, p.Start())

	waitFor(t, func() bool { return p.FrameCount() > 0 })

	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestUpdateNodeParamsRejectsNonApplierNode(t *testing.T) {
	r := newTestRegistry(t)
	p := pipeline.New("pl4", telemetry.New(), pipeline.WithRegistry(r))

	require.NoError(t, p.Build(simpleConfig()))

	err := p.UpdateNodeParams("gen1", map[string]any{"start": 5})
	assert.Error(t, err)
}

func TestUpdateNodeParamsUnknownNode(t *testing.T) {
	r := newTestRegistry(t)
	p := pipeline.New("pl5", telemetry.New(), pipeline.WithRegistry(r))

	require.NoError(t, p.Build(simpleConfig()))

	err := p.UpdateNodeParams("missing", map[string]any{})
	assert.Error(t, err)
}

func TestUpdateConfigRebuildsGraph(t *testing.T) {
	r := newTestRegistry(t)
	p := pipeline.New("pl6", telemetry.New(), pipeline.WithRegistry(r))

	require.NoError(t, p.Build(simpleConfig()))

	newCfg := config.PipelineConfig{
		Nodes: []config.NodeConfig{
			{Type: "counter", Name: "gen2"},
		},
	}

	require.NoError(t, p.UpdateConfig(newCfg))
	assert.Len(t, p.GetNodes(), 1)
}

func TestReferenceBindingWiresAcrossPipeline(t *testing.T) {
	r := registry.New()
	var resolved atomic.Value
	resolved.Store(0)

	require.NoError(t, r.Register("src", "sources", nil, func(name string, _ map[string]any) (node.Node, error) {
		return node.NewBase("src", name, node.WithGenerator(), node.WithMinMaxInputs(0, 0),
			node.WithProcessFunc(func(_ context.Context, b *node.Base) error {
				b.Publish(b.Outputs()[0], b.CreatePacket(42))

				return nil
			}),
		)
	}))

	require.NoError(t, r.Register("sink", "processors", counterParams{}, func(name string, cfg map[string]any) (node.Node, error) {
		var cur int
		return node.NewBase("sink", name,
			node.WithMinMaxInputs(0, 0),
			node.WithParams(&counterParams{}, func(_ string, v any) {
				if n, ok := v.(int); ok {
					cur = n
					resolved.Store(n)
				}
			}),
			node.WithProcessFunc(func(_ context.Context, b *node.Base) error {
				_ = cur

				return nil
			}),
		)
	}))

	p := pipeline.New("pl7", telemetry.New(), pipeline.WithRegistry(r))

	cfg := config.PipelineConfig{
		Nodes: []config.NodeConfig{
			{Type: "src", Name: "s1"},
			{Type: "sink", Name: "k1", Params: map[string]any{"start": "@ref:s1.content"}},
		},
	}

	require.NoError(t, p.Build(cfg))
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	waitFor(t, func() bool { return resolved.Load().(int) == 42 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}
