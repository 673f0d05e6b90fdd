// Package pipeline implements the graph builder, frame-paced run loop, and
// hot-reconfiguration protocol that turns a declarative config into a
// running, rewirable set of nodes wired together over the bus.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/invopop/jsonschema"

	"github.com/ezex-io/flowrt/bus"
	"github.com/ezex-io/flowrt/config"
	"github.com/ezex-io/flowrt/errors"
	"github.com/ezex-io/flowrt/logger"
	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/telemetry"
)

const (
	stopTimeout  = 5 * time.Second
	nodeStopBound = 2 * time.Second
	minFrameSleep = time.Millisecond
)

// StateSaver is an optional hook a node implements to have its state
// preserved across a hot reconfigure.
type StateSaver interface {
	SaveState() any
}

// StateRestorer is the counterpart to StateSaver, invoked after rebuild for
// any node whose name survived.
type StateRestorer interface {
	RestoreState(any)
}

// ParamsApplier is an optional hook invoked after a successful per-parameter
// live update.
type ParamsApplier interface {
	ApplyParams(params map[string]any) error
}

// NodeInfo is the read-only view of a built node exposed by GetNodes.
type NodeInfo struct {
	Name    string
	Type    string
	Inputs  []string
	Outputs []string
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithClock injects a mockable clock for deterministic frame-pacing tests.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithRegistry overrides the default process-wide node registry.
func WithRegistry(r *registry.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// Pipeline is a running (or stopped) dataflow graph: a bus, a set of wired
// nodes, and a background worker that paces generator ticks.
type Pipeline struct {
	id string

	mu      sync.RWMutex
	cfg     config.PipelineConfig
	nodes   []node.Node
	nodeMap map[string]node.Node

	bus       *bus.Bus
	telemetry *telemetry.Bridge
	registry  *registry.Registry
	clock     clock.Clock

	configMu sync.Mutex // guards config/node_map mutation and live-param updates
	buildMu  sync.Mutex // guards a full rebuild

	running    atomic.Bool
	fpsLimit   float64
	currentFPS float64
	frameCount uint64
	loopDone   chan struct{}
}

// New creates an unbuilt Pipeline. Call Build before Start.
func New(id string, telem *telemetry.Bridge, opts ...Option) *Pipeline {
	p := &Pipeline{
		id:        id,
		bus:       bus.New(),
		telemetry: telem,
		registry:  registry.Default,
		clock:     clock.New(),
		fpsLimit:  60,
		nodeMap:   make(map[string]node.Node),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Pipeline) ID() string           { return p.id }
func (p *Pipeline) IsRunning() bool      { return p.running.Load() }
func (p *Pipeline) CurrentFPS() float64  { p.mu.RLock(); defer p.mu.RUnlock(); return p.currentFPS }
func (p *Pipeline) FrameCount() uint64   { return atomic.LoadUint64(&p.frameCount) }

// Config returns a copy of the pipeline's current declarative config.
func (p *Pipeline) Config() config.PipelineConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.cfg
}

// GetNodes returns the read-only view of every node built into this pipeline.
func (p *Pipeline) GetNodes() []NodeInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]NodeInfo, 0, len(p.nodes))
	for _, n := range p.nodes {
		infos = append(infos, NodeInfo{Name: n.Name(), Type: n.Type(), Inputs: n.Inputs(), Outputs: n.Outputs()})
	}

	return infos
}

// Build runs the four-pass graph construction procedure under the build
// lock. Prior nodes are cleared first; any error leaves no partial graph
// installed.
func (p *Pipeline) Build(cfg config.PipelineConfig) error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	p.mu.Lock()
	p.nodes = nil
	p.nodeMap = make(map[string]node.Node)
	p.mu.Unlock()

	if err := config.Validate(cfg); err != nil {
		return err
	}

	nodeMap := make(map[string]node.Node, len(cfg.Nodes))
	nodes := make([]node.Node, 0, len(cfg.Nodes))
	nameToType := make(map[string]string, len(cfg.Nodes))
	refSpecs := make(map[string]map[string]string)

	// Pass 1: instantiate.
	for _, nc := range cfg.Nodes {
		params, refs := extractReferences(nc.Params)

		n, err := p.registry.Create(nc.Type, nc.Name, params)
		if err != nil {
			return errors.NewKind(errors.KindConfiguration,
				"pipeline: failed to instantiate "+nc.Name+": "+err.Error())
		}

		n.Attach(p.bus, p.telemetry, p.id)
		nodeMap[nc.Name] = n
		nodes = append(nodes, n)
		nameToType[nc.Name] = nc.Type

		if len(refs) > 0 {
			refSpecs[nc.Name] = refs
		}
	}

	// Pass 2 & 3: wire channels, seeding each subscribed input's FIFO.
	for _, nc := range cfg.Nodes {
		n := nodeMap[nc.Name]

		channels := make([]string, 0, len(nc.Inputs))
		for _, upstreamName := range nc.Inputs {
			upstream, ok := nodeMap[upstreamName]
			if !ok {
				return errors.NewKind(errors.KindConfiguration,
					"pipeline: node "+nc.Name+" references unknown input node: "+upstreamName)
			}

			ch := upstream.Outputs()[0]
			channels = append(channels, ch)
			p.bus.Subscribe(ch, n.OnData)
		}

		if len(channels) < n.MinInputs() || len(channels) > n.MaxInputs() {
			return errors.NewKind(errors.KindConfiguration,
				"pipeline: node "+nc.Name+" violates min/max input arity")
		}

		n.SetInputs(channels)
	}

	// Pass 4: bind parameter references.
	for name, refs := range refSpecs {
		n := nodeMap[name]
		schema, _ := p.registry.GetParamsSchema(nameToType[name])

		for paramName, raw := range refs {
			kind := kindForParam(schema, paramName)

			binding, ok := node.ParseBinding(raw, kind)
			if !ok {
				continue
			}

			if _, exists := nodeMap[binding.Upstream]; !exists {
				return errors.NewKind(errors.KindConfiguration,
					"pipeline: node "+name+" references unknown node: "+binding.Upstream)
			}

			ch := binding.Upstream + "_out"
			p.bus.Subscribe(ch, n.OnData)
			n.RegisterReference(paramName, binding, ch)
		}
	}

	p.mu.Lock()
	p.cfg = cfg
	p.nodes = nodes
	p.nodeMap = nodeMap
	if cfg.Settings.FPSLimit != 0 {
		p.fpsLimit = cfg.Settings.FPSLimit
	}
	p.mu.Unlock()

	return nil
}

func extractReferences(raw map[string]any) (map[string]any, map[string]string) {
	params := make(map[string]any, len(raw))
	refs := make(map[string]string)

	for k, v := range raw {
		if s, ok := v.(string); ok && strings.HasPrefix(s, "@ref:") {
			refs[k] = s

			continue
		}
		params[k] = v
	}

	return params, refs
}

func kindForParam(schema *jsonschema.Schema, name string) node.ParamKind {
	if schema == nil || schema.Properties == nil {
		return node.KindString
	}

	prop, ok := schema.Properties.Get(name)
	if !ok {
		return node.KindString
	}

	switch prop.Type {
	case "integer":
		return node.KindInt
	case "number":
		return node.KindFloat
	case "boolean":
		return node.KindBool
	case "array":
		return node.KindList
	case "object":
		return node.KindMap
	default:
		return node.KindString
	}
}

// Start enables the bus, zeroes the FPS counters, starts every node that
// defines start(), and spawns the loop worker.
func (p *Pipeline) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}

	p.bus.SetEnabled(true)
	atomic.StoreUint64(&p.frameCount, 0)
	p.mu.Lock()
	p.currentFPS = 0
	p.mu.Unlock()

	p.mu.RLock()
	nodes := append([]node.Node(nil), p.nodes...)
	p.mu.RUnlock()

	for _, n := range nodes {
		if err := n.Start(context.Background()); err != nil {
			logger.Error("pipeline: node start failed", "pipeline", p.id, "node", n.Name(), "error", err)
		}
	}

	p.loopDone = make(chan struct{})
	go p.runLoop()

	return nil
}

func (p *Pipeline) runLoop() {
	defer close(p.loopDone)

	frameDuration := time.Duration(float64(time.Second) / p.fpsLimit)
	if p.fpsLimit <= 0 {
		frameDuration = 0
	}

	lastReport := p.clock.Now()
	framesSinceReport := 0

	for p.running.Load() {
		start := p.clock.Now()

		p.mu.RLock()
		nodes := p.nodes
		p.mu.RUnlock()

		for _, n := range nodes {
			n.SetInFrame(true)
		}

		for _, n := range nodes {
			if n.IsAsyncCapable() || !n.ShouldProcess() {
				continue
			}
			p.safeTick(n)
		}

		for _, n := range nodes {
			n.SetInFrame(false)
		}

		elapsed := p.clock.Now().Sub(start)
		sleep := frameDuration - elapsed
		if sleep <= 0 {
			sleep = minFrameSleep
			if frameDuration > 0 && elapsed < frameDuration {
				sleep = 0
			}
		}
		if sleep > 0 {
			p.clock.Sleep(sleep)
		}

		atomic.AddUint64(&p.frameCount, 1)
		framesSinceReport++

		if since := p.clock.Now().Sub(lastReport); since >= time.Second {
			fps := float64(framesSinceReport) / since.Seconds()
			p.mu.Lock()
			p.currentFPS = fps
			p.mu.Unlock()

			if p.telemetry != nil {
				p.telemetry.Emit(telemetry.Record{PipelineID: p.id, Metric: "current_fps", Value: fps})
			}

			framesSinceReport = 0
			lastReport = p.clock.Now()
		}
	}
}

func (p *Pipeline) safeTick(n node.Node) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline: node process failed", "pipeline", p.id, "node", n.Name(), "recovered", r)
		}
	}()

	n.Tick(context.Background())
}

// Shutdown is cooperative and idempotent: clearing running stops the loop on
// its next check, the bus is disabled to block new deliveries, every node is
// stopped (failures swallowed per-node), the loop worker is joined with a
// bounded timeout, and finally the bus itself is shut down.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}

	p.bus.SetEnabled(false)

	p.mu.RLock()
	nodes := append([]node.Node(nil), p.nodes...)
	p.mu.RUnlock()

	for _, n := range nodes {
		p.stopNode(ctx, n)
	}

	if p.loopDone != nil {
		select {
		case <-p.loopDone:
		case <-time.After(stopTimeout):
			logger.Warn("pipeline: loop worker did not exit within bound", "pipeline", p.id)
		}
	}

	p.bus.Shutdown()

	return nil
}

func (p *Pipeline) stopNode(ctx context.Context, n node.Node) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline: node stop panicked", "pipeline", p.id, "node", n.Name(), "recovered", r)
		}
	}()

	stopCtx, cancel := context.WithTimeout(ctx, nodeStopBound)
	defer cancel()

	if err := n.Stop(stopCtx); err != nil {
		logger.Error("pipeline: node stop failed", "pipeline", p.id, "node", n.Name(), "error", err)
	}
}

// UpdateConfig performs the hot-reconfiguration protocol: snapshot state,
// full shutdown, fresh bus, rebuild, restore state, and resume if the
// pipeline was previously running.
func (p *Pipeline) UpdateConfig(newCfg config.PipelineConfig) error {
	p.configMu.Lock()
	defer p.configMu.Unlock()

	wasRunning := p.running.Load()
	states := p.snapshotStates()

	if wasRunning {
		if err := p.Shutdown(context.Background()); err != nil {
			return err
		}
	} else {
		p.mu.RLock()
		oldBus := p.bus
		p.mu.RUnlock()
		oldBus.Shutdown()
	}

	p.mu.Lock()
	p.bus = bus.New()
	p.nodes = nil
	p.nodeMap = make(map[string]node.Node)
	p.mu.Unlock()

	if err := p.Build(newCfg); err != nil {
		return err
	}

	p.restoreStates(states)

	if wasRunning {
		return p.Start()
	}

	return nil
}

func (p *Pipeline) snapshotStates() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	states := make(map[string]any)
	for name, n := range p.nodeMap {
		if saver, ok := n.(StateSaver); ok {
			states[name] = saver.SaveState()
		}
	}

	return states
}

func (p *Pipeline) restoreStates(states map[string]any) {
	p.mu.RLock()
	nodeMap := p.nodeMap
	p.mu.RUnlock()

	for name, state := range states {
		n, ok := nodeMap[name]
		if !ok {
			continue
		}
		if restorer, ok := n.(StateRestorer); ok {
			restorer.RestoreState(state)
		}
	}
}

// UpdateNodeParams validates params against the node's live-update hook and,
// on success, applies them and persists them into the stored config so a
// later rebuild preserves them. On failure the prior parameters remain in
// force.
func (p *Pipeline) UpdateNodeParams(nodeName string, params map[string]any) error {
	p.configMu.Lock()
	defer p.configMu.Unlock()

	p.mu.RLock()
	n, ok := p.nodeMap[nodeName]
	p.mu.RUnlock()

	if !ok {
		return errors.NewKind(errors.KindConfiguration, "pipeline: unknown node: "+nodeName)
	}

	applier, ok := n.(ParamsApplier)
	if !ok {
		return errors.NewKind(errors.KindConfiguration, "pipeline: node does not support live param updates: "+nodeName)
	}

	if err := applier.ApplyParams(params); err != nil {
		return errors.NewKind(errors.KindValidation, "pipeline: param validation failed: "+err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.cfg.Nodes {
		if p.cfg.Nodes[i].Name != nodeName {
			continue
		}
		if p.cfg.Nodes[i].Params == nil {
			p.cfg.Nodes[i].Params = make(map[string]any)
		}
		for k, v := range params {
			p.cfg.Nodes[i].Params[k] = v
		}
	}

	return nil
}
