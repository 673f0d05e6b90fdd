// Package manager implements the pipeline manager (component G): a
// mutex-guarded keyed collection of running/stopped pipelines, minting
// externally-assigned ids for each one it creates.
package manager

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ezex-io/flowrt/config"
	"github.com/ezex-io/flowrt/errors"
	"github.com/ezex-io/flowrt/pipeline"
	"github.com/ezex-io/flowrt/telemetry"
)

// Manager owns a set of pipelines keyed by id, serializing every operation
// on that set behind a single mutex.
type Manager struct {
	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
	telemetry *telemetry.Bridge
	opts      []pipeline.Option
}

// New creates an empty Manager. Every pipeline it builds shares telem as its
// telemetry sink fan-out point.
func New(telem *telemetry.Bridge, opts ...pipeline.Option) *Manager {
	return &Manager{
		pipelines: make(map[string]*pipeline.Pipeline),
		telemetry: telem,
		opts:      opts,
	}
}

// Create builds a new pipeline from cfg, mints it a uuid, and starts it
// immediately. The pipeline is registered under its id even if Start fails,
// so callers can inspect and retry via UpdateConfig.
func (m *Manager) Create(cfg config.PipelineConfig) (string, error) {
	id := uuid.NewString()

	p := pipeline.New(id, m.telemetry, m.opts...)
	if err := p.Build(cfg); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.pipelines[id] = p
	m.mu.Unlock()

	if err := p.Start(); err != nil {
		return id, err
	}

	return id, nil
}

// Start (re)starts the pipeline registered under id. Idempotent if it is
// already running.
func (m *Manager) Start(id string) error {
	p, ok := m.Get(id)
	if !ok {
		return errors.NewKind(errors.KindConfiguration, "manager: unknown pipeline: "+id)
	}

	return p.Start()
}

// Stop halts the pipeline registered under id without removing it from the
// manager. The pipeline remains addressable afterward for a later Start or
// Delete.
func (m *Manager) Stop(id string) error {
	p, ok := m.Get(id)
	if !ok {
		return errors.NewKind(errors.KindConfiguration, "manager: unknown pipeline: "+id)
	}

	return p.Shutdown(context.Background())
}

// Get returns the pipeline registered under id.
func (m *Manager) Get(id string) (*pipeline.Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pipelines[id]

	return p, ok
}

// List returns every managed pipeline's id.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pipelines))
	for id := range m.pipelines {
		ids = append(ids, id)
	}

	return ids
}

// UpdateConfig hot-reconfigures the pipeline registered under id.
func (m *Manager) UpdateConfig(id string, cfg config.PipelineConfig) error {
	p, ok := m.Get(id)
	if !ok {
		return errors.NewKind(errors.KindConfiguration, "manager: unknown pipeline: "+id)
	}

	return p.UpdateConfig(cfg)
}

// UpdateNodeParams forwards a live per-parameter update to the named
// pipeline's node.
func (m *Manager) UpdateNodeParams(id, nodeName string, params map[string]any) error {
	p, ok := m.Get(id)
	if !ok {
		return errors.NewKind(errors.KindConfiguration, "manager: unknown pipeline: "+id)
	}

	return p.UpdateNodeParams(nodeName, params)
}

// Delete shuts down and removes the pipeline registered under id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.pipelines[id]
	if ok {
		delete(m.pipelines, id)
	}
	m.mu.Unlock()

	if !ok {
		return errors.NewKind(errors.KindConfiguration, "manager: unknown pipeline: "+id)
	}

	return p.Shutdown(ctx)
}

// Shutdown tears down every managed pipeline. Best-effort: it collects and
// returns the first error encountered but shuts down every pipeline
// regardless.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	pipelines := make([]*pipeline.Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		pipelines = append(pipelines, p)
	}
	m.pipelines = make(map[string]*pipeline.Pipeline)
	m.mu.Unlock()

	var firstErr error
	for _, p := range pipelines {
		if err := p.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
