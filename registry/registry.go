// Package registry implements the process-wide node registry: a type-tag to
// factory mapping with a parallel category index and memoized parameter
// schemas, populated by each node type's init() hook rather than the
// metaclass auto-registration the original Python used.
package registry

import (
	"context"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/ezex-io/flowrt/cache"
	"github.com/ezex-io/flowrt/errors"
	"github.com/ezex-io/flowrt/node"
)

// Factory constructs a node instance from its pipeline-unique name and a
// decoded params configuration. Concrete node packages supply one per
// registered tag.
type Factory func(name string, config map[string]any) (node.Node, error)

type entry struct {
	factory   Factory
	category  string
	exemplar  any // zero-value params struct, or nil if the node takes none
}

// Registry is a type-tag → factory map with a category index and a
// reflection-based params-schema cache.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	schemas cache.Cache[string, *jsonschema.Schema]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		schemas: cache.NewBasic[string, *jsonschema.Schema](context.Background()),
	}
}

// Default is the process-wide registry built-in node types self-register
// into from their package init() hooks.
var Default = New()

// Register adds tag → factory under category, rejecting duplicates. exemplar
// is the node type's zero-value params struct (nil if it takes none); it
// drives GetParamsSchema's reflection.
func (r *Registry) Register(tag, category string, exemplar any, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tag]; exists {
		return errors.NewKind(errors.KindConfiguration, "registry: node type already registered: "+tag)
	}

	r.entries[tag] = entry{factory: factory, category: category, exemplar: exemplar}

	return nil
}

// Create instantiates tag under name with the given decoded config.
func (r *Registry) Create(tag, name string, config map[string]any) (node.Node, error) {
	r.mu.RLock()
	e, ok := r.entries[tag]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NewKind(errors.KindConfiguration, "registry: unknown node type: "+tag)
	}

	return e.factory(name, config)
}

// ListAvailable returns every registered tag.
func (r *Registry) ListAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}

	return tags
}

// GetCategory returns the category tag was registered under.
func (r *Registry) GetCategory(tag string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[tag]
	if !ok {
		return "", false
	}

	return e.category, true
}

// GetParamsSchema returns the JSON-schema-equivalent description of tag's
// params object, or {"type":"object"} if it declares none. Computed once per
// tag via github.com/invopop/jsonschema and memoized forever (zero
// expiration) since the schema never changes at runtime.
func (r *Registry) GetParamsSchema(tag string) (*jsonschema.Schema, error) {
	if cached, ok := r.schemas.Get(tag); ok {
		return cached, nil
	}

	r.mu.RLock()
	e, ok := r.entries[tag]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NewKind(errors.KindConfiguration, "registry: unknown node type: "+tag)
	}

	var schema *jsonschema.Schema
	if e.exemplar == nil {
		schema = &jsonschema.Schema{Type: "object"}
	} else {
		schema = (&jsonschema.Reflector{ExpandedStruct: true}).Reflect(e.exemplar)
	}

	r.schemas.Add(tag, schema, 0)

	return schema, nil
}

// NodeTypeInfo describes one registered node type, the shape the
// list_node_types control-surface operation returns.
type NodeTypeInfo struct {
	Tag          string             `json:"tag"`
	Category     string             `json:"category"`
	ParamsSchema *jsonschema.Schema `json:"params_schema"`
}

// ListNodeTypes composes ListAvailable, GetCategory, and GetParamsSchema into
// a full {tag, category, params_schema} listing for every registered tag.
func (r *Registry) ListNodeTypes() []NodeTypeInfo {
	tags := r.ListAvailable()

	infos := make([]NodeTypeInfo, 0, len(tags))
	for _, tag := range tags {
		category, _ := r.GetCategory(tag)
		schema, _ := r.GetParamsSchema(tag)
		infos = append(infos, NodeTypeInfo{Tag: tag, Category: category, ParamsSchema: schema})
	}

	return infos
}

// Register, Create, ListAvailable, GetCategory, GetParamsSchema, and
// ListNodeTypes on the package level delegate to Default, the process-wide
// registry node types self-register into.

func Register(tag, category string, exemplar any, factory Factory) error {
	return Default.Register(tag, category, exemplar, factory)
}

func Create(tag, name string, config map[string]any) (node.Node, error) {
	return Default.Create(tag, name, config)
}

func ListAvailable() []string {
	return Default.ListAvailable()
}

func GetCategory(tag string) (string, bool) {
	return Default.GetCategory(tag)
}

func GetParamsSchema(tag string) (*jsonschema.Schema, error) {
	return Default.GetParamsSchema(tag)
}

func ListNodeTypes() []NodeTypeInfo {
	return Default.ListNodeTypes()
}
