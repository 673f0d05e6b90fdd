// Package node implements the node substrate: lifecycle, bounded input
// buffers, inbound packet validation, reference-parameter binding, and the
// telemetry-wrapped processing call every node type is built from.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/ezex-io/flowrt/bus"
	"github.com/ezex-io/flowrt/errors"
	"github.com/ezex-io/flowrt/packet"
	"github.com/ezex-io/flowrt/telemetry"
	"github.com/ezex-io/flowrt/types"
	"github.com/ezex-io/flowrt/utils"
)

const (
	defaultBufferCap = 100
	hexCharset       = "0123456789abcdef"
	nodeIDSuffixLen  = 6
)

// Node is the contract the pipeline, registry, and bus wiring depend on.
// Concrete node types embed *Base and configure it via options; most only
// need to override ProcessFunc.
type Node interface {
	ID() string
	Name() string
	Type() string

	Inputs() []string
	SetInputs([]string)
	Outputs() []string

	IsGenerator() bool
	IsAsyncCapable() bool
	MinInputs() int
	MaxInputs() int

	Attach(b *bus.Bus, telem *telemetry.Bridge, pipelineID string)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// OnData is the bus subscriber callback: it updates references, validates
	// and buffers the packet, and triggers Process when enough inputs are ready.
	OnData(payload any, channelName string)

	RegisterReference(paramName string, binding Binding, channelName string)

	// ShouldProcess reports whether the run loop should Tick this node this
	// frame. Only generators are tick-driven; event-driven nodes process via
	// OnData as publishes arrive.
	ShouldProcess() bool

	// Tick invokes Process outside of the bus delivery path, for the run
	// loop's generator sweep.
	Tick(ctx context.Context)

	InFrame() bool
	SetInFrame(bool)
}

type inputBuffer struct {
	mu      sync.Mutex
	items   []packet.Packet
	cap     int
	dropped int64
}

func (b *inputBuffer) push(p packet.Packet) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.cap {
		b.dropped++

		return false
	}
	b.items = append(b.items, p)

	return true
}

func (b *inputBuffer) pop() (packet.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return packet.Packet{}, false
	}
	p := b.items[0]
	b.items = b.items[1:]

	return p, true
}

func (b *inputBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.items)
}

type boundRef struct {
	paramName string
	binding   Binding
}

// ProcessFunc is a node type's processing logic. The default is "pass through
// the first non-empty input buffer". Base never lets an implementer mutate a
// received packet in place; new packets are built via CreatePacket/ModifyPacket.
type ProcessFunc func(ctx context.Context, b *Base) error

// StartFunc/StopFunc let async-capable nodes own a background worker.
type StartFunc func(ctx context.Context, b *Base) error
type StopFunc func(ctx context.Context, b *Base) error

// Base implements the common node substrate: lifecycle, input buffers,
// validation, reference binding, and telemetry wrapping shared by every node
// type. It is a concrete, embeddable struct rather than an abstract base
// class: Go has no virtual dispatch through embedding, so node types
// configure behavior with function fields (ProcessFunc/StartFunc/StopFunc)
// instead of overriding methods.
type Base struct {
	id       string
	name     string
	typeTag  string
	inputs   []string
	outputs  []string

	isGenerator     bool
	isAsyncCapable  bool
	minInputs       int
	maxInputs       int

	acceptedDataTypes  []types.DataType
	acceptedFormats    []types.DataFormat
	acceptedCategories []types.DataCategory

	bufferCap int
	buffersMu sync.RWMutex
	buffers   map[string]*inputBuffer

	refsMu sync.RWMutex
	refs   map[string][]boundRef // channelName -> bound params fed by it

	lastUpstreamMu sync.RWMutex
	lastUpstream   map[string]packet.Packet // channelName -> latest packet seen

	paramsMu sync.RWMutex
	params   any
	setParam func(paramName string, value any)

	lastOutputMu sync.RWMutex
	lastOutput   *packet.Packet

	bus        *bus.Bus
	telemetry  *telemetry.Bridge
	pipelineID string

	processFn ProcessFunc
	startFn   StartFunc
	stopFn    StopFunc

	inFrame bool
	frameMu sync.Mutex
}

// Option configures a Base at construction time.
type Option func(*Base)

func WithMinMaxInputs(minInputs, maxInputs int) Option {
	return func(b *Base) {
		b.minInputs = minInputs
		b.maxInputs = maxInputs
	}
}

func WithGenerator() Option {
	return func(b *Base) { b.isGenerator = true }
}

func WithAsyncCapable() Option {
	return func(b *Base) { b.isAsyncCapable = true }
}

func WithAcceptedDataTypes(dt ...types.DataType) Option {
	return func(b *Base) { b.acceptedDataTypes = dt }
}

func WithAcceptedFormats(f ...types.DataFormat) Option {
	return func(b *Base) { b.acceptedFormats = f }
}

func WithAcceptedCategories(c ...types.DataCategory) Option {
	return func(b *Base) { b.acceptedCategories = c }
}

func WithBufferCap(n int) Option {
	return func(b *Base) { b.bufferCap = n }
}

func WithProcessFunc(fn ProcessFunc) Option {
	return func(b *Base) { b.processFn = fn }
}

func WithStartFunc(fn StartFunc) Option {
	return func(b *Base) { b.startFn = fn }
}

func WithStopFunc(fn StopFunc) Option {
	return func(b *Base) { b.stopFn = fn }
}

// WithParams attaches the node's validated parameter struct and the setter
// ApplyBinding uses to update it when a reference resolves.
func WithParams(params any, setParam func(paramName string, value any)) Option {
	return func(b *Base) {
		b.params = params
		b.setParam = setParam
	}
}

// NewBase constructs a node substrate. typeTag is the registry key; name is
// the user-given, pipeline-unique name.
func NewBase(typeTag, name string, opts ...Option) (*Base, error) {
	suffix, err := utils.GenerateRandomCode(nodeIDSuffixLen, hexCharset)
	if err != nil {
		return nil, errors.NewKind(errors.KindConfiguration, "node: failed to generate node id: "+err.Error())
	}

	b := &Base{
		id:        typeTag + "-" + suffix,
		name:      name,
		typeTag:   typeTag,
		outputs:   []string{name + "_out"},
		minInputs: 1,
		maxInputs: 1,
		bufferCap: defaultBufferCap,
		buffers:   make(map[string]*inputBuffer),
		refs:      make(map[string][]boundRef),
		lastUpstream: make(map[string]packet.Packet),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Name() string { return b.name }
func (b *Base) Type() string { return b.typeTag }

func (b *Base) Inputs() []string { return b.inputs }
func (b *Base) SetInputs(inputs []string) {
	b.inputs = inputs
	b.buffersMu.Lock()
	defer b.buffersMu.Unlock()
	for _, ch := range inputs {
		if _, ok := b.buffers[ch]; !ok {
			b.buffers[ch] = &inputBuffer{cap: b.bufferCap}
		}
	}
}
func (b *Base) Outputs() []string { return b.outputs }

func (b *Base) IsGenerator() bool    { return b.isGenerator }
func (b *Base) IsAsyncCapable() bool { return b.isAsyncCapable }
func (b *Base) MinInputs() int       { return b.minInputs }
func (b *Base) MaxInputs() int       { return b.maxInputs }

// Attach wires the node to its owning bus and telemetry bridge. Called once
// by the pipeline builder during the instantiate pass.
func (b *Base) Attach(bs *bus.Bus, telem *telemetry.Bridge, pipelineID string) {
	b.bus = bs
	b.telemetry = telem
	b.pipelineID = pipelineID
	b.bus.RegisterChannel(b.outputs[0])
}

func (b *Base) Start(ctx context.Context) error {
	if b.startFn == nil {
		return nil
	}

	return b.startFn(ctx, b)
}

func (b *Base) Stop(ctx context.Context) error {
	if b.stopFn == nil {
		return nil
	}

	return b.stopFn(ctx, b)
}

// RegisterReference records that paramName is bound to binding's upstream
// value, fed whenever a packet arrives on channelName.
func (b *Base) RegisterReference(paramName string, binding Binding, channelName string) {
	b.refsMu.Lock()
	defer b.refsMu.Unlock()
	b.refs[channelName] = append(b.refs[channelName], boundRef{paramName: paramName, binding: binding})
}

// OnData is the bus subscriber callback. It updates bound references first,
// then — if channelName is a declared input — validates and buffers the
// packet, invoking Process once enough inputs are ready.
func (b *Base) OnData(payload any, channelName string) {
	p, isPacket := payload.(packet.Packet)
	if isPacket {
		b.lastUpstreamMu.Lock()
		b.lastUpstream[channelName] = p
		b.lastUpstreamMu.Unlock()
		b.updateReferences(channelName, p)
	}

	if !b.isDeclaredInput(channelName) {
		return
	}

	if !isPacket {
		return
	}

	if !b.validate(p) {
		b.emit("validation_rejected", channelName)

		return
	}

	buf := b.bufferFor(channelName)
	if !buf.push(p) {
		b.emit("buffer_overflow", channelName)

		return
	}

	if b.nonEmptyBufferCount() >= b.minInputs {
		b.runProcess(context.Background())
	}
}

func (b *Base) updateReferences(channelName string, latest packet.Packet) {
	b.refsMu.RLock()
	bound := append([]boundRef(nil), b.refs[channelName]...)
	b.refsMu.RUnlock()

	for _, ref := range bound {
		name := ref.paramName
		ApplyBinding(name, ref.binding, latest, func(v any) {
			b.paramsMu.Lock()
			defer b.paramsMu.Unlock()
			if b.setParam != nil {
				b.setParam(name, v)
			}
		})
	}
}

func (b *Base) isDeclaredInput(channelName string) bool {
	for _, in := range b.inputs {
		if in == channelName {
			return true
		}
	}

	return false
}

func (b *Base) validate(p packet.Packet) bool {
	if !memberOf(p.DataType, b.acceptedDataTypes) {
		return false
	}
	if !memberOf(p.Format, b.acceptedFormats) {
		return false
	}

	return memberOf(p.Category, b.acceptedCategories)
}

func memberOf[T comparable](v T, set []T) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}

	return false
}

func (b *Base) bufferFor(channelName string) *inputBuffer {
	b.buffersMu.Lock()
	defer b.buffersMu.Unlock()

	buf, ok := b.buffers[channelName]
	if !ok {
		buf = &inputBuffer{cap: b.bufferCap}
		b.buffers[channelName] = buf
	}

	return buf
}

func (b *Base) nonEmptyBufferCount() int {
	b.buffersMu.RLock()
	defer b.buffersMu.RUnlock()

	n := 0
	for _, buf := range b.buffers {
		if buf.len() > 0 {
			n++
		}
	}

	return n
}

// PopInput dequeues the oldest packet buffered for channelName.
func (b *Base) PopInput(channelName string) (packet.Packet, bool) {
	return b.bufferFor(channelName).pop()
}

// BufferedChannels reports which declared input channels currently hold at
// least one packet.
func (b *Base) BufferedChannels() []string {
	b.buffersMu.RLock()
	defer b.buffersMu.RUnlock()

	var names []string
	for name, buf := range b.buffers {
		if buf.len() > 0 {
			names = append(names, name)
		}
	}

	return names
}

// DroppedCount reports the overflow-drop count for a channel's input buffer.
func (b *Base) DroppedCount(channelName string) int64 {
	buf := b.bufferFor(channelName)
	buf.mu.Lock()
	defer buf.mu.Unlock()

	return buf.dropped
}

// runProcess wraps Process with the standard telemetry instrumentation:
// processing_start, processing_end, execution_time, and on failure an
// additional processing_error. The failure is never swallowed — it is
// re-raised as a panic so the bus's per-callback isolation takes over: a
// callback that fails is logged but does not abort delivery to other
// subscribers.
func (b *Base) runProcess(ctx context.Context) {
	b.emit("processing_start", nil)
	start := time.Now()

	fn := b.processFn
	if fn == nil {
		fn = defaultPassThrough
	}

	err := fn(ctx, b)

	elapsed := time.Since(start)
	b.emit("execution_time", elapsed.Seconds())
	b.emit("processing_end", nil)

	if err != nil {
		b.emit("processing_error", err.Error())
		panic(err)
	}
}

func defaultPassThrough(_ context.Context, b *Base) error {
	for _, ch := range b.Inputs() {
		p, ok := b.PopInput(ch)
		if ok {
			b.Publish(b.Outputs()[0], p)

			return nil
		}
	}

	return nil
}

// Publish sends a packet on one of this node's output channels and records
// it as the node's last output.
func (b *Base) Publish(channelName string, p packet.Packet) {
	b.lastOutputMu.Lock()
	cp := p
	b.lastOutput = &cp
	b.lastOutputMu.Unlock()

	if b.bus != nil {
		b.bus.Publish(channelName, p)
	}
}

// LastOutput returns the most recent packet emitted by this node, if any.
func (b *Base) LastOutput() (packet.Packet, bool) {
	b.lastOutputMu.RLock()
	defer b.lastOutputMu.RUnlock()

	if b.lastOutput == nil {
		return packet.Packet{}, false
	}

	return *b.lastOutput, true
}

// CreatePacket fills unspecified fields with the node's first accepted
// value, defaulting data_type to STREAM for generators and STATIC otherwise.
func (b *Base) CreatePacket(content any, opts ...packet.Option) packet.Packet {
	dataType := types.Static
	if b.isGenerator {
		dataType = types.Stream
	}
	if len(b.acceptedDataTypes) > 0 {
		dataType = b.acceptedDataTypes[0]
	}

	category := types.CategoryGeneric
	if len(b.acceptedCategories) > 0 {
		category = b.acceptedCategories[0]
	}

	allOpts := opts
	if len(b.acceptedFormats) > 0 {
		allOpts = append([]packet.Option{packet.WithFormat(b.acceptedFormats[0])}, opts...)
	}

	return packet.New(content, dataType, category, allOpts...)
}

// ModifyPacket copies original, replaces its content, and appends this
// node's id to the processing chain.
func (b *Base) ModifyPacket(original packet.Packet, newContent any, opts ...packet.Option) packet.Packet {
	return packet.Modify(original, newContent, b.id, opts...)
}

// ShouldProcess reports whether the run loop's generator sweep should Tick
// this node. Only generators are tick-driven.
func (b *Base) ShouldProcess() bool { return b.isGenerator }

// Tick invokes Process outside the bus delivery path, for the run loop.
func (b *Base) Tick(ctx context.Context) { b.runProcess(ctx) }

func (b *Base) InFrame() bool {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()

	return b.inFrame
}

func (b *Base) SetInFrame(v bool) {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()
	b.inFrame = v
}

func (b *Base) emit(metric string, value any) {
	if b.telemetry == nil {
		return
	}

	b.telemetry.Emit(telemetry.Record{
		PipelineID: b.pipelineID,
		NodeID:     b.id,
		Metric:     metric,
		Value:      value,
		Timestamp:  time.Now(),
	})
}

var _ Node = (*Base)(nil)
