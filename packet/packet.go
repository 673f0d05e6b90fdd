// Package packet defines the immutable envelope that flows between nodes: a
// typed, timestamped unit of content carrying its own provenance chain.
package packet

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ezex-io/flowrt/types"
)

// Packet is an immutable unit of data moving through a pipeline. Every field
// is fixed at construction time; derivative packets are produced via Modify,
// never by mutating an existing Packet.
type Packet struct {
	DataType        types.DataType         `msgpack:"data_type" mapstructure:"data_type"`
	Format          types.DataFormat       `msgpack:"format" mapstructure:"format"`
	Category        types.DataCategory     `msgpack:"category" mapstructure:"category"`
	LifecycleState  types.LifecycleState   `msgpack:"lifecycle_state" mapstructure:"lifecycle_state"`
	Sensitivity     types.SensitivityLevel `msgpack:"sensitivity" mapstructure:"sensitivity"`
	Source          types.DataSource       `msgpack:"source" mapstructure:"source"`
	Content         any                    `msgpack:"content" mapstructure:"content"`
	Timestamp       time.Time              `msgpack:"timestamp" mapstructure:"timestamp"`
	SequenceID      *int64                 `msgpack:"sequence_id,omitempty" mapstructure:"sequence_id"`
	Metadata        map[string]any         `msgpack:"metadata,omitempty" mapstructure:"metadata"`
	ProcessingChain []string               `msgpack:"processing_chain" mapstructure:"processing_chain"`
}

// Option customizes a Packet at construction time.
type Option func(*Packet)

func WithFormat(f types.DataFormat) Option {
	return func(p *Packet) { p.Format = f }
}

func WithCategory(c types.DataCategory) Option {
	return func(p *Packet) { p.Category = c }
}

func WithSensitivity(s types.SensitivityLevel) Option {
	return func(p *Packet) { p.Sensitivity = s }
}

func WithSequenceID(seq int64) Option {
	return func(p *Packet) { p.SequenceID = &seq }
}

func WithMetadata(meta map[string]any) Option {
	return func(p *Packet) { p.Metadata = meta }
}

func WithDataType(dt types.DataType) Option {
	return func(p *Packet) { p.DataType = dt }
}

// New creates a packet stamped with source = INTERNAL and lifecycle_state = RAW.
// dataType is the default data type; callers (typically create_packet helpers
// on a Node) may override it via options after the defaults are computed.
func New(content any, dataType types.DataType, category types.DataCategory, opts ...Option) Packet {
	p := Packet{
		DataType:        dataType,
		Format:          types.Binary,
		Category:        category,
		LifecycleState:  types.Raw,
		Sensitivity:     types.Public,
		Source:          types.Internal,
		Content:         content,
		Timestamp:       time.Now(),
		ProcessingChain: []string{},
	}
	for _, opt := range opts {
		opt(&p)
	}

	return p
}

// Modify returns a new packet derived from original: content is replaced,
// data_type defaults to DERIVED (override via opts), and nodeID is appended to
// the processing chain. original is left untouched.
func Modify(original Packet, newContent any, nodeID string, opts ...Option) Packet {
	chain := make([]string, len(original.ProcessingChain), len(original.ProcessingChain)+1)
	copy(chain, original.ProcessingChain)
	chain = append(chain, nodeID)

	p := Packet{
		DataType:        types.Derived,
		Format:          original.Format,
		Category:        original.Category,
		LifecycleState:  original.LifecycleState,
		Sensitivity:     original.Sensitivity,
		Source:          original.Source,
		Content:         newContent,
		Timestamp:       time.Now(),
		SequenceID:      original.SequenceID,
		Metadata:        original.Metadata,
		ProcessingChain: chain,
	}
	for _, opt := range opts {
		opt(&p)
	}

	return p
}

// packetAlias is Packet with its method set stripped: msgpack checks the
// concrete type for BinaryMarshaler/BinaryUnmarshaler before falling back to
// its struct-tag encoder, so marshaling through Packet itself inside
// MarshalBinary/UnmarshalBinary would recurse forever.
type packetAlias Packet

// MarshalBinary encodes the packet as msgpack, the bus's wire format and the
// mechanism by which value semantics are enforced across subscribers (see
// package bus).
func (p Packet) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal(packetAlias(p))
}

// UnmarshalBinary decodes a msgpack-encoded packet into p.
func (p *Packet) UnmarshalBinary(data []byte) error {
	var alias packetAlias
	if err := msgpack.Unmarshal(data, &alias); err != nil {
		return err
	}

	*p = Packet(alias)

	return nil
}

// Clone returns a deep copy of p by round-tripping it through msgpack, the
// same encoding the bus applies to hand each subscriber its own copy of a
// published packet.
func (p Packet) Clone() (Packet, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return Packet{}, err
	}

	var clone Packet
	if err := clone.UnmarshalBinary(data); err != nil {
		return Packet{}, err
	}

	return clone, nil
}
