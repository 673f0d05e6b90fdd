package packet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezex-io/flowrt/packet"
	"github.com/ezex-io/flowrt/types"
)

func TestNewDefaults(t *testing.T) {
	p := packet.New(42, types.Stream, types.CategoryGeneric)

	assert.Equal(t, types.Stream, p.DataType)
	assert.Equal(t, types.Raw, p.LifecycleState)
	assert.Equal(t, types.Public, p.Sensitivity)
	assert.Equal(t, types.Internal, p.Source)
	assert.Equal(t, 42, p.Content)
	assert.Empty(t, p.ProcessingChain)
	assert.False(t, p.Timestamp.IsZero())
}

func TestModifyAppendsChainAndDefaultsDerived(t *testing.T) {
	original := packet.New(1, types.Static, types.CategoryGeneric)

	derived := packet.Modify(original, 2, "math-ab12cd")

	assert.Equal(t, types.Derived, derived.DataType)
	assert.Equal(t, 2, derived.Content)
	assert.Equal(t, []string{"math-ab12cd"}, derived.ProcessingChain)
	assert.Empty(t, original.ProcessingChain, "original must not be mutated")
}

func TestModifyChainIsAppendOnly(t *testing.T) {
	p0 := packet.New(1, types.Static, types.CategoryGeneric)
	p1 := packet.Modify(p0, 2, "a")
	p2 := packet.Modify(p1, 3, "b")

	assert.Equal(t, []string{"a"}, p1.ProcessingChain)
	assert.Equal(t, []string{"a", "b"}, p2.ProcessingChain)
}

func TestMarshalRoundTrip(t *testing.T) {
	p := packet.New(map[string]any{"x": int64(1)}, types.Event, types.CategoryNetwork,
		packet.WithMetadata(map[string]any{"k": "v"}))

	data, err := p.MarshalBinary()
	require.NoError(t, err)

	var out packet.Packet
	require.NoError(t, out.UnmarshalBinary(data))

	assert.Equal(t, p.DataType, out.DataType)
	assert.Equal(t, p.Category, out.Category)
	assert.Equal(t, p.Metadata, out.Metadata)
}

func TestCloneIsolatesMutations(t *testing.T) {
	original := packet.New(map[string]any{"count": int64(1)}, types.Static, types.CategoryGeneric)

	clone, err := original.Clone()
	require.NoError(t, err)

	content, ok := clone.Content.(map[string]any)
	require.True(t, ok)
	content["count"] = int64(999)

	originalContent := original.Content.(map[string]any)
	assert.Equal(t, int64(1), originalContent["count"], "mutating the clone must not affect the original")
}
