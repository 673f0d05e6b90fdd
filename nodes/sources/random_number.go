package sources

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/types"
)

const randomNumberTag = "random_number"

// RandomNumberParams bounds RandomNumber's output range.
type RandomNumberParams struct {
	Min float64 `json:"min" mapstructure:"min"`
	Max float64 `json:"max" mapstructure:"max"`
}

// RandomSource abstracts the draw so tests can substitute a seeded
// testsuite.TestSuite-backed generator; production uses cryptoFloat64.
type RandomSource func() float64

// RandomNumber emits a uniformly random float in [min, max) once per frame.
type RandomNumber struct {
	*node.Base

	mu     sync.Mutex
	params RandomNumberParams
	source RandomSource
}

func newRandomNumber(name string, cfg map[string]any) (node.Node, error) {
	params, err := decodeParams[RandomNumberParams](cfg)
	if err != nil {
		return nil, err
	}
	if params.Max == 0 && params.Min == 0 {
		params.Max = 1
	}

	r := &RandomNumber{params: params, source: cryptoFloat64}

	base, err := node.NewBase(randomNumberTag, name,
		node.WithGenerator(),
		node.WithAcceptedDataTypes(types.Stream),
		node.WithMinMaxInputs(0, 0),
		node.WithProcessFunc(r.process),
	)
	if err != nil {
		return nil, err
	}
	r.Base = base

	return r, nil
}

func (r *RandomNumber) process(_ context.Context, b *node.Base) error {
	r.mu.Lock()
	lo, hi, src := r.params.Min, r.params.Max, r.source
	r.mu.Unlock()

	value := lo + src()*(hi-lo)
	b.Publish(b.Outputs()[0], b.CreatePacket(value))

	return nil
}

// SetSource overrides the random draw, for deterministic tests (e.g. wiring
// a testsuite.TestSuite-seeded rand.Rand.Float64).
func (r *RandomNumber) SetSource(src RandomSource) {
	r.mu.Lock()
	r.source = src
	r.mu.Unlock()
}

// ApplyParams lets the control surface adjust the range live.
func (r *RandomNumber) ApplyParams(raw map[string]any) error {
	params, err := decodeParams[RandomNumberParams](raw)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.params = params
	r.mu.Unlock()

	return nil
}

// cryptoFloat64 draws a uniform float64 in [0, 1) using crypto/rand, the same
// source utils.GenerateRandomCode is built on.
func cryptoFloat64() float64 {
	const precision = 1 << 53

	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return 0
	}

	return float64(n.Int64()) / float64(precision)
}

func init() {
	_ = registry.Register(randomNumberTag, "sources", RandomNumberParams{}, newRandomNumber)
}
