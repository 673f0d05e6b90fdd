package sources

import (
	"github.com/mitchellh/mapstructure"

	"github.com/ezex-io/flowrt/errors"
)

// decodeParams decodes a node's raw config map into its typed params struct,
// the same mapstructure-based shape config.Decode uses for the top-level
// pipeline config.
func decodeParams[T any](raw map[string]any) (T, error) {
	var out T
	if raw == nil {
		return out, nil
	}

	if err := mapstructure.Decode(raw, &out); err != nil {
		return out, errors.NewKind(errors.KindConfiguration, "sources: invalid params: "+err.Error())
	}

	return out, nil
}
