package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezex-io/flowrt/config"
)

func TestDecodeAppliesFPSDefault(t *testing.T) {
	cfg, err := config.Decode(map[string]any{
		"nodes": []any{
			map[string]any{"type": "number_generator", "name": "gen1"},
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 60, cfg.Settings.FPSLimit, 0)
}

func TestDecodePreservesExplicitFPS(t *testing.T) {
	cfg, err := config.Decode(map[string]any{
		"settings": map[string]any{"fps_limit": 30},
		"nodes":    []any{},
	})
	require.NoError(t, err)
	assert.InDelta(t, 30, cfg.Settings.FPSLimit, 0)
}

func TestValidateRejectsMissingName(t *testing.T) {
	cfg, err := config.Decode(map[string]any{
		"nodes": []any{map[string]any{"type": "constant"}},
	})
	require.NoError(t, err)

	assert.Error(t, config.Validate(cfg))
}

func TestValidateRejectsDuplicateName(t *testing.T) {
	cfg, err := config.Decode(map[string]any{
		"nodes": []any{
			map[string]any{"type": "constant", "name": "a"},
			map[string]any{"type": "constant", "name": "a"},
		},
	})
	require.NoError(t, err)

	assert.Error(t, config.Validate(cfg))
}

func TestValidateRejectsUnknownInput(t *testing.T) {
	cfg, err := config.Decode(map[string]any{
		"nodes": []any{
			map[string]any{"type": "math_multiply", "name": "m1", "inputs": []any{"missing"}},
		},
	})
	require.NoError(t, err)

	assert.Error(t, config.Validate(cfg))
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	cfg, err := config.Decode(map[string]any{
		"nodes": []any{
			map[string]any{"type": "number_generator", "name": "gen1"},
			map[string]any{"type": "math_multiply", "name": "mult1", "inputs": []any{"gen1"}},
		},
	})
	require.NoError(t, err)

	assert.NoError(t, config.Validate(cfg))
}
