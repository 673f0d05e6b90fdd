// Package config decodes the declarative pipeline configuration, whether it
// arrives as a generic map over the control surface or as a YAML file, into
// typed PipelineConfig/NodeConfig structs.
package config

import (
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/ezex-io/flowrt/errors"
)

const defaultFPSLimit = 60

// NodeConfig is one entry in a pipeline's declarative node list.
type NodeConfig struct {
	Type   string         `mapstructure:"type" yaml:"type"`
	Name   string         `mapstructure:"name" yaml:"name"`
	Inputs []string       `mapstructure:"inputs" yaml:"inputs"`
	Params map[string]any `mapstructure:"params" yaml:"params"`
}

// Settings carries pipeline-wide tunables.
type Settings struct {
	FPSLimit float64 `mapstructure:"fps_limit" yaml:"fps_limit"`
}

// PipelineConfig is the full declarative graph description a pipeline is
// built from.
type PipelineConfig struct {
	Settings Settings     `mapstructure:"settings" yaml:"settings"`
	Nodes    []NodeConfig `mapstructure:"nodes" yaml:"nodes"`
}

// Decode converts a generic map (as received over the control surface) into
// a PipelineConfig, applying the fps_limit default when omitted.
func Decode(raw map[string]any) (PipelineConfig, error) {
	var cfg PipelineConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return PipelineConfig{}, errors.NewKind(errors.KindConfiguration, "config: decode failed: "+err.Error())
	}

	applyDefaults(&cfg)

	return cfg, nil
}

// Load reads a YAML pipeline configuration from path, a thin convenience on
// top of Decode for file-backed configs.
func Load(path string) (PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineConfig{}, errors.NewKind(errors.KindConfiguration, "config: failed to read file: "+err.Error())
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PipelineConfig{}, errors.NewKind(errors.KindConfiguration, "config: failed to parse yaml: "+err.Error())
	}

	applyDefaults(&cfg)

	return cfg, nil
}

func applyDefaults(cfg *PipelineConfig) {
	if cfg.Settings.FPSLimit == 0 {
		cfg.Settings.FPSLimit = defaultFPSLimit
	}
}

// Validate checks the structural invariants required before a build is
// attempted: every node has a non-empty, unique name, and every input
// references a name present in this same config.
func Validate(cfg PipelineConfig) error {
	seen := make(map[string]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n.Name == "" {
			return errors.NewKind(errors.KindConfiguration, "config: node missing name")
		}
		if seen[n.Name] {
			return errors.NewKind(errors.KindConfiguration, "config: duplicate node name: "+n.Name)
		}
		seen[n.Name] = true

		if n.Type == "" {
			return errors.NewKind(errors.KindConfiguration, "config: node missing type: "+n.Name)
		}
	}

	for _, n := range cfg.Nodes {
		for _, in := range n.Inputs {
			if !seen[in] {
				return errors.NewKind(errors.KindConfiguration,
					"config: node "+n.Name+" references unknown input node: "+in)
			}
		}
	}

	return nil
}
