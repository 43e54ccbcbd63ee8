package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tolelom/commons/core"
)

// LoadGameParams reads session parameters from a YAML file. Keys missing
// from the file keep their defaults.
//
//	regeneration_factor: 1.1
//	start_amount: 100
//	num_rounds: 3
func LoadGameParams(path string) (core.GameParams, error) {
	p := core.DefaultGameParams()
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// GameParams returns the parameters for sessions started from a game code.
func (c *Config) GameParams() (core.GameParams, error) {
	if c.GameParamsFile == "" {
		return core.DefaultGameParams(), nil
	}
	return LoadGameParams(c.GameParamsFile)
}
