// Package profile loads the oracle's model profile: which model answers, the
// fixed sampling parameters, and an optional persona prompt prepended to every
// window. The file is optional; the built-in defaults match the production
// deployment.
package profile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Profile struct {
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	SystemPrompt string  `yaml:"system_prompt"`
}

func Default() Profile {
	return Profile{
		Model:       "deepseek-ai/DeepSeek-V3",
		MaxTokens:   1024,
		Temperature: 0.4,
		TopP:        0.9,
	}
}

// Load reads a YAML profile from path. An empty path or a missing file yields
// the defaults; a present but unreadable or invalid file is an error, since a
// half-applied persona is worse than none. Unset numeric fields fall back to
// the defaults.
func Load(path string) (Profile, error) {
	def := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return def, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if strings.TrimSpace(p.Model) == "" {
		p.Model = def.Model
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = def.MaxTokens
	}
	if p.Temperature <= 0 {
		p.Temperature = def.Temperature
	}
	if p.TopP <= 0 {
		p.TopP = def.TopP
	}
	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	return p, nil
}
