package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ResourceTweaks holds per-resource overrides applied on top of the
// automatic detection heuristics. A nil field means "no override";
// detection never contradicts an explicitly set value.
type ResourceTweaks struct {
	Encoding  *string    `yaml:"encoding"`
	Delimiter *string    `yaml:"delimiter"`
	Quote     *string    `yaml:"quote"`
	HasHeader *bool      `yaml:"has_header"`
	Indexes   [][]string `yaml:"indexes"`
	FullText  []string   `yaml:"full_text"`
}

// Tweaks maps resource display names to their overrides. The reserved
// name "*" supplies defaults that apply to every resource.
type Tweaks struct {
	Resources map[string]ResourceTweaks `yaml:"resources"`
}

// LoadTweaks reads the tweaks file. A missing file is not an error:
// it simply means no overrides are configured.
func LoadTweaks(path string) (*Tweaks, error) {
	if path == "" {
		return &Tweaks{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Tweaks{}, nil
		}
		return nil, fmt.Errorf("failed to read tweaks file: %w", err)
	}

	var tweaks Tweaks
	if err := yaml.Unmarshal(data, &tweaks); err != nil {
		return nil, fmt.Errorf("failed to parse tweaks file: %w", err)
	}

	return &tweaks, nil
}

// ForResource returns the overrides for a resource display name,
// or the zero value when none are configured.
func (t *Tweaks) ForResource(name string) ResourceTweaks {
	if t == nil || t.Resources == nil {
		return ResourceTweaks{}
	}
	return t.Resources[name]
}

// Merge layers override on top of base. An override field replaces the
// base value only when it is explicitly set; absent fields fall through.
func Merge(base, override ResourceTweaks) ResourceTweaks {
	merged := base
	if override.Encoding != nil {
		merged.Encoding = override.Encoding
	}
	if override.Delimiter != nil {
		merged.Delimiter = override.Delimiter
	}
	if override.Quote != nil {
		merged.Quote = override.Quote
	}
	if override.HasHeader != nil {
		merged.HasHeader = override.HasHeader
	}
	if override.Indexes != nil {
		merged.Indexes = override.Indexes
	}
	if override.FullText != nil {
		merged.FullText = override.FullText
	}
	return merged
}
