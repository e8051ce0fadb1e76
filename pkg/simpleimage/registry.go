package simpleimage

import (
	"fmt"
	"sort"
)

// Registry holds the validated configuration of every owner type.
type Registry struct {
	owners map[string]OwnerConfig
}

// NewRegistry validates owners and returns a registry over a copy of them.
func NewRegistry(owners map[string]OwnerConfig) (*Registry, error) {
	r := &Registry{owners: make(map[string]OwnerConfig, len(owners))}
	for name, cfg := range owners {
		if err := r.register(name, cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(name string, cfg OwnerConfig) error {
	if name == "" {
		return fmt.Errorf("owner type name is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("owner %s: %w", name, err)
	}
	r.owners[name] = cfg
	return nil
}

// Owner returns the configuration of ownerType.
func (r *Registry) Owner(ownerType string) (OwnerConfig, error) {
	cfg, ok := r.owners[ownerType]
	if !ok {
		return OwnerConfig{}, fmt.Errorf("%w: %s", ErrUnknownOwnerType, ownerType)
	}
	return cfg, nil
}

// OwnerTypes returns the registered owner types in sorted order.
func (r *Registry) OwnerTypes() []string {
	names := make([]string, 0, len(r.owners))
	for name := range r.owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetNames returns the sorted preset names of ownerType, or nil when the
// owner type is unknown.
func (r *Registry) PresetNames(ownerType string) []string {
	cfg, ok := r.owners[ownerType]
	if !ok {
		return nil
	}
	return cfg.PresetNames()
}

// PresetNames returns the preset names in sorted order.
func (c OwnerConfig) PresetNames() []string {
	names := make([]string, 0, len(c.Presets))
	for name := range c.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
