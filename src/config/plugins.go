package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// PluginConfigs maps a plugin name to its raw, undecoded configuration.
type PluginConfigs map[string]yaml.Node

// Has reports whether the plugin key is present.
func (p PluginConfigs) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Decode decodes the named block into v. It reports false when the key is absent.
func (p PluginConfigs) Decode(name string, v any) (bool, error) {
	node, ok := p[name]
	if !ok {
		return false, nil
	}
	if err := node.Decode(v); err != nil {
		return true, fmt.Errorf("%s: %w", name, err)
	}
	return true, nil
}

// String returns a scalar block as text, or "" for anything else.
func (p PluginConfigs) String(name string) string {
	node, ok := p[name]
	if !ok || node.Kind != yaml.ScalarNode || node.Tag == "!!null" {
		return ""
	}
	return node.Value
}

// Value decodes a block into plain Go values.
func (p PluginConfigs) Value(name string) any {
	var v any
	if _, err := p.Decode(name, &v); err != nil {
		return nil
	}
	return v
}

// Names returns the plugin keys in sorted order.
func (p PluginConfigs) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
