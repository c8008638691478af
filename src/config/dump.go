package config

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Marshal renders the normalised configuration as "yaml" or "toml".
// YAML output keeps declaration order; TOML tables come out sorted.
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case "", "yaml", "yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c.document()); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "toml":
		return toml.Marshal(c.Map())
	}
	return nil, fmt.Errorf("config: unknown output format %q (supported: yaml, toml)", format)
}

// Map returns the configuration as plain values.
func (c *Config) Map() map[string]any {
	images := make(map[string]any, len(c.Images))
	for _, img := range c.Images {
		images[img.Name] = img.fields()
	}
	out := map[string]any{
		"name":        c.Name,
		"version":     c.Version,
		"branches":    c.Branches,
		"stages":      c.Stages,
		"environment": c.Environment,
		"images":      images,
	}
	for name := range c.Plugins {
		if v := c.Plugins.Value(name); v != nil {
			out[name] = v
		}
	}
	return out
}

func (c *Config) document() *yaml.Node {
	m := newMapping()
	m.add("name", c.Name)
	m.add("version", c.Version)
	m.add("branches", c.Branches)
	m.add("stages", c.Stages)
	m.add("environment", c.Environment)

	images := newMapping()
	for _, img := range c.Images {
		images.addNode(img.Name, img.document())
	}
	m.addNode("images", images.Node)

	for _, name := range c.Plugins.Names() {
		n := c.Plugins[name]
		m.addNode(name, &n)
	}
	return m.Node
}

func (i *ImageConfig) fields() map[string]any {
	out := map[string]any{
		"stage":       i.Stage,
		"from":        i.From.Name,
		"environment": i.Environment,
	}
	for _, f := range i.lists() {
		if len(f.value) > 0 {
			out[f.key] = []string(f.value)
		}
	}
	for name := range i.Plugins {
		if v := i.Plugins.Value(name); v != nil {
			out[name] = v
		}
	}
	return out
}

func (i *ImageConfig) document() *yaml.Node {
	m := newMapping()
	m.add("stage", i.Stage)
	m.add("from", i.From.Name)
	if len(i.Environment) > 0 {
		m.add("environment", i.Environment)
	}
	for _, f := range i.lists() {
		if len(f.value) > 0 {
			m.add(f.key, []string(f.value))
		}
	}
	for _, name := range i.Plugins.Names() {
		n := i.Plugins[name]
		m.addNode(name, &n)
	}
	return m.Node
}

type listField struct {
	key   string
	value Commands
}

func (i *ImageConfig) lists() []listField {
	return []listField{
		{"volumes", i.Volumes},
		{"context", i.Context},
		{"build", i.Build},
		{"run", i.Run},
		{"start", i.Start},
		{"prepare", i.Prepare},
	}
}

type mapping struct{ *yaml.Node }

func newMapping() mapping {
	return mapping{&yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

func (m mapping) add(key string, value any) {
	var n yaml.Node
	if err := n.Encode(value); err != nil {
		n = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	m.addNode(key, &n)
}

func (m mapping) addNode(key string, value *yaml.Node) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value)
}
