// Package config loads and validates the per-project .shipmaster.yaml
// build description: stages, images and the raw blocks handed to plugins.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in a workspace.
const DefaultFile = ".shipmaster.yaml"

// supportedVersions constrains the `version` key.
var supportedVersions = mustConstraint(">= 1, < 2")

// Config is the parsed build configuration of one project.
type Config struct {
	Name        string
	Workspace   string
	Version     string
	Environment map[string]string
	Branches    []string
	Stages      []string

	// Images holds image definitions in declaration order.
	Images []*ImageConfig

	// Plugins holds every unrecognised top-level key.
	Plugins PluginConfigs

	index map[string]*ImageConfig
}

// Load reads DefaultFile from the workspace directory.
// Returns ErrNotFound if the workspace has no configuration.
func Load(workspace string) (*Config, error) {
	path := filepath.Join(workspace, DefaultFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document. The workspace is recorded as-is
// and may be empty when the configuration does not come from disk.
func Parse(data []byte, workspace string) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: expected a mapping at the top level", ErrInvalid)
	}

	cfg := defaults()
	cfg.Workspace = workspace

	var images *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]

		var err error
		switch key {
		case "name":
			err = value.Decode(&cfg.Name)
		case "version":
			cfg.Version = value.Value
		case "environment":
			err = value.Decode(&cfg.Environment)
		case "branches":
			err = value.Decode((*Commands)(&cfg.Branches))
		case "stages":
			err = value.Decode((*Commands)(&cfg.Stages))
		case "images":
			images = value
		default:
			cfg.Plugins[key] = *value
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
		}
	}

	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if err := checkVersion(cfg.Version); err != nil {
		return nil, err
	}
	if cfg.Environment == nil {
		cfg.Environment = map[string]string{}
	}

	if images != nil {
		if images.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: images: expected a mapping", ErrInvalid)
		}
		for i := 0; i+1 < len(images.Content); i += 2 {
			name := images.Content[i].Value
			if _, dup := cfg.index[name]; dup {
				return nil, fmt.Errorf("%w: images: duplicate image %q", ErrInvalid, name)
			}
			img, err := parseImage(name, images.Content[i+1])
			if err != nil {
				return nil, err
			}
			cfg.Images = append(cfg.Images, img)
			cfg.index[name] = img
		}
	}

	// from references can only be classified once every image is known
	for _, img := range cfg.Images {
		if _, ok := cfg.index[img.From.Name]; ok {
			img.From.Kind = Declared
		}
	}

	return cfg, nil
}

// Image returns the named image definition.
func (c *Config) Image(name string) (*ImageConfig, bool) {
	img, ok := c.index[name]
	return img, ok
}

// StageImages returns the images declared for a stage, in declaration order.
func (c *Config) StageImages(stage string) []*ImageConfig {
	var out []*ImageConfig
	for _, img := range c.Images {
		if img.Stage == stage {
			out = append(out, img)
		}
	}
	return out
}

func defaults() *Config {
	return &Config{
		Version:     "1",
		Environment: map[string]string{},
		Branches:    []string{"master"},
		Stages:      []string{"build"},
		Plugins:     PluginConfigs{},
		index:       map[string]*ImageConfig{},
	}
}

func checkVersion(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: version: %q is not a version number", ErrInvalid, raw)
	}
	if !supportedVersions.Check(v) {
		return fmt.Errorf("%w: version: %s is not supported (want %s)", ErrInvalid, raw, supportedVersions)
	}
	return nil
}

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}
