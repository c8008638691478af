package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RefKind tells where a base image comes from.
type RefKind int

const (
	// External images are pulled from a registry.
	External RefKind = iota
	// Declared images are produced by another image in the same configuration.
	Declared
)

func (k RefKind) String() string {
	if k == Declared {
		return "declared"
	}
	return "external"
}

// ImageRef is the base image of an ImageConfig.
type ImageRef struct {
	Kind RefKind
	Name string
}

func (r ImageRef) String() string { return r.Name }

// ImageConfig describes one image of the build.
type ImageConfig struct {
	Name        string
	Stage       string
	From        ImageRef
	Environment map[string]string
	Volumes     Commands
	Context     Commands
	Build       Commands
	Run         Commands
	Start       Commands
	Prepare     Commands

	// Plugins holds every unrecognised key of the image block.
	Plugins PluginConfigs
}

// Commands is a list of strings that also accepts a single scalar:
//
//	build: make            → Commands{"make"}
//	build:
//	  - make deps
//	  - make               → Commands{"make deps", "make"}
type Commands []string

// UnmarshalYAML implements scalar-or-sequence decoding.
func (c *Commands) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*c = nil
			return nil
		}
		*c = Commands{value.Value}
		return nil
	case yaml.SequenceNode:
		list := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a string, got a nested block", item.Line)
			}
			list = append(list, item.Value)
		}
		*c = list
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
}

// parseImage decodes one entry of the images mapping.
func parseImage(name string, node *yaml.Node) (*ImageConfig, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: images.%s: expected a mapping", ErrInvalid, name)
	}

	img := &ImageConfig{
		Name:        name,
		Stage:       name,
		Environment: map[string]string{},
		Plugins:     PluginConfigs{},
	}

	hasFrom := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]

		var err error
		switch key {
		case "from":
			hasFrom = true
			err = value.Decode(&img.From.Name)
		case "stage":
			err = value.Decode(&img.Stage)
		case "environment":
			err = value.Decode(&img.Environment)
		case "volumes":
			err = value.Decode(&img.Volumes)
		case "context":
			err = value.Decode(&img.Context)
		case "build":
			err = value.Decode(&img.Build)
		case "run":
			err = value.Decode(&img.Run)
		case "start":
			err = value.Decode(&img.Start)
		case "prepare":
			err = value.Decode(&img.Prepare)
		default:
			img.Plugins[key] = *value
		}
		if err != nil {
			return nil, fmt.Errorf("%w: images.%s.%s: %w", ErrInvalid, name, key, err)
		}
	}

	if !hasFrom || img.From.Name == "" {
		return nil, fmt.Errorf("%w: images.%s: from is required", ErrInvalid, name)
	}
	if img.Environment == nil {
		img.Environment = map[string]string{}
	}
	return img, nil
}

// Commands returns the command list that drives a lifecycle mode
// ("build", "run" or "start").
func (i *ImageConfig) Commands(mode string) Commands {
	switch mode {
	case "build":
		return i.Build
	case "run":
		return i.Run
	case "start":
		return i.Start
	}
	return nil
}
