// Package compose drives docker compose projects. The compose file is
// shared by every mode; each call names the project it acts on, so test
// runs and deployments of the same file do not see each other.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/damoti/shipmaster/src/engine"
)

// DefaultFile is the compose file looked up in the workspace.
const DefaultFile = "docker-compose.yml"

// ErrNoService is returned when the compose file lacks a service.
var ErrNoService = errors.New("compose: no such service")

// Service is the part of a resolved service definition the builder uses.
type Service struct {
	Name        string
	Image       string
	DependsOn   []string
	Networks    []string
	Environment map[string]string
}

// Client runs compose subcommands through the engine binary.
type Client struct {
	Binary string
	File   string
	Logger *log.Logger
	Runner engine.Runner
}

// New returns a client for file using the given engine binary.
func New(binary, file string) *Client {
	if binary == "" {
		binary = "docker"
	}
	if file == "" {
		file = DefaultFile
	}
	return &Client{
		Binary: binary,
		File:   file,
		Logger: log.Default(),
		Runner: engine.ExecRunner,
	}
}

// Service resolves one service of the project.
func (c *Client) Service(ctx context.Context, project, name string) (*Service, error) {
	var out bytes.Buffer
	if err := c.exec(ctx, project, engine.Stdio{Stdout: &out}, "config"); err != nil {
		return nil, err
	}
	services, err := parseServices(out.Bytes())
	if err != nil {
		return nil, err
	}
	svc, ok := services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoService, name)
	}
	return svc, nil
}

// Up starts services in the background, with their dependencies.
func (c *Client) Up(ctx context.Context, project string, services ...string) error {
	args := append([]string{"up", "--detach"}, services...)
	return c.exec(ctx, project, engine.Stdio{}, args...)
}

// StartService (re)creates and starts a single service without touching
// its dependencies.
func (c *Client) StartService(ctx context.Context, project, service string) error {
	return c.exec(ctx, project, engine.Stdio{}, "up", "--detach", "--no-deps", service)
}

// Down removes the project's containers and networks, and its volumes
// when asked.
func (c *Client) Down(ctx context.Context, project string, volumes bool) error {
	args := []string{"down", "--remove-orphans"}
	if volumes {
		args = append(args, "--volumes")
	}
	return c.exec(ctx, project, engine.Stdio{}, args...)
}

// Containers returns the IDs of a service's containers, stopped ones
// included.
func (c *Client) Containers(ctx context.Context, project, service string) ([]string, error) {
	var out bytes.Buffer
	if err := c.exec(ctx, project, engine.Stdio{Stdout: &out}, "ps", "--all", "--quiet", service); err != nil {
		return nil, err
	}
	return strings.Fields(out.String()), nil
}

func (c *Client) exec(ctx context.Context, project string, stdio engine.Stdio, args ...string) error {
	full := append([]string{"compose", "--file", c.File, "--project-name", project}, args...)
	c.Logger.Debug("exec", "cmd", c.Binary+" "+strings.Join(full, " "))
	if err := c.Runner(ctx, c.Binary, full, stdio); err != nil {
		return fmt.Errorf("%w: compose %s: %w", engine.ErrEngine, args[0], err)
	}
	return nil
}

// ── Resolved config parsing ──

type rawService struct {
	Image       string    `yaml:"image"`
	DependsOn   yaml.Node `yaml:"depends_on"`
	Networks    yaml.Node `yaml:"networks"`
	Environment yaml.Node `yaml:"environment"`
}

func parseServices(data []byte) (map[string]*Service, error) {
	var doc struct {
		Services map[string]rawService `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("compose: parsing config: %w", err)
	}

	services := make(map[string]*Service, len(doc.Services))
	for name, raw := range doc.Services {
		env, err := environment(&raw.Environment)
		if err != nil {
			return nil, fmt.Errorf("compose: service %s: %w", name, err)
		}
		services[name] = &Service{
			Name:        name,
			Image:       raw.Image,
			DependsOn:   names(&raw.DependsOn),
			Networks:    names(&raw.Networks),
			Environment: env,
		}
	}
	return services, nil
}

// names accepts both the short (list) and long (mapping) forms.
func names(n *yaml.Node) []string {
	var out []string
	switch n.Kind {
	case yaml.SequenceNode:
		for _, item := range n.Content {
			out = append(out, item.Value)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			out = append(out, n.Content[i].Value)
		}
		sort.Strings(out)
	}
	return out
}

func environment(n *yaml.Node) (map[string]string, error) {
	env := map[string]string{}
	switch n.Kind {
	case 0:
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			env[n.Content[i].Value] = n.Content[i+1].Value
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			k, v, _ := strings.Cut(item.Value, "=")
			env[k] = v
		}
	default:
		return nil, fmt.Errorf("environment must be a list or mapping")
	}
	return env, nil
}
