// Package engine drives a local container engine through its command line
// client. Both docker and podman are supported; they accept the same
// arguments for everything used here.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        map[string]string
	Volumes    []string // host:container[:mode]
	Labels     map[string]string
	WorkingDir string
	Network    string
}

// CommitSpec describes the image produced from a container.
type CommitSpec struct {
	Repository string
	Tag        string
	WorkingDir string
	Cmd        []string
}

// Ref returns repository:tag, or the bare repository when untagged.
func (c CommitSpec) Ref() string {
	if c.Tag == "" {
		return c.Repository
	}
	return c.Repository + ":" + c.Tag
}

// ContainerState is the runtime state of a container.
type ContainerState struct {
	Status   string `json:"Status"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
}

// Docker talks to the engine through its CLI.
type Docker struct {
	Binary string
	Logger *log.Logger
	Runner Runner
}

// New returns a client for the given binary ("docker" when empty).
func New(binary string) *Docker {
	if binary == "" {
		binary = "docker"
	}
	return &Docker{
		Binary: binary,
		Logger: log.Default(),
		Runner: ExecRunner,
	}
}

// ImageExists reports whether a local image matches ref.
func (d *Docker) ImageExists(ctx context.Context, ref string) (bool, error) {
	out, err := d.output(ctx, "images", "--quiet", ref)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// PullImage pulls ref from its registry.
func (d *Docker) PullImage(ctx context.Context, ref string) error {
	return d.exec(ctx, Stdio{}, "pull", ref)
}

// RemoveImage removes a local image reference.
func (d *Docker) RemoveImage(ctx context.Context, ref string) error {
	return d.exec(ctx, Stdio{}, "rmi", ref)
}

// TagImage adds the reference dst to the image src.
func (d *Docker) TagImage(ctx context.Context, src, dst string) error {
	return d.exec(ctx, Stdio{}, "tag", src, dst)
}

// ImageLabels returns the labels of a local image.
func (d *Docker) ImageLabels(ctx context.Context, ref string) (map[string]string, error) {
	out, err := d.output(ctx, "image", "inspect", "--format", "{{json .Config.Labels}}", ref)
	if err != nil {
		return nil, err
	}
	labels := map[string]string{}
	if out == "" || out == "null" {
		return labels, nil
	}
	if err := json.Unmarshal([]byte(out), &labels); err != nil {
		return nil, fmt.Errorf("%w: parsing labels of %s: %w", ErrEngine, ref, err)
	}
	return labels, nil
}

// CreateContainer creates a stopped container and returns its ID.
func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	out, err := d.output(ctx, createArgs(spec)...)
	if err != nil {
		return "", err
	}
	lines := scanLines(out)
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: create returned no container id", ErrEngine)
	}
	// pull progress may precede the id
	return lines[len(lines)-1], nil
}

// CopyToContainer extracts a tar stream into the container at dest.
func (d *Docker) CopyToContainer(ctx context.Context, id, dest string, archive io.Reader) error {
	return d.exec(ctx, Stdio{Stdin: archive}, "cp", "-", id+":"+dest)
}

// StartContainer starts a created container.
func (d *Docker) StartContainer(ctx context.Context, id string) error {
	return d.exec(ctx, Stdio{}, "start", id)
}

// Logs streams the container output line by line, stdout and stderr
// interleaved. With follow set it returns once the container exits or
// ctx is done.
func (d *Docker) Logs(ctx context.Context, id string, follow bool, fn func(line string)) error {
	lw := &lineWriter{fn: fn}
	defer lw.Flush()

	args := []string{"logs"}
	if follow {
		args = append(args, "--follow")
	}
	args = append(args, id)
	return d.exec(ctx, Stdio{Stdout: lw, Stderr: lw}, args...)
}

// WaitContainer blocks until the container stops and returns its exit code.
func (d *Docker) WaitContainer(ctx context.Context, id string) (int, error) {
	out, err := d.output(ctx, "wait", id)
	if err != nil {
		return -1, err
	}
	lines := scanLines(out)
	if len(lines) == 0 {
		return -1, fmt.Errorf("%w: wait returned no exit code", ErrEngine)
	}
	code, err := strconv.Atoi(lines[len(lines)-1])
	if err != nil {
		return -1, fmt.Errorf("%w: wait: unexpected output %q", ErrEngine, out)
	}
	return code, nil
}

// CommitContainer snapshots the container filesystem as a new image and
// returns the image ID.
func (d *Docker) CommitContainer(ctx context.Context, id string, spec CommitSpec) (string, error) {
	args, err := commitArgs(id, spec)
	if err != nil {
		return "", err
	}
	return d.output(ctx, args...)
}

// StopContainer stops a running container, killing it after timeout.
func (d *Docker) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Round(time.Second) / time.Second)
	return d.exec(ctx, Stdio{}, "stop", "-t", strconv.Itoa(secs), id)
}

// RemoveContainer removes a container, stopping it first if needed.
func (d *Docker) RemoveContainer(ctx context.Context, id string) error {
	return d.exec(ctx, Stdio{}, "rm", "--force", id)
}

// InspectContainer returns the runtime state of a container.
func (d *Docker) InspectContainer(ctx context.Context, id string) (ContainerState, error) {
	var st ContainerState
	out, err := d.output(ctx, "inspect", "--format", "{{json .State}}", id)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		return st, fmt.Errorf("%w: parsing state of %s: %w", ErrEngine, id, err)
	}
	return st, nil
}

// createArgs constructs the create argument list. Maps are emitted in
// key order so the command line is stable.
func createArgs(spec ContainerSpec) []string {
	args := []string{"create"}

	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	if spec.WorkingDir != "" {
		args = append(args, "--workdir", spec.WorkingDir)
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "--env", k+"="+spec.Env[k])
	}
	for _, v := range spec.Volumes {
		args = append(args, "--volume", v)
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}

	args = append(args, spec.Image)
	return append(args, spec.Cmd...)
}

// commitArgs constructs the commit argument list.
func commitArgs(id string, spec CommitSpec) ([]string, error) {
	args := []string{"commit"}
	if spec.WorkingDir != "" {
		args = append(args, "--change", "WORKDIR "+spec.WorkingDir)
	}
	if len(spec.Cmd) > 0 {
		cmd, err := json.Marshal(spec.Cmd)
		if err != nil {
			return nil, err
		}
		args = append(args, "--change", "CMD "+string(cmd))
	}
	args = append(args, id)
	if spec.Repository != "" {
		args = append(args, spec.Ref())
	}
	return args, nil
}

func (d *Docker) exec(ctx context.Context, stdio Stdio, args ...string) error {
	d.Logger.Debug("exec", "cmd", d.Binary+" "+strings.Join(args, " "))
	if err := d.Runner(ctx, d.Binary, args, stdio); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrEngine, d.Binary, args[0], err)
	}
	return nil
}

func (d *Docker) output(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	if err := d.exec(ctx, Stdio{Stdout: &out}, args...); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
