package build

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/damoti/shipmaster/src/compose"
	"github.com/damoti/shipmaster/src/config"
	"github.com/damoti/shipmaster/src/engine"
	"github.com/damoti/shipmaster/src/plugin"
	"github.com/damoti/shipmaster/src/script"
)

// ImageBuilder drives the build, run and start modes of one image. Each
// mode is a phase: before, body, then after or failed, then cleanup,
// which always fires exactly once.
type ImageBuilder struct {
	b      *Builder
	cfg    *config.ImageConfig
	name   string
	logger *log.Logger

	env     map[string]string
	volumes []string

	// live only while a phase runs
	script  *script.Script
	archive *script.Archive

	mu      sync.Mutex
	err     error
	results []PhaseResult
}

func newImageBuilder(b *Builder, cfg *config.ImageConfig) *ImageBuilder {
	env := make(map[string]string, len(b.cfg.Environment)+len(cfg.Environment))
	maps.Copy(env, b.cfg.Environment)
	maps.Copy(env, cfg.Environment)

	return &ImageBuilder{
		b:       b,
		cfg:     cfg,
		name:    imageName(b.cfg.Name, cfg.Name, b.opts.BuildNum),
		logger:  b.logger.With("image", cfg.Name),
		env:     env,
		volumes: slices.Clone([]string(cfg.Volumes)),
	}
}

// ── plugin.Target ──

func (ib *ImageBuilder) Name() string                   { return ib.cfg.Name }
func (ib *ImageBuilder) ImageName() string              { return ib.name }
func (ib *ImageBuilder) Config() *config.ImageConfig    { return ib.cfg }
func (ib *ImageBuilder) Project() *config.Config        { return ib.b.cfg }
func (ib *ImageBuilder) Script() *script.Script         { return ib.script }
func (ib *ImageBuilder) Archive() *script.Archive       { return ib.archive }
func (ib *ImageBuilder) Environment() map[string]string { return ib.env }
func (ib *ImageBuilder) Volumes() []string              { return slices.Clone(ib.volumes) }

func (ib *ImageBuilder) SetEnv(key, value string) { ib.env[key] = value }

// AddVolume adds a bind spec unless it is already present.
func (ib *ImageBuilder) AddVolume(spec string) {
	if !slices.Contains(ib.volumes, spec) {
		ib.volumes = append(ib.volumes, spec)
	}
}

// Err returns the error of the last failed mode, or nil.
func (ib *ImageBuilder) Err() error {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.err
}

// Results returns the outcome of every mode attempted so far.
func (ib *ImageBuilder) Results() []PhaseResult {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return slices.Clone(ib.results)
}

// FromImage returns the reference the build container is created from.
func (ib *ImageBuilder) FromImage() string {
	if ib.cfg.From.Kind == config.Declared {
		return imageName(ib.b.cfg.Name, ib.cfg.From.Name, ib.b.opts.BuildNum)
	}
	return ib.cfg.From.Name
}

// scriptNames are the in-container script names of each mode; the start
// mode's script is its prepare step.
var scriptNames = map[plugin.Mode]string{
	plugin.Build: "build.sh",
	plugin.Run:   "run.sh",
	plugin.Start: "pre_deploy_script.sh",
}

// RenderScript assembles the script of mode m, plugin additions included,
// and returns its source. No archive is built and the engine is not used.
// Prepare commands are returned with their templates unexpanded.
func (ib *ImageBuilder) RenderScript(ctx context.Context, m plugin.Mode) (string, error) {
	commands := ib.cfg.Commands(string(m))
	if m == plugin.Start {
		commands = ib.cfg.Prepare
	}
	if len(commands) == 0 {
		return "", fmt.Errorf("%s: no %s commands", ib.Name(), m)
	}

	s := script.New(scriptNames[m], ib.b.opts.Trace)
	ib.script = s
	defer func() { ib.script = nil }()
	err := ib.step(ctx, plugin.ModeEvent(m), plugin.Script, func() error {
		s.WriteAll(commands)
		return nil
	})
	if err != nil {
		return "", err
	}
	return s.Source(), nil
}

// Execute runs modes in order, every mode when none are given. Modes
// without commands are skipped without any event. Execution stops at the
// first failing mode, whose error is returned and kept for Err.
func (ib *ImageBuilder) Execute(ctx context.Context, modes ...plugin.Mode) error {
	if len(modes) == 0 {
		modes = plugin.Modes()
	}
	for _, m := range modes {
		if len(ib.cfg.Commands(string(m))) == 0 {
			ib.record(PhaseResult{Image: ib.Name(), Mode: m, Status: StatusSkipped, ExitCode: -1})
			continue
		}
		if err := ib.runPhase(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (ib *ImageBuilder) runPhase(ctx context.Context, m plugin.Mode) (err error) {
	start := ib.b.now()
	e := plugin.ModeEvent(m)
	res := PhaseResult{Image: ib.Name(), Mode: m, ExitCode: -1}

	defer func() {
		ib.notifyQuiet(ctx, e.Cleanup(), "")
		if ib.archive != nil {
			if rmErr := ib.archive.Remove(); rmErr != nil {
				ib.logger.Warn("removing archive", "err", rmErr)
			}
		}
		ib.script, ib.archive = nil, nil

		res.Duration = ib.b.now().Sub(start)
		res.Error = err
		res.Status = StatusSuccess
		if err != nil {
			res.Status = StatusFailed
		}
		ib.record(res)
	}()

	if err = ib.notify(ctx, e.Before(), ""); err == nil {
		err = ib.body(ctx, e, &res)
	}
	if err == nil {
		err = ib.notify(ctx, e.After(), "")
	}
	if err != nil {
		err = phaseError(m, ib.Name(), err)
		ib.mu.Lock()
		ib.err = err
		ib.mu.Unlock()
		ib.notifyQuiet(ctx, e.Failed(), err.Error())
	}
	return err
}

func (ib *ImageBuilder) body(ctx context.Context, e plugin.Event, res *PhaseResult) error {
	switch e.Mode {
	case plugin.Build:
		return ib.build(ctx, e, res)
	case plugin.Run:
		return ib.run(ctx, e, res)
	case plugin.Start:
		return ib.start(ctx, e, res)
	}
	return fmt.Errorf("unknown mode %q", e.Mode)
}

func (ib *ImageBuilder) record(r PhaseResult) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.results = append(ib.results, r)
}

// ── Events ──

func (ib *ImageBuilder) notify(ctx context.Context, ev plugin.Event, extra string) error {
	return ib.b.plugins.Notify(ctx, ev, ib, extra)
}

// notifyQuiet delivers failed and cleanup events, which must reach
// plugins even after ctx is cancelled. Hook errors are only logged.
func (ib *ImageBuilder) notifyQuiet(ctx context.Context, ev plugin.Event, extra string) {
	if err := ib.notify(context.WithoutCancel(ctx), ev, extra); err != nil {
		ib.logger.Warn("plugin hook failed", "event", ev, "err", err)
	}
}

// step wraps fn in the before and after events of an action.
func (ib *ImageBuilder) step(ctx context.Context, e plugin.Event, a plugin.Action, fn func() error) error {
	ev := e.WithAction(a)
	if err := ib.notify(ctx, ev.Before(), ""); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return ib.notify(ctx, ev.After(), "")
}

// ── Shared phase steps ──

// assemble writes commands into a new script and packs it, with the
// given project files, into a new archive.
func (ib *ImageBuilder) assemble(ctx context.Context, e plugin.Event, name string, commands, files []string) error {
	s := script.New(name, ib.b.opts.Trace)
	ib.script = s
	err := ib.step(ctx, e, plugin.Script, func() error {
		s.WriteAll(commands)
		return nil
	})
	if err != nil {
		return err
	}

	a, err := script.NewArchive(ib.b.cfg.Workspace,
		script.WithLogger(ib.logger),
		script.WithCompression(ib.b.opts.Compression),
	)
	if err != nil {
		return err
	}
	ib.archive = a
	err = ib.step(ctx, e, plugin.Archive, func() error {
		if err := a.AddScript(s); err != nil {
			return err
		}
		for _, f := range files {
			if err := a.AddProjectFile(f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return a.Close()
}

// execContainer uploads the archive into a created container, starts it,
// forwards its output and waits for it to exit.
func (ib *ImageBuilder) execContainer(ctx context.Context, e plugin.Event, id string) (int, error) {
	eng := ib.b.engine

	err := ib.step(ctx, e, plugin.ArchiveUpload, func() error {
		r, err := ib.archive.File()
		if err != nil {
			return err
		}
		return eng.CopyToContainer(ctx, id, "/", r)
	})
	if err != nil {
		return -1, err
	}

	err = ib.step(ctx, e, plugin.ContainerStart, func() error {
		if err := eng.StartContainer(ctx, id); err != nil {
			return err
		}
		return eng.Logs(ctx, id, true, ib.outputFunc(ctx, e))
	})
	if err != nil {
		return -1, err
	}

	return eng.WaitContainer(ctx, id)
}

func (ib *ImageBuilder) outputFunc(ctx context.Context, e plugin.Event) func(string) {
	ev := e.After().WithAction(plugin.Output)
	return func(line string) {
		if err := ib.notify(ctx, ev, line); err != nil {
			ib.logger.Warn("plugin hook failed", "event", ev, "err", err)
		}
	}
}

// removeContainer removes a container and fires its remove events. It
// runs even when ctx is already cancelled.
func (ib *ImageBuilder) removeContainer(ctx context.Context, e plugin.Event, id string) error {
	ctx = context.WithoutCancel(ctx)
	return ib.step(ctx, e, plugin.ContainerRemove, func() error {
		return ib.b.engine.RemoveContainer(ctx, id)
	})
}

// oneOff returns the spec of a one-off container for a compose service.
func (ib *ImageBuilder) oneOff(project, service, image, cmd string, env map[string]string) engine.ContainerSpec {
	merged := maps.Clone(env)
	if merged == nil {
		merged = map[string]string{}
	}
	maps.Copy(merged, ib.env)

	return engine.ContainerSpec{
		Name:       fmt.Sprintf("%s_%s_run_%s", project, service, ib.b.newID()),
		Image:      image,
		Cmd:        []string{"/bin/sh", "-c", cmd},
		Env:        merged,
		Volumes:    ib.Volumes(),
		Labels:     compose.OneOffLabels(project, service),
		WorkingDir: script.AppRoot,
		Network:    compose.DefaultNetwork(project),
	}
}
