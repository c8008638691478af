package build

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/damoti/shipmaster/src/config"
	"github.com/damoti/shipmaster/src/engine"
	"github.com/damoti/shipmaster/src/plugin"
	"github.com/damoti/shipmaster/src/script"
)

// noopCommand is committed as CMD when nothing else was contributed.
const noopCommand = "echo 'Image does not do anything.'"

func (ib *ImageBuilder) build(ctx context.Context, e plugin.Event, res *PhaseResult) error {
	if err := ib.ensureFromImage(ctx); err != nil {
		return err
	}

	if err := ib.assemble(ctx, e, scriptNames[plugin.Build], ib.cfg.Build, ib.cfg.Context); err != nil {
		return err
	}

	id, err := ib.b.engine.CreateContainer(ctx, engine.ContainerSpec{
		Image:   ib.FromImage(),
		Cmd:     []string{"/bin/sh", "-c", ib.script.Path()},
		Env:     ib.env,
		Volumes: ib.Volumes(),
		Labels:  commitLabels(ib.b.opts.CommitInfo, ib.b.opts.BuildNum, ib.b.now()),
	})
	if err != nil {
		return err
	}

	code, imageID, err := ib.startAndCommit(ctx, e, id, ib.buildCommand())
	res.ExitCode, res.ImageID = code, imageID
	if err == nil {
		ib.b.markBuilt(ib.Name())
	}
	return err
}

// buildCommand is the CMD of the committed image. Plugins contribute to
// the start commands when the image declares any, otherwise to a no-op.
func (ib *ImageBuilder) buildCommand() string {
	cmd := noopCommand
	if len(ib.cfg.Start) > 0 {
		cmd = ib.b.plugins.Contribute(plugin.StartCommand, ib, strings.Join(ib.cfg.Start, " && "))
	}
	cmd = ib.b.plugins.Contribute(plugin.BuildCommand, ib, cmd)
	if cmd == "" {
		cmd = noopCommand
	}
	return cmd
}

// startAndCommit runs the build container and commits it when, and only
// when, it exits zero. The container is removed in every case.
func (ib *ImageBuilder) startAndCommit(ctx context.Context, e plugin.Event, id, cmd string) (code int, imageID string, err error) {
	defer func() {
		err = errors.Join(err, ib.removeContainer(ctx, e, id))
	}()

	code, err = ib.execContainer(ctx, e, id)
	if err != nil {
		return code, "", err
	}
	if code != 0 {
		return code, "", &ExitError{Mode: e.Mode, Code: code}
	}

	repo, tag, err := splitRef(ib.ImageName())
	if err != nil {
		return code, "", err
	}

	unlock := ib.b.commits.Lock(ib.ImageName())
	defer unlock()

	err = ib.step(ctx, e, plugin.ContainerCommit, func() error {
		var err error
		imageID, err = ib.b.engine.CommitContainer(ctx, id, engine.CommitSpec{
			Repository: repo,
			Tag:        tag,
			WorkingDir: script.AppRoot,
			Cmd:        []string{"/bin/sh", "-c", cmd},
		})
		return err
	})
	return code, imageID, err
}

// ensureFromImage makes the base image available. External images are
// pulled when missing. Declared images are assumed built unless the
// trigger policy is active, in which case missing parents are built first.
func (ib *ImageBuilder) ensureFromImage(ctx context.Context) error {
	from := ib.cfg.From
	if from.Kind == config.Declared {
		if ib.b.opts.Policy != PolicyTrigger {
			return nil
		}
		return ib.b.ensureBuilt(ctx, from.Name)
	}

	ok, err := ib.b.engine.ImageExists(ctx, from.Name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	ib.logger.Info("pulling", "from", from.Name)
	if err := ib.b.engine.PullImage(ctx, from.Name); err != nil {
		return fmt.Errorf("pulling %s: %w", from.Name, err)
	}
	return nil
}
