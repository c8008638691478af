package build

import (
	"context"
	"path"

	"github.com/damoti/shipmaster/src/plugin"
	"github.com/damoti/shipmaster/src/script"
)

// TestService is the compose service test runs are created from.
const TestService = "test"

// run executes the image's run commands in a one-off container of the
// test service, with the service's dependencies up. The compose project
// and the test image tag are torn down afterwards whatever the outcome.
func (ib *ImageBuilder) run(ctx context.Context, e plugin.Event, res *PhaseResult) error {
	if err := ib.assemble(ctx, e, scriptNames[plugin.Run], ib.cfg.Run, nil); err != nil {
		return err
	}

	eng, orch := ib.b.engine, ib.b.orch
	project := ib.b.TestProject()
	svc, err := orch.Service(ctx, project, TestService)
	if err != nil {
		return err
	}

	image := ib.ImageName()
	if svc.Image != "" && svc.Image != image {
		if err := eng.TagImage(ctx, image, svc.Image); err != nil {
			return err
		}
		image = svc.Image
	}

	defer func() {
		cctx := context.WithoutCancel(ctx)
		if err := orch.Down(cctx, project, true); err != nil {
			ib.logger.Warn("tearing down test project", "project", project, "err", err)
		}
		if image != ib.ImageName() {
			if err := eng.RemoveImage(cctx, image); err != nil {
				ib.logger.Warn("removing test image", "image", image, "err", err)
			}
		}
	}()

	if len(svc.DependsOn) > 0 {
		if err := orch.Up(ctx, project, svc.DependsOn...); err != nil {
			return err
		}
	}

	if dir := ib.b.opts.ReportsDir; dir != "" {
		ib.AddVolume(dir + ":" + path.Join(script.AppRoot, "reports"))
	}

	cmd := ib.b.plugins.Contribute(plugin.RunCommand, ib, ib.script.Path())
	id, err := eng.CreateContainer(ctx, ib.oneOff(project, TestService, image, cmd, svc.Environment))
	if err != nil {
		return err
	}
	defer func() {
		if err := ib.removeContainer(ctx, e, id); err != nil {
			ib.logger.Warn("removing test container", "err", err)
		}
	}()

	ib.logger.Info("running tests", "image", image, "project", project)
	code, err := ib.execContainer(ctx, e, id)
	res.ExitCode = code
	if err != nil {
		return err
	}
	if code != 0 {
		ib.logger.Error("Test run failed", "code", code)
		return &ExitError{Mode: e.Mode, Code: code}
	}
	return nil
}
