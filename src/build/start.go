package build

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/damoti/shipmaster/src/compose"
	"github.com/damoti/shipmaster/src/plugin"
)

const (
	stopTimeout           = 30 * time.Second
	defaultPrepareTimeout = 15 * time.Minute
	defaultLogWindow      = 10 * time.Second
)

// start deploys the built image as a long-running compose service:
//
//  1. tag the image with the reference compose expects
//  2. stop and remove the service's existing containers
//  3. run the prepare commands in a one-off container, if any
//  4. start the service through compose, so that recreating it with
//     compose later behaves the same
//  5. watch its logs for a short window and report whether it survived
func (ib *ImageBuilder) start(ctx context.Context, e plugin.Event, res *PhaseResult) error {
	eng, orch := ib.b.engine, ib.b.orch
	project := ib.b.DeployProject()
	name := ib.b.DeployService(ib.Name())

	svc, err := orch.Service(ctx, project, name)
	if err != nil {
		return err
	}
	if svc.Image == "" {
		return fmt.Errorf("service %s has no image to deploy to", name)
	}

	ib.logger.Info("tagging", "image", ib.ImageName(), "as", svc.Image)
	if err := eng.TagImage(ctx, ib.ImageName(), svc.Image); err != nil {
		return err
	}

	ids, err := orch.Containers(ctx, project, name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		ib.logger.Info("stopping", "container", id)
		if err := eng.StopContainer(ctx, id, stopTimeout); err != nil {
			return err
		}
		if err := eng.RemoveContainer(ctx, id); err != nil {
			return err
		}
	}

	if len(ib.cfg.Prepare) > 0 {
		code, err := ib.prepare(ctx, e, project, svc)
		res.ExitCode = code
		if err != nil {
			return err
		}
	}

	if err := orch.StartService(ctx, project, name); err != nil {
		return err
	}
	code, err := ib.watchService(ctx, e, project, name)
	res.ExitCode = code
	return err
}

// prepare runs the templated prepare commands, e.g. migrations, in a
// one-off container of the service. A non-zero exit aborts the deploy.
func (ib *ImageBuilder) prepare(ctx context.Context, e plugin.Event, project string, svc *compose.Service) (int, error) {
	eng := ib.b.engine

	labels, err := eng.ImageLabels(ctx, ib.ImageName())
	if err != nil {
		return -1, err
	}
	vars := make(map[string]string, len(labels)+1)
	maps.Copy(vars, labels)
	vars["service"] = svc.Name

	commands := make([]string, len(ib.cfg.Prepare))
	for i, c := range ib.cfg.Prepare {
		commands[i] = expandTemplate(c, vars)
	}
	if err := ib.assemble(ctx, e, scriptNames[plugin.Start], commands, nil); err != nil {
		return -1, err
	}

	ctx, cancel := context.WithTimeout(ctx, ib.b.opts.PrepareTimeout)
	defer cancel()

	cmd := ib.b.plugins.Contribute(plugin.StartCommand, ib, ib.script.Path())
	id, err := eng.CreateContainer(ctx, ib.oneOff(project, svc.Name, svc.Image, cmd, svc.Environment))
	if err != nil {
		return -1, err
	}
	defer func() {
		if err := ib.removeContainer(ctx, e, id); err != nil {
			ib.logger.Warn("removing prepare container", "err", err)
		}
	}()

	ib.logger.Info("running prepare commands", "service", svc.Name)
	code, err := ib.execContainer(ctx, e, id)
	if errors.Is(err, context.DeadlineExceeded) {
		return -1, fmt.Errorf("prepare did not finish within %s: %w", ib.b.opts.PrepareTimeout, err)
	}
	if err != nil {
		return code, err
	}
	if code != 0 {
		ib.logger.Error("Migration failed", "code", code)
		return code, &ExitError{Mode: e.Mode, Code: code}
	}
	return 0, nil
}

// watchService follows the service logs for the log window, then checks
// the container. A running container counts as success; one that already
// exited reports its own exit code. Running out of the window is the
// expected outcome, not an error.
func (ib *ImageBuilder) watchService(ctx context.Context, e plugin.Event, project, name string) (int, error) {
	eng := ib.b.engine

	ids, err := ib.b.orch.Containers(ctx, project, name)
	if err != nil {
		return -1, err
	}
	if len(ids) == 0 {
		return -1, fmt.Errorf("service %s has no container after start", name)
	}
	id := ids[0]
	ib.logger.Info("started", "container", id)

	wctx, cancel := context.WithTimeout(ctx, ib.b.opts.LogWindow)
	err = eng.Logs(wctx, id, true, ib.outputFunc(ctx, e))
	cancel()
	if err != nil && !(errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		return -1, err
	}

	st, err := eng.InspectContainer(ctx, id)
	if err != nil {
		return -1, err
	}
	if st.Running {
		return 0, nil
	}
	if st.ExitCode != 0 {
		return st.ExitCode, &ExitError{Mode: e.Mode, Code: st.ExitCode}
	}
	ib.logger.Warn("service exited during the log window", "status", st.Status)
	return 0, nil
}
