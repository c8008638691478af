package plugins

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/damoti/shipmaster/src/plugin"
)

// logPlugin narrates the lifecycle and forwards container output.
type logPlugin struct {
	plugin.Base
	logger *log.Logger
}

// NewLog creates the log plugin. It is always enabled.
func NewLog(h plugin.Host) (plugin.Plugin, error) {
	return &logPlugin{logger: h.Logger}, nil
}

func (p *logPlugin) Name() string { return "log" }

func (p *logPlugin) OnBefore(_ context.Context, ev plugin.Event, t plugin.Target, _ string) error {
	switch ev.Action {
	case plugin.NoAction:
		switch ev.Mode {
		case plugin.Build:
			p.logger.Infof("BUILDING %s FROM %s", t.Name(), t.Config().From.Name)
		case plugin.Run:
			p.logger.Infof("TESTING %s", t.ImageName())
		case plugin.Start:
			p.logger.Infof("DEPLOYING %s", t.ImageName())
		}
	case plugin.ArchiveUpload:
		p.logger.Info("Uploading...")
	case plugin.ContainerStart:
		p.logger.Info("Starting...")
	case plugin.ContainerCommit:
		p.logger.Info("Committing...", "image", t.ImageName())
	}
	return nil
}

func (p *logPlugin) OnAfter(_ context.Context, ev plugin.Event, t plugin.Target, extra string) error {
	switch ev.Action {
	case plugin.Output:
		p.logger.Print(extra)
	case plugin.NoAction:
		p.logger.Info("done", "image", t.Name(), "mode", ev.Mode)
	}
	return nil
}

func (p *logPlugin) OnFailed(_ context.Context, ev plugin.Event, t plugin.Target, extra string) error {
	if ev.Action == plugin.NoAction {
		p.logger.Error("failed", "image", t.Name(), "mode", ev.Mode, "err", extra)
	}
	return nil
}
