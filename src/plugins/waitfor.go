package plugins

import (
	"context"
	"embed"
	"fmt"
	"path"

	"github.com/damoti/shipmaster/src/plugin"
	"github.com/damoti/shipmaster/src/script"
)

//go:embed wait-for-it/wait-for-it.sh
var bundled embed.FS

const waitForScript = "wait-for-it/wait-for-it.sh"

// waitFor ships a wait-for-dependency helper with images that set the
// waitfor key, and prefixes their run and start commands with it:
//
//	waitfor: db:5432 cache:6379
type waitFor struct {
	plugin.Base
}

// NewWaitFor creates the waitfor plugin. It is always enabled and acts
// only on images that configure it.
func NewWaitFor(plugin.Host) (plugin.Plugin, error) {
	return &waitFor{}, nil
}

func (p *waitFor) Name() string { return "waitfor" }

func (p *waitFor) OnAfter(_ context.Context, ev plugin.Event, t plugin.Target, _ string) error {
	if ev.Action != plugin.Archive || t.Archive() == nil {
		return nil
	}
	if !t.Config().Plugins.Has(p.Name()) {
		return nil
	}
	return t.Archive().AddBundledFile(bundled, waitForScript)
}

func (p *waitFor) ContributeCommand(pt plugin.Point, t plugin.Target, cmd string) string {
	if pt != plugin.RunCommand && pt != plugin.StartCommand {
		return cmd
	}
	targets := t.Config().Plugins.String(p.Name())
	if targets == "" || cmd == "" {
		return cmd
	}
	return fmt.Sprintf("%s %s -- %s", path.Join(script.ScriptsRoot, waitForScript), targets, cmd)
}
