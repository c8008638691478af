package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/charmbracelet/log"
)

// Registry holds the plugin instances of one build run.
type Registry struct {
	plugins []Plugin
	logger  *log.Logger
}

// NewRegistry instantiates plugins in the given order.
func NewRegistry(h Host, ctors ...Constructor) (*Registry, error) {
	if h.Logger == nil {
		h.Logger = log.Default()
	}
	if h.Settings == nil {
		h.Settings = noSettings{}
	}

	r := &Registry{logger: h.Logger}
	for i, ctor := range ctors {
		p, err := ctor(h)
		if err != nil {
			return nil, fmt.Errorf("plugin #%d: %w", i, err)
		}
		if p == nil {
			continue
		}
		r.plugins = append(r.plugins, p)
	}
	return r, nil
}

// Plugins returns the enabled plugins in registration order.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// Lookup returns the named plugin.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	for _, p := range r.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Notify delivers ev to every plugin in registration order. A failing or
// panicking plugin does not stop delivery to the ones after it; all
// failures are returned joined.
func (r *Registry) Notify(ctx context.Context, ev Event, t Target, extra string) error {
	var errs []error
	for _, p := range r.plugins {
		if err := deliver(ctx, p, ev, t, extra); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %s: %w", p.Name(), ev, err))
		}
	}
	return errors.Join(errs...)
}

// Contribute folds the contributing plugins over cmd, in registration
// order: with P1 then P2 registered the result is P2(P1(cmd)).
func (r *Registry) Contribute(p Point, t Target, cmd string) string {
	for _, pl := range r.plugins {
		if c, ok := pl.(CommandContributor); ok {
			cmd = c.ContributeCommand(p, t, cmd)
		}
	}
	return cmd
}

// Close releases plugins that hold resources, e.g. connections.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.plugins {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, p Plugin, ev Event, t Target, extra string) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v\n%s", v, debug.Stack())
		}
	}()

	switch ev.Phase {
	case Before:
		return p.OnBefore(ctx, ev, t, extra)
	case After:
		return p.OnAfter(ctx, ev, t, extra)
	case Failed:
		return p.OnFailed(ctx, ev, t, extra)
	case Cleanup:
		return p.OnCleanup(ctx, ev, t, extra)
	}
	return fmt.Errorf("unknown phase %q", ev.Phase)
}

type noSettings struct{}

func (noSettings) GetString(string) string { return "" }
func (noSettings) GetBool(string) bool     { return false }
