// Package plugin defines the lifecycle events raised while images are
// built, tested and deployed, and the Registry that delivers them.
//
// Plugins are passed to the builder as an explicit, ordered list of
// constructors. Order matters: events are delivered and command
// contributions are folded in registration order.
package plugin

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/damoti/shipmaster/src/config"
	"github.com/damoti/shipmaster/src/script"
)

// Plugin receives lifecycle notifications. Each method gets the full
// Event and switches on it as needed; extra carries event data such as a
// container output line and is empty otherwise.
type Plugin interface {
	Name() string
	OnBefore(ctx context.Context, ev Event, t Target, extra string) error
	OnAfter(ctx context.Context, ev Event, t Target, extra string) error
	OnFailed(ctx context.Context, ev Event, t Target, extra string) error
	OnCleanup(ctx context.Context, ev Event, t Target, extra string) error
}

// Base implements every notification method as a no-op. Embed it and
// override what is needed.
type Base struct{}

func (Base) OnBefore(context.Context, Event, Target, string) error  { return nil }
func (Base) OnAfter(context.Context, Event, Target, string) error   { return nil }
func (Base) OnFailed(context.Context, Event, Target, string) error  { return nil }
func (Base) OnCleanup(context.Context, Event, Target, string) error { return nil }

// Point names a command a plugin may rewrite.
type Point string

const (
	BuildCommand Point = "build_command"
	RunCommand   Point = "run_command"
	StartCommand Point = "start_command"
)

// CommandContributor is implemented by plugins that rewrite commands,
// e.g. to wrap them in a helper. Returning cmd unchanged is a no-op.
type CommandContributor interface {
	ContributeCommand(p Point, t Target, cmd string) string
}

// Target is the image a notification is about, as seen by plugins.
type Target interface {
	// Name returns the image name from the configuration.
	Name() string
	// ImageName returns the full repository:tag reference being produced.
	ImageName() string
	Config() *config.ImageConfig
	Project() *config.Config

	// Script and Archive are only set while a mode is assembling or
	// uploading them; they are nil otherwise.
	Script() *script.Script
	Archive() *script.Archive

	Environment() map[string]string
	SetEnv(key, value string)
	Volumes() []string
	AddVolume(spec string)

	// Err returns the error of the last failed mode.
	Err() error
}

// Settings exposes runtime settings to plugins.
type Settings interface {
	GetString(key string) string
	GetBool(key string) bool
}

// Host is what plugin constructors see of the build run.
type Host struct {
	Project  *config.Config
	BuildNum string
	Settings Settings
	Logger   *log.Logger
}

// Constructor creates a plugin for one build run. Returning a nil Plugin
// and nil error leaves the plugin disabled for the run.
type Constructor func(h Host) (Plugin, error)
