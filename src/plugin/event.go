package plugin

import "fmt"

// Phase is the position of a notification relative to the step it reports on.
type Phase string

const (
	Before  Phase = "before"
	After   Phase = "after"
	Failed  Phase = "failed"
	Cleanup Phase = "cleanup"
)

// Mode is a lifecycle mode of an image.
type Mode string

const (
	Build Mode = "build"
	Run   Mode = "run"
	Start Mode = "start"
)

// Modes returns every mode in execution order.
func Modes() []Mode { return []Mode{Build, Run, Start} }

// ParseMode maps a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("plugin: unknown mode %q (supported: build, run, start)", s)
}

// Action narrows an event to one step within a mode. The zero value
// stands for the mode as a whole.
type Action string

const (
	NoAction        Action = ""
	Script          Action = "script"
	Archive         Action = "archive"
	ArchiveUpload   Action = "archive_upload"
	ContainerStart  Action = "container_start"
	ContainerCommit Action = "container_commit"
	ContainerRemove Action = "container_remove"
	Output          Action = "output"
)

// Event identifies one lifecycle notification.
type Event struct {
	Phase  Phase
	Mode   Mode
	Action Action
}

// ModeEvent returns the before event of a mode.
func ModeEvent(m Mode) Event { return Event{Phase: Before, Mode: m} }

func (e Event) Before() Event  { return e.in(Before) }
func (e Event) After() Event   { return e.in(After) }
func (e Event) Failed() Event  { return e.in(Failed) }
func (e Event) Cleanup() Event { return e.in(Cleanup) }

func (e Event) in(p Phase) Event {
	e.Phase = p
	return e
}

// WithAction returns the event narrowed to an action.
func (e Event) WithAction(a Action) Event {
	e.Action = a
	return e
}

// Names returns the dispatch names of the event, broadest first:
//
//	before/build        → [before_build]
//	before/build/script → [before_script, before_build_script]
func (e Event) Names() []string {
	if e.Action == NoAction {
		return []string{fmt.Sprintf("%s_%s", e.Phase, e.Mode)}
	}
	return []string{
		fmt.Sprintf("%s_%s", e.Phase, e.Action),
		fmt.Sprintf("%s_%s_%s", e.Phase, e.Mode, e.Action),
	}
}

// Is reports whether name is one of the event's dispatch names.
func (e Event) Is(name string) bool {
	for _, n := range e.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func (e Event) String() string {
	names := e.Names()
	return names[len(names)-1]
}
