package build

import (
	"context"
	"io"
	"time"

	"github.com/damoti/shipmaster/src/compose"
	"github.com/damoti/shipmaster/src/engine"
)

// ContainerEngine is what the builder needs from the container engine.
// A single engine is shared by every image builder of a run.
type ContainerEngine interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	RemoveImage(ctx context.Context, ref string) error
	TagImage(ctx context.Context, src, dst string) error
	ImageLabels(ctx context.Context, ref string) (map[string]string, error)

	CreateContainer(ctx context.Context, spec engine.ContainerSpec) (string, error)
	CopyToContainer(ctx context.Context, id, dest string, archive io.Reader) error
	StartContainer(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, follow bool, fn func(line string)) error
	WaitContainer(ctx context.Context, id string) (int, error)
	CommitContainer(ctx context.Context, id string, spec engine.CommitSpec) (string, error)
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (engine.ContainerState, error)
}

// Orchestrator is the multi-service layer the run and start modes deploy
// against. Every call names the compose project it acts on.
type Orchestrator interface {
	Service(ctx context.Context, project, name string) (*compose.Service, error)
	Up(ctx context.Context, project string, services ...string) error
	Down(ctx context.Context, project string, volumes bool) error
	Containers(ctx context.Context, project, service string) ([]string, error)
	StartService(ctx context.Context, project, service string) error
}

var (
	_ ContainerEngine = (*engine.Docker)(nil)
	_ Orchestrator    = (*compose.Client)(nil)
)
