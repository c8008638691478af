package build

import (
	"errors"
	"fmt"

	"github.com/damoti/shipmaster/src/plugin"
)

// Every phase failure wraps one of these, whatever its cause.
var (
	ErrBuildFailed  = errors.New("build failed")
	ErrTestFailed   = errors.New("test failed")
	ErrDeployFailed = errors.New("deployment failed")
)

// ErrUnknownImage is returned for image names the configuration does not declare.
var ErrUnknownImage = errors.New("unknown image")

// ExitError reports a container that ran but exited non-zero. It is a
// result, not an engine failure; use errors.As to tell them apart.
type ExitError struct {
	Mode plugin.Mode
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: container exited with code %d", e.Mode, e.Code)
}

// Unwrap lets errors.Is match the mode's failure sentinel.
func (e *ExitError) Unwrap() error { return modeErr(e.Mode) }

func modeErr(m plugin.Mode) error {
	switch m {
	case plugin.Run:
		return ErrTestFailed
	case plugin.Start:
		return ErrDeployFailed
	}
	return ErrBuildFailed
}

// phaseError attaches the mode sentinel and the image name to err.
func phaseError(m plugin.Mode, image string, err error) error {
	if errors.Is(err, modeErr(m)) {
		return fmt.Errorf("%s: %w", image, err)
	}
	return fmt.Errorf("%s: %w: %w", image, modeErr(m), err)
}
