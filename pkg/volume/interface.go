// Package volume attaches disc images as read-only filesystem volumes and
// detaches them again, by shelling out to the platform disk utility.
package volume

import (
	"context"
	"fmt"

	"github.com/isodrop/isodrop/pkg/errors"
)

// Volume is a mounted disc image.
type Volume struct {
	Path string
}

// Mounter attaches and detaches disc images.
//
// Mount may block for as long as the external process runs. Callers must not
// invoke it from a goroutine that drives interactive state.
type Mounter interface {
	// Mount attaches the image read-only without browsing and returns the resulting volume
	Mount(ctx context.Context, imagePath string) (Volume, error)

	// Detach force-ejects a previously mounted volume
	Detach(ctx context.Context, v Volume) error
}

// Inspector reports which disc image backs a mounted volume.
type Inspector interface {
	// BackingImage returns the image attached at volumePath, or
	// ErrNotAttached when no disc image is mounted there
	BackingImage(ctx context.Context, volumePath string) (string, error)
}

// Manager mounts, detaches and inspects disc images.
type Manager interface {
	Mounter
	Inspector
}

var (
	// ErrProcessFailed matches any *ProcessFailedError.
	ErrProcessFailed = errors.New("mount process failed")

	// ErrNoVolumeFound is returned when the mount process succeeded but its
	// output did not name a mounted volume.
	ErrNoVolumeFound = errors.New("no mounted volume found in mount output")

	// ErrNotAttached is returned by BackingImage when the path is not the
	// mount point of an attached disc image.
	ErrNotAttached = errors.New("volume is not an attached disc image")
)

// ProcessFailedError reports a mount process that exited nonzero or could not
// be started. ExitCode is -1 when the process never ran.
type ProcessFailedError struct {
	ExitCode int
	Output   string
}

func (e *ProcessFailedError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("mount process exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("mount process exited with status %d: %s", e.ExitCode, e.Output)
}

// Is makes errors.Is(err, ErrProcessFailed) hold for every ProcessFailedError.
func (e *ProcessFailedError) Is(target error) bool {
	return target == ErrProcessFailed
}
