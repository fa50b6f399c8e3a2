//go:build !darwin

package volume

import (
	"context"
	"fmt"
	"runtime"
)

// StubMounter is a no-op mounter for platforms without hdiutil.
type StubMounter struct{}

// NewMounter returns a stub on platforms other than macOS.
func NewMounter(opts Options) (Manager, error) {
	return &StubMounter{}, nil
}

func (m *StubMounter) Mount(ctx context.Context, imagePath string) (Volume, error) {
	return Volume{}, fmt.Errorf("disc image mounting not supported on %s", runtime.GOOS)
}

func (m *StubMounter) Detach(ctx context.Context, v Volume) error {
	return fmt.Errorf("disc image mounting not supported on %s", runtime.GOOS)
}

func (m *StubMounter) BackingImage(ctx context.Context, volumePath string) (string, error) {
	return "", fmt.Errorf("disc image inspection not supported on %s", runtime.GOOS)
}
