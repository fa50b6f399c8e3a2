//go:build darwin

package volume

// NewMounter returns the hdiutil mounter on macOS.
func NewMounter(opts Options) (Manager, error) {
	return NewHdiutil(opts), nil
}
