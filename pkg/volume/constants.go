package volume

// Default configuration values for hdiutil-backed mounting.
const (
	// DefaultHdiutilPath is where macOS ships the disk image utility
	DefaultHdiutilPath = "/usr/bin/hdiutil"
	// DefaultMarker prefixes every volume path hdiutil reports on attach
	DefaultMarker = "/Volumes/"
)
