package volume

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/isodrop/isodrop/pkg/errors"
)

// CommandRunner runs an external command and returns its combined
// stdout/stderr and exit status. A non-nil error means the command could not
// be started; a nonzero exit is reported through exitCode alone.
type CommandRunner func(ctx context.Context, name string, args ...string) (output []byte, exitCode int, err error)

// ExecRunner is the CommandRunner backed by os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return out, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	return out, -1, err
}

// Options configures an HdiutilMounter. Zero values fall back to defaults.
type Options struct {
	HdiutilPath string
	Marker      string
	Run         CommandRunner
	Logger      *slog.Logger
}

// HdiutilMounter implements Mounter with `hdiutil attach` and `hdiutil detach`.
type HdiutilMounter struct {
	hdiutil string
	marker  string
	run     CommandRunner
	log     *slog.Logger
}

// NewHdiutil creates an hdiutil-backed mounter.
func NewHdiutil(opts Options) *HdiutilMounter {
	m := &HdiutilMounter{
		hdiutil: opts.HdiutilPath,
		marker:  opts.Marker,
		run:     opts.Run,
		log:     opts.Logger,
	}
	if m.hdiutil == "" {
		m.hdiutil = DefaultHdiutilPath
	}
	if m.marker == "" {
		m.marker = DefaultMarker
	}
	if m.run == nil {
		m.run = ExecRunner
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// Mount attaches imagePath. The attach is not interrupted by ctx: a killed
// hdiutil can leave the image attached with no volume path to detach.
func (m *HdiutilMounter) Mount(ctx context.Context, imagePath string) (Volume, error) {
	m.log.Info("mount_start", "image", imagePath)

	out, code, err := m.run(context.WithoutCancel(ctx), m.hdiutil, "attach", imagePath, "-nobrowse", "-readonly")
	if err != nil {
		m.log.Error("mount_start_failed", "image", imagePath, "error", err)
		return Volume{}, &ProcessFailedError{ExitCode: -1, Output: err.Error()}
	}
	output := string(out)
	if code != 0 {
		m.log.Error("mount_failed", "image", imagePath, "exit_code", code, "output", strings.TrimSpace(output))
		return Volume{}, &ProcessFailedError{ExitCode: code, Output: strings.TrimSpace(output)}
	}

	path, err := ParseVolume(output, m.marker)
	if err != nil {
		m.log.Error("mount_no_volume", "image", imagePath, "marker", m.marker)
		return Volume{}, err
	}

	m.log.Info("mount_complete", "image", imagePath, "volume", path)
	return Volume{Path: path}, nil
}

func (m *HdiutilMounter) Detach(ctx context.Context, v Volume) error {
	m.log.Info("detach_start", "volume", v.Path)

	out, code, err := m.run(ctx, m.hdiutil, "detach", v.Path, "-force")
	if err != nil {
		return errors.Wrapf(err, "start detach of %s", v.Path)
	}
	if code != 0 {
		return errors.Wrapf(&ProcessFailedError{ExitCode: code, Output: strings.TrimSpace(string(out))}, "detach %s", v.Path)
	}

	m.log.Info("detach_complete", "volume", v.Path)
	return nil
}

// ParseVolume extracts the mounted volume path from attach output. The first
// line containing marker wins; the path runs from the marker to the end of
// that line, trimmed of surrounding whitespace.
//
//	/dev/disk4s1  Apple_HFS  /Volumes/MYGAME   ->   /Volumes/MYGAME
func ParseVolume(output, marker string) (string, error) {
	if marker == "" {
		return "", ErrNoVolumeFound
	}
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		return strings.TrimSpace(line[idx:]), nil
	}
	return "", ErrNoVolumeFound
}

// BackingImage looks volumePath up in `hdiutil info`.
func (m *HdiutilMounter) BackingImage(ctx context.Context, volumePath string) (string, error) {
	out, code, err := m.run(ctx, m.hdiutil, "info")
	if err != nil {
		return "", errors.Wrap(err, "start hdiutil info")
	}
	if code != 0 {
		return "", &ProcessFailedError{ExitCode: code, Output: strings.TrimSpace(string(out))}
	}

	for _, a := range ParseInfo(string(out), m.marker) {
		for _, v := range a.Volumes {
			if v == volumePath {
				return a.ImagePath, nil
			}
		}
	}
	return "", ErrNotAttached
}

// Attachment is one image listed by `hdiutil info`.
type Attachment struct {
	ImagePath string
	Volumes   []string
}

// ParseInfo reads the image sections of `hdiutil info` output. Sections are
// separated by lines of '='; each names its image-path and lists device lines,
// of which those containing marker carry a mount point.
//
//	image-path      : /Users/me/game.iso
//	/dev/disk4s1    Apple_HFS    /Volumes/MYGAME
func ParseInfo(output, marker string) []Attachment {
	var list []Attachment
	cur := -1
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "=="):
			cur = -1
		case strings.HasPrefix(line, "image-path"):
			_, path, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			list = append(list, Attachment{ImagePath: strings.TrimSpace(path)})
			cur = len(list) - 1
		case cur >= 0 && marker != "" && strings.HasPrefix(line, "/dev/"):
			if idx := strings.Index(line, marker); idx >= 0 {
				list[cur].Volumes = append(list[cur].Volumes, strings.TrimSpace(line[idx:]))
			}
		}
	}
	return list
}
