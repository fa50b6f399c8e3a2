// Package launch hands installer executables to Wine.
package launch

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/isodrop/isodrop/pkg/bottle"
	"github.com/isodrop/isodrop/pkg/errors"
	"github.com/isodrop/isodrop/pkg/scan"
)

// DefaultWinePath is resolved through $PATH.
const DefaultWinePath = "wine"

// Runner executes name with args and extra environment entries, returning
// once the process exits.
type Runner func(ctx context.Context, name string, args, env []string) error

// ExecRunner is the Runner backed by os/exec.
func ExecRunner(ctx context.Context, name string, args, env []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return errors.Wrap(err, msg)
		}
		return err
	}
	return nil
}

// Options configures a Launcher. Zero values fall back to defaults.
type Options struct {
	WinePath string
	Run      Runner
	Logger   *slog.Logger
}

// Launcher dispatches installers without waiting for them.
type Launcher struct {
	wine string
	run  Runner
	log  *slog.Logger
	wg   sync.WaitGroup
}

// New creates a Launcher.
func New(opts Options) *Launcher {
	l := &Launcher{wine: opts.WinePath, run: opts.Run, log: opts.Logger}
	if l.wine == "" {
		l.wine = DefaultWinePath
	}
	if l.run == nil {
		l.run = ExecRunner
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	return l
}

// Args returns the Wine arguments used to run c. Installer packages go
// through msiexec; everything else is started directly.
func Args(c scan.Candidate) []string {
	if c.IsPackage() {
		return []string{"msiexec", "/i", c.Path}
	}
	return []string{"start", "/unix", c.Path}
}

// Env returns the environment entries that select b as the Wine prefix.
func Env(b bottle.Bottle) []string {
	return []string{"WINEPREFIX=" + b.Root}
}

// Launch starts c inside b on a new goroutine and returns immediately.
// Runner failures go to the logger only. The dispatched process is not tied
// to ctx's cancellation.
func (l *Launcher) Launch(ctx context.Context, c scan.Candidate, b bottle.Bottle) {
	ctx = context.WithoutCancel(ctx)
	args := Args(c)

	l.log.Info("launch_dispatch", "executable", c.Path, "bottle", b.Root, "args", args)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.run(ctx, l.wine, args, Env(b)); err != nil {
			l.log.Error("launch_failed", "executable", c.Path, "bottle", b.Root, "error", err)
			return
		}
		l.log.Info("launch_exited", "executable", c.Path, "bottle", b.Root)
	}()
}

// Wait blocks until every dispatched launch has returned.
func (l *Launcher) Wait() {
	l.wg.Wait()
}
