// Package workflow drives a single disc-image install: pick a bottle, mount
// the image, scan it for installers, wait for a choice, launch it, and
// detach the volume.
//
// A Controller owns the mounted volume for its whole lifetime. Every path
// out of a phase that holds a volume detaches it exactly once before the
// next resting phase is published, whether the user installs, cancels, or
// the scan comes back empty.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/isodrop/isodrop/pkg/bottle"
	"github.com/isodrop/isodrop/pkg/scan"
	"github.com/isodrop/isodrop/pkg/volume"
)

// DiscImage identifies the image being installed from.
type DiscImage struct {
	Path string
}

// Scanner finds candidate executables on a mounted volume.
type Scanner interface {
	Scan(root string) []scan.Candidate
}

// Launcher dispatches an executable into a bottle without blocking.
type Launcher interface {
	Launch(ctx context.Context, c scan.Candidate, b bottle.Bottle)
}

// Options holds the controller's collaborators.
type Options struct {
	Mounter  volume.Mounter
	Scanner  Scanner
	Launcher Launcher
	Logger   *slog.Logger

	// LaunchGrace delays the detach that follows a launch dispatch.
	LaunchGrace time.Duration
}

// Controller is the install state machine for one disc image.
type Controller struct {
	mounter  volume.Mounter
	scanner  Scanner
	launcher Launcher
	log      *slog.Logger
	grace    time.Duration

	image   DiscImage
	targets []bottle.Bottle

	mu              sync.Mutex
	phase           Phase
	err             error
	target          bottle.Bottle
	vol             volume.Volume
	mounted         bool
	candidates      []scan.Candidate
	selected        int
	cancelRequested bool
	tearingDown     bool
	seq             uint64
	subs            []func(State)

	// pubMu orders delivery. delivered is the seq of the newest state handed
	// to subscribers; older snapshots arriving late are dropped.
	pubMu     sync.Mutex
	delivered uint64
}

// New creates a controller for image. The default target is the one whose
// Root equals current, else the first. With no targets the controller starts
// out Cancelled and will never mount.
func New(image DiscImage, targets []bottle.Bottle, current string, opts Options) *Controller {
	c := &Controller{
		mounter:  opts.Mounter,
		scanner:  opts.Scanner,
		launcher: opts.Launcher,
		log:      opts.Logger,
		grace:    opts.LaunchGrace,
		image:    image,
		targets:  append([]bottle.Bottle(nil), targets...),
		selected: -1,
	}
	if c.log == nil {
		c.log = slog.Default()
	}

	target, ok := bottle.Default(c.targets, current)
	if !ok {
		c.phase = Cancelled
		c.log.Info("workflow_no_targets", "image", image.Path)
		return c
	}
	c.target = target
	return c
}

// Subscribe registers fn to receive subsequent states in transition order. fn
// runs on the goroutine that caused the transition, outside the controller
// lock, and must not call Start, Confirm or Cancel. A state overtaken by a
// newer one before delivery is skipped.
func (c *Controller) Subscribe(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Image returns the disc image being installed from.
func (c *Controller) Image() DiscImage {
	return c.image
}

// Targets returns the bottles supplied at construction.
func (c *Controller) Targets() []bottle.Bottle {
	return append([]bottle.Bottle(nil), c.targets...)
}

// Target returns the currently selected bottle.
func (c *Controller) Target() bottle.Bottle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SelectTarget changes the bottle to install into.
func (c *Controller) SelectTarget(root string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.tearingDown:
		return c.invalidLocked("select target")
	case c.phase == Idle, c.phase == ScanningFailed, c.phase == AwaitingSelection:
	default:
		return c.invalidLocked("select target")
	}

	for _, t := range c.targets {
		if t.Root == root {
			c.target = t
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTarget, root)
}

// Selected returns the executable that Confirm would launch.
func (c *Controller) Selected() (scan.Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected < 0 || c.selected >= len(c.candidates) {
		return scan.Candidate{}, false
	}
	return c.candidates[c.selected], true
}

// Start mounts the image and scans it. It blocks while the mount process
// runs and must not be called from a goroutine that drives interactive
// state. The returned error is the mount failure, or ErrNoExecutables when
// the volume had nothing to offer.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.tearingDown || (c.phase != Idle && c.phase != ScanningFailed) {
		err := c.invalidLocked("start")
		c.mu.Unlock()
		return err
	}
	c.cancelRequested = false
	st := c.setLocked(Mounting, nil)
	c.mu.Unlock()
	c.publish(st)

	vol, err := c.mounter.Mount(ctx, c.image.Path)

	c.mu.Lock()
	if err != nil {
		if c.cancelRequested {
			st = c.setLocked(Cancelled, nil)
		} else {
			st = c.setLocked(Failed, err)
		}
		c.mu.Unlock()
		c.publish(st)
		return err
	}
	c.vol, c.mounted = vol, true
	st = c.stampLocked()
	c.mu.Unlock()
	c.publish(st)

	c.mu.Lock()
	if c.cancelRequested {
		c.beginTeardownLocked()
		c.mu.Unlock()
		c.finishTeardown(ctx, Cancelled, nil)
		return nil
	}
	c.mu.Unlock()

	candidates := c.scanner.Scan(vol.Path)

	c.mu.Lock()
	if c.cancelRequested {
		c.beginTeardownLocked()
		c.mu.Unlock()
		c.finishTeardown(ctx, Cancelled, nil)
		return nil
	}
	if len(candidates) == 0 {
		c.beginTeardownLocked()
		c.mu.Unlock()
		c.finishTeardown(ctx, ScanningFailed, ErrNoExecutables)
		return ErrNoExecutables
	}
	c.candidates = candidates
	c.selected = 0
	st = c.setLocked(AwaitingSelection, nil)
	c.mu.Unlock()
	c.publish(st)
	return nil
}

// Select chooses which candidate Confirm will launch.
func (c *Controller) Select(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tearingDown || c.phase != AwaitingSelection {
		return c.invalidLocked("select executable")
	}
	for i, cand := range c.candidates {
		if cand.Path == path {
			c.selected = i
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownCandidate, path)
}

// Confirm launches the selected executable into the selected bottle, then
// detaches the volume and completes. It does not wait for the launched
// program.
func (c *Controller) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if c.tearingDown || c.phase != AwaitingSelection {
		err := c.invalidLocked("confirm")
		c.mu.Unlock()
		return err
	}
	if c.selected < 0 || c.selected >= len(c.candidates) {
		c.mu.Unlock()
		return fmt.Errorf("%w: no executable selected", ErrInvalidTransition)
	}
	exe, target := c.candidates[c.selected], c.target
	st := c.setLocked(Launching, nil)
	c.beginTeardownLocked()
	c.mu.Unlock()
	c.publish(st)

	c.launcher.Launch(ctx, exe, target)

	// TODO: replace the fixed grace period with a readiness signal from the launcher.
	if c.grace > 0 {
		timer := time.NewTimer(c.grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	c.finishTeardown(ctx, Completed, nil)
	return nil
}

// Cancel abandons the workflow. A mounted volume is detached first. While
// the mount is still running the request is recorded and honored when it
// returns. Cancelling a finished or launching workflow does nothing.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.tearingDown {
		c.mu.Unlock()
		return nil
	}

	switch c.phase {
	case Idle, ScanningFailed:
		st := c.setLocked(Cancelled, nil)
		c.mu.Unlock()
		c.publish(st)
	case Mounting:
		c.cancelRequested = true
		c.mu.Unlock()
		c.log.Info("workflow_cancel_deferred", "image", c.image.Path, "reason", "mount in progress")
	case AwaitingSelection:
		c.beginTeardownLocked()
		c.mu.Unlock()
		c.finishTeardown(ctx, Cancelled, nil)
	default:
		c.mu.Unlock()
	}
	return nil
}

// beginTeardownLocked claims the right to detach. Only one teardown runs at
// a time and nothing else may transition until it finishes.
func (c *Controller) beginTeardownLocked() {
	c.tearingDown = true
}

func (c *Controller) finishTeardown(ctx context.Context, phase Phase, reason error) {
	c.mu.Lock()
	vol, mounted := c.vol, c.mounted
	c.mu.Unlock()

	if mounted {
		if err := c.mounter.Detach(context.WithoutCancel(ctx), vol); err != nil {
			c.log.Warn("detach_failed", "image", c.image.Path, "volume", vol.Path, "error", err)
		}
	}

	c.mu.Lock()
	c.vol, c.mounted = volume.Volume{}, false
	c.tearingDown = false
	c.cancelRequested = false
	if phase != Completed {
		c.candidates = nil
		c.selected = -1
	}
	st := c.setLocked(phase, reason)
	c.mu.Unlock()
	c.publish(st)
}

func (c *Controller) setLocked(p Phase, err error) State {
	from := c.phase
	c.phase, c.err = p, err

	attrs := []any{"image", c.image.Path, "from", from.String(), "to", p.String()}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	c.log.Info("workflow_transition", attrs...)

	return c.stampLocked()
}

// stampLocked snapshots the current state under the next sequence number.
func (c *Controller) stampLocked() State {
	c.seq++
	st := c.snapshotLocked()
	st.seq = c.seq
	return st
}

func (c *Controller) snapshotLocked() State {
	st := State{Phase: c.phase, Err: c.err}
	if len(c.candidates) > 0 {
		st.Candidates = append([]scan.Candidate(nil), c.candidates...)
	}
	if c.mounted {
		st.Volume = c.vol.Path
	}
	return st
}

func (c *Controller) publish(st State) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if st.seq <= c.delivered {
		c.log.Debug("workflow_state_superseded", "image", c.image.Path, "phase", st.Phase.String())
		return
	}
	c.delivered = st.seq

	c.mu.Lock()
	subs := append([]func(State){}, c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

func (c *Controller) invalidLocked(action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, c.phase)
}
