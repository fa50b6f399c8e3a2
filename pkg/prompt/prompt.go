// Package prompt picks the target bottle and the installer executable, either
// interactively or from command-line defaults.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/isodrop/isodrop/pkg/bottle"
	"github.com/isodrop/isodrop/pkg/errors"
	"github.com/isodrop/isodrop/pkg/scan"
)

// ErrAborted is returned when the user backs out of a prompt.
var ErrAborted = errors.New("selection aborted")

// ErrNoMatch is returned when a requested bottle or executable is not offered.
var ErrNoMatch = errors.New("no matching choice")

// Chooser decides which bottle and executable an install uses.
type Chooser interface {
	ChooseTarget(targets []bottle.Bottle, current bottle.Bottle) (bottle.Bottle, error)
	ChooseExecutable(candidates []scan.Candidate) (scan.Candidate, error)
}

// Auto chooses without asking. An empty Bottle keeps the current target and
// an empty Executable takes the first candidate.
type Auto struct {
	Bottle     string
	Executable string
}

func (a Auto) ChooseTarget(targets []bottle.Bottle, current bottle.Bottle) (bottle.Bottle, error) {
	if a.Bottle == "" {
		return current, nil
	}
	b, ok := bottle.Find(targets, a.Bottle)
	if !ok {
		return bottle.Bottle{}, fmt.Errorf("%w: bottle %q", ErrNoMatch, a.Bottle)
	}
	return b, nil
}

func (a Auto) ChooseExecutable(candidates []scan.Candidate) (scan.Candidate, error) {
	if len(candidates) == 0 {
		return scan.Candidate{}, fmt.Errorf("%w: no candidates", ErrNoMatch)
	}
	if a.Executable == "" {
		return candidates[0], nil
	}
	c, ok := FindCandidate(candidates, a.Executable)
	if !ok {
		return scan.Candidate{}, fmt.Errorf("%w: executable %q", ErrNoMatch, a.Executable)
	}
	return c, nil
}

// FindCandidate matches ref against full paths, then case-insensitively
// against base names.
func FindCandidate(candidates []scan.Candidate, ref string) (scan.Candidate, bool) {
	for _, c := range candidates {
		if c.Path == ref {
			return c, true
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Name(), filepath.Base(ref)) {
			return c, true
		}
	}
	return scan.Candidate{}, false
}

var runFormFunc = func(form *huh.Form) error { return form.Run() }

// Huh prompts on the terminal. Fields set on the embedded Auto skip the
// matching prompt.
type Huh struct {
	Auto
	isTerminal func() bool
}

// NewHuh creates a terminal chooser.
func NewHuh(auto Auto) *Huh {
	return &Huh{Auto: auto, isTerminal: IsInteractive}
}

// IsInteractive reports whether stdin and stderr are both terminals.
func IsInteractive() bool {
	return isTerminal(os.Stdin.Fd()) && isTerminal(os.Stderr.Fd())
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (h *Huh) ChooseTarget(targets []bottle.Bottle, current bottle.Bottle) (bottle.Bottle, error) {
	if h.Auto.Bottle != "" || len(targets) < 2 {
		return h.Auto.ChooseTarget(targets, current)
	}

	opts := make([]huh.Option[string], len(targets))
	for i, t := range targets {
		opts[i] = huh.NewOption(t.Name, t.Root)
	}
	value := current.Root

	err := h.runForm(huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Install into bottle").
				Options(opts...).
				Value(&value),
		),
	))
	if err != nil {
		return bottle.Bottle{}, err
	}

	b, ok := bottle.Find(targets, value)
	if !ok {
		return bottle.Bottle{}, fmt.Errorf("%w: bottle %q", ErrNoMatch, value)
	}
	return b, nil
}

func (h *Huh) ChooseExecutable(candidates []scan.Candidate) (scan.Candidate, error) {
	if h.Auto.Executable != "" || len(candidates) == 1 {
		return h.Auto.ChooseExecutable(candidates)
	}
	if len(candidates) == 0 {
		return scan.Candidate{}, fmt.Errorf("%w: no candidates", ErrNoMatch)
	}

	opts := make([]huh.Option[string], len(candidates))
	for i, c := range candidates {
		opts[i] = huh.NewOption(Label(c), c.Path)
	}
	value := candidates[0].Path

	err := h.runForm(huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Run installer").
				Options(opts...).
				Value(&value),
		),
	))
	if err != nil {
		return scan.Candidate{}, err
	}

	c, ok := FindCandidate(candidates, value)
	if !ok {
		return scan.Candidate{}, fmt.Errorf("%w: executable %q", ErrNoMatch, value)
	}
	return c, nil
}

// Label is the display text for a candidate.
func Label(c scan.Candidate) string {
	switch {
	case c.Setup && c.IsPackage():
		return c.Name() + " (setup, msi)"
	case c.Setup:
		return c.Name() + " (setup)"
	case c.IsPackage():
		return c.Name() + " (msi)"
	}
	return c.Name()
}

func (h *Huh) runForm(form *huh.Form) error {
	checker := h.isTerminal
	if checker == nil {
		checker = IsInteractive
	}
	if !checker() {
		return fmt.Errorf("interactive selection requires a terminal; pass --exe or --yes")
	}

	form.WithProgramOptions(tea.WithOutput(os.Stderr))

	err := runFormFunc(form)
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	return err
}
