package workflow

import (
	"github.com/isodrop/isodrop/pkg/errors"
	"github.com/isodrop/isodrop/pkg/scan"
)

// Phase is the position of a workflow in its state machine.
type Phase int

const (
	Idle Phase = iota
	Mounting
	ScanningFailed
	AwaitingSelection
	Launching
	Cancelled
	Completed
	Failed
)

var phaseNames = [...]string{
	Idle:              "idle",
	Mounting:          "mounting",
	ScanningFailed:    "scanning_failed",
	AwaitingSelection: "awaiting_selection",
	Launching:         "launching",
	Cancelled:         "cancelled",
	Completed:         "completed",
	Failed:            "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether no further transitions can happen.
func (p Phase) Terminal() bool {
	return p == Cancelled || p == Completed || p == Failed
}

// State is a snapshot of a workflow. Volume is set whenever a disc image is
// mounted, including the Mounting snapshot published once the attach returns.
type State struct {
	Phase      Phase
	Candidates []scan.Candidate
	Volume     string
	Err        error

	seq uint64
}

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current phase.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrNoExecutables is the ScanningFailed reason when a mounted volume has
	// no installer candidates.
	ErrNoExecutables = errors.New("no installer executables found on volume")

	// ErrUnknownTarget is returned when selecting a target that was not supplied.
	ErrUnknownTarget = errors.New("unknown target environment")

	// ErrUnknownCandidate is returned when selecting a path that is not a candidate.
	ErrUnknownCandidate = errors.New("executable is not a scan candidate")
)
