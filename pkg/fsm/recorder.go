package fsm

import (
	"log/slog"
	"sync"

	"github.com/isodrop/isodrop/pkg/db"
	"github.com/isodrop/isodrop/pkg/workflow"
)

// Recorder persists workflow transitions for one run. It is meant to be
// passed to Controller.Subscribe.
type Recorder struct {
	repo  *db.Repository
	runID string

	mu      sync.Mutex
	mounted bool
}

// NewRecorder creates a recorder for runID.
func NewRecorder(repo *db.Repository, runID string) *Recorder {
	return &Recorder{repo: repo, runID: runID}
}

// Observe stores s as the run status and tracks mount and detach.
// Failures are logged; a broken history must not break an install.
func (r *Recorder) Observe(s workflow.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := ""
	if s.Err != nil {
		msg = s.Err.Error()
	}
	if err := r.repo.UpdateStatus(r.runID, s.Phase.String(), msg); err != nil {
		slog.Warn("run_status_record_failed", "run_id", r.runID, "status", s.Phase.String(), "error", err)
	}

	switch {
	case s.Volume != "" && !r.mounted:
		if err := r.repo.RecordMount(r.runID, s.Volume); err != nil {
			slog.Warn("run_mount_record_failed", "run_id", r.runID, "volume", s.Volume, "error", err)
			return
		}
		r.mounted = true
	case s.Volume == "" && r.mounted:
		if err := r.repo.RecordDetach(r.runID); err != nil {
			slog.Warn("run_detach_record_failed", "run_id", r.runID, "error", err)
			return
		}
		r.mounted = false
	}
}
