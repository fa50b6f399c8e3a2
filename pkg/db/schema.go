package db

// Schema defines the SQLite database schema for install runs.
// A run is one attempt to install from a disc image into a bottle.
// volume_path and detached track mounts so a crashed run can be cleaned up.
const Schema = `
CREATE TABLE IF NOT EXISTS install_runs (
    id TEXT PRIMARY KEY,
    image TEXT NOT NULL,
    image_path TEXT,
    sha256 TEXT,
    bottle_root TEXT,
    status TEXT NOT NULL CHECK(status IN (
        'pending', 'preparing', 'idle', 'mounting', 'scanning_failed',
        'awaiting_selection', 'launching', 'cancelled', 'completed', 'failed')),
    volume_path TEXT,
    executable TEXT,
    detached INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_install_runs_status ON install_runs(status);
CREATE INDEX IF NOT EXISTS idx_install_runs_created_at ON install_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_install_runs_mounted ON install_runs(detached, volume_path);
`

// Status constants. Everything after StatusPreparing mirrors a workflow phase.
const (
	StatusPending           = "pending"
	StatusPreparing         = "preparing"
	StatusIdle              = "idle"
	StatusMounting          = "mounting"
	StatusScanningFailed    = "scanning_failed"
	StatusAwaitingSelection = "awaiting_selection"
	StatusLaunching         = "launching"
	StatusCancelled         = "cancelled"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
)

// Run represents an install run record
type Run struct {
	ID           string
	Image        string
	ImagePath    string
	SHA256       string
	BottleRoot   string
	Status       string
	VolumePath   string
	Executable   string
	Detached     bool
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	switch r.Status {
	case StatusCancelled, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Mounted reports whether the run recorded a mount it never detached.
func (r *Run) Mounted() bool {
	return r.VolumePath != "" && !r.Detached
}
