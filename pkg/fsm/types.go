package fsm

// InstallRequest is the FSM input
type InstallRequest struct {
	RunID string

	// Image is a local path or an s3://bucket/key reference.
	Image string

	// Current is the root of the preferred bottle, if any.
	Current string
}

// InstallResponse is the FSM output (accumulated across transitions)
type InstallResponse struct {
	RunID string

	// From Prepare
	ImagePath string
	SHA256    string

	// From Install
	Bottle     string
	Executable string

	// From Install/Complete
	Status       string
	ErrorMessage string
}

// State names
const (
	StatePrepare  = "prepare"
	StateInstall  = "install"
	StateComplete = "complete"
	StateFailed   = "failed"
)
