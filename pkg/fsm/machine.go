// Package fsm implements the durable install run.
// It prepares a disc image (downloading remote images), drives a workflow
// controller through mount, selection, launch and detach, and records the
// outcome, using the superfly/fsm library.
package fsm

import (
	"context"
	"time"

	"github.com/spf13/afero"
	"github.com/superfly/fsm"

	"github.com/isodrop/isodrop/pkg/db"
	"github.com/isodrop/isodrop/pkg/errors"
	"github.com/isodrop/isodrop/pkg/prompt"
	"github.com/isodrop/isodrop/pkg/security"
	"github.com/isodrop/isodrop/pkg/storage"
	"github.com/isodrop/isodrop/pkg/volume"
	"github.com/isodrop/isodrop/pkg/workflow"
)

// RemoteStore is the subset of the S3 client used to fetch images.
type RemoteStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key, localPath string) (*storage.DownloadResult, error)
}

// RemoteOpener returns a store for bucket.
type RemoteOpener func(ctx context.Context, bucket string) (RemoteStore, error)

// S3Opener opens anonymous S3 buckets in region.
func S3Opener(region string) RemoteOpener {
	return func(ctx context.Context, bucket string) (RemoteStore, error) {
		c, err := storage.NewClient(ctx, bucket, region)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Deps holds dependencies for FSM transitions
type Deps struct {
	Repo       *db.Repository
	Validator  *security.Validator
	OpenRemote RemoteOpener

	Mounter  volume.Mounter
	Scanner  workflow.Scanner
	Launcher workflow.Launcher
	Chooser  prompt.Chooser

	// Fs is where bottles are listed.
	Fs         afero.Fs
	BottlesDir string
	WorkDir    string

	MaxRetries  int
	LaunchGrace time.Duration

	// Observe, if set, sees each controller before it starts.
	Observe func(*workflow.Controller)
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	validator  *security.Validator
	openRemote RemoteOpener
	mounter    volume.Mounter
	scanner    workflow.Scanner
	launcher   workflow.Launcher
	chooser    prompt.Chooser
	fs         afero.Fs
	bottlesDir string
	workDir    string
	maxRetries int
	grace      time.Duration
	observe    func(*workflow.Controller)
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(d Deps) *Machine {
	m := &Machine{
		repo:       d.Repo,
		validator:  d.Validator,
		openRemote: d.OpenRemote,
		mounter:    d.Mounter,
		scanner:    d.Scanner,
		launcher:   d.Launcher,
		chooser:    d.Chooser,
		fs:         d.Fs,
		bottlesDir: d.BottlesDir,
		workDir:    d.WorkDir,
		maxRetries: d.MaxRetries,
		grace:      d.LaunchGrace,
		observe:    d.Observe,
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if m.chooser == nil {
		m.chooser = prompt.Auto{}
	}
	return m
}

// Register registers the install FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[InstallRequest, InstallResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[InstallRequest, InstallResponse](manager, "install").
		Start(StatePrepare, m.handlePrepare).
		To(StateInstall, m.handleInstall).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
