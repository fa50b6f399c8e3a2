package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/superfly/fsm"

	"github.com/isodrop/isodrop/pkg/bottle"
	"github.com/isodrop/isodrop/pkg/db"
	"github.com/isodrop/isodrop/pkg/errors"
	"github.com/isodrop/isodrop/pkg/prompt"
	"github.com/isodrop/isodrop/pkg/storage"
	"github.com/isodrop/isodrop/pkg/workflow"
)

// DownloadDir is where remote images are stored, relative to the work dir.
const DownloadDir = "downloads"

// handlePrepare creates the run record and resolves the image to a validated
// local file, downloading it first when it is remote.
func (m *Machine) handlePrepare(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	msg := req.Msg
	slog.Info("fsm_state_prepare", "run_id", msg.RunID, "image", msg.Image)

	if err := m.checkRetries(ctx, msg.RunID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &InstallResponse{}
	}
	resp.RunID = msg.RunID

	run, err := m.repo.Get(msg.RunID)
	if err != nil {
		slog.Error("database_check_failed", "run_id", msg.RunID, "error", err)
		return nil, fsm.Abort(errors.Wrap(err, "database error"))
	}
	if run == nil {
		run = &db.Run{ID: msg.RunID, Image: msg.Image, Status: db.StatusPreparing}
		if err := m.repo.Create(run); err != nil {
			slog.Error("create_run_failed", "run_id", msg.RunID, "error", err)
			return nil, errors.Wrap(err, "failed to create run record")
		}
	}

	imagePath, sha := msg.Image, ""
	switch {
	case resp.ImagePath != "":
		// Resumed after a completed download.
		imagePath, sha = resp.ImagePath, resp.SHA256
	case storage.IsRemote(msg.Image):
		result, err := m.fetch(ctx, msg.RunID, msg.Image)
		if err != nil {
			return nil, err
		}
		imagePath, sha = result.LocalPath, result.SHA256
	default:
		if abs, err := filepath.Abs(imagePath); err == nil {
			imagePath = abs
		}
	}

	if err := m.validator.ValidateImage(imagePath); err != nil {
		slog.Error("image_validation_failed", "run_id", msg.RunID, "path", imagePath, "error", err)
		return nil, m.fail(msg.RunID, err)
	}

	run.ImagePath = imagePath
	run.SHA256 = sha
	run.Status = db.StatusPreparing
	if err := m.repo.Update(run); err != nil {
		slog.Error("run_update_failed", "run_id", msg.RunID, "error", err)
		return nil, errors.Wrap(err, "failed to update run")
	}

	resp.ImagePath = imagePath
	resp.SHA256 = sha
	resp.Status = db.StatusPreparing

	return fsm.NewResponse(resp), nil
}

// fetch downloads a remote image into the work directory. A missing object
// or a bad key aborts; transport errors are retried.
func (m *Machine) fetch(ctx context.Context, runID, image string) (*storage.DownloadResult, error) {
	ref, err := storage.ParseRef(image, false)
	if err != nil {
		return nil, m.fail(runID, err)
	}
	if err := m.validator.ValidateKey(ref.Key); err != nil {
		return nil, m.fail(runID, err)
	}
	if m.openRemote == nil {
		return nil, m.fail(runID, fmt.Errorf("remote images are not configured: %s", ref))
	}

	store, err := m.openRemote(ctx, ref.Bucket)
	if err != nil {
		slog.Error("remote_open_failed", "run_id", runID, "bucket", ref.Bucket, "error", err)
		return nil, errors.Wrap(err, "failed to open bucket")
	}

	exists, err := store.Exists(ctx, ref.Key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check image")
	}
	if !exists {
		return nil, m.fail(runID, fmt.Errorf("image not found: %s", ref))
	}

	downloadDir := filepath.Join(m.workDir, DownloadDir)
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		slog.Error("download_dir_creation_failed", "path", downloadDir, "error", err)
		return nil, errors.Wrap(err, "failed to create download dir")
	}

	localPath := filepath.Join(downloadDir, runID+"-"+storage.LocalName(ref.Key))
	slog.Info("download_started", "run_id", runID, "image", ref.String(), "local_path", localPath)

	result, err := store.Download(ctx, ref.Key, localPath)
	if err != nil {
		slog.Error("download_failed", "run_id", runID, "image", ref.String(), "error", err)
		return nil, errors.Wrap(err, "failed to download image")
	}
	return result, nil
}

// handleInstall drives a workflow controller from target selection to a
// terminal phase. Mount failures are retried.
func (m *Machine) handleInstall(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	msg := req.Msg
	slog.Info("fsm_state_install", "run_id", msg.RunID)

	if err := m.checkRetries(ctx, msg.RunID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil || resp.ImagePath == "" {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	bottles, err := bottle.List(m.fs, m.bottlesDir)
	if err != nil {
		slog.Error("bottle_list_failed", "run_id", msg.RunID, "dir", m.bottlesDir, "error", err)
		return nil, m.fail(msg.RunID, err)
	}

	ctrl := workflow.New(workflow.DiscImage{Path: resp.ImagePath}, bottles, msg.Current, workflow.Options{
		Mounter:     m.mounter,
		Scanner:     m.scanner,
		Launcher:    m.launcher,
		Logger:      slog.Default().With("run_id", msg.RunID),
		LaunchGrace: m.grace,
	})
	ctrl.Subscribe(NewRecorder(m.repo, msg.RunID).Observe)
	if m.observe != nil {
		m.observe(ctrl)
	}

	if ctrl.State().Phase == workflow.Cancelled {
		reason := fmt.Sprintf("no bottles found in %s", m.bottlesDir)
		slog.Warn("install_no_bottles", "run_id", msg.RunID, "dir", m.bottlesDir)
		if err := m.repo.UpdateStatus(msg.RunID, db.StatusCancelled, reason); err != nil {
			return nil, errors.Wrap(err, "failed to update status")
		}
		resp.Status, resp.ErrorMessage = db.StatusCancelled, reason
		return fsm.NewResponse(resp), nil
	}

	// A retried mount keeps the bottle chosen on the first attempt.
	target, chosen := bottle.Find(ctrl.Targets(), resp.Bottle)
	if resp.Bottle == "" || !chosen {
		target, err = m.chooser.ChooseTarget(ctrl.Targets(), ctrl.Target())
		if err != nil {
			return m.abandon(ctx, ctrl, resp, err)
		}
	}
	if err := ctrl.SelectTarget(target.Root); err != nil && !ctrl.State().Phase.Terminal() {
		return m.abandon(ctx, ctrl, resp, err)
	}
	resp.Bottle = target.Root
	if err := m.recordBottle(msg.RunID, target.Root); err != nil {
		return nil, err
	}

	if err := ctrl.Start(ctx); err != nil {
		switch ctrl.State().Phase {
		case workflow.Failed:
			slog.Error("install_mount_failed", "run_id", msg.RunID, "retry", fsm.RetryFromContext(ctx), "error", err)
			return nil, errors.Wrap(err, "mount failed")
		case workflow.ScanningFailed:
			_ = ctrl.Cancel(ctx)
			if uerr := m.repo.UpdateStatus(msg.RunID, db.StatusCancelled, err.Error()); uerr != nil {
				return nil, errors.Wrap(uerr, "failed to update status")
			}
			resp.Status, resp.ErrorMessage = db.StatusCancelled, err.Error()
			return fsm.NewResponse(resp), nil
		}
	}

	if st := ctrl.State(); st.Phase == workflow.AwaitingSelection {
		if err := m.launch(ctx, ctrl, resp, st); err != nil {
			return m.abandon(ctx, ctrl, resp, err)
		}
	}

	final := ctrl.State()
	resp.Status = final.Phase.String()
	if final.Err != nil {
		resp.ErrorMessage = final.Err.Error()
	}
	slog.Info("install_finished", "run_id", msg.RunID, "status", resp.Status)

	return fsm.NewResponse(resp), nil
}

// launch asks for an executable and confirms it. A concurrent cancel that
// wins the race is not an error.
func (m *Machine) launch(ctx context.Context, ctrl *workflow.Controller, resp *InstallResponse, st workflow.State) error {
	exe, err := m.chooser.ChooseExecutable(st.Candidates)
	if err != nil {
		return err
	}
	if err := ctrl.Select(exe.Path); err != nil {
		if ctrl.State().Phase.Terminal() {
			return nil
		}
		return err
	}
	if err := m.repo.RecordExecutable(resp.RunID, exe.Path); err != nil {
		slog.Warn("run_executable_record_failed", "run_id", resp.RunID, "error", err)
	}
	resp.Executable = exe.Path

	if err := ctrl.Confirm(ctx); err != nil && !ctrl.State().Phase.Terminal() {
		return err
	}
	return nil
}

// abandon cancels the controller. A user abort ends the run as cancelled;
// anything else fails it.
func (m *Machine) abandon(ctx context.Context, ctrl *workflow.Controller, resp *InstallResponse, cause error) (*fsm.Response[InstallResponse], error) {
	_ = ctrl.Cancel(ctx)

	if errors.Is(cause, prompt.ErrAborted) {
		slog.Info("install_aborted_by_user", "run_id", resp.RunID)
		resp.Status = db.StatusCancelled
		return fsm.NewResponse(resp), nil
	}

	slog.Error("install_selection_failed", "run_id", resp.RunID, "error", cause)
	return nil, m.fail(resp.RunID, cause)
}

func (m *Machine) recordBottle(runID, root string) error {
	run, err := m.repo.Get(runID)
	if err != nil {
		return errors.Wrap(err, "failed to load run")
	}
	if run == nil {
		return fsm.Abort(fmt.Errorf("run not found: %s", runID))
	}
	run.BottleRoot = root
	if err := m.repo.Update(run); err != nil {
		return errors.Wrap(err, "failed to update run")
	}
	return nil
}

// handleComplete loads the recorded outcome of the run.
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	msg := req.Msg
	slog.Info("fsm_state_complete", "run_id", msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		resp = &InstallResponse{RunID: msg.RunID}
	}

	run, err := m.repo.Get(msg.RunID)
	if err != nil {
		slog.Error("failed_to_load_run", "run_id", msg.RunID, "error", err)
		return nil, fsm.Abort(errors.Wrap(err, "failed to load run"))
	}
	if run == nil {
		slog.Error("run_not_found", "run_id", msg.RunID)
		return nil, fsm.Abort(fmt.Errorf("run not found in database"))
	}

	resp.Status = run.Status
	resp.ErrorMessage = run.ErrorMessage
	resp.Executable = run.Executable
	resp.Bottle = run.BottleRoot

	slog.Info("fsm_complete", "run_id", msg.RunID, "status", run.Status, "executable", run.Executable)

	return fsm.NewResponse(resp), nil
}

// checkRetries aborts once a state has been retried more than maxRetries times.
func (m *Machine) checkRetries(ctx context.Context, runID string) error {
	retryCount := fsm.RetryFromContext(ctx)
	if retryCount <= uint64(m.maxRetries) {
		return nil
	}

	slog.Error("max_retries_exceeded", "run_id", runID, "max_retries", m.maxRetries)
	err := fmt.Errorf("max retries (%d) exceeded", m.maxRetries)
	if run, _ := m.repo.Get(runID); run != nil && run.ErrorMessage != "" {
		err = fmt.Errorf("%w: %s", err, run.ErrorMessage)
	}
	return m.fail(runID, err)
}

// fail records err on the run and stops the machine.
func (m *Machine) fail(runID string, err error) error {
	if uerr := m.repo.UpdateStatus(runID, db.StatusFailed, err.Error()); uerr != nil {
		slog.Error("status_update_failed", "run_id", runID, "status", db.StatusFailed, "error", uerr)
	}
	return fsm.Abort(err)
}
