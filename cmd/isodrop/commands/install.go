package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/isodrop/isodrop/internal/config"
	"github.com/isodrop/isodrop/pkg/bottle"
	"github.com/isodrop/isodrop/pkg/db"
	"github.com/isodrop/isodrop/pkg/errors"
	appfsm "github.com/isodrop/isodrop/pkg/fsm"
	"github.com/isodrop/isodrop/pkg/launch"
	"github.com/isodrop/isodrop/pkg/prompt"
	"github.com/isodrop/isodrop/pkg/scan"
	"github.com/isodrop/isodrop/pkg/security"
	"github.com/isodrop/isodrop/pkg/volume"
	"github.com/isodrop/isodrop/pkg/workflow"
)

var (
	installBottle string
	installExe    string
	installYes    bool
)

var installCmd = &cobra.Command{
	Use:   "install <image>",
	Short: "Mount a disc image and run one of its installers in a bottle",
	Long: `Mount a disc image (a local path or s3://bucket/key), pick an installer
from it, run that installer inside a Wine bottle, and detach the image.

Without --yes the bottle and installer are chosen interactively.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringVar(&installBottle, "bottle", "", "Bottle name or path to install into")
	installCmd.Flags().StringVar(&installExe, "exe", "", "Installer to run, by file name or full path")
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "Accept the default bottle and installer")
}

func runInstall(cmd *cobra.Command, args []string) error {
	image := args[0]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	lock, ok, err := tryLockImage(cfg.WorkDir, image)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is already being installed by another isodrop process", image)
	}
	defer lock.Unlock()

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	mounter, err := volume.NewMounter(volume.Options{
		HdiutilPath: cfg.HdiutilPath,
		Marker:      cfg.VolumeMarker,
	})
	if err != nil {
		return errors.Wrap(err, "mounter unavailable")
	}

	launcher := launch.New(launch.Options{WinePath: cfg.WinePath})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var active atomic.Pointer[workflow.Controller]
	stopSignals := handleInterrupts(ctx, cancel, &active)
	defer stopSignals()

	osFs := afero.NewOsFs()
	machine := appfsm.NewMachine(appfsm.Deps{
		Repo:        repo,
		Validator:   security.NewValidator(osFs, cfg.MaxImageSize, cfg.ImageExtensions),
		OpenRemote:  appfsm.S3Opener(cfg.S3Region),
		Mounter:     mounter,
		Scanner:     scan.NewWithFs(osFs),
		Launcher:    launcher,
		Chooser:     newChooser(),
		Fs:          osFs,
		BottlesDir:  cfg.BottlesDir,
		WorkDir:     cfg.WorkDir,
		MaxRetries:  cfg.FSMMaxRetries,
		LaunchGrace: cfg.LaunchGrace,
		Observe: func(c *workflow.Controller) {
			active.Store(c)
			c.Subscribe(progressPrinter(cmd.ErrOrStderr(), c))
		},
	})

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	runID := uuid.NewString()
	req := &appfsm.InstallRequest{
		RunID:   runID,
		Image:   image,
		Current: currentBottleHint(osFs, cfg.BottlesDir, installBottle),
	}
	resp := &appfsm.InstallResponse{}

	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm_started", "run_id", runID, "version", version)

	waitErr := manager.Wait(ctx, version)

	run, err := repo.Get(runID)
	if err != nil {
		return errors.Wrap(err, "failed to load run")
	}
	if run == nil {
		if waitErr != nil {
			return errors.Wrap(waitErr, "install failed")
		}
		return fmt.Errorf("run %s was not recorded", runID)
	}

	printOutcome(cmd.OutOrStdout(), run)

	// Stay alive until Wine returns so its output pipe stays open.
	launcher.Wait()

	if run.Status == db.StatusFailed {
		return fmt.Errorf("install failed: %s", orDash(run.ErrorMessage))
	}
	if waitErr != nil && run.Status != db.StatusCompleted && run.Status != db.StatusCancelled {
		return errors.Wrap(waitErr, "FSM execution failed")
	}
	return nil
}

func newChooser() prompt.Chooser {
	auto := prompt.Auto{Bottle: installBottle, Executable: installExe}
	if installYes {
		return auto
	}
	return prompt.NewHuh(auto)
}

// currentBottleHint resolves --bottle to a bottle root so the controller's
// default matches it.
func currentBottleHint(fs afero.Fs, dir, ref string) string {
	if ref == "" {
		return ""
	}
	bottles, err := bottle.List(fs, dir)
	if err != nil {
		return ""
	}
	if b, ok := bottle.Find(bottles, ref); ok {
		return b.Root
	}
	return ""
}

// handleInterrupts cancels the active workflow on the first interrupt, which
// detaches a mounted image. With no workflow in flight it cancels ctx.
func handleInterrupts(ctx context.Context, cancel context.CancelFunc, active *atomic.Pointer[workflow.Controller]) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				c := active.Load()
				if c == nil || c.State().Phase.Terminal() {
					slog.Info("install_interrupted")
					cancel()
					continue
				}
				slog.Info("install_cancel_requested", "phase", c.State().Phase.String())
				_ = c.Cancel(ctx)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func progressPrinter(w io.Writer, c *workflow.Controller) func(workflow.State) {
	image := c.Image().Path
	return func(s workflow.State) {
		switch s.Phase {
		case workflow.Mounting:
			if s.Volume != "" {
				fmt.Fprintf(w, "Mounted %s at %s\n", image, s.Volume)
				return
			}
			fmt.Fprintf(w, "Mounting %s\n", image)
		case workflow.AwaitingSelection:
			fmt.Fprintf(w, "Found %d installer(s) on %s\n", len(s.Candidates), s.Volume)
		case workflow.Launching:
			if exe, ok := c.Selected(); ok {
				fmt.Fprintf(w, "Launching %s in %s\n", exe.Name(), c.Target().Name)
			}
		case workflow.ScanningFailed:
			fmt.Fprintf(w, "%s\n", color.YellowString("No installers found on %s", image))
		case workflow.Failed:
			fmt.Fprintf(w, "%s\n", color.RedString("Mount failed: %v", s.Err))
		}
	}
}

func printOutcome(w io.Writer, run *db.Run) {
	switch run.Status {
	case db.StatusCompleted:
		fmt.Fprintf(w, "%s %s started in %s\n", color.GreenString("✓"), orDash(run.Executable), orDash(run.BottleRoot))
	case db.StatusCancelled:
		msg := "cancelled"
		if run.ErrorMessage != "" {
			msg += ": " + run.ErrorMessage
		}
		fmt.Fprintf(w, "%s %s\n", color.YellowString("-"), msg)
	default:
		fmt.Fprintf(w, "%s %s: %s\n", color.RedString("✗"), run.Status, orDash(run.ErrorMessage))
	}
	fmt.Fprintf(w, "run %s\n", run.ID)
}
