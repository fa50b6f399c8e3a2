package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isodrop/isodrop/internal/config"
	"github.com/isodrop/isodrop/pkg/db"
	"github.com/isodrop/isodrop/pkg/errors"
	appfsm "github.com/isodrop/isodrop/pkg/fsm"
	"github.com/isodrop/isodrop/pkg/volume"
)

var (
	cleanupRun       string
	cleanupOrphaned  bool
	cleanupDownloads bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Detach leftover volumes and remove downloaded images",
	Long: `Clean up resources left behind by install runs:
  --run <id>     Detach the volume of one run
  --orphaned     Detach volumes of interrupted runs and remove untracked downloads
  --downloads    Remove downloaded images of finished runs`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().StringVar(&cleanupRun, "run", "", "Clean up a specific run by ID")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Clean up interrupted runs and untracked downloads")
	cleanupCmd.Flags().BoolVar(&cleanupDownloads, "downloads", false, "Remove downloaded images of finished runs")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupRun == "" && !cleanupOrphaned && !cleanupDownloads {
		return fmt.Errorf("must specify --run, --orphaned, or --downloads")
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := ensureDirectories(cfg.SQLitePath, "", cfg.WorkDir); err != nil {
		return err
	}

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

	c := &cleaner{
		repo:    repo,
		mounter: mounter,
		workDir: cfg.WorkDir,
		out:     cmd.OutOrStdout(),
	}
	ctx := cmd.Context()

	if cleanupRun != "" {
		run, err := repo.Get(cleanupRun)
		if err != nil {
			return errors.Wrap(err, "lookup failed")
		}
		if run == nil {
			return fmt.Errorf("run not found: %s", cleanupRun)
		}
		if err := c.release(ctx, run); err != nil {
			return err
		}
	}
	if cleanupOrphaned {
		if err := c.orphaned(ctx); err != nil {
			return err
		}
	}
	if cleanupDownloads {
		if err := c.downloads(false); err != nil {
			return err
		}
	}
	return nil
}

type cleaner struct {
	repo    *db.Repository
	mounter volume.Manager
	workDir string
	out     io.Writer
}

// release detaches the volume a run left mounted and closes the run. Runs
// whose image is locked by a live install are skipped, and a volume is only
// detached while the run's own image still backs it.
func (c *cleaner) release(ctx context.Context, run *db.Run) error {
	if !run.Mounted() {
		fmt.Fprintf(c.out, "Run %s has nothing mounted\n", shortID(run.ID))
		return nil
	}

	lock, ok, err := tryLockImage(c.workDir, run.Image)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(c.out, "Skipping %s: %s is still being installed\n", shortID(run.ID), run.Image)
		return nil
	}
	defer lock.Unlock()

	if run.ImagePath == "" {
		fmt.Fprintf(c.out, "Skipping %s: no image path recorded for %s\n", shortID(run.ID), run.VolumePath)
		return nil
	}

	reason := "detached by cleanup"
	img, err := c.mounter.BackingImage(ctx, run.VolumePath)
	switch {
	case errors.Is(err, volume.ErrNotAttached):
		fmt.Fprintf(c.out, "%s is already gone\n", run.VolumePath)
		reason = "volume already detached"
	case err != nil:
		return errors.Wrapf(err, "inspect %s", run.VolumePath)
	case !samePath(img, run.ImagePath):
		fmt.Fprintf(c.out, "Leaving %s mounted: it now belongs to %s\n", run.VolumePath, img)
		reason = "volume already detached"
	default:
		if err := c.mounter.Detach(ctx, volume.Volume{Path: run.VolumePath}); err != nil {
			return errors.Wrapf(err, "detach %s", run.VolumePath)
		}
		fmt.Fprintf(c.out, "Detached %s\n", run.VolumePath)
	}

	if err := c.repo.RecordDetach(run.ID); err != nil {
		return err
	}
	if !run.Finished() {
		if err := c.repo.UpdateStatus(run.ID, db.StatusCancelled, reason); err != nil {
			return err
		}
	}
	return nil
}

// samePath reports whether a and b name the same file, following symlinks
// such as /tmp -> /private/tmp.
func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}

func (c *cleaner) orphaned(ctx context.Context) error {
	fmt.Fprintln(c.out, "Scanning for orphaned resources...")

	runs, err := c.repo.ListMounted()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}
	for _, run := range runs {
		if err := c.release(ctx, run); err != nil {
			fmt.Fprintf(c.out, "Failed to clean %s: %v\n", shortID(run.ID), err)
		}
	}

	return c.downloads(true)
}

// downloads removes downloaded images. With untracked set, only files whose
// run no longer exists are removed; otherwise files of finished runs are.
func (c *cleaner) downloads(untracked bool) error {
	dir := filepath.Join(c.workDir, appfsm.DownloadDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read downloads")
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := downloadRunID(entry.Name())
		if !ok {
			continue
		}
		run, err := c.repo.Get(id)
		if err != nil {
			return errors.Wrap(err, "lookup failed")
		}

		switch {
		case untracked && run != nil:
			continue
		case !untracked && (run == nil || !run.Finished() || run.Mounted()):
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(c.out, "Failed to remove %s: %v\n", entry.Name(), err)
			continue
		}
		fmt.Fprintf(c.out, "Removed %s\n", entry.Name())
		removed++
	}

	fmt.Fprintf(c.out, "Removed %d downloaded image(s)\n", removed)
	return nil
}

// downloadRunID extracts the run ID prefix from a download file name.
func downloadRunID(name string) (string, bool) {
	const idLen = 36
	if len(name) <= idLen || name[idLen] != '-' {
		return "", false
	}
	id := name[:idLen]
	if strings.Count(id, "-") != 4 {
		return "", false
	}
	return id, true
}
