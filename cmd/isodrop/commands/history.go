package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isodrop/isodrop/internal/config"
	"github.com/isodrop/isodrop/pkg/db"
	"github.com/isodrop/isodrop/pkg/errors"
)

var (
	historyLimit  int
	historyDelete string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List install runs and their status",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyDelete, "delete", "", "Delete a finished run from the history")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if historyDelete != "" {
		return deleteRun(cmd, repo, historyDelete)
	}

	runs, err := repo.List(historyLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No install runs found")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		mounted := "-"
		if run.Mounted() {
			mounted = run.VolumePath
		}
		rows = append(rows, []string{
			shortID(run.ID),
			run.CreatedAt,
			run.Image,
			orDash(bottleName(run.BottleRoot)),
			colorStatus(run.Status),
			orDash(executableName(run.Executable)),
			mounted,
		})
	}

	fmt.Fprintln(out, renderTable(
		[]string{"RUN", "CREATED", "IMAGE", "BOTTLE", "STATUS", "EXECUTABLE", "MOUNTED"},
		rows, nil))
	return nil
}

func deleteRun(cmd *cobra.Command, repo *db.Repository, id string) error {
	run, err := repo.Get(id)
	if err != nil {
		return errors.Wrap(err, "lookup failed")
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", id)
	}
	if run.Mounted() {
		return fmt.Errorf("run %s still has %s mounted; run cleanup first", id, run.VolumePath)
	}
	if err := repo.Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", id)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
