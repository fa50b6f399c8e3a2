package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/isodrop/isodrop/internal/config"
	"github.com/isodrop/isodrop/pkg/errors"
)

// LogLevel is adjusted from configuration before each command runs.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "isodrop",
	Short: "Install Windows software from disc images into Wine bottles",
	Long: `Mounts a disc image, finds the installers on it, runs the chosen one
inside a Wine bottle, and detaches the image again.`,
	SilenceUsage:      true,
	PersistentPreRunE: applyLogLevel,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("sqlite-path", ".artifacts/isodrop.db", "SQLite database path")
	flags.String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	flags.String("work-dir", "/tmp/isodrop", "Working directory for downloads and locks")
	flags.String("bottles-dir", "", "Directory containing Wine bottles")
	flags.String("hdiutil-path", "/usr/bin/hdiutil", "Path to hdiutil")
	flags.String("wine-path", "wine", "Wine executable")
	flags.Duration("launch-grace", 0, "Wait this long after launching before detaching the image")
	flags.Int64("max-image-size", 16*1024*1024*1024, "Max disc image size in bytes")
	flags.String("s3-region", "us-east-1", "S3 region for s3:// images")
	flags.Int("fsm-max-retries", 2, "Retries for a failed mount")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "work-dir", "hdiutil-path", "wine-path",
		"launch-grace", "max-image-size", "s3-region", "fsm-max-retries", "log-level",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

func applyLogLevel(cmd *cobra.Command, args []string) error {
	// bottles-dir is bound only when given so an empty flag keeps the default.
	if f := cmd.Flags().Lookup("bottles-dir"); f != nil && f.Changed {
		viper.Set("bottles-dir", f.Value.String())
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	LogLevel.Set(level)
	return nil
}
