package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/isodrop/isodrop/pkg/db"
	"github.com/isodrop/isodrop/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM database directory (only needed for install)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if workDir != "" {
		if err := os.MkdirAll(filepath.Join(workDir, "locks"), 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

// lockPath is the advisory lock file guarding installs from image.
func lockPath(workDir, image string) string {
	sum := sha256.Sum256([]byte(image))
	return filepath.Join(workDir, "locks", hex.EncodeToString(sum[:])+".lock")
}

// tryLockImage takes the lock for image without blocking. ok is false when
// another process holds it.
func tryLockImage(workDir, image string) (lock *flock.Flock, ok bool, err error) {
	lock = flock.New(lockPath(workDir, image))
	ok, err = lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock: %w", err)
	}
	return lock, ok, nil
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// colorStatus renders a run status for terminals.
func colorStatus(status string) string {
	switch status {
	case db.StatusCompleted:
		return color.GreenString(status)
	case db.StatusFailed:
		return color.RedString(status)
	case db.StatusCancelled, db.StatusScanningFailed:
		return color.YellowString(status)
	}
	return status
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func bottleName(root string) string {
	if root == "" {
		return ""
	}
	return filepath.Base(root)
}

func executableName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
