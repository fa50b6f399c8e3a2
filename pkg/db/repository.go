package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/isodrop/isodrop/pkg/errors"
)

const runColumns = `id, image, image_path, sha256, bottle_root, status,
       volume_path, executable, detached, error_message, created_at, updated_at`

// Repository provides database operations for install runs
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Controller subscribers write from more than one goroutine.
	db.SetMaxOpenConns(1)

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new run record, assigning an ID if it has none.
func (r *Repository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	slog.Info("database_create_run", "run_id", run.ID, "image", run.Image, "status", run.Status)

	query := `
		INSERT INTO install_runs (id, image, image_path, sha256, bottle_root, status,
		                          volume_path, executable, detached, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		run.ID, run.Image, run.ImagePath, run.SHA256, run.BottleRoot, run.Status,
		run.VolumePath, run.Executable, run.Detached, run.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	slog.Info("database_run_created", "run_id", run.ID, "status", run.Status)
	return nil
}

// Get retrieves a run by ID. It returns nil, nil when there is none.
func (r *Repository) Get(id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM install_runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Info("database_run_not_found", "run_id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// Update updates an existing run record
func (r *Repository) Update(run *Run) error {
	slog.Info("database_update_run", "run_id", run.ID, "status", run.Status)

	query := `
		UPDATE install_runs
		SET image_path = ?, sha256 = ?, bottle_root = ?, status = ?,
		    volume_path = ?, executable = ?, detached = ?, error_message = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		run.ImagePath, run.SHA256, run.BottleRoot, run.Status,
		run.VolumePath, run.Executable, run.Detached, run.ErrorMessage, run.ID)
	if err != nil {
		slog.Error("database_update_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_run_not_found_for_update", "run_id", run.ID)
		return fmt.Errorf("run not found: id=%s", run.ID)
	}

	slog.Info("database_run_updated", "run_id", run.ID, "status", run.Status)
	return nil
}

// UpdateStatus updates only the status and error fields
func (r *Repository) UpdateStatus(id, status, errorMessage string) error {
	slog.Info("database_update_status", "run_id", id, "status", status)

	query := `UPDATE install_runs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, status, errorMessage, id); err != nil {
		slog.Error("database_status_update_failed", "run_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// RecordMount stores the volume a run has attached.
func (r *Repository) RecordMount(id, volumePath string) error {
	slog.Info("database_record_mount", "run_id", id, "volume", volumePath)

	query := `UPDATE install_runs SET volume_path = ?, detached = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, volumePath, id); err != nil {
		slog.Error("database_record_mount_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to record mount")
	}
	return nil
}

// RecordDetach marks a run's volume as detached.
func (r *Repository) RecordDetach(id string) error {
	slog.Info("database_record_detach", "run_id", id)

	query := `UPDATE install_runs SET detached = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, id); err != nil {
		slog.Error("database_record_detach_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to record detach")
	}
	return nil
}

// RecordExecutable stores the executable a run launched.
func (r *Repository) RecordExecutable(id, executable string) error {
	query := `UPDATE install_runs SET executable = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, executable, id); err != nil {
		slog.Error("database_record_executable_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to record executable")
	}
	return nil
}

// List retrieves runs, newest first. A limit of zero or less returns all.
func (r *Repository) List(limit int) ([]*Run, error) {
	slog.Info("database_list_runs", "limit", limit)

	query := `SELECT ` + runColumns + ` FROM install_runs ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryRuns(query, args...)
}

// ListMounted retrieves runs whose volume was never detached, oldest first.
func (r *Repository) ListMounted() ([]*Run, error) {
	slog.Info("database_list_mounted_runs")

	query := `SELECT ` + runColumns + ` FROM install_runs
		WHERE detached = 0 AND volume_path IS NOT NULL AND volume_path != ''
		ORDER BY created_at ASC, rowid ASC`
	return r.queryRuns(query)
}

// Delete deletes a run by ID
func (r *Repository) Delete(id string) error {
	slog.Info("database_delete_run", "run_id", id)

	if _, err := r.db.Exec(`DELETE FROM install_runs WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to delete run")
	}
	return nil
}

func (r *Repository) queryRuns(query string, args ...any) ([]*Run, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "run_count", len(runs))
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var imagePath, sha, bottleRoot, volumePath, executable, errorMessage sql.NullString

	err := row.Scan(
		&run.ID, &run.Image, &imagePath, &sha, &bottleRoot, &run.Status,
		&volumePath, &executable, &run.Detached, &errorMessage,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	run.ImagePath = imagePath.String
	run.SHA256 = sha.String
	run.BottleRoot = bottleRoot.String
	run.VolumePath = volumePath.String
	run.Executable = executable.String
	run.ErrorMessage = errorMessage.String
	return &run, nil
}
