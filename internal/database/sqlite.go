package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"drivesync/internal/database/migrations"
	"drivesync/internal/ds"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements ds.TrackingStore using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and migrates it to the latest
// schema. path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, &ds.StoreError{Op: "open", Err: err}
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, &ds.StoreError{Op: "migrate", Err: err}
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection. Writes are
// serialized through a single connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys = ON"}
	if path != ":memory:" {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = FULL",
		)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// Operations

func (s *SQLiteDatabase) StartOperation(op ds.SyncOperation) (int64, error) {
	trigger := op.Trigger
	if trigger == "" {
		trigger = ds.TriggerManual
	}

	res, err := s.db.ExecContext(context.Background(), `
		INSERT INTO sync_operations
			(group_id, operation_type, trigger_source, source_path, destination_path, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.GroupID, op.OperationType, trigger, op.SourcePath, op.DestinationPath,
		op.StartedAt.UnixNano(), ds.StatusInProgress)
	if err != nil {
		return 0, &ds.StoreError{Op: "start operation", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &ds.StoreError{Op: "start operation", Err: err}
	}
	return id, nil
}

func (s *SQLiteDatabase) CompleteOperation(id int64, result ds.OperationResult) error {
	if result.Status == ds.StatusInProgress || result.Status == "" {
		return &ds.StoreError{Op: "complete operation", Err: fmt.Errorf("invalid final status %q", result.Status)}
	}

	res, err := s.db.ExecContext(context.Background(), `
		UPDATE sync_operations
		SET status = ?, completed_at = ?, files_copied = ?, bytes_copied = ?,
			duration_seconds = ?, error_message = ?
		WHERE id = ? AND status = ?`,
		result.Status, result.CompletedAt.UnixNano(), result.FilesCopied, result.BytesCopied,
		result.Duration.Seconds(), result.ErrorMessage, id, ds.StatusInProgress)
	if err != nil {
		return &ds.StoreError{Op: "complete operation", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &ds.StoreError{Op: "complete operation", Err: err}
	}
	if n == 0 {
		return &ds.StoreError{Op: "complete operation", Err: fmt.Errorf("operation %d is not in progress", id)}
	}
	return nil
}

const operationColumns = `id, group_id, operation_type, trigger_source, source_path, destination_path,
	started_at, completed_at, status, files_copied, bytes_copied, duration_seconds, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*ds.SyncOperation, error) {
	var (
		op        ds.SyncOperation
		started   int64
		completed sql.NullInt64
	)
	err := row.Scan(&op.ID, &op.GroupID, &op.OperationType, &op.Trigger, &op.SourcePath,
		&op.DestinationPath, &started, &completed, &op.Status, &op.FilesCopied,
		&op.BytesCopied, &op.DurationSeconds, &op.ErrorMessage)
	if err != nil {
		return nil, err
	}

	op.StartedAt = time.Unix(0, started).UTC()
	if completed.Valid {
		t := time.Unix(0, completed.Int64).UTC()
		op.CompletedAt = &t
	}
	return &op, nil
}

func (s *SQLiteDatabase) GetOperation(id int64) (*ds.SyncOperation, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+operationColumns+` FROM sync_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &ds.StoreError{Op: "get operation", Err: err}
	}
	return op, nil
}

func (s *SQLiteDatabase) History(groupID string, limit int) ([]*ds.SyncOperation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+operationColumns+` FROM sync_operations
		WHERE group_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, &ds.StoreError{Op: "history", Err: err}
	}
	defer rows.Close()

	var ops []*ds.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, &ds.StoreError{Op: "history", Err: err}
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, &ds.StoreError{Op: "history", Err: err}
	}
	return ops, nil
}

// MaxOperationID returns the highest operation id, or 0 for an empty database.
// It doubles as the version of catalog snapshots.
func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(context.Background(), `SELECT MAX(id) FROM sync_operations`).Scan(&id)
	if err != nil {
		return 0, &ds.StoreError{Op: "max operation id", Err: err}
	}
	return id.Int64, nil
}

// Files

func (s *SQLiteDatabase) TrackFile(rec ds.FileRecord) error {
	var opID sql.NullInt64
	if rec.SyncOperationID != 0 {
		opID = sql.NullInt64{Int64: rec.SyncOperationID, Valid: true}
	}

	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO file_tracking
			(group_id, relative_path, file_size, checksum, last_synced, last_modified, sync_operation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (group_id, relative_path) DO UPDATE SET
			file_size = excluded.file_size,
			checksum = excluded.checksum,
			last_synced = excluded.last_synced,
			last_modified = excluded.last_modified,
			sync_operation_id = excluded.sync_operation_id`,
		rec.GroupID, rec.RelativePath, rec.FileSize, rec.Checksum,
		rec.LastSynced.UnixNano(), rec.LastModified.UnixNano(), opID)
	if err != nil {
		return &ds.StoreError{Op: "track file", Err: err}
	}
	return nil
}

const fileColumns = `group_id, relative_path, file_size, checksum, last_synced, last_modified, sync_operation_id`

func scanFile(row rowScanner) (*ds.FileRecord, error) {
	var (
		rec         ds.FileRecord
		synced, mod int64
		opID        sql.NullInt64
	)
	if err := row.Scan(&rec.GroupID, &rec.RelativePath, &rec.FileSize, &rec.Checksum, &synced, &mod, &opID); err != nil {
		return nil, err
	}
	rec.LastSynced = time.Unix(0, synced).UTC()
	rec.LastModified = time.Unix(0, mod).UTC()
	rec.SyncOperationID = opID.Int64
	return &rec, nil
}

func (s *SQLiteDatabase) GetFile(groupID, relativePath string) (*ds.FileRecord, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT `+fileColumns+` FROM file_tracking WHERE group_id = ? AND relative_path = ?`,
		groupID, relativePath)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &ds.StoreError{Op: "get file", Err: err}
	}
	return rec, nil
}

// escapeLike escapes LIKE wildcards so a path prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLiteDatabase) UntrackFile(groupID, relativePath string) error {
	_, err := s.db.ExecContext(context.Background(), `
		DELETE FROM file_tracking
		WHERE group_id = ? AND (relative_path = ? OR relative_path LIKE ? ESCAPE '\')`,
		groupID, relativePath, escapeLike(relativePath)+"/%")
	if err != nil {
		return &ds.StoreError{Op: "untrack file", Err: err}
	}
	return nil
}

func (s *SQLiteDatabase) NeedsSync(groupID, relativePath string, size int64, modTime time.Time, checksum string) (bool, error) {
	rec, err := s.GetFile(groupID, relativePath)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.FileSize != size {
		return true, nil
	}
	if rec.LastModified.Equal(modTime) {
		return false, nil
	}
	// Touched but unchanged content does not need a copy.
	if checksum != "" && checksum == rec.Checksum {
		return false, nil
	}
	return true, nil
}

func (s *SQLiteDatabase) OperationFiles(operationID int64) ([]*ds.FileRecord, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT `+fileColumns+` FROM file_tracking WHERE sync_operation_id = ? ORDER BY relative_path`,
		operationID)
	if err != nil {
		return nil, &ds.StoreError{Op: "operation files", Err: err}
	}
	defer rows.Close()

	var files []*ds.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, &ds.StoreError{Op: "operation files", Err: err}
		}
		files = append(files, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &ds.StoreError{Op: "operation files", Err: err}
	}
	return files, nil
}

func (s *SQLiteDatabase) ClearGroup(groupID string) error {
	if _, err := s.db.ExecContext(context.Background(),
		`DELETE FROM file_tracking WHERE group_id = ?`, groupID); err != nil {
		return &ds.StoreError{Op: "clear group", Err: err}
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return &ds.StoreError{Op: "backup", Err: err}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ ds.TrackingStore = (*SQLiteDatabase)(nil)

// ErrStore is matched by every error this package returns from a store operation.
var ErrStore = ds.ErrStore
