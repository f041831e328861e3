package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/pledgeflow/pledgeflow/pkg/workflow"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements workflow.InstanceStore on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateInstance persists a new instance and its task set.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO instances (id, template_kind, beneficiary, contributor, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		inst.ID, inst.TemplateKind, inst.Beneficiary, inst.Contributor,
		inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	if err := insertTasks(ctx, tx, inst); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadInstance retrieves an instance and its full task set.
func (s *SQLiteStore) LoadInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	inst := &workflow.Instance{ID: id, Tasks: make(map[string]*workflow.Task)}

	err := s.db.QueryRowContext(ctx, `
		SELECT template_kind, beneficiary, contributor, version, created_at, updated_at
		FROM instances
		WHERE id = ?
	`, id).Scan(
		&inst.TemplateKind, &inst.Beneficiary, &inst.Contributor,
		&inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, title, description, kind, role, actor,
		       dependencies, ord, options, payload, completed_at, completed_by
		FROM tasks
		WHERE instance_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		inst.Tasks[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return inst, nil
}

// SaveInstance writes the full task set under an optimistic version check.
// A stale caller version yields workflow.ErrVersionConflict and no writes.
func (s *SQLiteStore) SaveInstance(ctx context.Context, inst *workflow.Instance) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var storedVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM instances WHERE id = ?`, inst.ID).Scan(&storedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ErrInstanceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read instance version: %w", err)
	}
	if storedVersion != inst.Version {
		return workflow.ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE instances
		SET version = ?, updated_at = ?
		WHERE id = ?
	`, inst.Version+1, inst.UpdatedAt, inst.ID)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE instance_id = ?`, inst.ID); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	if err := insertTasks(ctx, tx, inst); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	inst.Version++
	return nil
}

// ListInstanceIDs returns all known instance ids.
func (s *SQLiteStore) ListInstanceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM instances ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// insertTasks writes every task of the instance inside the transaction.
func insertTasks(ctx context.Context, tx *sql.Tx, inst *workflow.Instance) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (instance_id, task_id, title, description, kind, role, actor,
		                   dependencies, ord, options, payload, completed_at, completed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer stmt.Close()

	for _, task := range inst.Tasks {
		deps, err := json.Marshal(task.Dependencies)
		if err != nil {
			return fmt.Errorf("failed to encode dependencies: %w", err)
		}
		options, err := json.Marshal(task.Options)
		if err != nil {
			return fmt.Errorf("failed to encode options: %w", err)
		}
		payload, err := json.Marshal(task.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}

		var completedAt interface{}
		if task.CompletedAt != nil {
			completedAt = *task.CompletedAt
		}

		if _, err := stmt.ExecContext(ctx,
			inst.ID, task.ID, task.Title, task.Description,
			string(task.Kind), string(task.Role), task.Actor,
			string(deps), task.Order, string(options), string(payload),
			completedAt, task.CompletedBy,
		); err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}
	return nil
}

// taskScanner matches both *sql.Rows and *sql.Row.
type taskScanner interface {
	Scan(dest ...interface{}) error
}

// scanTask reads one task row.
func scanTask(scanner taskScanner) (*workflow.Task, error) {
	var (
		task        workflow.Task
		kind, role  string
		deps        string
		options     string
		payload     string
		completedAt sql.NullTime
	)

	err := scanner.Scan(
		&task.ID, &task.Title, &task.Description, &kind, &role, &task.Actor,
		&deps, &task.Order, &options, &payload, &completedAt, &task.CompletedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.Kind = workflow.TaskKind(kind)
	task.Role = workflow.Role(role)

	if err := json.Unmarshal([]byte(deps), &task.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &task.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &task.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if completedAt.Valid {
		at := completedAt.Time
		task.CompletedAt = &at
	}

	return &task, nil
}
