package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level settings.
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
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

// Migrate runs the embedded schema migrations.
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

// SchemaVersion returns the applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (uint, bool, error) {
	var version uint
	var dirty bool
	err := s.db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// LoadEvents returns the events of one aggregate after afterSeq.
func (s *SQLiteStore) LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterSeq int64) ([]engine.EventRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.load_events", telemetry.AttrAggregate.String(aggregateType))
	defer span.End()

	query := `
		SELECT id, aggregate_type, aggregate_id, seq, type, payload, recorded_at
		FROM events
		WHERE aggregate_type = ? AND aggregate_id = ? AND seq > ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, aggregateType, aggregateID, afterSeq)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	records := []engine.EventRecord{}
	for rows.Next() {
		var rec engine.EventRecord
		var payload string
		if err := rows.Scan(
			&rec.ID,
			&rec.AggregateType,
			&rec.AggregateID,
			&rec.Seq,
			&rec.Type,
			&payload,
			&rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return records, nil
}

// AppendEvents writes records in one transaction. The first record must
// follow the current tail of its aggregate log.
func (s *SQLiteStore) AppendEvents(ctx context.Context, records []engine.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "store.append_events", telemetry.AttrAggregate.String(records[0].AggregateType))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	first := records[0]
	var tail int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		first.AggregateType, first.AggregateID,
	).Scan(&tail); err != nil {
		return fmt.Errorf("failed to read log tail: %w", err)
	}
	if first.Seq != tail+1 {
		return errSeqConflict(first.AggregateType, first.AggregateID, first.Seq)
	}

	query := `
		INSERT INTO events (id, aggregate_type, aggregate_id, seq, type, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, rec := range records {
		_, err := tx.ExecContext(ctx, query,
			rec.ID,
			rec.AggregateType,
			rec.AggregateID,
			rec.Seq,
			rec.Type,
			string(rec.Payload),
			rec.RecordedAt.UTC(),
		)
		if isUniqueViolation(err) {
			return errSeqConflict(rec.AggregateType, rec.AggregateID, rec.Seq)
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// CreateInstance stores a new workflow instance with its first history entry.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *engine.Instance, entry *engine.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO workflows (workflow, instance_id, step, status, state, version, started_at, deadline, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		inst.Workflow,
		inst.InstanceID,
		inst.Step,
		inst.Status,
		string(inst.State),
		inst.Version,
		inst.StartedAt.UTC(),
		inst.Deadline.UTC(),
		inst.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return errInstanceExists(inst.Workflow, inst.InstanceID)
	}
	if err != nil {
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}

	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow instance: %w", err)
	}
	return nil
}

// GetInstance retrieves a workflow instance.
func (s *SQLiteStore) GetInstance(ctx context.Context, workflow, instanceID string) (*engine.Instance, error) {
	query := `
		SELECT workflow, instance_id, step, status, state, version, started_at, deadline, updated_at
		FROM workflows
		WHERE workflow = ? AND instance_id = ?
	`

	inst, err := scanInstance(s.db.QueryRowContext(ctx, query, workflow, instanceID))
	if err == sql.ErrNoRows {
		return nil, errInstanceNotFound(workflow, instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance replaces a snapshot guarded by its version and appends the
// history entry in the same transaction.
func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *engine.Instance, expectedVersion int64, entry *engine.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE workflows
		SET step = ?, status = ?, state = ?, version = ?, updated_at = ?
		WHERE workflow = ? AND instance_id = ? AND version = ?
	`
	result, err := tx.ExecContext(ctx, query,
		inst.Step,
		inst.Status,
		string(inst.State),
		expectedVersion+1,
		inst.UpdatedAt.UTC(),
		inst.Workflow,
		inst.InstanceID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow instance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM workflows WHERE workflow = ? AND instance_id = ?`,
			inst.Workflow, inst.InstanceID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check workflow instance: %w", err)
		}
		if exists == 0 {
			return errInstanceNotFound(inst.Workflow, inst.InstanceID)
		}
		return errVersionConflict(inst.Workflow, inst.InstanceID, expectedVersion)
	}

	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow transition: %w", err)
	}
	inst.Version = expectedVersion + 1
	return nil
}

// ListActiveInstances returns running instances of a workflow.
func (s *SQLiteStore) ListActiveInstances(ctx context.Context, workflow string) ([]*engine.Instance, error) {
	query := `
		SELECT workflow, instance_id, step, status, state, version, started_at, deadline, updated_at
		FROM workflows
		WHERE workflow = ? AND status = ?
		ORDER BY started_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workflow, engine.InstanceStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	defer rows.Close()

	instances := []*engine.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow instances: %w", err)
	}

	return instances, nil
}

// ListHistory returns the transitions of an instance ordered by version.
func (s *SQLiteStore) ListHistory(ctx context.Context, workflow, instanceID string) ([]*engine.HistoryEntry, error) {
	query := `
		SELECT id, workflow, instance_id, version, step, outcome, message, next_step, code, recorded_at
		FROM workflow_history
		WHERE workflow = ? AND instance_id = ?
		ORDER BY version ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workflow, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow history: %w", err)
	}
	defer rows.Close()

	entries := []*engine.HistoryEntry{}
	for rows.Next() {
		entry := &engine.HistoryEntry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.Workflow,
			&entry.InstanceID,
			&entry.Version,
			&entry.Step,
			&entry.Outcome,
			&entry.Message,
			&entry.NextStep,
			&entry.Code,
			&entry.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow history: %w", err)
	}

	return entries, nil
}

// CreateAuditEntry creates a new audit log entry.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *engine.AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, result, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Result,
		entry.Details,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first. An empty action
// matches every entry.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action string, limit, offset int) ([]*engine.AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, result, details, timestamp
		FROM audit
		WHERE (? = '' OR action = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*engine.AuditEntry{}
	for rows.Next() {
		entry := &engine.AuditEntry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Result,
			&entry.Details,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*engine.Instance, error) {
	inst := &engine.Instance{}
	var state string
	err := row.Scan(
		&inst.Workflow,
		&inst.InstanceID,
		&inst.Step,
		&inst.Status,
		&state,
		&inst.Version,
		&inst.StartedAt,
		&inst.Deadline,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.State = []byte(state)
	return inst, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry *engine.HistoryEntry) error {
	query := `
		INSERT INTO workflow_history (id, workflow, instance_id, version, step, outcome, message, next_step, code, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.Workflow,
		entry.InstanceID,
		entry.Version,
		entry.Step,
		string(entry.Outcome),
		entry.Message,
		entry.NextStep,
		entry.Code,
		entry.RecordedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return errVersionConflict(entry.Workflow, entry.InstanceID, entry.Version-1)
	}
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}
