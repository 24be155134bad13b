package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/raaihank/phi-sentinel/internal/config"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    timestamp_ns    INTEGER NOT NULL,
    user_id         TEXT NOT NULL,
    action          TEXT NOT NULL,
    risk_level      TEXT NOT NULL,
    payload         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp_ns);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
    seq             BIGSERIAL PRIMARY KEY,
    id              TEXT NOT NULL UNIQUE,
    timestamp_ns    BIGINT NOT NULL,
    user_id         TEXT NOT NULL,
    action          TEXT NOT NULL,
    risk_level      TEXT NOT NULL,
    payload         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp_ns);
`

// eventRow is the stored form of an Event. The full event is kept as JSON in
// payload; the other columns exist for ad hoc queries.
type eventRow struct {
	Seq         int64  `db:"seq"`
	ID          string `db:"id"`
	TimestampNs int64  `db:"timestamp_ns"`
	UserID      string `db:"user_id"`
	Action      string `db:"action"`
	RiskLevel   string `db:"risk_level"`
	Payload     string `db:"payload"`
}

// SQLStore keeps the audit log in PostgreSQL or SQLite
type SQLStore struct {
	db       *sqlx.DB
	capacity int
	logger   *zap.Logger
}

// NewSQLStore opens the database selected by cfg.Backend and creates the
// schema when missing.
func NewSQLStore(cfg config.StorageConfig, log *zap.Logger) (*SQLStore, error) {
	var driver, dsn, schema string
	switch cfg.Backend {
	case "postgres":
		driver, dsn, schema = "postgres", cfg.DatabaseURL, postgresSchema
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		driver, dsn, schema = "sqlite3", cfg.SQLitePath+"?_journal_mode=WAL&_busy_timeout=5000", sqliteSchema
	default:
		return nil, fmt.Errorf("unsupported SQL backend: %s", cfg.Backend)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultStorageCapacity
	}
	store := &SQLStore{db: db, capacity: capacity, logger: log}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("SQL audit store initialized",
		zap.String("driver", driver),
		zap.String("database_url", maskURL(dsn)),
		zap.Int("capacity", capacity))

	return store, nil
}

// Persist inserts event and drops rows beyond capacity in one transaction
func (s *SQLStore) Persist(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	row := eventRow{
		ID:          event.ID,
		TimestampNs: event.Timestamp.UnixNano(),
		UserID:      event.UserID,
		Action:      string(event.Action),
		RiskLevel:   string(event.RiskLevel),
		Payload:     string(payload),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO audit_events (id, timestamp_ns, user_id, action, risk_level, payload)
		VALUES (:id, :timestamp_ns, :user_id, :action, :risk_level, :payload)`
	if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	trim := tx.Rebind(`
		DELETE FROM audit_events
		WHERE seq NOT IN (SELECT seq FROM audit_events ORDER BY seq DESC LIMIT ?)`)
	if _, err := tx.ExecContext(ctx, trim, s.capacity); err != nil {
		return fmt.Errorf("failed to trim audit events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit event: %w", err)
	}
	return nil
}

// LoadAll reads the stored events newest first
func (s *SQLStore) LoadAll(ctx context.Context) ([]Event, error) {
	var rows []eventRow
	query := s.db.Rebind(`
		SELECT seq, id, timestamp_ns, user_id, action, risk_level, payload
		FROM audit_events
		ORDER BY seq DESC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, s.capacity); err != nil {
		return nil, fmt.Errorf("failed to load audit events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		var e Event
		if err := json.Unmarshal([]byte(row.Payload), &e); err != nil {
			s.logger.Warn("Skipping corrupted audit row",
				zap.Int64("seq", row.Seq),
				zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Count returns the number of stored rows
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM audit_events"); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
