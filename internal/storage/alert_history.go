package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/registry-monitor/internal/model"
)

// HistoryFilter narrows List and Count. Zero fields match everything.
type HistoryFilter struct {
	Path      string
	Backend   string
	Delivered *bool
}

// AlertHistoryStorage defines the interface for delivery history storage
type AlertHistoryStorage interface {
	// StoreDelivery stores a delivery attempt
	StoreDelivery(ctx context.Context, d *model.Delivery) error

	// Get retrieves a delivery attempt by ID, nil when absent
	Get(ctx context.Context, id string) (*model.Delivery, error)

	// List retrieves delivery attempts, newest first
	List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*model.Delivery, error)

	// Count returns the number of attempts matching filter
	Count(ctx context.Context, filter HistoryFilter) (int, error)

	// DeleteBefore deletes attempts older than before
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteAlertHistory implements AlertHistoryStorage using SQLite
type SQLiteAlertHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAlertHistory opens (or creates) the history database at dbPath
func NewSQLiteAlertHistory(logger *zap.Logger, dbPath string) (*SQLiteAlertHistory, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Deliveries are written from several goroutines; sqlite serialises writers anyway.
	db.SetMaxOpenConns(1)

	storage := &SQLiteAlertHistory{
		logger: logger.Named("history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

func (s *SQLiteAlertHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_history (
			id TEXT PRIMARY KEY,
			notification_id TEXT NOT NULL,
			path TEXT NOT NULL,
			backend TEXT NOT NULL,
			state TEXT NOT NULL,
			message TEXT,
			delivered INTEGER NOT NULL,
			error TEXT,
			sent_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_alert_history_path ON alert_history(path);
		CREATE INDEX IF NOT EXISTS idx_alert_history_backend ON alert_history(backend);
		CREATE INDEX IF NOT EXISTS idx_alert_history_sent_at ON alert_history(sent_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// StoreDelivery implements AlertHistoryStorage.StoreDelivery
func (s *SQLiteAlertHistory) StoreDelivery(ctx context.Context, d *model.Delivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history (
			id, notification_id, path, backend, state, message, delivered, error, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.NotificationID,
		d.Path,
		d.Backend,
		string(d.State),
		d.Message,
		d.Delivered,
		sql.NullString{String: d.Error, Valid: d.Error != ""},
		d.SentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store delivery: %w", err)
	}
	return nil
}

const selectColumns = "SELECT id, notification_id, path, backend, state, message, delivered, error, sent_at FROM alert_history"

// Get implements AlertHistoryStorage.Get
func (s *SQLiteAlertHistory) Get(ctx context.Context, id string) (*model.Delivery, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	d, err := scanDelivery(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan delivery: %w", err)
	}
	return d, nil
}

// List implements AlertHistoryStorage.List
func (s *SQLiteAlertHistory) List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*model.Delivery, error) {
	where, args := filter.clause()
	query := selectColumns + where + " ORDER BY sent_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return deliveries, nil
}

// Count implements AlertHistoryStorage.Count
func (s *SQLiteAlertHistory) Count(ctx context.Context, filter HistoryFilter) (int, error) {
	where, args := filter.clause()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}

// DeleteBefore implements AlertHistoryStorage.DeleteBefore
func (s *SQLiteAlertHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alert_history WHERE sent_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete deliveries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old delivery records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteAlertHistory) Close() error {
	return s.db.Close()
}

func (f HistoryFilter) clause() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.Path != "" {
		conds = append(conds, "path = ?")
		args = append(args, f.Path)
	}
	if f.Backend != "" {
		conds = append(conds, "backend = ?")
		args = append(args, f.Backend)
	}
	if f.Delivered != nil {
		conds = append(conds, "delivered = ?")
		args = append(args, *f.Delivered)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDelivery(row scanner) (*model.Delivery, error) {
	var d model.Delivery
	var state string
	var message, errorStr sql.NullString

	err := row.Scan(
		&d.ID,
		&d.NotificationID,
		&d.Path,
		&d.Backend,
		&state,
		&message,
		&d.Delivered,
		&errorStr,
		&d.SentAt,
	)
	if err != nil {
		return nil, err
	}

	d.State = model.State(state)
	d.Message = message.String
	d.Error = errorStr.String
	return &d, nil
}
