package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"atbadges/internal/database"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// BaseRepository provides common database operations shared by repositories
type BaseRepository struct {
	db     *database.Manager
	logger *zap.Logger
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *database.Manager, logger *zap.Logger) *BaseRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseRepository{
		db:     db,
		logger: logger,
	}
}

// ===============================
// CORE DATABASE OPERATIONS
// ===============================

// ExecContext executes a statement through the instrumented manager
func (r *BaseRepository) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.db.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows
func (r *BaseRepository) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query that returns a single row
func (r *BaseRepository) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a new transaction
func (r *BaseRepository) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, opts)
}

// WithTransaction executes a function within a database transaction. Any
// error or panic from fn rolls back every write made through tx.
func (r *BaseRepository) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("cause", err),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ===============================
// BULK OPERATIONS
// ===============================

// BulkInsertTx inserts rows in a single statement inside tx
func (r *BaseRepository) BulkInsertTx(ctx context.Context, tx *sql.Tx, table string, columns []string, values [][]interface{}) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	query, args, err := buildBulkInsert(table, columns, values)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert into %s: %w", table, err)
	}

	return result.RowsAffected()
}

func buildBulkInsert(table string, columns []string, values [][]interface{}) (string, []interface{}, error) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, 0, len(values)*len(columns))
	argIndex := 1

	for i, row := range values {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(columns))
		}
		rowPlaceholders := make([]string, len(columns))
		for j := range columns {
			rowPlaceholders[j] = fmt.Sprintf("$%d", argIndex)
			args = append(args, row[j])
			argIndex++
		}
		placeholders[i] = "(" + strings.Join(rowPlaceholders, ", ") + ")"
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	return query, args, nil
}

// ===============================
// UTILITY METHODS
// ===============================

// IsNotFound checks if error is a not found error
func (r *BaseRepository) IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// NewID returns a random UUID string for primary keys
func NewID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// emptyAsNull stores empty optional text as NULL
func emptyAsNull(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
