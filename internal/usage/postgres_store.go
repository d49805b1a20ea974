package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the relational backend, for deployments that already run
// Postgres instead of a document store. Same contract, same non-atomic
// read-modify-write semantics.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, email, bucket string) (*Record, error) {
	query := `
		SELECT email, bucket, total_cost, request_count, last_updated
		FROM usage_records
		WHERE email = $1 AND bucket = $2
	`

	var rec Record
	err := s.db.QueryRow(ctx, query, email, bucket).Scan(
		&rec.Email, &rec.Bucket, &rec.TotalCost, &rec.RequestCount, &rec.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}

	return &rec, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO usage_records (email, bucket, total_cost, request_count, last_updated)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.Exec(ctx, query,
		rec.Email, rec.Bucket, rec.TotalCost, rec.RequestCount, rec.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *Record) error {
	query := `
		UPDATE usage_records
		SET total_cost = $3, request_count = $4, last_updated = $5
		WHERE email = $1 AND bucket = $2
	`
	tag, err := s.db.Exec(ctx, query,
		rec.Email, rec.Bucket, rec.TotalCost, rec.RequestCount, rec.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to update usage record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

var postgresSortColumns = map[string]string{
	"email":        "email",
	"bucket":       "bucket",
	"totalCost":    "total_cost",
	"requestCount": "request_count",
	"lastUpdated":  "last_updated",
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if opts.Email != "" {
		args = append(args, opts.Email)
		where = append(where, fmt.Sprintf("email = $%d", len(args)))
	}
	if opts.Bucket != "" {
		args = append(args, opts.Bucket)
		where = append(where, fmt.Sprintf("bucket = $%d", len(args)))
	}

	query := `SELECT email, bucket, total_cost, request_count, last_updated FROM usage_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	if opts.Sort != "" {
		field := strings.TrimPrefix(opts.Sort, "-")
		column, ok := postgresSortColumns[field]
		if !ok {
			return nil, fmt.Errorf("unsortable field: %s", field)
		}
		query += " ORDER BY " + column
		if strings.HasPrefix(opts.Sort, "-") {
			query += " DESC"
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, opts.Skip)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		err := rows.Scan(&rec.Email, &rec.Bucket, &rec.TotalCost, &rec.RequestCount, &rec.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}
