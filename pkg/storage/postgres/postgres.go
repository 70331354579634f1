// Package postgres provides a PostgreSQL implementation of
// transport.InvocationStore. It uses pgx/v5 for connection pooling.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/transport"
)

// Config holds connection settings for the history database.
type Config struct {
	DSN string

	// MaxConns bounds the pool. Zero means 10.
	MaxConns int32

	// MigrateOnStart applies pending migrations in New.
	MigrateOnStart bool

	// Retention drops records older than this in New. Zero keeps
	// everything.
	Retention time.Duration
}

// Store is a PostgreSQL-backed InvocationStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.InvocationStore at compile time.
var _ transport.InvocationStore = (*Store)(nil)

const selectColumns = `id, owner, tool, provider, outcome, error, started_at, duration_ms`

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	if cfg.Retention > 0 {
		n, err := s.Prune(ctx, time.Now().Add(-cfg.Retention))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if n > 0 {
			slog.Info("pruned invocation history", "records", n, "retention", cfg.Retention)
		}
	}

	return s, nil
}

// Prune deletes invocations that started before cutoff and reports how
// many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tool_invocations WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning invocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveInvocation persists a completed invocation.
func (s *Store) SaveInvocation(ctx context.Context, inv *storage.Invocation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tool_invocations (
			id, owner, tool, provider, outcome, error, started_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		inv.ID, inv.Owner, inv.Tool, inv.Provider, inv.Outcome,
		nullString(inv.Error), inv.StartedAt, inv.DurationMS,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

// GetInvocation retrieves an invocation by id, scoped by the owner in ctx.
func (s *Store) GetInvocation(ctx context.Context, id string) (*storage.Invocation, error) {
	query := `SELECT ` + selectColumns + ` FROM tool_invocations WHERE id = $1`
	args := []any{id}

	if owner := storage.GetOwner(ctx); owner != "" {
		query += " AND owner = $2"
		args = append(args, owner)
	}

	inv, err := scanInvocation(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns a page of invocations, newest first.
func (s *Store) ListInvocations(ctx context.Context, opts transport.ListOptions) (*transport.InvocationList, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if owner := storage.GetOwner(ctx); owner != "" {
		add("owner = $%d", owner)
	}
	if opts.Tool != "" {
		add("tool = $%d", opts.Tool)
	}
	if opts.Provider != "" {
		add("provider = $%d", opts.Provider)
	}
	if opts.Outcome != "" {
		add("outcome = $%d", opts.Outcome)
	}
	if opts.After != "" {
		add("(started_at, id) < (SELECT started_at, id FROM tool_invocations WHERE id = $%d)", opts.After)
	}

	limit := clampLimit(opts.Limit)
	query := `SELECT ` + selectColumns + ` FROM tool_invocations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC, id DESC LIMIT %d", limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing invocations: %w", err)
	}
	defer rows.Close()

	data := []*storage.Invocation{}
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		data = append(data, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing invocations: %w", err)
	}

	hasMore := len(data) > limit
	if hasMore {
		data = data[:limit]
	}

	result := &transport.InvocationList{
		Object:  "list",
		Data:    data,
		HasMore: hasMore,
	}
	if len(data) > 0 {
		result.FirstID = data[0].ID
		result.LastID = data[len(data)-1].ID
	}
	return result, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanInvocation(row pgx.Row) (*storage.Invocation, error) {
	var inv storage.Invocation
	var errText *string
	var started time.Time
	if err := row.Scan(
		&inv.ID, &inv.Owner, &inv.Tool, &inv.Provider, &inv.Outcome,
		&errText, &started, &inv.DurationMS,
	); err != nil {
		return nil, err
	}
	inv.StartedAt = started.UTC()
	if errText != nil {
		inv.Error = *errText
	}
	return &inv, nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func clampLimit(n int) int {
	if n <= 0 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
}
