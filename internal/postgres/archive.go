package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/postgres/migrations"
	"github.com/ramiqadoumi/agentq/internal/result"
)

// ResultArchive keeps every terminal result beyond the broker's TTL.
type ResultArchive interface {
	result.Sink
	ListRecent(ctx context.Context, agentType domain.AgentType, limit int) ([]*domain.Result, error)
}

type archive struct {
	pool *pgxpool.Pool
}

// NewArchive wraps a pgxpool with the ResultArchive interface.
func NewArchive(pool *pgxpool.Pool) ResultArchive {
	return &archive{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies every embedded migration in order. Each file is idempotent.
// applied is called after each file, and may be nil.
func Migrate(ctx context.Context, pool *pgxpool.Pool, applied func(name string)) error {
	files, err := migrations.Files()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, f := range files {
		sql, err := migrations.FS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
		if applied != nil {
			applied(f)
		}
	}
	return nil
}

func (a *archive) Name() string { return "postgres" }

// Record upserts so a redelivered result overwrites rather than fails.
func (a *archive) Record(ctx context.Context, res *domain.Result) error {
	var output []byte
	if len(res.Output) > 0 {
		output = res.Output
	}
	_, err := a.pool.Exec(ctx, `
		INSERT INTO task_results
			(id, agent_type, description, priority, status, created_at, started_at, completed_at, output, error)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			output = EXCLUDED.output,
			error = EXCLUDED.error
	`,
		res.ID, string(res.AgentType), res.Description, string(res.Priority), string(res.Status),
		res.CreatedAt, res.StartedAt, res.CompletedAt, output, res.Error,
	)
	if err != nil {
		return fmt.Errorf("archive result %s: %w", res.ID, err)
	}
	return nil
}

// ListRecent returns the newest results first. An empty agentType means all.
func (a *archive) ListRecent(ctx context.Context, agentType domain.AgentType, limit int) ([]*domain.Result, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.pool.Query(ctx, `
		SELECT id, agent_type, description, priority, status,
		       created_at, started_at, completed_at, output, error
		FROM task_results
		WHERE $1 = '' OR agent_type = $1
		ORDER BY completed_at DESC
		LIMIT $2
	`, string(agentType), limit)
	if err != nil {
		return nil, fmt.Errorf("list results for %q: %w", agentType, err)
	}
	defer rows.Close()

	var out []*domain.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanResult(row pgx.Row) (*domain.Result, error) {
	var (
		res                         domain.Result
		agentType, priority, status string
		output                      []byte
	)
	err := row.Scan(
		&res.ID, &agentType, &res.Description, &priority, &status,
		&res.CreatedAt, &res.StartedAt, &res.CompletedAt, &output, &res.Error,
	)
	if err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}
	res.AgentType = domain.AgentType(agentType)
	res.Priority = domain.Priority(priority)
	res.Status = domain.Status(status)
	if len(output) > 0 {
		res.Output = json.RawMessage(output)
	}
	return &res, nil
}
