package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

// EpisodeRepository is the append-only episode log.
type EpisodeRepository struct {
	db *sql.DB
}

func NewEpisodeRepository(db *sql.DB) *EpisodeRepository {
	return &EpisodeRepository{db: db}
}

func (r *EpisodeRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS rag_episodes (
	episode_id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	iterations_used INT NOT NULL,
	final_quality DOUBLE PRECISION NOT NULL,
	degraded BOOLEAN NOT NULL,
	strategies JSONB NOT NULL DEFAULT '[]'::jsonb,
	iterations JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rag_episodes_finished_at ON rag_episodes(finished_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *EpisodeRepository) RecordEpisode(ctx context.Context, event domain.EpisodeEvent) error {
	strategies, err := json.Marshal(event.Strategies)
	if err != nil {
		return fmt.Errorf("marshal strategies: %w", err)
	}
	iterations, err := json.Marshal(event.Iterations)
	if err != nil {
		return fmt.Errorf("marshal iterations: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO rag_episodes (
	episode_id, query, iterations_used, final_quality, degraded, strategies, iterations, error_message, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (episode_id) DO NOTHING
`,
		event.EpisodeID, event.Query, event.IterationsUsed, event.FinalQuality, event.Degraded,
		strategies, iterations, event.Error, event.StartedAt, event.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

func (r *EpisodeRepository) GetEpisode(ctx context.Context, id string) (domain.EpisodeEvent, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT episode_id, query, iterations_used, final_quality, degraded, strategies, iterations, COALESCE(error_message, ''), started_at, finished_at
FROM rag_episodes
WHERE episode_id = $1
`, id)

	var (
		event                   domain.EpisodeEvent
		strategiesRaw, itersRaw []byte
	)
	err := row.Scan(
		&event.EpisodeID, &event.Query, &event.IterationsUsed, &event.FinalQuality, &event.Degraded,
		&strategiesRaw, &itersRaw, &event.Error, &event.StartedAt, &event.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EpisodeEvent{}, domain.WrapError(domain.ErrEpisodeNotFound, "get episode", fmt.Errorf("episode %s", id))
		}
		return domain.EpisodeEvent{}, fmt.Errorf("scan episode: %w", err)
	}
	if err := json.Unmarshal(strategiesRaw, &event.Strategies); err != nil {
		return domain.EpisodeEvent{}, fmt.Errorf("unmarshal strategies: %w", err)
	}
	if err := json.Unmarshal(itersRaw, &event.Iterations); err != nil {
		return domain.EpisodeEvent{}, fmt.Errorf("unmarshal iterations: %w", err)
	}
	return event, nil
}
