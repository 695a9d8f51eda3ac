// Package postgres persists pipeline runs and serves training rows from
// PostgreSQL. Run records live in the pipeline_run table with the stage
// history stored as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"model-pipeline-service/internal/core/domain"
	"model-pipeline-service/internal/core/ports/output"
)

type pipelineRunRepo struct {
	pool *pgxpool.Pool
}

func NewPipelineRunRepository(pool *pgxpool.Pool) ports.PipelineRunRepository {
	return &pipelineRunRepo{pool: pool}
}

func (r *pipelineRunRepo) Create(ctx context.Context, run *domain.PipelineRun) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal stage results: %w", err)
	}

	query := `
		INSERT INTO pipeline_run
			(id, stage, started_at, ended_at, trigger_source, trigger_commit,
			 trigger_actor, stages, artifact_version, metric, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID, string(run.Stage), run.StartedAt, run.EndedAt,
		run.Trigger.Source, run.Trigger.Commit, run.Trigger.Actor,
		stagesJSON, run.ArtifactVersion, run.Metric, run.Reason,
	)
	if err != nil {
		return fmt.Errorf("create pipeline run: %w", err)
	}
	return nil
}

func (r *pipelineRunRepo) Update(ctx context.Context, run *domain.PipelineRun) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal stage results: %w", err)
	}

	query := `
		UPDATE pipeline_run
		SET stage=$1, ended_at=$2, stages=$3, artifact_version=$4,
			metric=$5, reason=$6
		WHERE id=$7
	`
	result, err := r.pool.Exec(ctx, query,
		string(run.Stage), run.EndedAt, stagesJSON,
		run.ArtifactVersion, run.Metric, run.Reason, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update pipeline run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *pipelineRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	query := `
		SELECT id, stage, started_at, ended_at, trigger_source, trigger_commit,
			   trigger_actor, stages, artifact_version, metric, reason
		FROM pipeline_run
		WHERE id = $1
	`
	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("get pipeline run by id: %w", err)
	}
	return run, nil
}

func (r *pipelineRunRepo) List(ctx context.Context, filter ports.RunListFilter) ([]*domain.PipelineRun, int, error) {
	conditions := []string{}
	args := []interface{}{}
	argPos := 1

	if filter.Stage != "" {
		conditions = append(conditions, fmt.Sprintf("stage = $%d", argPos))
		args = append(args, filter.Stage)
		argPos++
	}

	whereClause := "1=1"
	if len(conditions) > 0 {
		whereClause = strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM pipeline_run WHERE %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pipeline runs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, stage, started_at, ended_at, trigger_source, trigger_commit,
			   trigger_actor, stages, artifact_version, metric, reason
		FROM pipeline_run
		WHERE %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan pipeline run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate pipeline run rows: %w", err)
	}

	return runs, total, nil
}

func scanRun(row pgx.Row) (*domain.PipelineRun, error) {
	run := &domain.PipelineRun{}
	var stagesJSON []byte

	err := row.Scan(
		&run.ID, &run.Stage, &run.StartedAt, &run.EndedAt,
		&run.Trigger.Source, &run.Trigger.Commit, &run.Trigger.Actor,
		&stagesJSON, &run.ArtifactVersion, &run.Metric, &run.Reason,
	)
	if err != nil {
		return nil, err
	}

	if len(stagesJSON) > 0 {
		if err := json.Unmarshal(stagesJSON, &run.Stages); err != nil {
			return nil, fmt.Errorf("unmarshal stage results: %w", err)
		}
	}
	return run, nil
}
