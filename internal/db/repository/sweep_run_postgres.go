package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eyupikiz-lgtm/QuantAup/internal/db"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

const sweepRunColumns = `
	id, request, status, progress, result, error,
	created_at, started_at, completed_at
`

// sweepRunRepo implements SweepRunRepository using PostgreSQL.
type sweepRunRepo struct {
	pool *db.Pool
}

// NewSweepRunRepository creates a new PostgreSQL sweep run repository.
func NewSweepRunRepository(pool *db.Pool) SweepRunRepository {
	return &sweepRunRepo{pool: pool}
}

// Create creates a new sweep run.
func (r *sweepRunRepo) Create(ctx context.Context, run *domain.SweepRun) error {
	requestJSON, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	progressJSON, err := json.Marshal(run.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	query := `
		INSERT INTO sweep_runs (
			id, symbol, timeframe, request, status, progress,
			created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Request.Symbol,
		run.Request.Timeframe.String(),
		requestJSON,
		run.Status.String(),
		progressJSON,
		run.CreatedAt,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sweep run: %w", err)
	}

	return nil
}

// GetByID retrieves a sweep run by ID.
func (r *sweepRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SweepRun, error) {
	query := `SELECT ` + sweepRunColumns + ` FROM sweep_runs WHERE id = $1`

	run, err := scanSweepRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("sweep_run", id.String())
		}
		return nil, err
	}
	return run, nil
}

// List lists sweep runs with filters and pagination, newest first.
func (r *sweepRunRepo) List(ctx context.Context, query domain.SweepListQuery) ([]*domain.SweepRun, int, error) {
	query.SetDefaults()

	var conditions []string
	var args []interface{}
	argNum := 1

	if query.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, query.Status.String())
		argNum++
	}
	if query.Symbol != "" {
		conditions = append(conditions, fmt.Sprintf("symbol = $%d", argNum))
		args = append(args, query.Symbol)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sweep_runs %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count sweep runs: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM sweep_runs
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, sweepRunColumns, whereClause, argNum, argNum+1)
	args = append(args, query.PageSize, query.Offset())

	rows, err := r.pool.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.SweepRun
	for rows.Next() {
		run, err := scanSweepRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sweep run rows: %w", err)
	}

	return runs, totalCount, nil
}

// MarkRunning moves a pending run to running.
func (r *sweepRunRepo) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE sweep_runs SET
			status = 'running',
			started_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, id, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark sweep run running: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("pending sweep_run", id.String())
	}
	return nil
}

// UpdateProgress stores the latest progress snapshot.
func (r *sweepRunRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress domain.Progress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	result, err := r.pool.Exec(ctx,
		`UPDATE sweep_runs SET progress = $2 WHERE id = $1`,
		id, progressJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update sweep progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("sweep_run", id.String())
	}
	return nil
}

// Finish moves a run to a terminal status with its result or error.
func (r *sweepRunRepo) Finish(
	ctx context.Context,
	id uuid.UUID,
	status domain.SweepStatus,
	result *domain.OptimizationResult,
	errMsg *string,
) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", domain.ErrInvalidInput, status)
	}

	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	query := `
		UPDATE sweep_runs SET
			status = $2,
			result = $3,
			error = $4,
			completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
	`

	tag, err := r.pool.Exec(ctx, query, id, status.String(), resultJSON, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish sweep run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("active sweep_run", id.String())
	}
	return nil
}

// FailInterrupted fails every run left pending or running by a previous process.
func (r *sweepRunRepo) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	query := `
		UPDATE sweep_runs SET
			status = 'failed',
			error = $1,
			completed_at = NOW()
		WHERE status IN ('pending', 'running')
	`

	tag, err := r.pool.Exec(ctx, query, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to fail interrupted sweep runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanSweepRun scans a single row into a SweepRun.
func scanSweepRun(row pgx.Row) (*domain.SweepRun, error) {
	run := &domain.SweepRun{}
	var requestJSON, progressJSON, resultJSON []byte
	var statusStr string

	err := row.Scan(
		&run.ID,
		&requestJSON,
		&statusStr,
		&progressJSON,
		&resultJSON,
		&run.Error,
		&run.CreatedAt,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sweep run: %w", err)
	}

	if err := json.Unmarshal(requestJSON, &run.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &run.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		run.Result = &domain.OptimizationResult{}
		if err := json.Unmarshal(resultJSON, run.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	run.Status = domain.SweepStatusFromString(statusStr)

	return run, nil
}

// Ensure interface implementations at compile time.
var _ SweepRunRepository = (*sweepRunRepo)(nil)
