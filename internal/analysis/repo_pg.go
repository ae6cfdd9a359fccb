package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `id, review_session_id, status, raw_answers, raw_response, dashboard, error, generation, created_at, updated_at`

// CreateOrReset inserts a fresh run or resets the existing run for the same
// key in place. Runs tied to a review session are keyed by review_session_id,
// ad-hoc runs by their own id. The candidate row is locked so concurrent
// triggers for the same key serialize instead of racing.
func (r *PGRepo) CreateOrReset(ctx context.Context, run Run) (Run, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, false, err
	}
	defer tx.Rollback()

	answersPayload, err := json.Marshal(run.RawAnswers)
	if err != nil {
		return Run{}, false, err
	}

	var insert string
	if run.ReviewSessionID != "" {
		// Lock the parent session row to serialize create-or-reset per session.
		if _, err := tx.ExecContext(ctx, `SELECT id FROM review_sessions WHERE id = $1 FOR UPDATE`, run.ReviewSessionID); err != nil {
			return Run{}, false, err
		}
		insert = `
INSERT INTO analysis_runs (id, review_session_id, status, raw_answers, created_at, updated_at)
VALUES ($1, $2, 'pending', $3::jsonb, $4, $4)
ON CONFLICT (review_session_id) DO NOTHING`
	} else {
		insert = `
INSERT INTO analysis_runs (id, review_session_id, status, raw_answers, created_at, updated_at)
VALUES ($1, $2, 'pending', $3::jsonb, $4, $4)
ON CONFLICT (id) DO NOTHING`
	}

	res, err := tx.ExecContext(ctx, insert, run.ID, nullString(run.ReviewSessionID), answersPayload, run.CreatedAt)
	if err != nil {
		return Run{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		if err := tx.Commit(); err != nil {
			return Run{}, false, err
		}
		run.Status = StatusPending
		run.Generation = 1
		run.UpdatedAt = run.CreatedAt
		return run, true, nil
	}

	// Row already exists: reset it for a new execution.
	var where string
	var key any
	if run.ReviewSessionID != "" {
		where = `review_session_id = $3`
		key = run.ReviewSessionID
	} else {
		where = `id = $3`
		key = run.ID
	}
	reset := fmt.Sprintf(`
UPDATE analysis_runs
SET status = 'pending',
    raw_answers = $1::jsonb,
    raw_response = '',
    dashboard = NULL,
    error = NULL,
    generation = generation + 1,
    updated_at = $2
WHERE %s
RETURNING %s`, where, runColumns)

	row := tx.QueryRowContext(ctx, reset, answersPayload, run.UpdatedAt, key)
	existing, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, ErrNotFound
		}
		return Run{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Run{}, false, err
	}
	return existing, false, nil
}

// GetByID returns a run by its id.
func (r *PGRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysis_runs WHERE id = $1 LIMIT 1`, runColumns)
	run, err := scanRun(r.DB.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// GetByCorrelationKey resolves a run by review session id first, then by run id.
func (r *PGRepo) GetByCorrelationKey(ctx context.Context, key string) (Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysis_runs WHERE review_session_id = $1 LIMIT 1`, runColumns)
	run, err := scanRun(r.DB.QueryRowContext(ctx, query, key))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	return r.GetByID(ctx, key)
}

// SetRunning marks a run as running. Terminal rows and rows reset to a newer
// generation are left untouched.
func (r *PGRepo) SetRunning(ctx context.Context, runID string, generation int64) error {
	const query = `
UPDATE analysis_runs
SET status = 'running',
    updated_at = now()
WHERE id = $1 AND generation = $2 AND status IN ('pending', 'running')`
	res, err := r.DB.ExecContext(ctx, query, runID, generation)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleGeneration
	}
	return nil
}

// SaveResult stores the validated dashboard and flips the run to succeeded in
// a single statement.
func (r *PGRepo) SaveResult(ctx context.Context, runID string, generation int64, rawResponse string, dashboard *Dashboard) error {
	payload, err := json.Marshal(dashboard)
	if err != nil {
		return err
	}
	const query = `
UPDATE analysis_runs
SET status = 'succeeded',
    raw_response = $1,
    dashboard = $2::jsonb,
    error = NULL,
    updated_at = now()
WHERE id = $3 AND generation = $4`
	res, err := r.DB.ExecContext(ctx, query, rawResponse, payload, runID, generation)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleGeneration
	}
	return nil
}

// SaveFailure records the failure message and flips the run to failed.
func (r *PGRepo) SaveFailure(ctx context.Context, runID string, generation int64, rawResponse, message string) error {
	const query = `
UPDATE analysis_runs
SET status = 'failed',
    raw_response = $1,
    dashboard = NULL,
    error = $2,
    updated_at = now()
WHERE id = $3 AND generation = $4`
	res, err := r.DB.ExecContext(ctx, query, rawResponse, message, runID, generation)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleGeneration
	}
	return nil
}

var _ Repo = (*PGRepo)(nil)

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var reviewSessionID sql.NullString
	var rawAnswers []byte
	var dashboard sql.NullString
	var errMessage sql.NullString
	if err := row.Scan(
		&run.ID,
		&reviewSessionID,
		&run.Status,
		&rawAnswers,
		&run.RawResponse,
		&dashboard,
		&errMessage,
		&run.Generation,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return Run{}, err
	}
	if reviewSessionID.Valid {
		run.ReviewSessionID = reviewSessionID.String
	}
	if len(rawAnswers) > 0 {
		if err := json.Unmarshal(rawAnswers, &run.RawAnswers); err != nil {
			return Run{}, err
		}
	}
	if dashboard.Valid {
		var d Dashboard
		if err := json.Unmarshal([]byte(dashboard.String), &d); err == nil {
			run.Dashboard = &d
		}
	}
	if errMessage.Valid {
		run.Error = &errMessage.String
	}
	return run, nil
}
