package analysis

import "context"

// Repo defines persistence for analysis runs.
//
// CreateOrReset is the only way a run comes into existence: it either inserts
// a fresh record or resets the existing record for the same key in place,
// bumping the generation counter. Terminal writes are guarded by the
// generation observed at load time so a superseded execution can never
// overwrite a newer trigger's state.
type Repo interface {
	CreateOrReset(ctx context.Context, run Run) (Run, bool, error)
	GetByID(ctx context.Context, runID string) (Run, error)
	GetByCorrelationKey(ctx context.Context, key string) (Run, error)
	SetRunning(ctx context.Context, runID string, generation int64) error
	SaveResult(ctx context.Context, runID string, generation int64, rawResponse string, dashboard *Dashboard) error
	SaveFailure(ctx context.Context, runID string, generation int64, rawResponse, message string) error
}
