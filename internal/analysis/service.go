package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bizpulse-backend/internal/llm"
	"bizpulse-backend/internal/notify"
	"bizpulse-backend/internal/queue"
	"bizpulse-backend/internal/shared/metrics"
	"bizpulse-backend/internal/shared/telemetry"
)

// AnswerSource provides the frozen answers of a completed review session.
// Implemented by the review service; kept as an interface so runs can be
// exercised without the review module.
type AnswerSource interface {
	CollectAnswers(ctx context.Context, reviewSessionID string) (RawAnswers, error)
	SessionExists(ctx context.Context, reviewSessionID string) (bool, error)
}

// Service contains business logic for analysis runs.
type Service struct {
	Repo        Repo
	Answers     AnswerSource
	LLM         llm.Client
	Notifier    notify.Broker
	Queue       queue.Client
	Temperature *float32
	MaxTokens   *int
}

// StartInput describes one trigger request. Either ReviewSessionID is set and
// the answers are collected from the completed session, or SessionID plus the
// five answers are supplied inline. RunID pins the run row to an explicit
// identifier: repeated triggers with the same RunID reset one row, and the
// run's events publish on that id. Websocket connections use it to bind
// inline-answer runs to their own channel key; when empty a fresh id is
// generated per call.
type StartInput struct {
	RunID           string
	ReviewSessionID string
	SessionID       string
	Answers         []AnswerItem
}

// StartOrReset creates a new run or resets the existing run for the same key,
// then hands execution to the queue. The returned bool reports whether a new
// record was created.
func (s *Service) StartOrReset(ctx context.Context, in StartInput) (Run, bool, error) {
	var raw RawAnswers
	if in.ReviewSessionID != "" {
		collected, err := s.Answers.CollectAnswers(ctx, in.ReviewSessionID)
		if err != nil {
			return Run{}, false, err
		}
		raw = collected
	} else {
		if strings.TrimSpace(in.SessionID) == "" {
			return Run{}, false, &InputError{Msg: "session_id is required when answers are supplied inline"}
		}
		raw = RawAnswers{SessionID: in.SessionID, Answers: in.Answers}
	}
	if err := raw.Validate(); err != nil {
		return Run{}, false, err
	}

	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	} else if _, perr := uuid.Parse(runID); perr != nil {
		return Run{}, false, &InputError{Msg: "run id must be a valid uuid"}
	}

	now := time.Now().UTC()
	run := Run{
		ID:              runID,
		ReviewSessionID: in.ReviewSessionID,
		Status:          StatusPending,
		RawAnswers:      raw,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stored, created, err := s.Repo.CreateOrReset(ctx, run)
	if err != nil {
		return Run{}, false, &PersistenceError{Err: err}
	}

	s.publishStatus(stored, StatusPending, nil)
	s.dispatch(ctx, stored.ID)
	return stored, created, nil
}

// StartForReview triggers a run for a completed review session.
func (s *Service) StartForReview(ctx context.Context, reviewSessionID string) error {
	_, _, err := s.StartOrReset(ctx, StartInput{ReviewSessionID: reviewSessionID})
	return err
}

// Get returns a run by its id.
func (s *Service) Get(ctx context.Context, runID string) (Run, error) {
	if runID == "" {
		return Run{}, ErrNotFound
	}
	return s.Repo.GetByID(ctx, runID)
}

// Snapshot resolves the current run for a correlation key. ErrNotCompleted is
// returned for review sessions that exist but have not produced a run yet.
func (s *Service) Snapshot(ctx context.Context, key string) (Run, error) {
	run, err := s.Repo.GetByCorrelationKey(ctx, key)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Run{}, err
	}
	if s.Answers != nil {
		exists, serr := s.Answers.SessionExists(ctx, key)
		if serr != nil {
			return Run{}, serr
		}
		if exists {
			return Run{}, ErrNotCompleted
		}
	}
	return Run{}, ErrNotFound
}

// dispatch enqueues the run for execution, falling back to an in-process
// goroutine when no queue is configured or the send fails.
func (s *Service) dispatch(ctx context.Context, runID string) {
	if s.Queue != nil {
		msg := queue.Message{
			RunID:      runID,
			RequestID:  requestIDFromContext(ctx),
			EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
			Version:    1,
		}
		err := s.Queue.Send(ctx, msg)
		if err == nil {
			return
		}
		telemetry.Warn("run.enqueue_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"run_id":     runID,
			"error":      err.Error(),
		})
	}
	go s.runAsync(backgroundWithRequestID(ctx), runID)
}

func (s *Service) runAsync(ctx context.Context, runID string) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("run.panic", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"run_id":     runID,
				"panic":      fmt.Sprint(r),
			})
		}
	}()
	if err := s.ProcessRun(ctx, runID); err != nil {
		telemetry.Error("run.process", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"run_id":     runID,
			"error":      err.Error(),
		})
	}
}

// ProcessRun executes one run end to end: mark running, call the model,
// validate, repair once on invalid output, persist the terminal state and
// publish events. Safe to invoke more than once for the same delivery; a run
// that was reset underneath the execution is abandoned silently.
func (s *Service) ProcessRun(ctx context.Context, runID string) error {
	run, err := s.Repo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			telemetry.Warn("run.missing", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"run_id":     runID,
			})
			return nil
		}
		return err
	}
	if run.Status == StatusSucceeded || run.Status == StatusFailed {
		telemetry.Info("run.already_terminal", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"run_id":     runID,
			"status":     run.Status,
		})
		return nil
	}
	if s.LLM == nil {
		s.fail(ctx, run, "", errors.New("missing llm client"), time.Now().UTC())
		return nil
	}

	startedAt := time.Now().UTC()
	if err := s.Repo.SetRunning(ctx, run.ID, run.Generation); err != nil {
		if errors.Is(err, ErrStaleGeneration) {
			s.logSuperseded(ctx, run.ID)
			return nil
		}
		return err
	}
	metrics.IncRunStarted()
	s.publishStatus(run, StatusRunning, nil)
	s.logStatus(ctx, run, StatusRunning, "pending->running", 0)

	sessionID := run.TargetSessionID()
	req := llm.Request{
		SystemPrompt:  llm.BuildSystemPrompt(),
		UserPrompt:    llm.BuildUserPrompt(sessionID, promptAnswers(run.RawAnswers)),
		CorrelationID: run.CorrelationKey(),
		Temperature:   s.Temperature,
		MaxTokens:     s.MaxTokens,
	}

	s.publishProgress(run, "llm_request")
	rawOut, cerr := s.LLM.Complete(ctx, req)

	var dashboard *Dashboard
	var verr error
	if cerr == nil {
		s.publishProgress(run, "validation")
		dashboard, verr = ValidateDashboard(rawOut, sessionID)
	}
	if cerr != nil || verr != nil {
		// One repair round-trip: hand whatever output we got back to the
		// model (empty when the first call itself failed).
		s.publishProgress(run, "repair")
		repairReq := req
		repairReq.UserPrompt = llm.BuildRepairPrompt(rawOut)
		repairedOut, rerr := s.LLM.Complete(ctx, repairReq)
		if rerr != nil {
			s.fail(ctx, run, rawOut, fmt.Errorf("llm repair: %w", rerr), startedAt)
			return nil
		}
		dashboard, verr = ValidateDashboard(repairedOut, sessionID)
		if verr != nil {
			s.fail(ctx, run, repairedOut, fmt.Errorf("llm output invalid after repair: %w", verr), startedAt)
			return nil
		}
		rawOut = repairedOut
		metrics.IncRunRepaired()
	}

	if err := s.Repo.SaveResult(ctx, run.ID, run.Generation, rawOut, dashboard); err != nil {
		if errors.Is(err, ErrStaleGeneration) {
			s.logSuperseded(ctx, run.ID)
			return nil
		}
		s.fail(ctx, run, rawOut, fmt.Errorf("save result: %w", err), startedAt)
		return nil
	}

	completedAt := time.Now().UTC()
	metrics.IncRunSucceeded()
	metrics.ObserveRunDurationMs(durationMs(startedAt, completedAt))
	s.publishStatus(run, StatusSucceeded, nil)
	s.publishResult(run, dashboard)
	s.logStatus(ctx, run, StatusSucceeded, "running->succeeded", durationMs(startedAt, completedAt))
	return nil
}

func (s *Service) fail(ctx context.Context, run Run, rawOut string, err error, startedAt time.Time) {
	msg := sanitizeError(err)
	if saveErr := s.Repo.SaveFailure(context.Background(), run.ID, run.Generation, rawOut, msg); saveErr != nil {
		if errors.Is(saveErr, ErrStaleGeneration) {
			s.logSuperseded(ctx, run.ID)
			return
		}
		telemetry.Error("run.fail_persist", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"run_id":     run.ID,
			"error":      saveErr.Error(),
			"orig":       msg,
		})
	}
	completedAt := time.Now().UTC()
	metrics.IncRunFailed()
	metrics.ObserveRunDurationMs(durationMs(startedAt, completedAt))
	s.publishStatus(run, StatusFailed, &msg)
	s.publishError(run, msg)
	s.logStatus(ctx, run, StatusFailed, "running->failed", durationMs(startedAt, completedAt))
}

func (s *Service) publishStatus(run Run, status string, errMsg *string) {
	if s.Notifier == nil {
		return
	}
	sessionID := run.TargetSessionID()
	event := notify.Event{
		Type:      notify.TypeStatus,
		Status:    status,
		SessionID: &sessionID,
		Error:     errMsg,
	}
	if run.ReviewSessionID != "" {
		reviewSessionID := run.ReviewSessionID
		event.ReviewSessionID = &reviewSessionID
	}
	s.Notifier.Publish(run.CorrelationKey(), event)
}

func (s *Service) publishProgress(run Run, step string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Publish(run.CorrelationKey(), notify.Event{
		Type: notify.TypeProgress,
		Step: step,
	})
}

func (s *Service) publishResult(run Run, dashboard *Dashboard) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Publish(run.CorrelationKey(), notify.Event{
		Type: notify.TypeResult,
		Data: dashboard,
	})
}

func (s *Service) publishError(run Run, message string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Publish(run.CorrelationKey(), notify.Event{
		Type:    notify.TypeError,
		Message: message,
	})
}

func (s *Service) logStatus(ctx context.Context, run Run, status, transition string, elapsedMs float64) {
	fields := map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"run_id":            run.ID,
		"status":            status,
		"status_transition": transition,
	}
	if run.ReviewSessionID != "" {
		fields["review_session_id"] = run.ReviewSessionID
	}
	if elapsedMs > 0 {
		fields["duration_ms"] = elapsedMs
	}
	telemetry.Info("run.status", fields)
}

func (s *Service) logSuperseded(ctx context.Context, runID string) {
	telemetry.Info("run.superseded", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"run_id":     runID,
	})
}

func promptAnswers(raw RawAnswers) []llm.PromptAnswer {
	out := make([]llm.PromptAnswer, 0, len(raw.Answers))
	for _, item := range raw.Sorted() {
		out = append(out, llm.PromptAnswer{
			Order:      item.Order,
			QuestionID: item.QuestionID,
			Prompt:     item.Prompt,
			Answer:     item.Answer,
		})
	}
	return out
}

func durationMs(startedAt, completedAt time.Time) float64 {
	return float64(completedAt.Sub(startedAt).Microseconds()) / 1000.0
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
