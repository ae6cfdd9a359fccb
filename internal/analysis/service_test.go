package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"bizpulse-backend/internal/llm"
	"bizpulse-backend/internal/notify"
	"bizpulse-backend/internal/queue"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []llm.Request
}

func (f *scriptedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	idx := len(f.calls) - 1
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	if err != nil {
		return "", err
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return "", errors.New("no scripted response")
}

// captureQueue records sends instead of dispatching, keeping tests synchronous.
type captureQueue struct {
	mu   sync.Mutex
	sent []queue.Message
}

func (q *captureQueue) Send(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, msg)
	return nil
}

func (q *captureQueue) last(t *testing.T) queue.Message {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.sent) == 0 {
		t.Fatalf("expected a queued message")
	}
	return q.sent[len(q.sent)-1]
}

type fakeAnswers struct {
	raw    RawAnswers
	exists bool
}

func (f fakeAnswers) CollectAnswers(ctx context.Context, reviewSessionID string) (RawAnswers, error) {
	if !f.exists {
		return RawAnswers{}, ErrNotFound
	}
	return f.raw, nil
}

func (f fakeAnswers) SessionExists(ctx context.Context, reviewSessionID string) (bool, error) {
	return f.exists, nil
}

func fiveAnswers(sessionID string) RawAnswers {
	items := make([]AnswerItem, 0, 5)
	for i := 1; i <= 5; i++ {
		items = append(items, AnswerItem{
			Order:      i,
			QuestionID: int64(i),
			Prompt:     fmt.Sprintf("سوال %d", i),
			Answer:     fmt.Sprintf("پاسخ %d", i),
		})
	}
	return RawAnswers{SessionID: sessionID, Answers: items}
}

func drainEvents(events <-chan notify.Event) []notify.Event {
	var out []notify.Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func setupService(llmClient llm.Client) (*Service, *MemoryRepo, *notify.Hub, *captureQueue) {
	repo := NewMemoryRepo()
	hub := notify.NewHub()
	q := &captureQueue{}
	svc := &Service{Repo: repo, LLM: llmClient, Notifier: hub, Queue: q}
	return svc, repo, hub, q
}

func TestProcessRunSuccessEventOrder(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{llm.SchemaExample()}}
	svc, repo, hub, q := setupService(llmClient)

	raw := fiveAnswers("22222222-2222-2222-2222-222222222222")
	run, created, err := svc.StartOrReset(context.Background(), StartInput{
		SessionID: raw.SessionID,
		Answers:   raw.Answers,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !created {
		t.Fatalf("expected a fresh run to be created")
	}
	if q.last(t).RunID != run.ID {
		t.Fatalf("expected the run to be enqueued")
	}

	events, cancel := hub.Subscribe(run.CorrelationKey())
	defer cancel()

	if err := svc.ProcessRun(context.Background(), run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored, err := repo.GetByID(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", stored.Status)
	}
	if stored.Dashboard == nil || stored.Dashboard.SessionID != raw.SessionID {
		t.Fatalf("expected dashboard stamped with session id, got %+v", stored.Dashboard)
	}

	got := drainEvents(events)
	var types []string
	for _, ev := range got {
		if ev.Type == notify.TypeStatus {
			types = append(types, ev.Type+":"+ev.Status)
		} else {
			types = append(types, ev.Type)
		}
	}
	want := []string{"status:running", "progress", "progress", "status:succeeded", "result"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event sequence: %v", types)
	}
	if got[len(got)-1].Data == nil {
		t.Fatalf("expected result event to carry the dashboard")
	}
}

func TestProcessRunRepairsInvalidOutput(t *testing.T) {
	badOutput := "نتیجه: " + llm.SchemaExample()
	llmClient := &scriptedLLM{responses: []string{badOutput, llm.SchemaExample()}}
	svc, repo, _, _ := setupService(llmClient)

	raw := fiveAnswers("33333333-3333-3333-3333-333333333333")
	run, _, err := svc.StartOrReset(context.Background(), StartInput{SessionID: raw.SessionID, Answers: raw.Answers})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.ProcessRun(context.Background(), run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(llmClient.calls) != 2 {
		t.Fatalf("expected exactly one repair round-trip, got %d calls", len(llmClient.calls))
	}
	if !strings.Contains(llmClient.calls[1].UserPrompt, badOutput) {
		t.Fatalf("expected repair prompt to carry the offending output verbatim")
	}

	stored, _ := repo.GetByID(context.Background(), run.ID)
	if stored.Status != StatusSucceeded {
		t.Fatalf("expected succeeded after repair, got %s", stored.Status)
	}
	if stored.RawResponse != llm.SchemaExample() {
		t.Fatalf("expected the repaired output to be persisted")
	}
}

func TestProcessRunRepairsAfterCompletionError(t *testing.T) {
	llmClient := &scriptedLLM{
		errs:      []error{errors.New("backend unavailable")},
		responses: []string{"", llm.SchemaExample()},
	}
	svc, repo, _, _ := setupService(llmClient)

	raw := fiveAnswers("33333333-3333-3333-3333-333333333333")
	run, _, err := svc.StartOrReset(context.Background(), StartInput{SessionID: raw.SessionID, Answers: raw.Answers})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.ProcessRun(context.Background(), run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(llmClient.calls) != 2 {
		t.Fatalf("expected the repair round-trip after a backend failure, got %d calls", len(llmClient.calls))
	}

	stored, _ := repo.GetByID(context.Background(), run.ID)
	if stored.Status != StatusSucceeded {
		t.Fatalf("expected succeeded after repair, got %s", stored.Status)
	}
}

func TestProcessRunFailsAfterRepairFails(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{"not json", "still not json"}}
	svc, repo, hub, _ := setupService(llmClient)

	raw := fiveAnswers("44444444-4444-4444-4444-444444444444")
	run, _, err := svc.StartOrReset(context.Background(), StartInput{SessionID: raw.SessionID, Answers: raw.Answers})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	events, cancel := hub.Subscribe(run.CorrelationKey())
	defer cancel()

	if err := svc.ProcessRun(context.Background(), run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), run.ID)
	if stored.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.Error == nil || *stored.Error == "" {
		t.Fatalf("expected a failure message")
	}
	if stored.RawResponse != "still not json" {
		t.Fatalf("expected last raw output to be persisted, got %q", stored.RawResponse)
	}

	var sawFailedStatus, sawErrorEvent bool
	for _, ev := range drainEvents(events) {
		if ev.Type == notify.TypeStatus && ev.Status == StatusFailed {
			sawFailedStatus = true
			if ev.Error == nil {
				t.Fatalf("expected failed status event to carry the error")
			}
		}
		if ev.Type == notify.TypeError && ev.Message != "" {
			sawErrorEvent = true
		}
	}
	if !sawFailedStatus || !sawErrorEvent {
		t.Fatalf("expected failed status and error events")
	}
}

func TestStartOrResetIdempotentPerReviewSession(t *testing.T) {
	reviewSessionID := "55555555-5555-5555-5555-555555555555"
	llmClient := &scriptedLLM{responses: []string{llm.SchemaExample()}}
	svc, repo, _, _ := setupService(llmClient)
	svc.Answers = fakeAnswers{raw: fiveAnswers(reviewSessionID), exists: true}

	first, created, err := svc.StartOrReset(context.Background(), StartInput{ReviewSessionID: reviewSessionID})
	if err != nil || !created {
		t.Fatalf("first trigger: created=%v err=%v", created, err)
	}
	second, created, err := svc.StartOrReset(context.Background(), StartInput{ReviewSessionID: reviewSessionID})
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if created {
		t.Fatalf("expected second trigger to reset, not create")
	}
	if second.ID != first.ID {
		t.Fatalf("expected one run per review session, got %s and %s", first.ID, second.ID)
	}
	if second.Generation != first.Generation+1 {
		t.Fatalf("expected generation bump, got %d then %d", first.Generation, second.Generation)
	}
	if second.Status != StatusPending {
		t.Fatalf("expected reset run to be pending, got %s", second.Status)
	}

	stored, _ := repo.GetByCorrelationKey(context.Background(), reviewSessionID)
	if stored.ID != first.ID {
		t.Fatalf("expected correlation key lookup to find the run")
	}
}

func TestStartOrResetExplicitRunIDResetsOneRow(t *testing.T) {
	key := "12121212-1212-1212-1212-121212121212"
	svc, repo, hub, _ := setupService(&scriptedLLM{})

	events, cancel := hub.Subscribe(key)
	defer cancel()

	raw := fiveAnswers(key)
	first, created, err := svc.StartOrReset(context.Background(), StartInput{
		RunID:     key,
		SessionID: raw.SessionID,
		Answers:   raw.Answers,
	})
	if err != nil || !created {
		t.Fatalf("first trigger: created=%v err=%v", created, err)
	}
	if first.ID != key {
		t.Fatalf("expected run pinned to %s, got %s", key, first.ID)
	}
	if first.CorrelationKey() != key {
		t.Fatalf("expected events to publish on %s, got %s", key, first.CorrelationKey())
	}

	second, created, err := svc.StartOrReset(context.Background(), StartInput{
		RunID:     key,
		SessionID: raw.SessionID,
		Answers:   raw.Answers,
	})
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected the second trigger to reset the same row, got created=%v id=%s", created, second.ID)
	}
	if second.Generation != first.Generation+1 {
		t.Fatalf("expected generation bump, got %d then %d", first.Generation, second.Generation)
	}

	if _, err := repo.GetByCorrelationKey(context.Background(), key); err != nil {
		t.Fatalf("expected the run to resolve by its key: %v", err)
	}

	got := drainEvents(events)
	if len(got) != 2 {
		t.Fatalf("expected both triggers to publish on the subscribed key, got %d events", len(got))
	}
	for _, ev := range got {
		if ev.Type != notify.TypeStatus || ev.Status != StatusPending {
			t.Fatalf("expected pending status events, got %+v", ev)
		}
	}
}

func TestStartOrResetRejectsMalformedRunID(t *testing.T) {
	svc, repo, _, _ := setupService(&scriptedLLM{})

	raw := fiveAnswers("12121212-1212-1212-1212-121212121212")
	_, _, err := svc.StartOrReset(context.Background(), StartInput{
		RunID:     "not-a-uuid",
		SessionID: raw.SessionID,
		Answers:   raw.Answers,
	})
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InputError for malformed run id, got %v", err)
	}
	if _, err := repo.GetByID(context.Background(), "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no run to be created")
	}
}

// failingSaveRepo accepts the run but errors on the success write, leaving the
// failure path to record terminal state.
type failingSaveRepo struct {
	*MemoryRepo
}

func (r *failingSaveRepo) SaveResult(ctx context.Context, runID string, generation int64, rawResponse string, dashboard *Dashboard) error {
	return errors.New("disk full")
}

func TestProcessRunPersistenceFailureEndsFailed(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{llm.SchemaExample()}}
	memRepo := NewMemoryRepo()
	hub := notify.NewHub()
	svc := &Service{Repo: memRepo, LLM: llmClient, Notifier: hub, Queue: &captureQueue{}}

	raw := fiveAnswers("14141414-1414-1414-1414-141414141414")
	run, _, err := svc.StartOrReset(context.Background(), StartInput{SessionID: raw.SessionID, Answers: raw.Answers})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	events, cancel := hub.Subscribe(run.CorrelationKey())
	defer cancel()

	svc.Repo = &failingSaveRepo{MemoryRepo: memRepo}
	if err := svc.ProcessRun(context.Background(), run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored, _ := memRepo.GetByID(context.Background(), run.ID)
	if stored.Status != StatusFailed {
		t.Fatalf("expected a save failure to end in failed, got %s", stored.Status)
	}
	if stored.Error == nil || !strings.Contains(*stored.Error, "save result") {
		t.Fatalf("expected a persistence error message, got %v", stored.Error)
	}
	if stored.Dashboard != nil {
		t.Fatalf("expected no dashboard on a failed run")
	}

	var sawFailedStatus, sawErrorEvent bool
	for _, ev := range drainEvents(events) {
		if ev.Type == notify.TypeStatus && ev.Status == StatusFailed {
			sawFailedStatus = true
		}
		if ev.Type == notify.TypeError && ev.Message != "" {
			sawErrorEvent = true
		}
	}
	if !sawFailedStatus || !sawErrorEvent {
		t.Fatalf("expected failed status and error events, got failed=%v error=%v", sawFailedStatus, sawErrorEvent)
	}
}

func TestStartOrResetRejectsBadInput(t *testing.T) {
	svc, repo, hub, _ := setupService(&scriptedLLM{})

	events, cancel := hub.Subscribe("66666666-6666-6666-6666-666666666666")
	defer cancel()

	raw := fiveAnswers("66666666-6666-6666-6666-666666666666")
	_, _, err := svc.StartOrReset(context.Background(), StartInput{
		SessionID: raw.SessionID,
		Answers:   raw.Answers[:4],
	})
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InputError for four answers, got %v", err)
	}
	if _, err := repo.GetByCorrelationKey(context.Background(), raw.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no run to be created")
	}
	if got := drainEvents(events); len(got) != 0 {
		t.Fatalf("expected no events for rejected input, got %v", got)
	}
}

// staleGenRepo hands executions a generation one behind the stored row,
// simulating a reset that lands between dispatch and processing.
type staleGenRepo struct {
	*MemoryRepo
}

func (r *staleGenRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	run, err := r.MemoryRepo.GetByID(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	run.Generation--
	return run, nil
}

func TestProcessRunAbandonedWhenSuperseded(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{llm.SchemaExample()}}
	memRepo := NewMemoryRepo()
	hub := notify.NewHub()
	svc := &Service{Repo: memRepo, LLM: llmClient, Notifier: hub, Queue: &captureQueue{}}

	raw := fiveAnswers("77777777-7777-7777-7777-777777777777")
	run, _, err := svc.StartOrReset(context.Background(), StartInput{SessionID: raw.SessionID, Answers: raw.Answers})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	events, cancel := hub.Subscribe(run.CorrelationKey())
	defer cancel()

	svc.Repo = &staleGenRepo{MemoryRepo: memRepo}
	if err := svc.ProcessRun(context.Background(), run.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored, _ := memRepo.GetByID(context.Background(), run.ID)
	if stored.Status != StatusPending {
		t.Fatalf("expected superseded execution to leave the run untouched, got %s", stored.Status)
	}
	if got := drainEvents(events); len(got) != 0 {
		t.Fatalf("expected no events from a superseded execution, got %v", got)
	}
	if len(llmClient.calls) != 0 {
		t.Fatalf("expected no llm calls from a superseded execution")
	}
}

func TestProcessRunMissingRunIsNoop(t *testing.T) {
	svc, _, _, _ := setupService(&scriptedLLM{})
	if err := svc.ProcessRun(context.Background(), "88888888-8888-8888-8888-888888888888"); err != nil {
		t.Fatalf("expected missing run to be ignored, got %v", err)
	}
}

func TestSnapshotDistinguishesMissingFromIncomplete(t *testing.T) {
	svc, _, _, _ := setupService(&scriptedLLM{})
	svc.Answers = fakeAnswers{exists: true}

	if _, err := svc.Snapshot(context.Background(), "99999999-9999-9999-9999-999999999999"); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted for an existing session without a run, got %v", err)
	}

	svc.Answers = fakeAnswers{exists: false}
	if _, err := svc.Snapshot(context.Background(), "99999999-9999-9999-9999-999999999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown key, got %v", err)
	}
}
