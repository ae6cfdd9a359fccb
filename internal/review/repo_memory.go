package review

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores review data in memory and is safe for concurrent use.
// Constructed with the five default questions so dev mode works without
// Postgres.
type MemoryRepo struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	questions []Question
	answers   map[string]map[int64]Answer
	meetings  map[string][]MeetingRequest
	nextID    int64
}

// NewMemoryRepo constructs a MemoryRepo seeded with the given questions.
func NewMemoryRepo(questions []Question) *MemoryRepo {
	sorted := make([]Question, len(questions))
	copy(sorted, questions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return &MemoryRepo{
		sessions:  make(map[string]Session),
		questions: sorted,
		answers:   make(map[string]map[int64]Answer),
		meetings:  make(map[string][]MeetingRequest),
		nextID:    1,
	}
}

// CreateSession stores the session.
func (r *MemoryRepo) CreateSession(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session.UpdatedAt = session.CreatedAt
	r.sessions[session.ID] = session
	return nil
}

// GetSession returns a session by its id.
func (r *MemoryRepo) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

// UpdateContact stores normalized contact info on the session.
func (r *MemoryRepo) UpdateContact(ctx context.Context, sessionID, phone, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	session.PhoneNumber = phone
	session.Email = email
	session.UpdatedAt = time.Now().UTC()
	r.sessions[sessionID] = session
	return nil
}

// MarkCompleted stamps the session as completed. Idempotent.
func (r *MemoryRepo) MarkCompleted(ctx context.Context, sessionID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if session.CompletedAt == nil {
		session.CompletedAt = &at
	}
	session.UpdatedAt = time.Now().UTC()
	r.sessions[sessionID] = session
	return nil
}

// ActiveQuestions returns the active questions in ascending order.
func (r *MemoryRepo) ActiveQuestions(ctx context.Context) ([]Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Question, 0, len(r.questions))
	for _, q := range r.questions {
		if q.IsActive {
			out = append(out, q)
		}
	}
	return out, nil
}

// UpsertAnswer inserts or replaces the answer for (session, question).
func (r *MemoryRepo) UpsertAnswer(ctx context.Context, answer Answer) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bySession, ok := r.answers[answer.SessionID]
	if !ok {
		bySession = make(map[int64]Answer)
		r.answers[answer.SessionID] = bySession
	}
	if existing, ok := bySession[answer.QuestionID]; ok {
		existing.Text = answer.Text
		bySession[answer.QuestionID] = existing
		return existing, nil
	}
	answer.ID = r.nextID
	r.nextID++
	answer.CreatedAt = time.Now().UTC()
	bySession[answer.QuestionID] = answer
	return answer, nil
}

// AnswersForSession returns all answers of a session.
func (r *MemoryRepo) AnswersForSession(ctx context.Context, sessionID string) ([]Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	bySession := r.answers[sessionID]
	out := make([]Answer, 0, len(bySession))
	for _, a := range bySession {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateMeetingRequest stores a new meeting request.
func (r *MemoryRepo) CreateMeetingRequest(ctx context.Context, request MeetingRequest) (MeetingRequest, error) {
	if err := ctx.Err(); err != nil {
		return MeetingRequest{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.Status == "" {
		request.Status = MeetingPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	request.ID = r.nextID
	r.nextID++
	r.meetings[request.SessionID] = append(r.meetings[request.SessionID], request)
	return request, nil
}

// MeetingRequestsForSession lists meeting requests newest-first.
func (r *MemoryRepo) MeetingRequestsForSession(ctx context.Context, sessionID string) ([]MeetingRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.meetings[sessionID]
	out := make([]MeetingRequest, len(stored))
	copy(out, stored)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)

// DefaultQuestions returns the seeded questionnaire for in-memory mode.
func DefaultQuestions() []Question {
	prompts := []string{
		"کسب‌وکار شما چه محصول یا خدمتی ارائه می‌دهد و مشتریان اصلی شما چه کسانی هستند؟",
		"بزرگ‌ترین چالش فعلی شما در فروش و جذب مشتری چیست؟",
		"تیم شما چند نفر است و مهم‌ترین مشکل شما در مدیریت تیم چیست؟",
		"برای بازاریابی و معرفی کسب‌وکارتان از چه روش‌هایی استفاده می‌کنید؟",
		"بیشتر وقت شما در طول هفته صرف چه کارهایی می‌شود و کدام فرایندها سیستم مشخصی ندارند؟",
	}
	out := make([]Question, 0, len(prompts))
	for i, prompt := range prompts {
		out = append(out, Question{ID: int64(i + 1), Prompt: prompt, Order: i + 1, IsActive: true})
	}
	return out
}
