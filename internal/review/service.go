package review

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"bizpulse-backend/internal/analysis"
	"bizpulse-backend/internal/shared/telemetry"
)

// AnalysisTrigger enqueues a dashboard run for a completed session.
// Satisfied by the analysis service; wired after construction to keep the
// two services independently testable.
type AnalysisTrigger interface {
	StartForReview(ctx context.Context, reviewSessionID string) error
}

// Service contains business logic for the questionnaire walkthrough.
type Service struct {
	Repo     Repo
	Analysis AnalysisTrigger
}

// Start opens an anonymous session and returns the first question.
func (s *Service) Start(ctx context.Context) (Session, Question, error) {
	questions, err := s.Repo.ActiveQuestions(ctx)
	if err != nil {
		return Session{}, Question{}, err
	}
	if len(questions) == 0 {
		return Session{}, Question{}, fmt.Errorf("no active questions configured")
	}

	session := Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repo.CreateSession(ctx, session); err != nil {
		return Session{}, Question{}, err
	}
	return session, questions[0], nil
}

// NextQuestion returns the first unanswered active question. The bool reports
// whether the session has answered everything.
func (s *Service) NextQuestion(ctx context.Context, sessionID string) (Question, bool, error) {
	if _, err := s.Repo.GetSession(ctx, sessionID); err != nil {
		return Question{}, false, err
	}
	unanswered, err := s.unanswered(ctx, sessionID)
	if err != nil {
		return Question{}, false, err
	}
	if len(unanswered) == 0 {
		return Question{}, true, nil
	}
	return unanswered[0], false, nil
}

// SubmitAnswer upserts the answer for (session, question). Answering the last
// open question marks the session completed and enqueues the dashboard run.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID string, questionID int64, text string) (*Question, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, &ValidationError{Msg: "answer text must not be blank"}
	}
	session, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}

	questions, err := s.Repo.ActiveQuestions(ctx)
	if err != nil {
		return nil, false, err
	}
	known := false
	for _, q := range questions {
		if q.ID == questionID {
			known = true
			break
		}
	}
	if !known {
		return nil, false, &ValidationError{Msg: "unknown question"}
	}

	if _, err := s.Repo.UpsertAnswer(ctx, Answer{
		SessionID:  sessionID,
		QuestionID: questionID,
		Text:       text,
	}); err != nil {
		return nil, false, err
	}

	unanswered, err := s.unanswered(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if len(unanswered) > 0 {
		next := unanswered[0]
		return &next, false, nil
	}

	if !session.Completed() {
		if err := s.Repo.MarkCompleted(ctx, sessionID, time.Now().UTC()); err != nil {
			return nil, false, err
		}
	}
	if s.Analysis != nil {
		if err := s.Analysis.StartForReview(ctx, sessionID); err != nil {
			telemetry.Error("review.analysis_trigger", map[string]any{
				"review_session_id": sessionID,
				"error":             err.Error(),
			})
		}
	}
	return nil, true, nil
}

// Contact attaches normalized contact info to the session.
func (s *Service) Contact(ctx context.Context, sessionID, phone, email string) (Session, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return Session{}, err
	}
	email = strings.TrimSpace(email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return Session{}, &ValidationError{Msg: "email address is not valid"}
		}
	}
	if err := s.Repo.UpdateContact(ctx, sessionID, normalized, email); err != nil {
		return Session{}, err
	}
	return s.Repo.GetSession(ctx, sessionID)
}

// GetSession returns the session including contact info.
func (s *Service) GetSession(ctx context.Context, sessionID string) (Session, error) {
	return s.Repo.GetSession(ctx, sessionID)
}

// RequestMeeting creates a pending meeting request. Contact info must be
// attached first.
func (s *Service) RequestMeeting(ctx context.Context, sessionID string) (MeetingRequest, error) {
	session, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return MeetingRequest{}, err
	}
	if session.PhoneNumber == "" {
		return MeetingRequest{}, ErrContactRequired
	}
	return s.Repo.CreateMeetingRequest(ctx, MeetingRequest{
		SessionID: sessionID,
		Status:    MeetingPending,
		CreatedAt: time.Now().UTC(),
	})
}

// ListMeetings returns the meeting requests of a session newest-first.
func (s *Service) ListMeetings(ctx context.Context, sessionID string) ([]MeetingRequest, error) {
	if _, err := s.Repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.Repo.MeetingRequestsForSession(ctx, sessionID)
}

// CollectAnswers freezes the answers of a completed session into a run input.
func (s *Service) CollectAnswers(ctx context.Context, reviewSessionID string) (analysis.RawAnswers, error) {
	session, err := s.Repo.GetSession(ctx, reviewSessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return analysis.RawAnswers{}, analysis.ErrNotFound
		}
		return analysis.RawAnswers{}, err
	}
	if !session.Completed() {
		return analysis.RawAnswers{}, analysis.ErrNotCompleted
	}

	questions, err := s.Repo.ActiveQuestions(ctx)
	if err != nil {
		return analysis.RawAnswers{}, err
	}
	answers, err := s.Repo.AnswersForSession(ctx, reviewSessionID)
	if err != nil {
		return analysis.RawAnswers{}, err
	}
	byQuestion := make(map[int64]Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	items := make([]analysis.AnswerItem, 0, len(questions))
	for _, q := range questions {
		answer, ok := byQuestion[q.ID]
		if !ok || strings.TrimSpace(answer.Text) == "" {
			return analysis.RawAnswers{}, &analysis.InputError{
				Msg: fmt.Sprintf("question %d has no answer", q.Order),
			}
		}
		items = append(items, analysis.AnswerItem{
			Order:      q.Order,
			QuestionID: q.ID,
			Prompt:     q.Prompt,
			Answer:     answer.Text,
		})
	}

	return analysis.RawAnswers{SessionID: session.ID, Answers: items}, nil
}

// SessionExists reports whether a review session exists.
func (s *Service) SessionExists(ctx context.Context, reviewSessionID string) (bool, error) {
	_, err := s.Repo.GetSession(ctx, reviewSessionID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Service) unanswered(ctx context.Context, sessionID string) ([]Question, error) {
	questions, err := s.Repo.ActiveQuestions(ctx)
	if err != nil {
		return nil, err
	}
	answers, err := s.Repo.AnswersForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answered := make(map[int64]bool, len(answers))
	for _, a := range answers {
		if strings.TrimSpace(a.Text) != "" {
			answered[a.QuestionID] = true
		}
	}
	var out []Question
	for _, q := range questions {
		if !answered[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}
