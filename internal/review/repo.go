package review

import (
	"context"
	"time"
)

// Repo defines persistence for review sessions, answers and meeting requests.
type Repo interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	UpdateContact(ctx context.Context, sessionID, phone, email string) error
	MarkCompleted(ctx context.Context, sessionID string, at time.Time) error

	ActiveQuestions(ctx context.Context) ([]Question, error)
	UpsertAnswer(ctx context.Context, answer Answer) (Answer, error)
	AnswersForSession(ctx context.Context, sessionID string) ([]Answer, error)

	CreateMeetingRequest(ctx context.Context, request MeetingRequest) (MeetingRequest, error)
	MeetingRequestsForSession(ctx context.Context, sessionID string) ([]MeetingRequest, error)
}
