package review

import "time"

// Meeting request statuses.
const (
	MeetingPending   = "PENDING"
	MeetingConfirmed = "CONFIRMED"
	MeetingCancelled = "CANCELLED"
)

// Session is one anonymous questionnaire walkthrough.
type Session struct {
	ID          string     `json:"id"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	Email       string     `json:"email,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"-"`
}

// Completed reports whether the session has answered all active questions.
func (s Session) Completed() bool { return s.CompletedAt != nil }

// Question is one fixed questionnaire prompt.
type Question struct {
	ID       int64  `json:"id"`
	Prompt   string `json:"prompt"`
	Order    int    `json:"order"`
	IsActive bool   `json:"-"`
}

// Answer is the latest answer a session gave to a question. One row per
// (session, question); re-answering replaces the text.
type Answer struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	QuestionID int64     `json:"question_id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// MeetingRequest is a callback request tied to a session with contact info.
type MeetingRequest struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
