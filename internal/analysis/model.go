package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Run statuses. A run is terminal at succeeded/failed; a new trigger on the
// same correlation key resets the record back to pending.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// AnswerItem is one frozen question/answer pair inside a run's input snapshot.
type AnswerItem struct {
	Order      int    `json:"order"`
	QuestionID int64  `json:"question_id"`
	Prompt     string `json:"prompt"`
	Answer     string `json:"answer"`
}

// RawAnswers is the input snapshot an analysis run is executed against.
// Immutable once a run starts; replaced wholesale by a reset.
type RawAnswers struct {
	SessionID string       `json:"session_id"`
	Answers   []AnswerItem `json:"answers"`
}

// Validate enforces the five-answer contract: unique orders 1..5 and
// non-blank prompt/answer text.
func (r RawAnswers) Validate() error {
	if len(r.Answers) != answerCount {
		return &InputError{Msg: "exactly 5 answers are required"}
	}
	seen := make(map[int]bool, answerCount)
	for _, item := range r.Answers {
		if item.Order < 1 || item.Order > answerCount {
			return &InputError{Msg: fmt.Sprintf("answer order %d out of range 1-%d", item.Order, answerCount)}
		}
		if seen[item.Order] {
			return &InputError{Msg: "answers must include orders 1 through 5 exactly once"}
		}
		seen[item.Order] = true
		if strings.TrimSpace(item.Prompt) == "" {
			return &InputError{Msg: fmt.Sprintf("prompt missing for answer order %d", item.Order)}
		}
		if strings.TrimSpace(item.Answer) == "" {
			return &InputError{Msg: fmt.Sprintf("answer text missing for answer order %d", item.Order)}
		}
	}
	return nil
}

// Sorted returns the answers ordered by question sequence.
func (r RawAnswers) Sorted() []AnswerItem {
	out := make([]AnswerItem, len(r.Answers))
	copy(out, r.Answers)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

const answerCount = 5

// Run is one persisted analysis attempt.
type Run struct {
	ID              string     `json:"id"`
	ReviewSessionID string     `json:"review_session_id,omitempty"`
	Status          string     `json:"status"`
	RawAnswers      RawAnswers `json:"raw_answers"`
	RawResponse     string     `json:"raw_response"`
	Dashboard       *Dashboard `json:"dashboard,omitempty"`
	Error           *string    `json:"error,omitempty"`
	Generation      int64      `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"-"`
}

// CorrelationKey addresses the run's notification channel: the external
// review session when linked, otherwise the run's own id.
func (r Run) CorrelationKey() string {
	if r.ReviewSessionID != "" {
		return r.ReviewSessionID
	}
	return r.ID
}

// TargetSessionID is the identifier forced into the validated dashboard.
func (r Run) TargetSessionID() string {
	if r.ReviewSessionID != "" {
		return r.ReviewSessionID
	}
	if r.RawAnswers.SessionID != "" {
		return r.RawAnswers.SessionID
	}
	return r.ID
}
