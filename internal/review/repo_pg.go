package review

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// CreateSession inserts a new review session.
func (r *PGRepo) CreateSession(ctx context.Context, session Session) error {
	const query = `
INSERT INTO review_sessions (id, phone_number, email, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)`
	_, err := r.DB.ExecContext(ctx, query, session.ID, session.PhoneNumber, session.Email, session.CreatedAt)
	return err
}

// GetSession returns a session by its id.
func (r *PGRepo) GetSession(ctx context.Context, sessionID string) (Session, error) {
	const query = `
SELECT id, phone_number, email, completed_at, created_at, updated_at
FROM review_sessions
WHERE id = $1
LIMIT 1`
	var s Session
	var completedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, query, sessionID).Scan(
		&s.ID,
		&s.PhoneNumber,
		&s.Email,
		&completedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return s, nil
}

// UpdateContact stores normalized contact info on the session.
func (r *PGRepo) UpdateContact(ctx context.Context, sessionID, phone, email string) error {
	const query = `
UPDATE review_sessions
SET phone_number = $1,
    email = $2,
    updated_at = now()
WHERE id = $3`
	res, err := r.DB.ExecContext(ctx, query, phone, email, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted stamps the session as completed. Idempotent.
func (r *PGRepo) MarkCompleted(ctx context.Context, sessionID string, at time.Time) error {
	const query = `
UPDATE review_sessions
SET completed_at = COALESCE(completed_at, $1),
    updated_at = now()
WHERE id = $2`
	res, err := r.DB.ExecContext(ctx, query, at, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveQuestions returns the active questions in ascending order.
func (r *PGRepo) ActiveQuestions(ctx context.Context) ([]Question, error) {
	const query = `
SELECT id, prompt, question_order, is_active
FROM review_questions
WHERE is_active
ORDER BY question_order ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Prompt, &q.Order, &q.IsActive); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpsertAnswer inserts or replaces the answer for (session, question).
func (r *PGRepo) UpsertAnswer(ctx context.Context, answer Answer) (Answer, error) {
	const query = `
INSERT INTO review_answers (session_id, question_id, answer_text, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, question_id)
DO UPDATE SET answer_text = EXCLUDED.answer_text
RETURNING id, created_at`
	err := r.DB.QueryRowContext(ctx, query, answer.SessionID, answer.QuestionID, answer.Text, time.Now().UTC()).
		Scan(&answer.ID, &answer.CreatedAt)
	if err != nil {
		return Answer{}, err
	}
	return answer, nil
}

// AnswersForSession returns all answers of a session.
func (r *PGRepo) AnswersForSession(ctx context.Context, sessionID string) ([]Answer, error) {
	const query = `
SELECT id, session_id, question_id, answer_text, created_at
FROM review_answers
WHERE session_id = $1
ORDER BY created_at ASC`
	rows, err := r.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.Text, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateMeetingRequest inserts a new meeting request.
func (r *PGRepo) CreateMeetingRequest(ctx context.Context, request MeetingRequest) (MeetingRequest, error) {
	const query = `
INSERT INTO meeting_requests (review_session_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $3)
RETURNING id`
	if request.Status == "" {
		request.Status = MeetingPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	err := r.DB.QueryRowContext(ctx, query, request.SessionID, request.Status, request.CreatedAt).
		Scan(&request.ID)
	if err != nil {
		return MeetingRequest{}, err
	}
	return request, nil
}

// MeetingRequestsForSession lists meeting requests newest-first.
func (r *PGRepo) MeetingRequestsForSession(ctx context.Context, sessionID string) ([]MeetingRequest, error) {
	const query = `
SELECT id, review_session_id, status, created_at
FROM meeting_requests
WHERE review_session_id = $1
ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeetingRequest
	for rows.Next() {
		var m MeetingRequest
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)
