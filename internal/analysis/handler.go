package analysis

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bizpulse-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the analysis service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analysis", h.startAnalysis)
	rg.GET("/analysis/:id", h.getAnalysis)
}

type answerPayload struct {
	Order      int    `json:"order"`
	QuestionID int64  `json:"question_id"`
	Prompt     string `json:"prompt"`
	Answer     string `json:"answer"`
}

type startPayload struct {
	ReviewSessionID string          `json:"review_session_id"`
	SessionID       string          `json:"session_id"`
	Answers         []answerPayload `json:"answers"`
}

func (h *Handler) startAnalysis(c *gin.Context) {
	var payload startPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	in, verr := payload.toStartInput()
	if verr != "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", verr, nil)
		return
	}

	run, created, err := h.Svc.StartOrReset(c.Request.Context(), in)
	if err != nil {
		var inputErr *InputError
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "review session not found", nil)
		case errors.Is(err, ErrNotCompleted):
			respond.Error(c, http.StatusBadRequest, "validation_error", "review session is not completed", nil)
		case errors.As(err, &inputErr):
			respond.Error(c, http.StatusBadRequest, "validation_error", inputErr.Msg, nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond.JSON(c, status, runResponse(run))
}

func (h *Handler) getAnalysis(c *gin.Context) {
	key := c.Param("id")
	if _, err := uuid.Parse(key); err != nil {
		respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		return
	}

	run, err := h.Svc.Snapshot(c.Request.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotCompleted):
			respond.JSON(c, http.StatusOK, gin.H{"status": "not_completed"})
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
		}
		return
	}

	resp := runResponse(run)
	resp["raw_answers"] = run.RawAnswers
	resp["raw_response"] = run.RawResponse
	respond.JSON(c, http.StatusOK, resp)
}

func (p startPayload) toStartInput() (StartInput, string) {
	hasSession := p.ReviewSessionID != ""
	hasAnswers := len(p.Answers) > 0
	if hasSession == hasAnswers {
		return StartInput{}, "provide either review_session_id or answers, not both"
	}
	if hasSession {
		if _, err := uuid.Parse(p.ReviewSessionID); err != nil {
			return StartInput{}, "review_session_id must be a valid uuid"
		}
		return StartInput{ReviewSessionID: p.ReviewSessionID}, ""
	}
	if p.SessionID == "" {
		return StartInput{}, "session_id is required when answers are supplied inline"
	}
	answers := make([]AnswerItem, 0, len(p.Answers))
	for _, a := range p.Answers {
		answers = append(answers, AnswerItem{
			Order:      a.Order,
			QuestionID: a.QuestionID,
			Prompt:     a.Prompt,
			Answer:     a.Answer,
		})
	}
	return StartInput{SessionID: p.SessionID, Answers: answers}, ""
}

func runResponse(run Run) gin.H {
	resp := gin.H{
		"id":         run.ID,
		"session_id": run.TargetSessionID(),
		"status":     run.Status,
		"created_at": run.CreatedAt,
	}
	if run.ReviewSessionID != "" {
		resp["review_session_id"] = run.ReviewSessionID
	}
	if run.Status == StatusSucceeded && run.Dashboard != nil {
		resp["dashboard"] = run.Dashboard
	}
	if run.Status == StatusFailed && run.Error != nil {
		resp["error"] = *run.Error
	}
	return resp
}
