package review

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bizpulse-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the review service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches review routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/review/start", h.start)
	rg.GET("/review/:id/next", h.next)
	rg.POST("/review/:id/answer", h.answer)
	rg.POST("/review/session/contact", h.contact)
	rg.GET("/review/session/:id/contact", h.getContact)
	rg.POST("/review/session/meeting/request", h.requestMeeting)
	rg.GET("/review/session/:id/meeting/requests", h.listMeetings)
}

func (h *Handler) start(c *gin.Context) {
	session, first, err := h.Svc.Start(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start review session", nil)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{
		"session_id": session.ID,
		"question":   first,
	})
}

func (h *Handler) next(c *gin.Context) {
	sessionID, ok := sessionParam(c, "id")
	if !ok {
		return
	}
	question, completed, err := h.Svc.NextQuestion(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "failed to fetch next question")
		return
	}
	if completed {
		respond.JSON(c, http.StatusOK, gin.H{"completed": true})
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"completed": false, "question": question})
}

type answerPayload struct {
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
}

func (h *Handler) answer(c *gin.Context) {
	sessionID, ok := sessionParam(c, "id")
	if !ok {
		return
	}
	var payload answerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	next, completed, err := h.Svc.SubmitAnswer(c.Request.Context(), sessionID, payload.QuestionID, payload.Text)
	if err != nil {
		h.fail(c, err, "failed to submit answer")
		return
	}
	resp := gin.H{"completed": completed}
	if next != nil {
		resp["next_question"] = next
	}
	respond.JSON(c, http.StatusOK, resp)
}

type contactPayload struct {
	SessionID   string `json:"session_id"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

func (h *Handler) contact(c *gin.Context) {
	var payload contactPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if _, err := uuid.Parse(payload.SessionID); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "session_id must be a valid uuid", nil)
		return
	}
	session, err := h.Svc.Contact(c.Request.Context(), payload.SessionID, payload.PhoneNumber, payload.Email)
	if err != nil {
		h.fail(c, err, "failed to save contact info")
		return
	}
	respond.JSON(c, http.StatusOK, contactResponse(session))
}

func (h *Handler) getContact(c *gin.Context) {
	sessionID, ok := sessionParam(c, "id")
	if !ok {
		return
	}
	session, err := h.Svc.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "failed to fetch contact info")
		return
	}
	respond.JSON(c, http.StatusOK, contactResponse(session))
}

type meetingPayload struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) requestMeeting(c *gin.Context) {
	var payload meetingPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if _, err := uuid.Parse(payload.SessionID); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "session_id must be a valid uuid", nil)
		return
	}
	request, err := h.Svc.RequestMeeting(c.Request.Context(), payload.SessionID)
	if err != nil {
		h.fail(c, err, "failed to create meeting request")
		return
	}
	respond.JSON(c, http.StatusCreated, request)
}

func (h *Handler) listMeetings(c *gin.Context) {
	sessionID, ok := sessionParam(c, "id")
	if !ok {
		return
	}
	requests, err := h.Svc.ListMeetings(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "failed to list meeting requests")
		return
	}
	if requests == nil {
		requests = []MeetingRequest{}
	}
	respond.JSON(c, http.StatusOK, gin.H{"meeting_requests": requests})
}

func (h *Handler) fail(c *gin.Context, err error, fallback string) {
	var validationErr *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "review session not found", nil)
	case errors.Is(err, ErrContactRequired):
		respond.Error(c, http.StatusBadRequest, "validation_error", "contact info is required first", nil)
	case errors.As(err, &validationErr):
		respond.Error(c, http.StatusBadRequest, "validation_error", validationErr.Msg, nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func sessionParam(c *gin.Context, name string) (string, bool) {
	sessionID := c.Param(name)
	if _, err := uuid.Parse(sessionID); err != nil {
		respond.Error(c, http.StatusNotFound, "not_found", "review session not found", nil)
		return "", false
	}
	return sessionID, true
}

func contactResponse(session Session) gin.H {
	return gin.H{
		"session_id":   session.ID,
		"phone_number": session.PhoneNumber,
		"email":        session.Email,
		"completed":    session.Completed(),
	}
}
