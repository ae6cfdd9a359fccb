package review

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupReviewRouter() (*gin.Engine, *Service, *recordingTrigger) {
	gin.SetMode(gin.TestMode)
	svc, trigger := newTestService()

	router := gin.New()
	api := router.Group("/api/v1")
	NewHandler(svc).RegisterRoutes(api)
	return router, svc, trigger
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestReviewWalkthroughOverHTTP(t *testing.T) {
	router, svc, trigger := setupReviewRouter()

	start := doJSON(t, router, http.MethodPost, "/api/v1/review/start", nil)
	if start.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", start.Code, start.Body)
	}
	var started struct {
		SessionID string `json:"session_id"`
		Question  struct {
			ID    int64 `json:"id"`
			Order int   `json:"order"`
		} `json:"question"`
	}
	if err := json.NewDecoder(start.Body).Decode(&started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if started.SessionID == "" || started.Question.Order != 1 {
		t.Fatalf("expected a session with the first question, got %+v", started)
	}

	questions, _ := svc.Repo.ActiveQuestions(context.Background())
	for i, q := range questions {
		resp := doJSON(t, router, http.MethodPost, "/api/v1/review/"+started.SessionID+"/answer", map[string]any{
			"question_id": q.ID,
			"text":        "پاسخ",
		})
		if resp.Code != http.StatusOK {
			t.Fatalf("answer %d: expected status 200, got %d: %s", i+1, resp.Code, resp.Body)
		}
		var answered struct {
			Completed    bool `json:"completed"`
			NextQuestion *struct {
				Order int `json:"order"`
			} `json:"next_question"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&answered); err != nil {
			t.Fatalf("decode answer response: %v", err)
		}
		last := i == len(questions)-1
		if answered.Completed != last {
			t.Fatalf("answer %d: completed=%v", i+1, answered.Completed)
		}
		if !last && answered.NextQuestion == nil {
			t.Fatalf("answer %d: expected a next question", i+1)
		}
	}

	if len(trigger.sessions) != 1 || trigger.sessions[0] != started.SessionID {
		t.Fatalf("expected the walkthrough to trigger one analysis, got %v", trigger.sessions)
	}

	next := doJSON(t, router, http.MethodGet, "/api/v1/review/"+started.SessionID+"/next", nil)
	if next.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", next.Code)
	}
	var nextBody struct {
		Completed bool `json:"completed"`
	}
	if err := json.NewDecoder(next.Body).Decode(&nextBody); err != nil {
		t.Fatalf("decode next response: %v", err)
	}
	if !nextBody.Completed {
		t.Fatalf("expected completed session")
	}
}

func TestReviewSessionIDValidation(t *testing.T) {
	router, _, _ := setupReviewRouter()

	if resp := doJSON(t, router, http.MethodGet, "/api/v1/review/not-a-uuid/next", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for malformed id, got %d", resp.Code)
	}
	if resp := doJSON(t, router, http.MethodGet, "/api/v1/review/123e4567-e89b-12d3-a456-426614174000/next", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown session, got %d", resp.Code)
	}
}

func TestMeetingRequestRequiresContactOverHTTP(t *testing.T) {
	router, svc, _ := setupReviewRouter()
	session, _, err := svc.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	meeting := doJSON(t, router, http.MethodPost, "/api/v1/review/session/meeting/request", map[string]any{
		"session_id": session.ID,
	})
	if meeting.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 before contact info, got %d", meeting.Code)
	}

	contact := doJSON(t, router, http.MethodPost, "/api/v1/review/session/contact", map[string]any{
		"session_id":   session.ID,
		"phone_number": "09123456789",
	})
	if contact.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", contact.Code, contact.Body)
	}
	var contactBody struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.NewDecoder(contact.Body).Decode(&contactBody); err != nil {
		t.Fatalf("decode contact response: %v", err)
	}
	if contactBody.PhoneNumber != "+989123456789" {
		t.Fatalf("expected normalized phone in response, got %q", contactBody.PhoneNumber)
	}

	meeting = doJSON(t, router, http.MethodPost, "/api/v1/review/session/meeting/request", map[string]any{
		"session_id": session.ID,
	})
	if meeting.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", meeting.Code, meeting.Body)
	}

	list := doJSON(t, router, http.MethodGet, "/api/v1/review/session/"+session.ID+"/meeting/requests", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", list.Code)
	}
	var listBody struct {
		MeetingRequests []MeetingRequest `json:"meeting_requests"`
	}
	if err := json.NewDecoder(list.Body).Decode(&listBody); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listBody.MeetingRequests) != 1 || listBody.MeetingRequests[0].Status != MeetingPending {
		t.Fatalf("expected one pending meeting request, got %+v", listBody.MeetingRequests)
	}
}
