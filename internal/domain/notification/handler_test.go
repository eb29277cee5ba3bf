package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ayursutra/ayursutra/internal/platform/auth"
	"github.com/ayursutra/ayursutra/pkg/pagination"
)

func as(req *http.Request, ayurSutraID, role string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), "u-"+ayurSutraID, ayurSutraID, role))
}

func TestHandler_List(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	h := NewHandler(svc)
	e := echo.New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Notify(ctx, Input{RecipientID: "ASP-AAAAAAAA", Title: "n"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Notify(ctx, Input{RecipientID: "ASP-ZZZZZZZZ", Title: "other"}); err != nil {
		t.Fatal(err)
	}

	req := as(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=2", nil), "ASP-AAAAAAAA", auth.RolePatient)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	var resp pagination.Page[json.RawMessage]
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Total)
	}
	if !resp.HasMore {
		t.Error("expected has_more with limit 2")
	}
}

func TestHandler_List_BadUnreadFlag(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	h := NewHandler(svc)
	req := as(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unread=sometimes", nil), "ASP-AAAAAAAA", auth.RolePatient)
	err := h.List(echo.New().NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	h := NewHandler(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/unread-count", nil)
	err := h.UnreadCount(echo.New().NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_MarkRead(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	h := NewHandler(svc)
	e := echo.New()
	n, err := svc.Notify(context.Background(), Input{RecipientID: "ASP-AAAAAAAA", Title: "n"})
	if err != nil {
		t.Fatal(err)
	}

	req := as(httptest.NewRequest(http.MethodPut, "/", nil), "ASP-AAAAAAAA", auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.MarkRead(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"read":true`) {
		t.Errorf("expected read flag in body, got %s", rec.Body.String())
	}

	req = as(httptest.NewRequest(http.MethodPut, "/", nil), "ASP-ZZZZZZZZ", auth.RolePatient)
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	err = h.MarkRead(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user, got %v", err)
	}
}

func TestHandler_MarkRead_BadID(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	h := NewHandler(svc)
	req := as(httptest.NewRequest(http.MethodPut, "/", nil), "ASP-AAAAAAAA", auth.RolePatient)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	err := h.MarkRead(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_RegisterDevice(t *testing.T) {
	svc, _, devices, _ := newTestService(nil)
	h := NewHandler(svc)
	req := as(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/devices",
		strings.NewReader(`{"token":"fcm-token","platform":"android"}`)), "ASP-AAAAAAAA", auth.RolePatient)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.RegisterDevice(echo.New().NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if toks, _ := devices.Tokens(context.Background(), "ASP-AAAAAAAA"); len(toks) != 1 {
		t.Errorf("expected device stored for caller, got %v", toks)
	}
}

func TestHandler_Send(t *testing.T) {
	svc, notes, _, _ := newTestService(nil)
	h := NewHandler(svc)
	req := as(httptest.NewRequest(http.MethodPost, "/api/v1/notifications",
		strings.NewReader(`{"recipient_id":"ASP-AAAAAAAA","title":"Clinic closed","message":"Closed on Friday"}`)), "ASA-ADMINAAA", auth.RoleAdmin)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Send(echo.New().NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if len(notes.items) != 1 {
		t.Errorf("expected 1 notification, got %d", len(notes.items))
	}
}

func TestHandler_RegisterDevice_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		fail     bool
		wantCode int
		wantMsg  string
	}{
		{"missing token", `{"platform":"android"}`, false, http.StatusBadRequest, "token is required"},
		{"bad platform", `{"token":"t","platform":"symbian"}`, false, http.StatusBadRequest, "platform must be"},
		{"store failure", `{"token":"t","platform":"ios"}`, true, http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, devices, _ := newTestService(nil)
			devices.fail = tt.fail
			req := as(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/devices",
				strings.NewReader(tt.body)), "ASP-AAAAAAAA", auth.RolePatient)
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

			err := NewHandler(svc).RegisterDevice(echo.New().NewContext(req, httptest.NewRecorder()))
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
			msg, _ := httpErr.Message.(string)
			if !strings.Contains(msg, tt.wantMsg) || strings.Contains(msg, "pq:") {
				t.Errorf("message = %q", msg)
			}
		})
	}
}

func TestHandler_Send_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		fail     bool
		wantCode int
	}{
		{"missing title", `{"recipient_id":"ASP-AAAAAAAA"}`, false, http.StatusBadRequest},
		{"missing recipient", `{"title":"Clinic closed"}`, false, http.StatusBadRequest},
		{"store failure", `{"recipient_id":"ASP-AAAAAAAA","title":"Clinic closed"}`, true, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, notes, _, _ := newTestService(nil)
			notes.fail = tt.fail
			req := as(httptest.NewRequest(http.MethodPost, "/api/v1/notifications",
				strings.NewReader(tt.body)), "ASA-ADMINAAA", auth.RoleAdmin)
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

			err := NewHandler(svc).Send(echo.New().NewContext(req, httptest.NewRecorder()))
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
			if msg, _ := httpErr.Message.(string); strings.Contains(msg, "insert failed") {
				t.Errorf("store error leaked to client: %q", msg)
			}
		})
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	svc, _, _, _ := newTestService(nil)
	e := echo.New()
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"))

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+":"+r.Path] = true
	}
	for _, want := range []string{
		"GET:/api/v1/notifications",
		"GET:/api/v1/notifications/unread-count",
		"PUT:/api/v1/notifications/read-all",
		"PUT:/api/v1/notifications/:id/read",
		"DELETE:/api/v1/notifications/:id",
		"POST:/api/v1/notifications/devices",
		"DELETE:/api/v1/notifications/devices",
		"POST:/api/v1/notifications",
	} {
		if !routes[want] {
			t.Errorf("missing route %s", want)
		}
	}
}
