package invitation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	return NewHandler(f.svc), f, echo.New()
}

func TestHandler_Access_Active(t *testing.T) {
	h, f, e := newTestHandler(t)
	inv := f.create(t, DeliveryEmail)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(inv.Token)

	if err := h.HandleAccess(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var status string
	json.Unmarshal(body["status"], &status)
	if status != "active" {
		t.Errorf("status = %q, want active", status)
	}
	if _, ok := body["active"]; !ok {
		t.Error("active payload missing")
	}
}

func TestHandler_Access_TerminalShapes(t *testing.T) {
	h, f, e := newTestHandler(t)

	completed := f.create(t, DeliveryEmail)
	if _, err := f.svc.Complete(context.Background(), completed.Token, fullPHQ9(), Meta{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	expired := f.create(t, DeliveryEmail)

	unknown, _ := NewToken()
	cases := []struct {
		name       string
		token      string
		advance    time.Duration
		wantCode   int
		wantStatus string
	}{
		{"not found", unknown, 0, http.StatusNotFound, "not_found"},
		{"malformed", "zzz", 0, http.StatusNotFound, "not_found"},
		{"completed", completed.Token, 0, http.StatusOK, "completed"},
		{"expired", expired.Token, 25 * time.Hour, http.StatusGone, "expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.advance(tc.advance)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("token")
			c.SetParamValues(tc.token)

			if err := h.HandleAccess(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tc.wantStatus {
				t.Errorf("status = %q, want %q", body["status"], tc.wantStatus)
			}
		})
	}
}

func TestHandler_Complete(t *testing.T) {
	h, f, e := newTestHandler(t)
	inv := f.create(t, DeliveryEmail)

	body := `{"responses":[{"item":1,"value":"1"},{"item":2,"value":"2"},{"item":3,"value":"3"},
		{"item":4,"value":"0"},{"item":5,"value":"1"},{"item":6,"value":"2"},
		{"item":7,"value":"3"},{"item":8,"value":"0"},{"item":9,"value":"1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(inv.Token)

	if err := h.HandleComplete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Result struct {
			Raw            int    `json:"raw"`
			Max            int    `json:"max"`
			Interpretation string `json:"interpretation"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Raw != 13 || resp.Result.Max != 27 || resp.Result.Interpretation != "moderate" {
		t.Errorf("result = %+v", resp.Result)
	}
}

func TestHandler_SaveProgress(t *testing.T) {
	h, f, e := newTestHandler(t)
	inv := f.create(t, DeliveryEmail)

	body := `{"responses":[{"item":1,"value":"2"}],"currentItemIndex":1,"percentageComplete":11}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(inv.Token)

	if err := h.HandleSaveProgress(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	snap, _ := f.store.GetProgress(context.Background(), inv.ID)
	if snap == nil || snap.PercentageComplete != 11 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHandler_Create(t *testing.T) {
	h, _, e := newTestHandler(t)

	body := `{"scale_id":"phq9","patient_id":"` + uuid.New().String() +
		`","administrator_id":"` + uuid.New().String() +
		`","recipient":"p@example.org","expiry_days":7,"delivery_method":"email"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleCreate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		Invitation Invitation `json:"invitation"`
		Link       string     `json:"link"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Link == "" || len(resp.Invitation.Token) != 64 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandler_Cancel_Conflict(t *testing.T) {
	h, f, e := newTestHandler(t)
	inv := f.create(t, DeliveryEmail)
	if err := f.svc.Cancel(context.Background(), inv.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())

	err := h.HandleCancel(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Errorf("expected 409 conflict, got %v", err)
	}
}
