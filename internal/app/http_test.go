package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"lawbook/api/internal/allocator"
)

func newTestHandler(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	s := newMemService(newMemStore(), allocator.PolicySequential)
	return NewHTTPServer(s, nil, "*").Handler(), s
}

func doJSON(t *testing.T, handler http.Handler, method, path string, actor Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor.ID != "" {
		req.Header.Set("X-Actor-Id", actor.ID)
		req.Header.Set("X-Actor-Name", actor.Display)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func expectHTTPError(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", recorder.Code, status, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["code"] != code {
		t.Fatalf("code = %v, want %s", payload["code"], code)
	}
	if _, ok := payload["error"]; !ok {
		t.Fatal("error envelope must carry a message")
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodGet, "/api/health", Actor{}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatal("responses must carry a request id")
	}
}

func TestReadyEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodGet, "/api/ready", Actor{}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != "ready" {
		t.Fatalf("status = %v, want ready", payload["status"])
	}
}

func TestCreateRuleRequiresActorHeader(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodPost, "/api/rules", Actor{}, CreateRuleInput{Title: "Noise"})
	expectHTTPError(t, recorder, http.StatusBadRequest, "MISSING_ACTOR")
}

func TestCreateRuleForbiddenOverHTTP(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodPost, "/api/rules", ordinary, CreateRuleInput{Title: "Noise"})
	expectHTTPError(t, recorder, http.StatusForbidden, "FORBIDDEN")
}

func TestRuleAndViolationFlowOverHTTP(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodPost, "/api/rules", master, CreateRuleInput{
		Title:       "Noise",
		Description: "Keep voice channels quiet.",
		MaxFines:    5,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create rule status = %d, want 201 (body %s)", recorder.Code, recorder.Body.String())
	}
	created := decodeResponse(t, recorder)
	shortID, _ := created["shortId"].(string)
	if shortID == "" {
		t.Fatalf("create rule response missing shortId: %v", created)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/rules", Actor{}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list rules status = %d, want 200", recorder.Code)
	}
	listed := decodeResponse(t, recorder)
	if rules, ok := listed["rules"].([]any); !ok || len(rules) != 1 {
		t.Fatalf("expected one listed rule, got %v", listed["rules"])
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/violations", ordinary, CreateViolationInput{
		RuleIdentifier:  "No",
		Description:     "Screaming in general.",
		Count:           2,
		OffenderID:      "user-1",
		OffenderDisplay: "First User",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create violation status = %d, want 201 (body %s)", recorder.Code, recorder.Body.String())
	}
	violation := decodeResponse(t, recorder)
	if violation["shortId"] != "1" {
		t.Fatalf("violation shortId = %v, want 1", violation["shortId"])
	}
	rule, _ := violation["rule"].(map[string]any)
	if rule["shortId"] != shortID || rule["title"] != "Noise" {
		t.Fatalf("rule snapshot %v is wrong", violation["rule"])
	}
	if _, present := violation["evidenceUrl"]; present {
		t.Fatal("evidenceUrl must be omitted when empty")
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/offenders/user-1/violations", Actor{}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list violations status = %d, want 200", recorder.Code)
	}
	offender := decodeResponse(t, recorder)
	if offender["total"] != float64(2) {
		t.Fatalf("total = %v, want 2", offender["total"])
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/offenders/user-1/total", Actor{}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("offender total status = %d, want 200", recorder.Code)
	}
	total := decodeResponse(t, recorder)
	if total["total"] != float64(2) {
		t.Fatalf("total = %v, want 2", total["total"])
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/violations/1/approve", master, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("approve status = %d, want 200 (body %s)", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/api/violations/1", master, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("remove status = %d, want 200 (body %s)", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/violations/1", Actor{}, nil)
	expectHTTPError(t, recorder, http.StatusNotFound, "NOT_FOUND")
}

func TestSelfTargetRejectedOverHTTP(t *testing.T) {
	handler, s := newTestHandler(t)
	if _, err := s.CreateRule(context.Background(), master, CreateRuleInput{Title: "Noise"}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	recorder := doJSON(t, handler, http.MethodPost, "/api/violations", ordinary, CreateViolationInput{
		RuleIdentifier: "Noise",
		Count:          1,
		OffenderID:     ordinary.ID,
	})
	expectHTTPError(t, recorder, http.StatusUnprocessableEntity, "SELF_TARGET_FORBIDDEN")
}

func TestUnknownRoute(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodGet, "/api/nope", Actor{}, nil)
	expectHTTPError(t, recorder, http.StatusNotFound, "NOT_FOUND")
}

func TestInvalidBody(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/rules", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Actor-Id", master.ID)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	expectHTTPError(t, recorder, http.StatusBadRequest, "INVALID_BODY")
}

func TestEvidenceDisabled(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := doJSON(t, handler, http.MethodPost, "/api/evidence", ordinary, nil)
	expectHTTPError(t, recorder, http.StatusServiceUnavailable, "EVIDENCE_DISABLED")
}

func TestRuleSearchFallsBackToStore(t *testing.T) {
	handler, s := newTestHandler(t)
	ctx := context.Background()
	for i, title := range []string{"Noise", "Spam", "Spoilers"} {
		if _, err := s.CreateRule(ctx, master, CreateRuleInput{Title: title, Description: fmt.Sprintf("Rule number %d.", i)}); err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
	}

	recorder := doJSON(t, handler, http.MethodGet, "/api/rules/search?q=sp", Actor{}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("search status = %d, want 200 (body %s)", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["total"] != float64(2) {
		t.Fatalf("total = %v, want 2", payload["total"])
	}

	recorder = doJSON(t, handler, http.MethodGet, "/api/rules/search", Actor{}, nil)
	expectHTTPError(t, recorder, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}
