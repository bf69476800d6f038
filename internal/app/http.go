package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lawbook/api/internal/evidence"
	"lawbook/api/internal/store"
)

const maxEvidenceBytes = 8 << 20

type HTTPServer struct {
	service    *Service
	evidence   *evidence.Service // nil when MinIO is not configured
	corsOrigin string
}

func NewHTTPServer(service *Service, evidenceService *evidence.Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, evidence: evidenceService, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	switch {
	case r.URL.Path == "/api/rules":
		s.handleRules(w, r)
	case r.URL.Path == "/api/rules/search":
		s.handleRuleSearch(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/rules/"):
		s.handleRule(w, r, strings.TrimPrefix(r.URL.Path, "/api/rules/"))
	case r.URL.Path == "/api/violations":
		s.handleViolations(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/violations/"):
		s.handleViolation(w, r, strings.TrimPrefix(r.URL.Path, "/api/violations/"))
	case strings.HasPrefix(r.URL.Path, "/api/offenders/"):
		s.handleOffender(w, r, strings.TrimPrefix(r.URL.Path, "/api/offenders/"))
	case r.URL.Path == "/api/evidence":
		s.handleEvidence(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := s.service.ListRules(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(rules))
		for _, rule := range rules {
			items = append(items, rulePayload(rule))
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": items})
	case http.MethodPost:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var input CreateRuleInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		rule, err := s.service.CreateRule(r.Context(), actor, input)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rulePayload(rule))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	}
}

func (s *HTTPServer) handleRuleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	response, err := s.service.SearchRules(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleRule(w http.ResponseWriter, r *http.Request, identifier string) {
	if identifier == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var input UpdateRuleInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		rule, err := s.service.UpdateRule(r.Context(), actor, identifier, input)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rulePayload(rule))
	case http.MethodDelete:
		if err := s.service.RemoveRule(r.Context(), actor, identifier); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": true, "identifier": identifier})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	}
}

func (s *HTTPServer) handleViolations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var input CreateViolationInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	violation, err := s.service.CreateViolation(r.Context(), actor, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, violationPayload(violation))
}

func (s *HTTPServer) handleViolation(w http.ResponseWriter, r *http.Request, rest string) {
	shortID, action, _ := strings.Cut(rest, "/")
	if shortID == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
		return
	}

	if action != "" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var err error
		switch action {
		case "approve":
			err = s.service.ApproveViolation(r.Context(), actor, shortID)
		case "reimburse":
			err = s.service.ReimburseViolation(r.Context(), actor, shortID)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shortId": shortID, "applied": action})
		return
	}

	switch r.Method {
	case http.MethodGet:
		violation, err := s.service.GetViolation(r.Context(), shortID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, violationPayload(violation))
	case http.MethodDelete:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		if err := s.service.RemoveViolation(r.Context(), actor, shortID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": true, "shortId": shortID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	}
}

func (s *HTTPServer) handleOffender(w http.ResponseWriter, r *http.Request, rest string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	offenderID, resource, _ := strings.Cut(rest, "/")
	if offenderID == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
		return
	}
	switch resource {
	case "violations":
		list, err := s.service.ListViolations(r.Context(), offenderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(list.Items))
		for _, item := range list.Items {
			items = append(items, violationPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"offenderId": offenderID,
			"violations": items,
			"total":      list.Total,
		})
	case "total":
		total, err := s.service.OffenderTotal(r.Context(), offenderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"offenderId": offenderID, "total": total})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) handleEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	if s.evidence == nil {
		writeError(w, http.StatusServiceUnavailable, "EVIDENCE_DISABLED", "evidence storage is not configured", nil)
		return
	}
	if err := r.ParseMultipartForm(maxEvidenceBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with a file field", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
		return
	}
	defer file.Close()

	url, err := s.evidence.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		log.Printf("evidence: upload %s: %v", header.Filename, err)
		writeError(w, http.StatusInternalServerError, "EVIDENCE_UPLOAD_FAILED", "could not store evidence", nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"url": url})
}

func rulePayload(rule store.Rule) map[string]any {
	return map[string]any{
		"shortId":     rule.ShortID,
		"title":       rule.Title,
		"description": rule.Description,
		"maxFines":    rule.MaxFines,
	}
}

func violationPayload(violation store.Violation) map[string]any {
	payload := map[string]any{
		"shortId": violation.ShortID,
		"rule": map[string]any{
			"title":   violation.Rule.Title,
			"shortId": violation.Rule.ShortID,
		},
		"description":     violation.Description,
		"count":           violation.Count,
		"approved":        violation.Approved,
		"reimbursed":      violation.Reimbursed,
		"offenderId":      violation.OffenderID,
		"offenderDisplay": violation.OffenderDisplay,
		"issuerId":        violation.IssuerID,
		"issuerDisplay":   violation.IssuerDisplay,
		"createdAt":       violation.CreatedAt.UTC().Format(time.RFC3339),
	}
	if violation.EvidenceURL != "" {
		payload["evidenceUrl"] = violation.EvidenceURL
	}
	return payload
}

// requireActor extracts the gateway-asserted identity headers.
func requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor := Actor{
		ID:      strings.TrimSpace(r.Header.Get("X-Actor-Id")),
		Display: strings.TrimSpace(r.Header.Get("X-Actor-Name")),
	}
	if actor.ID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ACTOR", "X-Actor-Id header is required", nil)
		return Actor{}, false
	}
	return actor, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	if domain, ok := IsDomain(err); ok {
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
		return
	}
	log.Printf("internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-Id, X-Actor-Name, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
