package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mull/api/internal/metrics"
	"mull/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
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

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		promhttp.Handler().ServeHTTP(w, r)
		return
	}

	// Job stats are public for monitoring, no user required.
	if r.Method == http.MethodGet && r.URL.Path == "/api/v1/reminder-job/stats" {
		writeJSON(w, http.StatusOK, map[string]any{"stats": s.service.JobStats()})
		return
	}

	segments := splitPath(r.URL.Path)
	if len(segments) < 3 || segments[0] != "api" || segments[1] != "v1" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Authentication is handled upstream; the gateway forwards the verified
	// subject in X-User-ID.
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	rest := segments[2:]

	if r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "pending-reviews" {
		s.handlePendingReviews(w, r, userID)
		return
	}

	if len(rest) == 2 && rest[0] == "settings" && rest[1] == "reminders" {
		switch r.Method {
		case http.MethodGet:
			s.handleGetReminderSettings(w, r, userID)
			return
		case http.MethodPut:
			s.handleUpdateReminderSettings(w, r, userID)
			return
		}
	}

	if len(rest) >= 3 && rest[0] == "decisions" && rest[2] == "reminders" {
		decisionID := rest[1]
		switch {
		case r.Method == http.MethodGet && len(rest) == 3:
			s.handleListReminders(w, r, userID, decisionID)
			return
		case r.Method == http.MethodPost && len(rest) == 3:
			s.handleCreateReminder(w, r, userID, decisionID)
			return
		case r.Method == http.MethodPatch && len(rest) == 4:
			s.handleUpdateReminder(w, r, userID, decisionID, rest[3])
			return
		case r.Method == http.MethodDelete && len(rest) == 4:
			s.handleDeleteReminder(w, r, userID, decisionID, rest[3])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePendingReviews(w http.ResponseWriter, r *http.Request, userID string) {
	reviews, err := s.service.PendingReviews(r.Context(), userID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pendingReviews": reviews})
}

func (s *HTTPServer) handleListReminders(w http.ResponseWriter, r *http.Request, userID, decisionID string) {
	reminders, err := s.service.ListReminders(r.Context(), userID, decisionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reminders":  toReminderViews(reminders),
		"decisionId": decisionID,
	})
}

func (s *HTTPServer) handleCreateReminder(w http.ResponseWriter, r *http.Request, userID, decisionID string) {
	var body struct {
		RemindAt string `json:"remind_at"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.RemindAt) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REMIND_AT", "remind_at is required", nil)
		return
	}
	remindAt, err := time.Parse(time.RFC3339, body.RemindAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REMIND_AT", "Invalid remind_at date format", nil)
		return
	}

	reminder, err := s.service.CreateReminder(r.Context(), userID, decisionID, remindAt)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"reminder": toReminderView(reminder),
		"message":  fmt.Sprintf("Reminder set for %s", reminder.RemindAt.Format(time.RFC3339)),
	})
}

func (s *HTTPServer) handleUpdateReminder(w http.ResponseWriter, r *http.Request, userID, decisionID, reminderID string) {
	var body struct {
		Status   *string `json:"status"`
		RemindAt *string `json:"remind_at"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var remindAt *time.Time
	if body.RemindAt != nil {
		parsed, err := time.Parse(time.RFC3339, *body.RemindAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REMIND_AT", "Invalid remind_at date format", nil)
			return
		}
		remindAt = &parsed
	}

	reminder, err := s.service.UpdateReminder(r.Context(), userID, decisionID, reminderID, remindAt, body.Status)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminder": toReminderView(reminder)})
}

func (s *HTTPServer) handleDeleteReminder(w http.ResponseWriter, r *http.Request, userID, decisionID, reminderID string) {
	if err := s.service.DeleteReminder(r.Context(), userID, decisionID, reminderID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Reminder deleted"})
}

func (s *HTTPServer) handleGetReminderSettings(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := s.service.GetReminderSettings(r.Context(), userID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": view})
}

func (s *HTTPServer) handleUpdateReminderSettings(w http.ResponseWriter, r *http.Request, userID string) {
	var body ReminderSettingsView
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.UpdateReminderSettings(r.Context(), userID, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": view})
}

type reminderView struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	RemindAt   time.Time `json:"remind_at"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func toReminderView(reminder store.Reminder) reminderView {
	return reminderView{
		ID:         reminder.ID,
		DecisionID: reminder.DecisionID,
		RemindAt:   reminder.RemindAt,
		Status:     reminder.Status,
		CreatedAt:  reminder.CreatedAt,
	}
}

func toReminderViews(reminders []store.Reminder) []reminderView {
	views := make([]reminderView, 0, len(reminders))
	for _, reminder := range reminders {
		views = append(views, toReminderView(reminder))
	}
	return views
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
		if r.URL.Path != "/metrics" {
			setCORSHeaders(writer.Header(), s.corsOrigin)
		}
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(writer.status)).
			Observe(duration.Seconds())
		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", duration),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, store.ErrReminderNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "INTERNAL", "Internal error", nil
}
