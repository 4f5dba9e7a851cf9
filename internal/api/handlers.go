package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gorilla/mux"

	"github.com/whatsapp-automation/bulksender/internal/antiban"
	"github.com/whatsapp-automation/bulksender/internal/browser"
	"github.com/whatsapp-automation/bulksender/internal/bulk"
	"github.com/whatsapp-automation/bulksender/internal/jobs"
)

// GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "WhatsApp Bulk Sender API",
		"endpoints": map[string]string{
			"/test":             "GET - Test connection",
			"/health":           "GET - Health check",
			"/status":           "GET - Browser session status",
			"/start":            "POST - Start sending",
			"/stop":             "POST - Stop sending",
			"/status/{job_id}":  "GET - Get job status",
			"/send-message":     "POST - Send a single message",
			"/refresh":          "POST - Refresh the WhatsApp Web session",
			"/reinit":           "POST - Restart the browser",
			"/preserve-session": "POST - Keep the login across restarts",
			"/clear-session":    "POST - Log out and wipe the profile",
		},
		"timestamp": s.now().Format(timeFormat),
		"version":   s.opts.Version,
	})
}

const timeFormat = "2006-01-02T15:04:05.000000"

// GET /test
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "WhatsApp bulk sender is running and ready",
		"timestamp":   s.now().Format(timeFormat),
		"version":     s.opts.Version,
		"active_jobs": len(s.tracker.ActiveIDs()),
		"status":      "ready",
	})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ids := s.tracker.ActiveIDs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   s.now().Format(timeFormat),
		"active_jobs": len(ids),
		"jobs":        ids,
		"browser":     s.browser.Status(r.Context()),
	})
}

// GET /status
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data": struct {
			browser.Status
			Internet    bool   `json:"internet"`
			CurrentTime string `json:"current_time"`
		}{
			Status:      s.browser.Status(r.Context()),
			Internet:    s.browser.CheckConnectivity(r.Context()),
			CurrentTime: s.now().Format(timeFormat),
		},
	})
}

// StartRequest for POST /start
type StartRequest struct {
	APIKey      string         `json:"api_key"`
	JobID       string         `json:"job_id"`
	Contacts    []bulk.Contact `json:"contacts"`
	Message     string         `json:"message"`
	Template    string         `json:"template"`
	Delay       *float64       `json:"delay"`
	MaxMessages *int           `json:"max_messages"`
	CallbackURL string         `json:"callback_url"`
}

// Validate checks the request shape. The API key is checked separately.
func (req StartRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Contacts, validation.Required.Error("at least one contact is required")),
		validation.Field(&req.Delay, validation.Min(0.0)),
		validation.Field(&req.MaxMessages, validation.Min(0)),
		validation.Field(&req.CallbackURL, validation.By(httpURL)),
	)
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.ParseRequestURI(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func (s *Server) authorized(key string) bool {
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) == 1
}

// POST /start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !s.authorized(req.APIKey) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rejected start request with invalid API key")
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	message, err := bulk.ResolveMessage(req.Message, req.Template)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delay := s.opts.DefaultDelay
	if req.Delay != nil {
		delay = *req.Delay
	}
	maxMessages := 0
	if req.MaxMessages != nil {
		maxMessages = *req.MaxMessages
	}

	rec, err := s.runner.Submit(bulk.Request{
		JobID:       req.JobID,
		Contacts:    req.Contacts,
		Message:     message,
		Delay:       antiban.Seconds(delay),
		MaxMessages: maxMessages,
		CallbackURL: req.CallbackURL,
	})
	switch {
	case errors.Is(err, bulk.ErrBusy), errors.Is(err, jobs.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"job_id":         rec.ID,
		"message":        "WhatsApp bulk sending started successfully",
		"contacts_count": rec.Total,
		"estimated_time": fmt.Sprintf("%.1f minutes", float64(rec.Total)*delay/60),
		"status_url":     "/status/" + url.PathEscape(rec.ID),
	})
}

type apiKeyRequest struct {
	APIKey string `json:"api_key"`
}

// POST /stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No data received")
		return
	}
	if !s.authorized(req.APIKey) {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}

	n := s.tracker.StopAll()
	s.log.Info().Int("stopped", n).Msg("stop requested")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      fmt.Sprintf("Stopped %d jobs", n),
		"stopped_jobs": n,
	})
}

// GET /status/{job_id}
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["job_id"]
	rec, err := s.tracker.Get(id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Job %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"success":        true,
		"job_id":         rec.ID,
		"status":         rec.Status,
		"started_at":     rec.StartedAt.Format(timeFormat),
		"total_contacts": rec.Total,
		"sent":           rec.Sent,
		"failed":         rec.Failed,
		"progress":       rec.Progress,
	}
	if rec.CompletedAt != nil {
		resp["completed_at"] = rec.CompletedAt.Format(timeFormat)
	}
	if rec.Error != "" {
		resp["error"] = rec.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /callback
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "No data received")
		return
	}
	s.log.Info().Interface("payload", payload).Msg("callback received")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Callback received"})
}

// SendMessageRequest for POST /send-message
type SendMessageRequest struct {
	Phone   bulk.FlexString `json:"phone"`
	Message string          `json:"message"`
}

// POST /send-message
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusBadRequest, "No JSON data provided")
		return
	}
	phone := strings.TrimSpace(string(req.Phone))
	if phone == "" || strings.TrimSpace(req.Message) == "" {
		writeResult(w, http.StatusBadRequest, "Missing phone or message")
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()

	err := s.sender.Send(ctx, phone, req.Message)
	switch {
	case errors.Is(err, browser.ErrNoBrowser):
		writeResult(w, http.StatusInternalServerError, "WhatsApp not initialized")
	case err != nil:
		s.log.Warn().Err(err).Str("phone", phone).Msg("single send failed")
		writeResult(w, http.StatusInternalServerError, fmt.Sprintf("Failed to send message to %s: %v", phone, err))
	default:
		writeResult(w, http.StatusOK, "Message sent to "+phone)
	}
}

// POST /refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()

	ok, err := s.browser.Refresh(ctx)
	switch {
	case errors.Is(err, browser.ErrRefreshInProgress):
		writeResult(w, http.StatusConflict, "Refresh already in progress")
	case err != nil:
		writeResult(w, http.StatusInternalServerError, err.Error())
	case !ok:
		writeResult(w, http.StatusInternalServerError, "Refresh failed; QR scan may be required")
	default:
		writeResult(w, http.StatusOK, "Refresh completed")
	}
}

// POST /reinit
func (s *Server) handleReinit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()

	err := s.browser.Reinit(ctx)
	switch {
	case errors.Is(err, browser.ErrNotReady):
		writeResult(w, http.StatusInternalServerError, "WhatsApp loading failed")
	case err != nil:
		writeResult(w, http.StatusInternalServerError, err.Error())
	default:
		writeResult(w, http.StatusOK, "Reinitialized successfully")
	}
}

// POST /preserve-session
func (s *Server) handlePreserveSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()

	if err := s.browser.PreserveSession(ctx); err != nil {
		writeResult(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "success",
		"message":      "Session preservation enabled",
		"profile_path": s.browser.Status(ctx).ProfilePath,
	})
}

// POST /clear-session
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()

	if err := s.browser.ClearSession(ctx); err != nil {
		writeResult(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResult(w, http.StatusOK, "Session cleared. QR code will be required on next start.")
}
