// Package callback posts job progress to a caller-supplied webhook.
// Delivery is best-effort: failures are logged and returned, never retried.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Actions understood by the receiving webhook.
const (
	ActionUpdateStatus = "update_status"
	ActionJobCompleted = "job_completed"
	ActionJobError     = "job_error"
)

const (
	statusTimeout = 5 * time.Second
	finalTimeout  = 10 * time.Second
	maxErrorLen   = 500
)

// Payload is the JSON body of every callback.
type Payload struct {
	APIKey    string          `json:"api_key"`
	Action    string          `json:"action"`
	JobID     string          `json:"job_id"`
	Phone     string          `json:"phone,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Row       json.RawMessage `json:"row,omitempty"`
	Sent      *int            `json:"sent,omitempty"`
	Failed    *int            `json:"failed,omitempty"`
	Total     *int            `json:"total,omitempty"`
	JobStatus string          `json:"job_status,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ContactUpdate is the outcome of one contact.
type ContactUpdate struct {
	Phone   string
	Sent    bool
	Message string
	Row     json.RawMessage
}

// Client sends callbacks.
type Client struct {
	http   *http.Client
	apiKey string
	log    zerolog.Logger
}

// NewClient creates a client. Per-request timeouts are applied on top of
// httpClient's own.
func NewClient(httpClient *http.Client, apiKey string, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient, apiKey: apiKey, log: log}
}

// UpdateStatus reports one contact outcome to target.
func (c *Client) UpdateStatus(ctx context.Context, target, jobID string, u ContactUpdate) error {
	status := "Failed"
	if u.Sent {
		status = "Sent"
	}
	return c.post(ctx, target, statusTimeout, Payload{
		APIKey:  c.apiKey,
		Action:  ActionUpdateStatus,
		JobID:   jobID,
		Phone:   u.Phone,
		Status:  status,
		Message: u.Message,
		Row:     u.Row,
	})
}

// JobCompleted reports the final counters of a job that ran to the end or was stopped.
func (c *Client) JobCompleted(ctx context.Context, target, jobID, jobStatus string, sent, failed int) error {
	total := sent + failed
	return c.post(ctx, ActionURL(target, ActionJobCompleted), finalTimeout, Payload{
		APIKey:    c.apiKey,
		Action:    ActionJobCompleted,
		JobID:     jobID,
		Sent:      &sent,
		Failed:    &failed,
		Total:     &total,
		JobStatus: jobStatus,
	})
}

// JobError reports a job that failed before or while sending.
func (c *Client) JobError(ctx context.Context, target, jobID, errText string) error {
	if len(errText) > maxErrorLen {
		errText = errText[:maxErrorLen]
	}
	return c.post(ctx, ActionURL(target, ActionJobError), finalTimeout, Payload{
		APIKey: c.apiKey,
		Action: ActionJobError,
		JobID:  jobID,
		Error:  errText,
	})
}

// ActionURL derives the URL for action from the per-contact callback URL:
// an existing action=update_status is replaced, otherwise action is added
// as a query parameter. An empty target stays empty.
func ActionURL(target, action string) string {
	if target == "" {
		return ""
	}
	if strings.Contains(target, "action="+ActionUpdateStatus) {
		return strings.Replace(target, "action="+ActionUpdateStatus, "action="+action, 1)
	}
	u, err := url.Parse(target)
	if err != nil {
		return target + "?action=" + action
	}
	q := u.Query()
	q.Set("action", action)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) post(ctx context.Context, target string, timeout time.Duration, p Payload) error {
	if target == "" {
		return nil
	}
	log := c.log.With().Str("job_id", p.JobID).Str("action", p.Action).Logger()

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal callback: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("invalid callback url")
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("could not send callback")
		return fmt.Errorf("failed to send callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("callback rejected")
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	log.Debug().Str("phone", p.Phone).Str("status", p.Status).Msg("callback sent")
	return nil
}
