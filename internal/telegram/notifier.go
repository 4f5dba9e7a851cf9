package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/whatsapp-automation/bulksender/internal/jobs"
)

// DefaultAPIURL is the Bot API sendMessage endpoint; %s is the bot token.
const DefaultAPIURL = "https://api.telegram.org/bot%s/sendMessage"

const timeLayout = "2006-01-02 15:04:05"

// Notifier handles Telegram notifications. A nil or unconfigured Notifier
// drops every alert.
type Notifier struct {
	token  string
	chatID string
	apiURL string
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

// NewNotifier creates a notifier. Alerts are dropped when token or chatID is empty.
func NewNotifier(token, chatID string, log zerolog.Logger) *Notifier {
	return &Notifier{
		token:  token,
		chatID: chatID,
		apiURL: DefaultAPIURL,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		now:    time.Now,
	}
}

// Enabled reports whether alerts are delivered.
func (n *Notifier) Enabled() bool {
	return n != nil && n.token != "" && n.chatID != ""
}

// SendAlert sends a message to Telegram
func (n *Notifier) SendAlert(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}

	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(n.apiURL, n.token), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	n.log.Debug().Str("text", message[:min(50, len(message))]).Msg("alert sent")
	return nil
}

func (n *Notifier) send(kind, msg string) {
	if !n.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.SendAlert(ctx, msg); err != nil {
		n.log.Warn().Err(err).Str("alert", kind).Msg("failed to send alert")
	}
}

// AlertQRRequired asks the operator to scan a fresh QR code.
func (n *Notifier) AlertQRRequired(imagePath string) {
	if !n.Enabled() {
		return
	}
	msg := fmt.Sprintf(`📷 <b>QR SCAN REQUIRED</b>

🖼️ Image: %s
⚠️ Scan it from the linked phone to restore the session
⏰ Time: %s`, imagePath, n.now().Format(timeLayout))
	n.send("qr_required", msg)
}

// AlertRefreshFailed reports that neither a soft nor a hard refresh restored the session.
func (n *Notifier) AlertRefreshFailed(reason string) {
	if !n.Enabled() {
		return
	}
	msg := fmt.Sprintf(`❌ <b>REFRESH FAILED</b>

📝 Reason: %s
⚠️ Sending is paused until the session is back
⏰ Time: %s`, reason, n.now().Format(timeLayout))
	n.send("refresh_failed", msg)
}

// AlertJobFinished sends a job summary once it completed or was stopped.
func (n *Notifier) AlertJobFinished(rec jobs.Record) {
	if !n.Enabled() {
		return
	}
	title := "✅ <b>JOB DONE</b>"
	if rec.Status == jobs.StatusStopped {
		title = "⏹️ <b>JOB STOPPED</b>"
	}
	msg := fmt.Sprintf(`%s

🆔 Job: %s
📤 Sent: %d
❌ Failed: %d
📊 Contacts: %d
⏱️ Duration: %s
⏰ Time: %s`, title, rec.ID, rec.Sent, rec.Failed, rec.Total,
		rec.Duration(n.now()).Round(time.Second), n.now().Format(timeLayout))
	n.send("job_finished", msg)
}

// AlertJobFailed reports a job that ended with an error.
func (n *Notifier) AlertJobFailed(rec jobs.Record) {
	if !n.Enabled() {
		return
	}
	msg := fmt.Sprintf(`🚨 <b>JOB FAILED</b>

🆔 Job: %s
📤 Sent: %d / %d
📝 Error: %s
⏰ Time: %s`, rec.ID, rec.Sent, rec.Total, rec.Error, n.now().Format(timeLayout))
	n.send("job_failed", msg)
}
