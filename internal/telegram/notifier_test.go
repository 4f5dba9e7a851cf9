package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/bulksender/internal/jobs"
)

func newTestNotifier(t *testing.T, status int) (*Notifier, func() []map[string]string) {
	t.Helper()
	var (
		mu   sync.Mutex
		msgs []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var p map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		msgs = append(msgs, p)
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	n := NewNotifier("TOKEN", "42", zerolog.Nop())
	n.apiURL = srv.URL + "/bot%s/sendMessage"
	n.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return n, func() []map[string]string {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]string(nil), msgs...)
	}
}

func TestDisabledNotifierIsSilent(t *testing.T) {
	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
	nilNotifier.AlertRefreshFailed("x")

	n := NewNotifier("", "42", zerolog.Nop())
	assert.False(t, n.Enabled())
	n.AlertQRRequired("qr/a.png")
}

func TestAlertQRRequired(t *testing.T) {
	n, msgs := newTestNotifier(t, http.StatusOK)
	n.AlertQRRequired("qr/abc.png")

	got := msgs()
	require.Len(t, got, 1)
	assert.Equal(t, "42", got[0]["chat_id"])
	assert.Equal(t, "HTML", got[0]["parse_mode"])
	assert.Contains(t, got[0]["text"], "QR SCAN REQUIRED")
	assert.Contains(t, got[0]["text"], "qr/abc.png")
}

func TestAlertJobFinished(t *testing.T) {
	n, msgs := newTestNotifier(t, http.StatusOK)
	started := time.Date(2025, 3, 1, 9, 58, 30, 0, time.UTC)
	done := started.Add(90 * time.Second)

	n.AlertJobFinished(jobs.Record{ID: "j1", Status: jobs.StatusStopped, StartedAt: started, CompletedAt: &done, Total: 5, Sent: 2, Failed: 1})

	got := msgs()
	require.Len(t, got, 1)
	assert.Contains(t, got[0]["text"], "JOB STOPPED")
	assert.Contains(t, got[0]["text"], "Sent: 2")
	assert.Contains(t, got[0]["text"], "1m30s")
}

func TestAlertJobFailed(t *testing.T) {
	n, msgs := newTestNotifier(t, http.StatusOK)
	n.AlertJobFailed(jobs.Record{ID: "j2", Total: 3, Error: "browser unavailable"})

	got := msgs()
	require.Len(t, got, 1)
	assert.Contains(t, got[0]["text"], "browser unavailable")
}

func TestSendAlertReportsStatus(t *testing.T) {
	n, _ := newTestNotifier(t, http.StatusBadRequest)
	err := n.SendAlert(context.Background(), "hello")
	assert.ErrorContains(t, err, "400")
}
