package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/bulksender/internal/antiban"
	"github.com/whatsapp-automation/bulksender/internal/callback"
	"github.com/whatsapp-automation/bulksender/internal/jobs"
)

type fakeSession struct{ err error }

func (s fakeSession) EnsureSession(context.Context) error { return s.err }

type fakeSender struct {
	mu     sync.Mutex
	texts  map[string]string
	fail   map[string]bool
	panics map[string]bool
	onSend func(n int)
	calls  int
}

func newSender() *fakeSender {
	return &fakeSender{texts: map[string]string{}, fail: map[string]bool{}, panics: map[string]bool{}}
}

func (s *fakeSender) Send(_ context.Context, phone, text string) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.texts[phone] = text
	hook := s.onSend
	fail, boom := s.fail[phone], s.panics[phone]
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if boom {
		panic("boom")
	}
	if fail {
		return errors.New("not delivered")
	}
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type finalCall struct {
	target, jobID, status string
	sent, failed          int
}

type fakeCallbacks struct {
	mu      sync.Mutex
	updates []callback.ContactUpdate
	final   []finalCall
	errors  []string
}

func (c *fakeCallbacks) UpdateStatus(_ context.Context, _, _ string, u callback.ContactUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
	return nil
}

func (c *fakeCallbacks) JobCompleted(_ context.Context, target, jobID, status string, sent, failed int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.final = append(c.final, finalCall{target, jobID, status, sent, failed})
	return nil
}

func (c *fakeCallbacks) JobError(_ context.Context, _, _, errText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, errText)
	return nil
}

type fakeAlerts struct {
	mu       sync.Mutex
	finished []jobs.Record
	failed   []jobs.Record
}

func (a *fakeAlerts) AlertJobFinished(rec jobs.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = append(a.finished, rec)
}

func (a *fakeAlerts) AlertJobFailed(rec jobs.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed = append(a.failed, rec)
}

type harness struct {
	tracker   *jobs.Tracker
	sender    *fakeSender
	callbacks *fakeCallbacks
	alerts    *fakeAlerts
	runner    *Runner

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, sessionErr error) *harness {
	t.Helper()
	h := &harness{
		tracker:   jobs.NewTracker(),
		sender:    newSender(),
		callbacks: &fakeCallbacks{},
		alerts:    &fakeAlerts{},
	}
	h.runner = NewRunner(h.tracker, fakeSession{sessionErr}, h.sender, h.callbacks, h.alerts, Options{
		DefaultMaxMessages: 500,
		Pacer:              antiban.NewPacer(2*time.Second, 0),
	}, zerolog.Nop())
	h.runner.now = func() time.Time { return time.Date(2025, 3, 7, 14, 5, 0, 0, time.UTC) }
	h.runner.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.runner.Wait(ctx))
}

func contacts(phones ...string) []Contact {
	out := make([]Contact, len(phones))
	for i, p := range phones {
		out[i] = Contact{Name: "C" + p, Phone: FlexString(p)}
	}
	return out
}

func TestRunCompletesAllContacts(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.fail["333"] = true

	rec, err := h.runner.Submit(Request{
		JobID:       "job-1",
		Contacts:    contacts("111", "222", "333"),
		Message:     "Hi {name} #{index} on {day} {date} {time}",
		Delay:       time.Second,
		CallbackURL: "https://hook.example/exec",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", rec.ID)
	assert.Equal(t, 3, rec.Total)
	h.wait(t)

	got, err := h.tracker.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Sent)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)

	assert.Equal(t, "Hi C222 #2 on Friday 07/03/2025 14:05", h.sender.texts["222"])
	// Floor applies, and there is no pause after the last contact.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.sleeps)

	require.Len(t, h.callbacks.updates, 3)
	require.Len(t, h.callbacks.final, 1)
	assert.Equal(t, finalCall{"https://hook.example/exec", "job-1", "completed", 2, 1}, h.callbacks.final[0])
	require.Len(t, h.alerts.finished, 1)

	_, busy := h.runner.Active()
	assert.False(t, busy)
}

func TestCallbackCarriesRowAndNote(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.fail["222"] = true
	in := contacts("111", "222")
	in[0].Row = json.RawMessage(`17`)

	_, err := h.runner.Submit(Request{JobID: "j", Contacts: in, Message: "Hello {name}"})
	require.NoError(t, err)
	h.wait(t)

	byPhone := map[string]callback.ContactUpdate{}
	for _, u := range h.callbacks.updates {
		byPhone[u.Phone] = u
	}
	assert.JSONEq(t, `17`, string(byPhone["111"].Row))
	assert.True(t, byPhone["111"].Sent)
	assert.Equal(t, "Hello C111", byPhone["111"].Message)
	assert.JSONEq(t, `3`, string(byPhone["222"].Row))
	assert.Equal(t, "Failed to send message", byPhone["222"].Message)
}

func TestSubmitTruncatesToMaxMessages(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := h.runner.Submit(Request{JobID: "j", Contacts: contacts("1", "2", "3", "4"), Message: "x", MaxMessages: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Total)
	h.wait(t)

	assert.Equal(t, 2, h.sender.count())
}

func TestSubmitRejectsWhileBusy(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	h.sender.onSend = func(int) { <-release }

	_, err := h.runner.Submit(Request{JobID: "a", Contacts: contacts("1"), Message: "x"})
	require.NoError(t, err)

	_, err = h.runner.Submit(Request{JobID: "b", Contacts: contacts("2"), Message: "x"})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	h.wait(t)

	_, err = h.runner.Submit(Request{JobID: "c", Contacts: contacts("3"), Message: "x"})
	require.NoError(t, err)
	h.wait(t)
}

func TestSubmitDuplicateID(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.runner.Submit(Request{JobID: "dup", Contacts: contacts("1"), Message: "x"})
	require.NoError(t, err)
	h.wait(t)

	_, err = h.runner.Submit(Request{JobID: "dup", Contacts: contacts("1"), Message: "x"})
	assert.ErrorIs(t, err, jobs.ErrDuplicateID)
}

func TestSubmitGeneratesID(t *testing.T) {
	h := newHarness(t, nil)
	rec, err := h.runner.Submit(Request{Contacts: contacts("1"), Message: "x"})
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)
	h.wait(t)
}

func TestStopMidRun(t *testing.T) {
	h := newHarness(t, nil)
	phones := make([]string, 100)
	for i := range phones {
		phones[i] = string(rune('0'+i%10)) + "00"
	}
	h.sender.onSend = func(n int) {
		if n == 2 {
			ok, err := h.tracker.RequestStop("stop-me")
			assert.NoError(t, err)
			assert.True(t, ok)
		}
	}

	_, err := h.runner.Submit(Request{JobID: "stop-me", Contacts: contacts(phones...), Message: "x"})
	require.NoError(t, err)
	h.wait(t)

	got, err := h.tracker.Get("stop-me")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusStopped, got.Status)
	assert.Equal(t, 2, got.Processed())
	assert.Less(t, got.Processed(), 100)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 2, h.sender.count())

	require.Len(t, h.callbacks.final, 1)
	assert.Equal(t, "stopped", h.callbacks.final[0].status)
}

func TestSessionFailureFailsJob(t *testing.T) {
	h := newHarness(t, errors.New("chrome not found"))

	_, err := h.runner.Submit(Request{JobID: "j", Contacts: contacts("1", "2"), Message: "x"})
	require.NoError(t, err)
	h.wait(t)

	got, err := h.tracker.Get("j")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "chrome not found")
	assert.Zero(t, h.sender.count())

	require.Len(t, h.callbacks.errors, 1)
	assert.Empty(t, h.callbacks.final)
	require.Len(t, h.alerts.failed, 1)
}

func TestPanicCountsAsFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.panics["222"] = true

	_, err := h.runner.Submit(Request{JobID: "j", Contacts: contacts("111", "222", "333"), Message: "x"})
	require.NoError(t, err)
	h.wait(t)

	got, err := h.tracker.Get("j")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Sent)
	assert.Equal(t, 1, got.Failed)

	for _, u := range h.callbacks.updates {
		if u.Phone == "222" {
			assert.Equal(t, "Error: boom", u.Message)
		}
	}
}

func TestEmptyJobCompletes(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.runner.Submit(Request{JobID: "empty", Message: "x"})
	require.NoError(t, err)
	h.wait(t)

	got, err := h.tracker.Get("empty")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}
