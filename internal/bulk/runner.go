// Package bulk runs bulk-send jobs: one goroutine per job walking the
// contact list in order through the shared browser session.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whatsapp-automation/bulksender/internal/antiban"
	"github.com/whatsapp-automation/bulksender/internal/browser"
	"github.com/whatsapp-automation/bulksender/internal/callback"
	"github.com/whatsapp-automation/bulksender/internal/jobs"
)

// ErrBusy is returned by Submit while another job holds the browser.
var ErrBusy = errors.New("another bulk job is already running")

// Session prepares the browser before a job starts sending.
type Session interface {
	EnsureSession(ctx context.Context) error
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// Callbacks reports progress to the caller's webhook.
type Callbacks interface {
	UpdateStatus(ctx context.Context, target, jobID string, u callback.ContactUpdate) error
	JobCompleted(ctx context.Context, target, jobID, jobStatus string, sent, failed int) error
	JobError(ctx context.Context, target, jobID, errText string) error
}

// Alerts notifies the operator when a job ends.
type Alerts interface {
	AlertJobFinished(rec jobs.Record)
	AlertJobFailed(rec jobs.Record)
}

// Request describes a job to run.
type Request struct {
	JobID       string
	Contacts    []Contact
	Message     string
	Delay       time.Duration
	MaxMessages int
	CallbackURL string
}

// Options configure a Runner.
type Options struct {
	DefaultMaxMessages int
	Pacer              *antiban.Pacer
	Variator           *antiban.Variator
}

// Runner owns the worker goroutines.
type Runner struct {
	tracker   *jobs.Tracker
	session   Session
	sender    Sender
	callbacks Callbacks
	alerts    Alerts
	opts      Options
	log       zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	mu     sync.Mutex
	active string
	wg     sync.WaitGroup
}

// NewRunner creates a runner. alerts may be nil.
func NewRunner(tracker *jobs.Tracker, session Session, sender Sender, callbacks Callbacks, alerts Alerts, opts Options, log zerolog.Logger) *Runner {
	if opts.Pacer == nil {
		opts.Pacer = antiban.NewPacer(0, 0)
	}
	if opts.Variator == nil {
		opts.Variator = antiban.NewVariator(0)
	}
	return &Runner{
		tracker:   tracker,
		session:   session,
		sender:    sender,
		callbacks: callbacks,
		alerts:    alerts,
		opts:      opts,
		log:       log,
		now:       time.Now,
		sleep:     browser.Sleep,
		newID:     uuid.NewString,
	}
}

// Submit registers a job and starts its worker. The returned record is
// the state right after the worker was spawned.
func (r *Runner) Submit(req Request) (jobs.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != "" {
		return jobs.Record{}, ErrBusy
	}

	contacts := normalizeContacts(req.Contacts)
	limit := req.MaxMessages
	if limit <= 0 {
		limit = r.opts.DefaultMaxMessages
	}
	if limit > 0 && len(contacts) > limit {
		contacts = contacts[:limit]
	}

	id := strings.TrimSpace(req.JobID)
	if id == "" {
		id = r.newID()
	}
	h, err := r.tracker.Create(id, len(contacts))
	if err != nil {
		return jobs.Record{}, err
	}

	r.active = id
	r.wg.Add(1)
	h.Advance(jobs.StatusRunning)
	go r.run(h, req, contacts)

	r.log.Info().Str("job_id", id).Int("contacts", len(contacts)).Dur("delay", req.Delay).Msg("job started")
	return h.Snapshot(), nil
}

// Active returns the id of the running job, if any.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != ""
}

// Wait blocks until every worker has returned or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	if r.active == id {
		r.active = ""
	}
	r.mu.Unlock()
	r.wg.Done()
}

func (r *Runner) run(h *jobs.Handle, req Request, contacts []Contact) {
	defer r.release(h.ID())

	log := r.log.With().Str("job_id", h.ID()).Logger()
	stopCtx := h.Context()
	// In-flight sends and callbacks finish even after a stop request.
	workCtx := context.WithoutCancel(stopCtx)

	h.Advance(jobs.StatusProcessing)

	if err := r.session.EnsureSession(stopCtx); err != nil {
		rec := h.Finish(fmt.Errorf("failed to prepare browser session: %w", err))
		if rec.Status == jobs.StatusFailed {
			log.Error().Err(err).Msg("job failed")
			r.callbacks.JobError(workCtx, req.CallbackURL, rec.ID, rec.Error)
			if r.alerts != nil {
				r.alerts.AlertJobFailed(rec)
			}
			return
		}
		r.finish(workCtx, log, req, rec, nil)
		return
	}

	var pending sync.WaitGroup
	for i, c := range contacts {
		if h.StopRequested() {
			log.Info().Int("processed", i).Msg("stop requested")
			break
		}

		sent, note := r.processContact(workCtx, req.Message, c)
		rec := h.RecordOutcome(sent)
		log.Info().
			Str("phone", string(c.Phone)).
			Bool("sent", sent).
			Int("progress", rec.Progress).
			Msgf("[%d/%d] %s", i+1, len(contacts), c.Name)

		pending.Add(1)
		go func(c Contact) {
			defer pending.Done()
			r.callbacks.UpdateStatus(workCtx, req.CallbackURL, h.ID(), callback.ContactUpdate{
				Phone:   string(c.Phone),
				Sent:    sent,
				Message: note,
				Row:     c.Row,
			})
		}(c)

		if i < len(contacts)-1 {
			if err := r.sleep(stopCtx, r.opts.Pacer.Delay(req.Delay)); err != nil {
				break
			}
		}
	}

	rec := h.Finish(nil)
	r.finish(workCtx, log, req, rec, &pending)
}

func (r *Runner) finish(ctx context.Context, log zerolog.Logger, req Request, rec jobs.Record, pending *sync.WaitGroup) {
	if pending != nil {
		pending.Wait()
	}
	log.Info().
		Str("status", string(rec.Status)).
		Int("sent", rec.Sent).
		Int("failed", rec.Failed).
		Dur("took", rec.Duration(r.now())).
		Msg("job finished")
	r.callbacks.JobCompleted(ctx, req.CallbackURL, rec.ID, string(rec.Status), rec.Sent, rec.Failed)
	if r.alerts != nil {
		r.alerts.AlertJobFinished(rec)
	}
}

// processContact sends one personalised message. A panic anywhere in the
// iteration counts as a failure for this contact only.
func (r *Runner) processContact(ctx context.Context, tmpl string, c Contact) (sent bool, note string) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("phone", string(c.Phone)).Msg("contact iteration panicked")
			sent, note = false, "Error: "+truncate(fmt.Sprint(p), 50)
		}
	}()

	text := r.opts.Variator.Apply(Personalize(tmpl, c, r.now()))
	if err := r.sender.Send(ctx, string(c.Phone), text); err != nil {
		r.log.Warn().Err(err).Str("phone", string(c.Phone)).Msg("send failed")
		return false, "Failed to send message"
	}
	return true, truncate(text, 50)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
