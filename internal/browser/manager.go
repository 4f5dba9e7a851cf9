package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/whatsapp-automation/bulksender/internal/config"
	"github.com/whatsapp-automation/bulksender/internal/session"
)

var (
	// ErrNoBrowser is returned when an operation needs a live browser and there is none.
	ErrNoBrowser = errors.New("browser is not running")
	// ErrRefreshInProgress is returned to a caller that asks for a refresh while one runs.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrNotReady is returned when WhatsApp Web could not be brought to the main interface.
	ErrNotReady = errors.New("whatsapp web is not ready")
)

// LaunchError reports a failure to start the browser.
type LaunchError struct {
	Headless bool
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser launch failed (headless=%v): %v", e.Headless, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// StateStore persists session state.
type StateStore interface {
	Load(ctx context.Context) (session.State, error)
	Save(ctx context.Context, st session.State) error
}

// Alerter receives operator alerts. Implementations must not block for long.
type Alerter interface {
	AlertQRRequired(imagePath string)
	AlertRefreshFailed(reason string)
}

// Options tunes the manager.
type Options struct {
	BaseURL         string
	ProfileDir      string
	Headless        bool
	LoadTimeout     time.Duration
	QRTimeout       time.Duration
	ReadyProbe      time.Duration
	SoftRefreshWait time.Duration
	RefreshInterval time.Duration
	PollInterval    time.Duration

	// Pauses between recovery steps.
	PageSettle    time.Duration
	RestartPause  time.Duration
	LaunchBackoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 60 * time.Second
	}
	if o.QRTimeout <= 0 {
		o.QRTimeout = 180 * time.Second
	}
	if o.ReadyProbe <= 0 {
		o.ReadyProbe = 5 * time.Second
	}
	if o.SoftRefreshWait <= 0 {
		o.SoftRefreshWait = 10 * time.Second
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 24 * time.Hour
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
}

// Manager owns the single live browser handle. Every browser operation runs
// under opMu so at most one caller drives the page at a time.
type Manager struct {
	opts      Options
	launch    Launcher
	selectors *config.SelectorSource
	store     StateStore
	alerts    Alerter
	qr        QRPresenter
	http      *http.Client
	log       zerolog.Logger

	opMu sync.Mutex
	page Page

	active     atomic.Bool
	refreshing atomic.Bool

	stateMu sync.Mutex
	state   session.State

	now func() time.Time
}

// NewManager creates a manager. alerts may be nil.
func NewManager(opts Options, launch Launcher, selectors *config.SelectorSource, store StateStore, alerts Alerter, qr QRPresenter, httpClient *http.Client, log zerolog.Logger) *Manager {
	opts.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Manager{
		opts:      opts,
		launch:    launch,
		selectors: selectors,
		store:     store,
		alerts:    alerts,
		qr:        qr,
		http:      httpClient,
		log:       log,
		state:     session.State{ProfilePath: opts.ProfileDir},
		now:       time.Now,
	}
}

// Initialize restores saved state, prepares the profile and brings the
// browser up. The second launch attempt is forced headless.
func (m *Manager) Initialize(ctx context.Context) error {
	if st, err := m.store.Load(ctx); err != nil {
		m.log.Warn().Err(err).Msg("failed to load session state")
	} else {
		m.stateMu.Lock()
		m.state = st
		m.state.ProfilePath = m.opts.ProfileDir
		m.stateMu.Unlock()
	}

	kept, err := PrepareProfile(m.opts.ProfileDir)
	if errors.Is(err, ErrForeignProfile) {
		m.log.Error().Err(err).Str("profile", m.opts.ProfileDir).Msg("refusing to use profile path")
		return err
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("profile preparation incomplete")
	}
	m.log.Info().Bool("kept", kept).Str("profile", m.opts.ProfileDir).Msg("profile prepared")

	var launchErr error
	for attempt := 1; attempt <= 2; attempt++ {
		headless := m.opts.Headless || attempt == 2
		launchErr = m.Launch(ctx, headless)
		if launchErr == nil {
			break
		}
		m.log.Error().Err(launchErr).Int("attempt", attempt).Msg("browser launch failed")
		if attempt < 2 {
			if err := Sleep(ctx, m.opts.LaunchBackoff); err != nil {
				return err
			}
		}
	}
	if launchErr != nil {
		return launchErr
	}

	if !m.EnsureReady(ctx) {
		return ErrNotReady
	}
	m.stateMu.Lock()
	first := m.state.LastRefresh == nil
	m.stateMu.Unlock()
	if first {
		m.recordRefresh(ctx)
	}
	return nil
}

// Launch starts a browser, closing any previous handle first.
func (m *Manager) Launch(ctx context.Context, headless bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.launchLocked(ctx, headless)
}

func (m *Manager) launchLocked(ctx context.Context, headless bool) error {
	m.closeLocked()

	page, err := m.launch(ctx, headless)
	if err != nil {
		return &LaunchError{Headless: headless, Err: err}
	}
	m.page = page
	m.active.Store(true)

	m.updateState(ctx, func(st *session.State) { st.DriverActive = true })
	m.log.Info().Bool("headless", headless).Msg("browser launched")
	return nil
}

// EnsureReady brings the page to the WhatsApp Web main interface. It waits
// for a QR scan when the session is logged out.
func (m *Manager) EnsureReady(ctx context.Context) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.ensureReadyLocked(ctx)
}

// EnsureSession launches the browser if needed and makes it ready.
func (m *Manager) EnsureSession(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.page == nil {
		if err := m.launchLocked(ctx, m.opts.Headless); err != nil {
			return err
		}
	}
	if !m.ensureReadyLocked(ctx) {
		return ErrNotReady
	}
	return nil
}

func (m *Manager) ensureReadyLocked(ctx context.Context) bool {
	if m.page == nil {
		return false
	}
	sel := m.selectors.Current()
	ready := append(append([]string{}, sel.MainInterface...), sel.Composer...)

	if u, err := m.page.CurrentURL(ctx); err == nil && strings.HasPrefix(u, m.opts.BaseURL) {
		if _, _, err := WaitAny(ctx, m.page, m.opts.ReadyProbe, m.opts.PollInterval, ready); err == nil {
			return true
		}
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if err := m.page.Navigate(ctx, m.opts.BaseURL); err != nil {
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("navigation to whatsapp web failed")
			if ctx.Err() != nil {
				return false
			}
			continue
		}

		group, _, err := WaitAny(ctx, m.page, m.opts.LoadTimeout, m.opts.PollInterval, ready, sel.QRCode)
		if err != nil {
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("whatsapp web did not load")
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		if group == 0 {
			m.log.Info().Msg("whatsapp web ready")
			return true
		}

		// Logged out. The QR wait is not retried.
		m.presentQR(ctx, sel)
		m.log.Warn().Dur("timeout", m.opts.QRTimeout).Msg("waiting for QR scan")
		if _, _, err := WaitAny(ctx, m.page, m.opts.QRTimeout, m.opts.PollInterval, ready); err != nil {
			m.log.Error().Err(err).Msg("QR code was not scanned in time")
			return false
		}
		m.log.Info().Msg("logged in after QR scan")
		return true
	}
	return false
}

func (m *Manager) presentQR(ctx context.Context, sel config.Selectors) {
	qrCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	path := ""
	code, ok, err := m.page.Attribute(qrCtx, sel.QRData, "data-ref")
	switch {
	case err != nil || !ok || code == "":
		m.log.Warn().Err(err).Msg("QR code shown but payload could not be read")
	default:
		if path, err = m.qr.Present(code); err != nil {
			m.log.Warn().Err(err).Msg("failed to render QR code")
		} else if path != "" {
			m.log.Info().Str("file", path).Msg("QR code saved")
		}
	}
	if m.alerts != nil {
		m.alerts.AlertQRRequired(path)
	}
}

// Refresh renews the session: first by reloading WhatsApp Web, then, if that
// fails, by restarting the browser with cleaned caches. Concurrent callers
// get ErrRefreshInProgress.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	if !m.refreshing.CompareAndSwap(false, true) {
		return false, ErrRefreshInProgress
	}
	defer m.refreshing.Store(false)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := m.now()
	m.log.Info().Msg("session refresh started")

	if m.page != nil && m.softRefreshLocked(ctx) {
		m.recordRefresh(ctx)
		m.log.Info().Dur("took", m.now().Sub(start)).Msg("soft refresh succeeded")
		return true, nil
	}

	m.log.Warn().Msg("soft refresh failed; restarting browser")
	if err := m.hardRefreshLocked(ctx); err != nil {
		m.log.Error().Err(err).Msg("hard refresh failed")
		if m.alerts != nil {
			m.alerts.AlertRefreshFailed(err.Error())
		}
		return false, nil
	}
	m.recordRefresh(ctx)
	m.log.Info().Dur("took", m.now().Sub(start)).Msg("hard refresh succeeded")
	return true, nil
}

func (m *Manager) softRefreshLocked(ctx context.Context) bool {
	sel := m.selectors.Current()
	if err := m.page.Navigate(ctx, m.opts.BaseURL); err != nil {
		m.log.Warn().Err(err).Msg("soft refresh navigation failed")
		return false
	}
	if err := Sleep(ctx, m.opts.PageSettle); err != nil {
		return false
	}
	ready := append(append([]string{}, sel.MainInterface...), sel.Composer...)
	_, _, err := WaitAny(ctx, m.page, m.opts.SoftRefreshWait, m.opts.PollInterval, ready)
	return err == nil
}

func (m *Manager) hardRefreshLocked(ctx context.Context) error {
	m.closeLocked()
	if n, err := CleanTempFiles(m.opts.ProfileDir); err != nil {
		m.log.Warn().Err(err).Int("removed", n).Msg("temp file cleanup incomplete")
	} else {
		m.log.Debug().Int("removed", n).Msg("temp files cleaned")
	}
	if err := Sleep(ctx, m.opts.RestartPause); err != nil {
		return err
	}
	if err := m.launchLocked(ctx, m.opts.Headless); err != nil {
		return err
	}
	if !m.ensureReadyLocked(ctx) {
		return ErrNotReady
	}
	return nil
}

// Reinit restarts the browser and waits for WhatsApp Web to be ready.
func (m *Manager) Reinit(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.closeLocked()
	if err := Sleep(ctx, m.opts.RestartPause); err != nil {
		return err
	}
	if err := m.launchLocked(ctx, m.opts.Headless); err != nil {
		return err
	}
	if !m.ensureReadyLocked(ctx) {
		return ErrNotReady
	}
	return nil
}

// PreserveSession marks the session as preserved and drops cached files.
func (m *Manager) PreserveSession(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if _, err := CleanTempFiles(m.opts.ProfileDir); err != nil {
		m.log.Warn().Err(err).Msg("temp file cleanup incomplete")
	}
	return m.updateState(ctx, func(st *session.State) { st.SessionPreserved = true })
}

// ClearSession closes the browser and wipes the profile, logging WhatsApp out.
func (m *Manager) ClearSession(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.closeLocked()
	if err := ClearProfile(m.opts.ProfileDir); err != nil {
		return err
	}
	return m.updateState(ctx, func(st *session.State) {
		st.SessionPreserved = false
		st.DriverActive = false
		st.LastRefresh = nil
	})
}

// Do runs fn with exclusive use of the page.
func (m *Manager) Do(ctx context.Context, fn func(Page) error) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.page == nil {
		return ErrNoBrowser
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(m.page)
}

// Healthy reports whether the browser answers. It waits for any running
// operation to finish.
func (m *Manager) Healthy(ctx context.Context) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.page == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := m.page.CurrentURL(probeCtx)
	return err == nil
}

// Close shuts the browser down and records it as inactive.
func (m *Manager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	err := m.closeLocked()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.updateState(ctx, func(st *session.State) { st.DriverActive = false })
	return err
}

func (m *Manager) closeLocked() error {
	if m.page == nil {
		return nil
	}
	err := m.page.Close()
	m.page = nil
	m.active.Store(false)
	if err != nil {
		m.log.Warn().Err(err).Msg("browser close reported an error")
	}
	return err
}

// Active reports whether a browser handle is held.
func (m *Manager) Active() bool {
	return m.active.Load()
}

// Refreshing reports whether a refresh is running.
func (m *Manager) Refreshing() bool {
	return m.refreshing.Load()
}

// LastRefresh returns the time of the last successful refresh.
func (m *Manager) LastRefresh() *time.Time {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state.LastRefresh == nil {
		return nil
	}
	t := *m.state.LastRefresh
	return &t
}

// NeedsRefresh reports whether the refresh interval has elapsed.
func (m *Manager) NeedsRefresh(now time.Time) bool {
	last := m.LastRefresh()
	return last == nil || now.Sub(*last) >= m.opts.RefreshInterval
}

// NextRefresh returns when the next interval-based refresh is due.
func (m *Manager) NextRefresh() time.Time {
	last := m.LastRefresh()
	if last == nil {
		return m.now()
	}
	return last.Add(m.opts.RefreshInterval)
}

func (m *Manager) recordRefresh(ctx context.Context) {
	now := m.now()
	m.updateState(ctx, func(st *session.State) {
		st.LastRefresh = &now
		st.DriverActive = m.active.Load()
	})
}

func (m *Manager) updateState(ctx context.Context, fn func(st *session.State)) error {
	m.stateMu.Lock()
	fn(&m.state)
	st := m.state
	m.stateMu.Unlock()

	if err := m.store.Save(ctx, st); err != nil {
		m.log.Warn().Err(err).Msg("failed to save session state")
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// SaveState persists the current state.
func (m *Manager) SaveState(ctx context.Context) error {
	return m.updateState(ctx, func(*session.State) {})
}

// CheckConnectivity reports whether WhatsApp Web is reachable over HTTP.
func (m *Manager) CheckConnectivity(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.opts.BaseURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// Status is a point-in-time view of the browser session.
type Status struct {
	DriverActive      bool       `json:"driver_initialized"`
	CurrentURL        string     `json:"current_url,omitempty"`
	Refreshing        bool       `json:"is_refreshing"`
	LastRefresh       *time.Time `json:"last_refresh"`
	HoursSinceRefresh *float64   `json:"hours_since_refresh"`
	NextRefreshIn     string     `json:"next_refresh_in"`
	ProfilePath       string     `json:"profile_path"`
	ProfileExists     bool       `json:"profile_exists"`
	ProfileHasData    bool       `json:"profile_has_data"`
	ProfileSize       string     `json:"profile_size"`
	SessionPreserved  bool       `json:"session_preserved"`
}

// Status reports the session state. It never waits behind a running
// browser operation; CurrentURL is left empty when the page is busy.
func (m *Manager) Status(ctx context.Context) Status {
	now := m.now()
	st := Status{
		DriverActive:   m.Active(),
		Refreshing:     m.Refreshing(),
		LastRefresh:    m.LastRefresh(),
		ProfilePath:    m.opts.ProfileDir,
		ProfileExists:  ProfileExists(m.opts.ProfileDir),
		ProfileHasData: ProfileHasData(m.opts.ProfileDir),
	}
	m.stateMu.Lock()
	st.SessionPreserved = m.state.SessionPreserved
	m.stateMu.Unlock()

	if st.LastRefresh != nil {
		h := now.Sub(*st.LastRefresh).Hours()
		st.HoursSinceRefresh = &h
	}
	if next := m.NextRefresh(); next.After(now) {
		st.NextRefreshIn = humanize.RelTime(now, next, "from now", "ago")
	} else {
		st.NextRefreshIn = "due"
	}
	if st.ProfileExists {
		if size, err := ProfileSize(m.opts.ProfileDir); err == nil {
			st.ProfileSize = humanize.Bytes(uint64(size))
		}
	}

	if m.opMu.TryLock() {
		if m.page != nil {
			urlCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			st.CurrentURL, _ = m.page.CurrentURL(urlCtx)
			cancel()
		}
		m.opMu.Unlock()
	}
	return st
}
