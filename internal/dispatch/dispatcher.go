// Package dispatch sends single WhatsApp messages through the browser.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/whatsapp-automation/bulksender/internal/browser"
	"github.com/whatsapp-automation/bulksender/internal/config"
)

var (
	// ErrInvalidRecipient means WhatsApp rejected the number. It is final for the contact.
	ErrInvalidRecipient = errors.New("phone number is not on whatsapp")
	// ErrComposerNotFound means the chat never showed a message input.
	ErrComposerNotFound = errors.New("message composer not found")
	// ErrNotConfirmed means no trigger produced an acknowledged outgoing message.
	ErrNotConfirmed = errors.New("message send was not confirmed")

	errNoSendButton = errors.New("no send button on page")
)

// Browser gives exclusive access to the live page.
type Browser interface {
	Do(ctx context.Context, fn func(browser.Page) error) error
}

// Options tunes the send flow.
type Options struct {
	BaseURL         string
	CountryCode     string
	PageSettle      time.Duration
	ComposerTimeout time.Duration
	AutofillWait    time.Duration
	ChunkSize       int
	ChunkPause      time.Duration
	ConfirmWait     time.Duration
	PollInterval    time.Duration
	// MinInterval is the minimum time between two sends across all callers.
	MinInterval time.Duration
	// SendTimeout bounds one send once it holds the browser. Zero derives it
	// from the other waits.
	SendTimeout time.Duration
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		BaseURL:         "https://web.whatsapp.com",
		CountryCode:     "91",
		PageSettle:      3 * time.Second,
		ComposerTimeout: 20 * time.Second,
		AutofillWait:    2 * time.Second,
		ChunkSize:       100,
		ChunkPause:      50 * time.Millisecond,
		ConfirmWait:     5 * time.Second,
		PollInterval:    500 * time.Millisecond,
		SendTimeout:     60 * time.Second,
	}
}

// typingAllowance covers typing and page actions outside the fixed waits.
const typingAllowance = 15 * time.Second

func (o Options) sendTimeout() time.Duration {
	if o.SendTimeout > 0 {
		return o.SendTimeout
	}
	return o.PageSettle + o.ComposerTimeout + o.AutofillWait + 3*o.ConfirmWait + typingAllowance
}

// Dispatcher sends one message at a time.
type Dispatcher struct {
	browser   Browser
	selectors *config.SelectorSource
	opts      Options
	limiter   *rate.Limiter
	log       zerolog.Logger
}

// New creates a dispatcher.
func New(b Browser, selectors *config.SelectorSource, opts Options, log zerolog.Logger) *Dispatcher {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Dispatcher{
		browser:   b,
		selectors: selectors,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log,
	}
}

// Send delivers text to phoneRaw. A nil error means WhatsApp Web showed the
// message as sent. Every failure is logged and returned.
func (d *Dispatcher) Send(ctx context.Context, phoneRaw, text string) (err error) {
	start := time.Now()
	log := d.log.With().Str("phone_raw", phoneRaw).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
			log.Error().Err(err).Msg("send failed")
		}
	}()

	phone, err := NormalizePhone(phoneRaw, d.opts.CountryCode)
	if err != nil {
		log.Warn().Err(err).Msg("send skipped")
		return err
	}
	log = log.With().Str("phone", phone).Logger()

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	timeout := d.opts.sendTimeout()
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = d.browser.Do(sendCtx, func(p browser.Page) error {
		return d.send(sendCtx, p, phone, text)
	})
	if err != nil && ctx.Err() == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("send timed out after %s: %w", timeout, err)
	}
	if err != nil {
		log.Warn().Err(err).Dur("took", time.Since(start)).Msg("send failed")
		return err
	}
	log.Info().Dur("took", time.Since(start)).Msg("message sent")
	return nil
}

// ChatURL returns the deep link that opens a chat with text prefilled.
func ChatURL(baseURL, phone, text string) string {
	digits := strings.TrimPrefix(phone, "+")
	return fmt.Sprintf("%s/send?phone=%s&text=%s", strings.TrimRight(baseURL, "/"), digits, EscapeText(text))
}

// EscapeText percent-encodes text for a query value, spaces as %20.
func EscapeText(text string) string {
	return strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

func (d *Dispatcher) send(ctx context.Context, p browser.Page, phone, text string) error {
	sel := d.selectors.Current()

	if err := p.Navigate(ctx, ChatURL(d.opts.BaseURL, phone, text)); err != nil {
		return fmt.Errorf("failed to open chat: %w", err)
	}
	if err := browser.Sleep(ctx, d.opts.PageSettle); err != nil {
		return err
	}

	group, composer, err := browser.WaitAny(ctx, p, d.opts.ComposerTimeout, d.opts.PollInterval, sel.InvalidNumber, sel.Composer)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrComposerNotFound, err)
	}
	if group == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, phone)
	}

	before, err := p.Count(ctx, sel.OutgoingMessage)
	if err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}

	if err := browser.Sleep(ctx, d.opts.AutofillWait); err != nil {
		return err
	}
	if !d.autofilled(ctx, p, composer, text) {
		d.log.Debug().Str("phone", phone).Msg("composer not prefilled; typing message")
		if err := d.typeMessage(ctx, p, composer, text); err != nil {
			return fmt.Errorf("failed to type message: %w", err)
		}
	}

	triggers := []struct {
		name string
		fire func() error
	}{
		{"enter", func() error { return p.PressEnter(ctx, composer) }},
		{"button", func() error { return d.clickSendButton(ctx, p, sel) }},
		{"script", func() error {
			var clicked bool
			if err := p.Evaluate(ctx, sel.SendScript, &clicked); err != nil {
				return err
			}
			if !clicked {
				return errNoSendButton
			}
			return nil
		}},
	}

	for _, tr := range triggers {
		if err := tr.fire(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Debug().Err(err).Str("trigger", tr.name).Msg("send trigger failed")
			continue
		}
		switch d.confirm(ctx, p, sel, before) {
		case outcomeSent:
			return nil
		case outcomePending:
			// The message left the composer; another trigger could duplicate it.
			return fmt.Errorf("%w: message queued but not acknowledged", ErrNotConfirmed)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrNotConfirmed
}

func (d *Dispatcher) autofilled(ctx context.Context, p browser.Page, composer, text string) bool {
	got, err := p.Text(ctx, composer)
	if err != nil {
		return false
	}
	want := strings.Join(strings.Fields(text), " ")
	return want != "" && strings.Contains(strings.Join(strings.Fields(got), " "), want)
}

const inputEventScript = `(() => { const el = document.activeElement; if (el) el.dispatchEvent(new InputEvent('input', { bubbles: true })); return true; })()`

func (d *Dispatcher) typeMessage(ctx context.Context, p browser.Page, composer, text string) error {
	if err := p.Click(ctx, composer); err != nil {
		return err
	}
	if err := p.Clear(ctx, composer); err != nil {
		return err
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i += d.opts.ChunkSize {
		end := min(i+d.opts.ChunkSize, len(runes))
		if err := p.SendKeys(ctx, composer, string(runes[i:end])); err != nil {
			return err
		}
		if err := browser.Sleep(ctx, d.opts.ChunkPause); err != nil {
			return err
		}
	}
	return p.Evaluate(ctx, inputEventScript, nil)
}

func (d *Dispatcher) clickSendButton(ctx context.Context, p browser.Page, sel config.Selectors) error {
	for _, s := range sel.SendButton {
		ok, err := p.Exists(ctx, s)
		if err != nil || !ok {
			continue
		}
		return p.Click(ctx, s)
	}
	return errNoSendButton
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomePending
	outcomeSent
)

// confirm waits for a new outgoing message carrying a sent indicator.
func (d *Dispatcher) confirm(ctx context.Context, p browser.Page, sel config.Selectors, before int) outcome {
	waitCtx, cancel := context.WithTimeout(ctx, d.opts.ConfirmWait)
	defer cancel()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	appeared := false
	for {
		if n, err := p.Count(waitCtx, sel.OutgoingMessage); err == nil && n > before {
			appeared = true
			for _, s := range sel.SentIndicator {
				if ok, err := p.Exists(waitCtx, s); err == nil && ok {
					return outcomeSent
				}
			}
		}
		select {
		case <-waitCtx.Done():
			if appeared {
				return outcomePending
			}
			return outcomeNone
		case <-ticker.C:
		}
	}
}
