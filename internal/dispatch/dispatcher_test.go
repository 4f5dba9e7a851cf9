package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/bulksender/internal/browser"
	"github.com/whatsapp-automation/bulksender/internal/browser/browsertest"
	"github.com/whatsapp-automation/bulksender/internal/config"
)

var sel = config.DefaultSelectors()

type pageBrowser struct {
	page browser.Page
}

func (b pageBrowser) Do(ctx context.Context, fn func(browser.Page) error) error {
	if b.page == nil {
		return browser.ErrNoBrowser
	}
	return fn(b.page)
}

type panicBrowser struct{}

func (panicBrowser) Do(context.Context, func(browser.Page) error) error {
	panic("tab crashed")
}

func testOptions() Options {
	return Options{
		BaseURL:         "https://web.whatsapp.com",
		CountryCode:     "91",
		ComposerTimeout: 100 * time.Millisecond,
		ChunkSize:       100,
		ConfirmWait:     60 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}
}

func newDispatcher(b Browser) *Dispatcher {
	return New(b, config.StaticSelectors(sel), testOptions(), zerolog.Nop())
}

// chatPage opens a chat with the composer prefilled with text.
func chatPage(prefill bool) *browsertest.Page {
	p := browsertest.New()
	p.OnNavigate = func(p *browsertest.Page, u string) {
		p.Elements[sel.Composer[0]] = 1
		if prefill {
			p.Texts[sel.Composer[0]] = strings.SplitN(u, "text=", 2)[1]
		}
	}
	return p
}

func deliver(p *browsertest.Page) {
	p.Elements[sel.OutgoingMessage]++
	p.Elements[sel.SentIndicator[0]] = 1
}

func TestSendConfirmedViaEnter(t *testing.T) {
	page := chatPage(false)
	page.OnNavigate = func(p *browsertest.Page, _ string) {
		p.Elements[sel.Composer[0]] = 1
		p.Texts[sel.Composer[0]] = "Hello Asha, your order is ready"
	}
	page.OnEnter = func(p *browsertest.Page, _ string) { deliver(p) }

	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "98765 43210", "Hello Asha, your order is ready")
	require.NoError(t, err)

	navs, clicks, enters, typed, _ := page.Snapshot()
	require.Len(t, navs, 1)
	assert.Equal(t, "https://web.whatsapp.com/send?phone=919876543210&text=Hello%20Asha%2C%20your%20order%20is%20ready", navs[0])
	assert.Len(t, enters, 1)
	assert.Empty(t, clicks)
	assert.Empty(t, typed, "prefilled composer must not be retyped")
}

func TestSendInvalidRecipient(t *testing.T) {
	page := browsertest.New()
	page.OnNavigate = func(p *browsertest.Page, _ string) {
		p.Elements[sel.InvalidNumber[0]] = 1
		p.Elements[sel.Composer[0]] = 1
	}

	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "9876543210", "hi")
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, _, enters, _, _ := page.Snapshot()
	assert.Empty(t, enters)
}

func TestSendComposerNotFound(t *testing.T) {
	page := browsertest.New()
	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "9876543210", "hi")
	assert.ErrorIs(t, err, ErrComposerNotFound)
}

func TestSendTypesInChunksWhenNotPrefilled(t *testing.T) {
	page := chatPage(false)
	page.OnEnter = func(p *browsertest.Page, _ string) { deliver(p) }
	text := strings.Repeat("a", 250)

	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "9876543210", text)
	require.NoError(t, err)

	_, clicks, _, typed, scripts := page.Snapshot()
	require.Len(t, typed, 3)
	assert.Equal(t, text, strings.Join(typed, ""))
	assert.Len(t, typed[0], 100)
	assert.Equal(t, []string{sel.Composer[0]}, clicks)
	assert.Contains(t, scripts, inputEventScript)
}

func TestSendFallsBackToButton(t *testing.T) {
	page := chatPage(true)
	page.Elements[sel.SendButton[0]] = 1
	page.OnClick = func(p *browsertest.Page, s string) {
		if s == sel.SendButton[0] {
			deliver(p)
		}
	}

	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "9876543210", "hi")
	require.NoError(t, err)

	_, clicks, enters, _, _ := page.Snapshot()
	assert.Len(t, enters, 1)
	assert.Equal(t, []string{sel.SendButton[0]}, clicks)
}

func TestSendFallsBackToScript(t *testing.T) {
	page := chatPage(true)
	page.OnEvaluate = func(p *browsertest.Page, script string) any {
		if script == sel.SendScript {
			deliver(p)
			return true
		}
		return nil
	}

	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "9876543210", "hi")
	require.NoError(t, err)
}

func TestSendIgnoresHistoryCheckmarks(t *testing.T) {
	page := chatPage(true)
	page.Elements[sel.OutgoingMessage] = 4
	page.Elements[sel.SentIndicator[0]] = 1

	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "9876543210", "hi")
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestSendPendingDoesNotRetrigger(t *testing.T) {
	page := chatPage(true)
	page.Elements[sel.SendButton[0]] = 1
	page.OnEnter = func(p *browsertest.Page, _ string) { p.Elements[sel.OutgoingMessage]++ }

	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "9876543210", "hi")
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, clicks, enters, _, _ := page.Snapshot()
	assert.Len(t, enters, 1)
	assert.Empty(t, clicks, "a queued message must not be sent twice")
}

func TestSendInvalidPhoneSkipsBrowser(t *testing.T) {
	page := chatPage(true)
	err := newDispatcher(pageBrowser{page}).Send(context.Background(), "n/a", "hi")
	assert.ErrorIs(t, err, ErrInvalidPhone)

	navs, _, _, _, _ := page.Snapshot()
	assert.Empty(t, navs)
}

func TestSendWithoutBrowser(t *testing.T) {
	err := newDispatcher(pageBrowser{}).Send(context.Background(), "9876543210", "hi")
	assert.ErrorIs(t, err, browser.ErrNoBrowser)
}

func TestSendRecoversPanics(t *testing.T) {
	err := newDispatcher(panicBrowser{}).Send(context.Background(), "9876543210", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tab crashed")
}

// stuckPage never finishes pressing enter until its context ends, like a
// chromedp action waiting on a node that stays hidden.
type stuckPage struct {
	*browsertest.Page
}

func (stuckPage) PressEnter(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSendTimesOutWhenPageHangs(t *testing.T) {
	opts := testOptions()
	opts.SendTimeout = 150 * time.Millisecond
	d := New(pageBrowser{stuckPage{chatPage(true)}}, config.StaticSelectors(sel), opts, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- d.Send(context.WithoutCancel(context.Background()), "9876543210", "hi")
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "send timed out")
	case <-time.After(3 * time.Second):
		t.Fatal("send did not give up the browser")
	}
}

func TestSendTimeoutDerivedFromWaits(t *testing.T) {
	opts := Options{
		PageSettle:      time.Second,
		ComposerTimeout: 10 * time.Second,
		AutofillWait:    time.Second,
		ConfirmWait:     2 * time.Second,
	}
	assert.Equal(t, 18*time.Second+typingAllowance, opts.sendTimeout())
	assert.Equal(t, 60*time.Second, DefaultOptions().sendTimeout())
}

func TestEscapeText(t *testing.T) {
	assert.Equal(t, "a%20b%2Bc%0Ad%26e", EscapeText("a b+c\nd&e"))
	assert.Equal(t, "https://web.whatsapp.com/send?phone=15551234567&text=hi%20there",
		ChatURL("https://web.whatsapp.com/", "+15551234567", "hi there"))
}
