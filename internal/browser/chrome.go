package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog"

	"github.com/whatsapp-automation/bulksender/internal/fingerprint"
)

// ChromeOptions configures the Chrome launcher.
type ChromeOptions struct {
	ProfileDir   string
	ExecPath     string
	ProxyServer  string
	Fingerprint  fingerprint.BrowserFingerprint
	StartTimeout time.Duration
}

// NewChromeLauncher returns a Launcher that starts Chrome through chromedp
// with a persistent profile.
func NewChromeLauncher(opts ChromeOptions, log zerolog.Logger) Launcher {
	return func(ctx context.Context, headless bool) (Page, error) {
		return launchChrome(ctx, opts, headless, log)
	}
}

const stealthScript = `(() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	Object.defineProperty(navigator, 'languages', { get: () => %s });
	window.chrome = window.chrome || { runtime: {} };
})();`

func buildAllocatorOptions(opts ChromeOptions, profileDir string, headless bool) []chromedp.ExecAllocatorOption {
	fp := opts.Fingerprint
	width, height := fp.WindowWidth, fp.WindowHeight
	if width == 0 || height == 0 {
		width, height = 1280, 800
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("profile-directory", "Default"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
		chromedp.WindowSize(width, height),
	}
	if fp.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(fp.UserAgent))
	}
	if len(fp.Languages) > 0 {
		allocOpts = append(allocOpts, chromedp.Flag("lang", fp.Languages[0]))
	}
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	return allocOpts
}

func launchChrome(ctx context.Context, opts ChromeOptions, headless bool, log zerolog.Logger) (Page, error) {
	profileDir, err := filepath.Abs(opts.ProfileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile path: %w", err)
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	RemoveSingletonLocks(profileDir, log)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), buildAllocatorOptions(opts, profileDir, headless)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	fp := opts.Fingerprint
	langs, _ := json.Marshal(fp.Languages)
	if len(fp.Languages) == 0 {
		langs = []byte(`["en-US","en"]`)
	}

	startTimeout := opts.StartTimeout
	if startTimeout <= 0 {
		startTimeout = 60 * time.Second
	}

	// The first Run starts the browser and binds it to browserCtx, so it
	// cannot carry a deadline of its own.
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(browserCtx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(fmt.Sprintf(stealthScript, langs)).Do(ctx)
				return err
			}),
			chromedp.ActionFunc(func(ctx context.Context) error {
				if fp.Timezone == "" {
					return nil
				}
				return emulation.SetTimezoneOverride(fp.Timezone).Do(ctx)
			}),
			chromedp.ActionFunc(func(ctx context.Context) error {
				if fp.UserAgent == "" {
					return nil
				}
				return emulation.SetUserAgentOverride(fp.UserAgent).
					WithAcceptLanguage(fp.AcceptLanguage()).
					WithPlatform(fp.Platform).
					Do(ctx)
			}),
		)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start chrome: %w", err)
		}
	case <-time.After(startTimeout):
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chrome did not start within %v", startTimeout)
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	log.Info().Str("profile", profileDir).Bool("headless", headless).Str("proxy", opts.ProxyServer).Msg("chrome started")
	return &chromePage{ctx: browserCtx, cancel: browserCancel, allocCancel: allocCancel}, nil
}

// RemoveSingletonLocks deletes lock files left behind by a Chrome that
// did not shut down cleanly.
func RemoveSingletonLocks(profileDir string, log zerolog.Logger) {
	for _, name := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
		p := filepath.Join(profileDir, name)
		if _, err := os.Lstat(p); err == nil {
			if err := os.Remove(p); err != nil {
				log.Warn().Err(err).Str("file", p).Msg("failed to remove stale lock")
			} else {
				log.Debug().Str("file", p).Msg("removed stale lock")
			}
		}
	}
}

type chromePage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func by(sel string) chromedp.QueryOption {
	if IsXPath(sel) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// run executes actions on the browser tab, bounded by ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) Count(ctx context.Context, sel string) (int, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.AtLeast(0), by(sel))); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (p *chromePage) Exists(ctx context.Context, sel string) (bool, error) {
	n, err := p.Count(ctx, sel)
	return n > 0, err
}

func (p *chromePage) Text(ctx context.Context, sel string) (string, error) {
	var s string
	err := p.run(ctx, chromedp.Text(sel, &s, by(sel), chromedp.NodeReady))
	return s, err
}

func (p *chromePage) Attribute(ctx context.Context, sel, name string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := p.run(ctx, chromedp.AttributeValue(sel, name, &v, &ok, by(sel), chromedp.NodeReady))
	return v, ok, err
}

func (p *chromePage) Click(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.Click(sel, by(sel), chromedp.NodeVisible))
}

func (p *chromePage) Clear(ctx context.Context, sel string) error {
	return p.run(ctx,
		chromedp.Focus(sel, by(sel)),
		chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
		chromedp.KeyEvent(kb.Backspace),
	)
}

func (p *chromePage) SendKeys(ctx context.Context, sel, text string) error {
	lines := strings.Split(text, "\n")
	actions := make([]chromedp.Action, 0, len(lines)*2)
	for i, line := range lines {
		if i > 0 {
			actions = append(actions, chromedp.KeyEvent(kb.Enter, chromedp.KeyModifiers(input.ModifierShift)))
		}
		if line != "" {
			actions = append(actions, chromedp.SendKeys(sel, line, by(sel)))
		}
	}
	return p.run(ctx, actions...)
}

func (p *chromePage) PressEnter(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.SendKeys(sel, kb.Enter, by(sel)))
}

func (p *chromePage) Evaluate(ctx context.Context, script string, out any) error {
	return p.run(ctx, chromedp.Evaluate(script, out))
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	p.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
