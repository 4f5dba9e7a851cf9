// Package browser owns the single Chrome instance driving WhatsApp Web.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Page is the subset of browser control the service needs. Selectors that
// start with "/" or "(" are XPath, anything else is CSS.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	// Exists and Count query the DOM without waiting.
	Exists(ctx context.Context, sel string) (bool, error)
	Count(ctx context.Context, sel string) (int, error)

	Text(ctx context.Context, sel string) (string, error)
	Attribute(ctx context.Context, sel, name string) (string, bool, error)

	Click(ctx context.Context, sel string) error
	Clear(ctx context.Context, sel string) error
	// SendKeys types text into sel. A "\n" inserts a line break without
	// submitting.
	SendKeys(ctx context.Context, sel, text string) error
	PressEnter(ctx context.Context, sel string) error
	Evaluate(ctx context.Context, script string, out any) error

	Close() error
}

// Launcher starts a browser and returns its page.
type Launcher func(ctx context.Context, headless bool) (Page, error)

// IsXPath reports whether sel is an XPath expression.
func IsXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

// ErrWaitTimeout is returned by WaitAny when nothing matched in time.
var ErrWaitTimeout = errors.New("timed out waiting for page element")

// WaitAny polls the selector groups in order until one selector matches.
// It returns the matching group index and selector.
func WaitAny(ctx context.Context, p Page, timeout, interval time.Duration, groups ...[]string) (int, string, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for gi, group := range groups {
			for _, sel := range group {
				ok, err := p.Exists(waitCtx, sel)
				if err == nil && ok {
					return gi, sel, nil
				}
			}
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return -1, "", err
			}
			return -1, "", fmt.Errorf("%w after %v", ErrWaitTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
