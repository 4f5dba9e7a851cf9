// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"errors"
	"sync"
)

// Page is a scripted browser.Page. Elements maps selectors to how many nodes
// they match. Hooks run with the page lock held and may mutate the page's
// fields directly (but must not call its methods).
type Page struct {
	mu sync.Mutex

	URL      string
	Elements map[string]int
	Texts    map[string]string
	Attrs    map[string]string // key: selector + "@" + attribute

	Navigations []string
	Clicks      []string
	Enters      []string
	Typed       []string
	Cleared     []string
	Scripts     []string
	Closed      bool

	NavigateErr error
	URLErr      error

	OnNavigate func(p *Page, url string)
	OnEnter    func(p *Page, sel string)
	OnClick    func(p *Page, sel string)
	OnEvaluate func(p *Page, script string) any
	OnExists   func(p *Page, sel string)
}

// ErrNoNode is returned for operations on selectors with no matching node.
var ErrNoNode = errors.New("browsertest: no matching node")

// New returns an empty page.
func New() *Page {
	return &Page{
		Elements: map[string]int{},
		Texts:    map[string]string{},
		Attrs:    map[string]string{},
	}
}

// Set makes sel match n nodes.
func (p *Page) Set(sel string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Elements[sel] = n
}

// Do runs fn with the page lock held.
func (p *Page) Do(fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.Navigations = append(p.Navigations, url)
	p.URL = url
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	}
	return ctx.Err()
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.URLErr != nil {
		return "", p.URLErr
	}
	return p.URL, ctx.Err()
}

func (p *Page) Exists(ctx context.Context, sel string) (bool, error) {
	n, err := p.Count(ctx, sel)
	return n > 0, err
}

func (p *Page) Count(ctx context.Context, sel string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OnExists != nil {
		p.OnExists(p, sel)
	}
	return p.Elements[sel], ctx.Err()
}

func (p *Page) Text(ctx context.Context, sel string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Elements[sel] == 0 {
		return "", ErrNoNode
	}
	return p.Texts[sel], ctx.Err()
}

func (p *Page) Attribute(ctx context.Context, sel, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Elements[sel] == 0 {
		return "", false, ErrNoNode
	}
	v, ok := p.Attrs[sel+"@"+name]
	return v, ok, ctx.Err()
}

func (p *Page) Click(ctx context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Elements[sel] == 0 {
		return ErrNoNode
	}
	p.Clicks = append(p.Clicks, sel)
	if p.OnClick != nil {
		p.OnClick(p, sel)
	}
	return ctx.Err()
}

func (p *Page) Clear(ctx context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Elements[sel] == 0 {
		return ErrNoNode
	}
	p.Cleared = append(p.Cleared, sel)
	p.Texts[sel] = ""
	return ctx.Err()
}

func (p *Page) SendKeys(ctx context.Context, sel, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Elements[sel] == 0 {
		return ErrNoNode
	}
	p.Typed = append(p.Typed, text)
	p.Texts[sel] += text
	return ctx.Err()
}

func (p *Page) PressEnter(ctx context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Elements[sel] == 0 {
		return ErrNoNode
	}
	p.Enters = append(p.Enters, sel)
	if p.OnEnter != nil {
		p.OnEnter(p, sel)
	}
	return ctx.Err()
}

func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scripts = append(p.Scripts, script)
	if p.OnEvaluate != nil {
		res := p.OnEvaluate(p, script)
		if b, ok := out.(*bool); ok {
			if v, ok := res.(bool); ok {
				*b = v
			}
		}
	}
	return ctx.Err()
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

// Snapshot returns copies of the recorded interactions.
func (p *Page) Snapshot() (navigations, clicks, enters, typed, scripts []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := func(s []string) []string { return append([]string(nil), s...) }
	return cp(p.Navigations), cp(p.Clicks), cp(p.Enters), cp(p.Typed), cp(p.Scripts)
}
