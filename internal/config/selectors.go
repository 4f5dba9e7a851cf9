package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"go.yaml.in/yaml/v3"
)

// Selectors are the page locators used to drive WhatsApp Web. Entries starting
// with "/" or "(" are XPath expressions, anything else is a CSS selector.
// Lists are probed in order.
type Selectors struct {
	Composer        []string `yaml:"composer"`
	MainInterface   []string `yaml:"main_interface"`
	QRCode          []string `yaml:"qr_code"`
	QRData          string   `yaml:"qr_data"`
	InvalidNumber   []string `yaml:"invalid_number"`
	SendButton      []string `yaml:"send_button"`
	SendScript      string   `yaml:"send_script"`
	OutgoingMessage string   `yaml:"outgoing_message"`
	SentIndicator   []string `yaml:"sent_indicator"`
}

// DefaultSelectors returns the built-in locator set.
func DefaultSelectors() Selectors {
	return Selectors{
		Composer: []string{
			`//div[@contenteditable="true"][@data-tab="10"]`,
			`//div[@contenteditable="true"][@data-tab="9"]`,
			`//div[@contenteditable="true"][@role="textbox"]`,
			`//div[contains(@class,"selectable-text")][@contenteditable="true"]`,
			`//footer//div[@contenteditable="true"][@data-tab]`,
		},
		MainInterface: []string{
			`//div[@id="side"]`,
			`//div[@aria-label="Chat list"]`,
		},
		QRCode: []string{
			`//canvas[@aria-label="Scan me!"]`,
			`//div[@data-ref]`,
		},
		QRData: `div[data-ref]`,
		InvalidNumber: []string{
			`//*[contains(text(),"Phone number shared via url is invalid")]`,
			`//*[contains(text(),"invalid phone number")]`,
			`//*[contains(text(),"Couldn't find")]`,
		},
		SendButton: []string{
			`//button[@aria-label="Send"]`,
			`//span[@data-icon="send"]/ancestor::button`,
			`//span[@data-icon="send"]`,
		},
		SendScript:      `(() => { const b = document.querySelector('button[aria-label="Send"]') || document.querySelector('span[data-icon="send"]'); if (!b) return false; b.click(); return true; })()`,
		OutgoingMessage: `//div[contains(@class,"message-out")]`,
		SentIndicator: []string{
			`(//div[contains(@class,"message-out")])[last()]//span[@data-icon="msg-dblcheck"]`,
			`(//div[contains(@class,"message-out")])[last()]//span[@data-icon="msg-check"]`,
			`(//div[contains(@class,"message-out")])[last()]//*[@aria-label="Message sent."]`,
		},
	}
}

// Validate reports missing locator groups.
func (s Selectors) Validate() error {
	var errs []error
	if len(s.Composer) == 0 {
		errs = append(errs, errors.New("composer selectors are empty"))
	}
	if len(s.MainInterface) == 0 {
		errs = append(errs, errors.New("main_interface selectors are empty"))
	}
	if len(s.QRCode) == 0 {
		errs = append(errs, errors.New("qr_code selectors are empty"))
	}
	if s.OutgoingMessage == "" {
		errs = append(errs, errors.New("outgoing_message selector is empty"))
	}
	if len(s.SentIndicator) == 0 {
		errs = append(errs, errors.New("sent_indicator selectors are empty"))
	}
	return errors.Join(errs...)
}

// LoadSelectors reads a YAML override file on top of the defaults.
// Groups missing from the file keep their default value.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	if strings.TrimSpace(path) == "" {
		return sel, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("failed to read selectors file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return DefaultSelectors(), fmt.Errorf("yaml unmarshal: %w", err)
	}
	if err := sel.Validate(); err != nil {
		return DefaultSelectors(), fmt.Errorf("invalid selectors file: %w", err)
	}
	return sel, nil
}

// SelectorSource serves the current selector set and reloads it when the
// backing file changes.
type SelectorSource struct {
	path string
	log  zerolog.Logger
	cur  atomic.Pointer[Selectors]
}

// NewSelectorSource loads path (or the defaults when path is empty).
func NewSelectorSource(path string, log zerolog.Logger) (*SelectorSource, error) {
	s := &SelectorSource{path: path, log: log}
	sel, err := LoadSelectors(path)
	s.cur.Store(&sel)
	if err != nil {
		return s, err
	}
	return s, nil
}

// StaticSelectors wraps a fixed selector set.
func StaticSelectors(sel Selectors) *SelectorSource {
	s := &SelectorSource{log: zerolog.Nop()}
	s.cur.Store(&sel)
	return s
}

// Current returns the active selector set.
func (s *SelectorSource) Current() Selectors {
	return *s.cur.Load()
}

// Reload re-reads the file. On error the previous set stays active.
func (s *SelectorSource) Reload() error {
	sel, err := LoadSelectors(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(&sel)
	s.log.Info().Str("file", s.path).Int("composer", len(sel.Composer)).Msg("selectors reloaded")
	return nil
}

const selectorReloadDebounce = 300 * time.Millisecond

// Watch reloads the file on change until ctx is done. The parent directory
// is watched so editors that replace the file are picked up.
func (s *SelectorSource) Watch(ctx context.Context) error {
	if strings.TrimSpace(s.path) == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	reload := func() {
		if err := s.Reload(); err != nil {
			s.log.Warn().Err(err).Str("file", s.path).Msg("selectors reload failed; keeping previous set")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(selectorReloadDebounce, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Str("dir", dir).Msg("selectors watch error")
		}
	}
}
