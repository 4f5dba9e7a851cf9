package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/whatsapp-automation/bulksender/internal/browser"
	"github.com/whatsapp-automation/bulksender/internal/config"
	"github.com/whatsapp-automation/bulksender/internal/dispatch"
	"github.com/whatsapp-automation/bulksender/internal/fingerprint"
	"github.com/whatsapp-automation/bulksender/internal/logx"
	"github.com/whatsapp-automation/bulksender/internal/session"
	"github.com/whatsapp-automation/bulksender/internal/telegram"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	logCloser  io.Closer
	store      *session.Store
	selectors  *config.SelectorSource
	notifier   *telegram.Notifier
	manager    *browser.Manager
	dispatcher *dispatch.Dispatcher
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, closer, err := logx.New(logx.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, logCloser: closer}

	fp := fingerprint.Generate(cfg.DeviceSeed, cfg.ProxyCountry)
	log.Info().
		Str("version", cfg.Version).
		Str("device_id", fp.DeviceID).
		Str("timezone", fp.Timezone).
		Str("proxy", cfg.Proxy.String()).
		Msg("starting")

	a.store, err = session.Open(ctx, cfg.StatusDB)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.selectors, err = config.NewSelectorSource(cfg.SelectorsFile, logx.Component(log, "selectors"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.notifier = telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, logx.Component(log, "telegram"))

	httpClient, err := proxiedClient(cfg.Proxy)
	if err != nil {
		a.Close()
		return nil, err
	}

	launcher := browser.NewChromeLauncher(browser.ChromeOptions{
		ProfileDir:   cfg.ProfilePath,
		ExecPath:     cfg.ChromePath,
		ProxyServer:  cfg.Proxy.ChromeArg(),
		Fingerprint:  fp,
		StartTimeout: cfg.LoadTimeout,
	}, logx.Component(log, "chrome"))

	a.manager = browser.NewManager(browser.Options{
		BaseURL:         cfg.BaseURL,
		ProfileDir:      cfg.ProfilePath,
		Headless:        cfg.Headless,
		LoadTimeout:     cfg.LoadTimeout,
		QRTimeout:       cfg.QRTimeout,
		ReadyProbe:      cfg.ReadyProbe,
		RefreshInterval: cfg.RefreshInterval,
		PageSettle:      3 * time.Second,
		RestartPause:    2 * time.Second,
		LaunchBackoff:   10 * time.Second,
	}, launcher, a.selectors, a.store, a.notifier,
		browser.QRPresenter{Dir: cfg.QRDir, Out: os.Stdout},
		httpClient, logx.Component(log, "browser"))

	opts := dispatch.DefaultOptions()
	opts.BaseURL = cfg.BaseURL
	opts.CountryCode = cfg.CountryCode
	opts.MinInterval = cfg.MinSendInterval
	opts.SendTimeout = cfg.SendTimeout
	a.dispatcher = dispatch.New(a.manager, a.selectors, opts, logx.Component(log, "dispatch"))

	return a, nil
}

// proxiedClient returns the client used for connectivity probes. It goes
// through the same proxy as the browser.
func proxiedClient(p *config.ProxyConfig) (*http.Client, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	raw := p.GetURL()
	if raw == "" {
		return client, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %s: %w", p, err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(u)
	client.Transport = transport
	return client, nil
}

// Close releases the browser, the state store and the log file.
func (a *app) Close() {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close session store")
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
