package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/whatsapp-automation/bulksender/internal/antiban"
	"github.com/whatsapp-automation/bulksender/internal/api"
	"github.com/whatsapp-automation/bulksender/internal/bulk"
	"github.com/whatsapp-automation/bulksender/internal/callback"
	"github.com/whatsapp-automation/bulksender/internal/jobs"
	"github.com/whatsapp-automation/bulksender/internal/logx"
	"github.com/whatsapp-automation/bulksender/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("port", "5000", "HTTP listen port")
	if err := v.BindPFlag("port", serveCmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	go func() {
		if err := a.selectors.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("selector hot reload disabled")
		}
	}()

	if cfg.LaunchOnStart {
		if err := a.manager.Initialize(ctx); err != nil {
			// Jobs launch the browser on demand, so keep serving.
			log.Error().Err(err).Msg("browser not ready at startup")
		}
	}

	tracker := jobs.NewTracker()
	runner := bulk.NewRunner(tracker, a.manager, a.dispatcher,
		callback.NewClient(nil, cfg.APIKey, logx.Component(log, "callback")),
		a.notifier,
		bulk.Options{
			DefaultMaxMessages: cfg.DefaultMaxMessages,
			Pacer:              antiban.NewPacer(cfg.MinDelay, cfg.DelayJitter),
			Variator:           antiban.NewVariator(greetingChance(cfg.GreetingVariation)),
		},
		logx.Component(log, "bulk"))

	loc := time.Local
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
		}
	}
	sched, err := scheduler.New(a.manager, tracker, scheduler.Options{
		RefreshSpec: cfg.RefreshCron,
		HealthSpec:  cfg.HealthCron,
		Location:    loc,
	}, logx.Component(log, "scheduler"))
	if err != nil {
		return err
	}
	sched.Start()

	server := api.NewServer(api.Options{
		APIKey:           cfg.APIKey,
		Version:          cfg.Version,
		DefaultDelay:     cfg.DefaultDelay,
		OperationTimeout: cfg.WriteTimeout,
	}, a.manager, a.dispatcher, runner, tracker, logx.Component(log, "api"))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("sd_notify failed")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if n := tracker.StopAll(); n > 0 {
		log.Info().Int("jobs", n).Msg("stopping running jobs")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := runner.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("jobs still running at shutdown")
	}
	sched.Stop(shutdownCtx)

	if err := a.manager.SaveState(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("failed to save session state")
	}
	return nil
}

// greetingChance is the probability of swapping the opening greeting when
// variation is on.
func greetingChance(enabled bool) float64 {
	if enabled {
		return 0.3
	}
	return 0
}
