package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	sendPhone   string
	sendMessage string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message through the browser and exit",
	Example: `  bulksender send --phone 9876543210 --message "Hello from the CLI"
  bulksender send --phone +447700900123 --message "Line one
Line two" --headless`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendPhone == "" || sendMessage == "" {
			return errors.New("--phone and --message are required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runSend(ctx, sendPhone, sendMessage)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendPhone, "phone", "", "recipient phone number")
	sendCmd.Flags().StringVar(&sendMessage, "message", "", "message text")
}

func runSend(ctx context.Context, phone, message string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.manager.EnsureSession(ctx); err != nil {
		return err
	}
	if err := a.dispatcher.Send(ctx, phone, message); err != nil {
		return err
	}
	a.log.Info().Str("phone", phone).Msg("message sent")
	return a.manager.SaveState(ctx)
}
