package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/whatsapp-automation/bulksender/internal/config"
)

var (
	v       = viper.New()
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "bulksender",
	Short: "WhatsApp Web bulk sender",
	Long: `bulksender drives a single Chrome instance logged into WhatsApp Web and
exposes a small HTTP API to run bulk sends with per-contact callbacks.

Settings come from flags, environment variables and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if present (for local development)
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func loadConfig(serving bool) (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	validate := cfg.ValidateLocal
	if serving {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write JSON logs to this file")
	flags.String("profile", "whatsapp_bot_profile", "Chrome profile directory")
	flags.Bool("headless", false, "run Chrome without a window")
	flags.String("selectors", "", "YAML file overriding the WhatsApp Web selectors")

	for key, flag := range map[string]string{
		"log_level":      "log-level",
		"log_file":       "log-file",
		"profile_path":   "profile",
		"headless":       "headless",
		"selectors_file": "selectors",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
