package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting of the bulk sender.
type Config struct {
	Port    string
	APIKey  string
	Version string

	LogLevel string
	LogFile  string

	// Browser
	ProfilePath   string
	StatusDB      string
	QRDir         string
	Headless      bool
	ChromePath    string
	BaseURL       string
	LaunchOnStart bool
	LoadTimeout   time.Duration
	QRTimeout     time.Duration
	ReadyProbe    time.Duration

	// Dispatch and pacing
	CountryCode        string
	MinDelay           time.Duration
	DelayJitter        time.Duration
	DefaultDelay       float64
	DefaultMaxMessages int
	MinSendInterval    time.Duration
	SendTimeout        time.Duration
	GreetingVariation  bool

	// Maintenance
	RefreshCron     string
	HealthCron      string
	RefreshInterval time.Duration
	Timezone        string

	SelectorsFile string

	TelegramToken  string
	TelegramChatID string

	DeviceSeed   string
	ProxyCountry string
	Proxy        *ProxyConfig

	WriteTimeout time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("version", "3.0")
	v.SetDefault("log_level", "info")
	v.SetDefault("profile_path", "whatsapp_bot_profile")
	v.SetDefault("status_db", "session_status.db")
	v.SetDefault("qr_dir", "qr")
	v.SetDefault("headless", false)
	v.SetDefault("whatsapp_url", "https://web.whatsapp.com")
	v.SetDefault("launch_on_start", true)
	v.SetDefault("load_timeout", "60s")
	v.SetDefault("qr_timeout", "180s")
	v.SetDefault("ready_probe", "5s")
	v.SetDefault("country_code", "91")
	v.SetDefault("min_delay", "2s")
	v.SetDefault("delay_jitter", "0s")
	v.SetDefault("default_delay", 2.0)
	v.SetDefault("default_max_messages", 500)
	v.SetDefault("min_send_interval", "0s")
	v.SetDefault("send_timeout", "60s")
	v.SetDefault("greeting_variation", false)
	v.SetDefault("refresh_cron", "0 6 * * *")
	v.SetDefault("health_cron", "@hourly")
	v.SetDefault("refresh_interval", "24h")
	v.SetDefault("device_seed", "default-seed")
	v.SetDefault("proxy_country", "IN")
	v.SetDefault("proxy_type", "socks5")
	v.SetDefault("write_timeout", "5m")
}

// Load reads the configuration from v. Environment variables are matched
// by upper-cased key, so PORT sets "port". Durations need a unit.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	var errs []error
	duration := func(key string) time.Duration {
		d, err := ParseDurationField(key, v.GetString(key))
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := &Config{
		Port:    v.GetString("port"),
		APIKey:  v.GetString("api_key"),
		Version: v.GetString("version"),

		LogLevel: v.GetString("log_level"),
		LogFile:  v.GetString("log_file"),

		ProfilePath:   v.GetString("profile_path"),
		StatusDB:      v.GetString("status_db"),
		QRDir:         v.GetString("qr_dir"),
		Headless:      v.GetBool("headless"),
		ChromePath:    v.GetString("chrome_path"),
		BaseURL:       strings.TrimRight(v.GetString("whatsapp_url"), "/"),
		LaunchOnStart: v.GetBool("launch_on_start"),
		LoadTimeout:   duration("load_timeout"),
		QRTimeout:     duration("qr_timeout"),
		ReadyProbe:    duration("ready_probe"),

		CountryCode:        v.GetString("country_code"),
		MinDelay:           duration("min_delay"),
		DelayJitter:        duration("delay_jitter"),
		DefaultDelay:       v.GetFloat64("default_delay"),
		DefaultMaxMessages: v.GetInt("default_max_messages"),
		MinSendInterval:    duration("min_send_interval"),
		SendTimeout:        duration("send_timeout"),
		GreetingVariation:  v.GetBool("greeting_variation"),

		RefreshCron:     v.GetString("refresh_cron"),
		HealthCron:      v.GetString("health_cron"),
		RefreshInterval: duration("refresh_interval"),
		Timezone:        v.GetString("timezone"),

		SelectorsFile: v.GetString("selectors_file"),

		TelegramToken:  v.GetString("telegram_token"),
		TelegramChatID: v.GetString("telegram_chat_id"),

		DeviceSeed:   v.GetString("device_seed"),
		ProxyCountry: v.GetString("proxy_country"),
		Proxy:        LoadProxyConfig(v),

		WriteTimeout: duration("write_timeout"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateLocal is Validate for one-off commands that do not serve the API
// and so need no API key.
func (c *Config) ValidateLocal() error {
	return c.validate(false)
}

func (c *Config) validate(serving bool) error {
	var errs []error
	if serving && strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("WHATSAPP_URL is required"))
	}
	if c.LoadTimeout <= 0 || c.QRTimeout <= 0 || c.ReadyProbe <= 0 {
		errs = append(errs, errors.New("browser timeouts must be positive"))
	}
	if c.MinDelay < 0 || c.DelayJitter < 0 || c.MinSendInterval < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT must be positive"))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must be positive"))
	}
	if c.DefaultMaxMessages <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_MAX_MESSAGES must be positive, got %d", c.DefaultMaxMessages))
	}
	return errors.Join(errs...)
}
