package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.defaultProfile=megafon-v2"
var (
	defaultProfile string // -X main.defaultProfile=...
	version        = "dev"
)

// Config captures everything the front-ends need to build a Sender.
type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	Profile     string `mapstructure:"profile"`
	CarrierURL  string `mapstructure:"carrier_url"`
	ProviderURL string `mapstructure:"provider_url"`

	CaptchaTimeout  time.Duration `mapstructure:"captcha_timeout"`
	CaptchaRestarts int           `mapstructure:"captcha_restarts"`
	CaptchaDir      string        `mapstructure:"captcha_dir"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollAttempts    int           `mapstructure:"poll_attempts"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TLSProfile     string        `mapstructure:"tls_profile"`
	ProxyFile      string        `mapstructure:"proxy_file"`

	Listen    string `mapstructure:"listen"`
	QueueSize int    `mapstructure:"queue_size"`

	LogEnv  string `mapstructure:"log_env"`
	LogFile string `mapstructure:"log_file"`
}

// GetDefaultProfile returns the profile baked in at build time, or megafon-v1.
func GetDefaultProfile() string {
	if defaultProfile != "" {
		return defaultProfile
	}
	return "megafon-v1"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("profile", GetDefaultProfile())
	v.SetDefault("carrier_url", "")
	v.SetDefault("provider_url", "")
	v.SetDefault("captcha_timeout", 60*time.Second)
	v.SetDefault("captcha_restarts", 2)
	v.SetDefault("captcha_dir", os.TempDir())
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("poll_attempts", 6)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("tls_profile", DefaultTLSProfile)
	v.SetDefault("proxy_file", "")
	v.SetDefault("listen", ":8080")
	v.SetDefault("queue_size", 16)
	v.SetDefault("log_env", "development")
	v.SetDefault("log_file", "")
}

// LoadConfig reads .env (if present), the optional YAML file at path and
// WEBSMS_* environment variables, in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WEBSMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the workflow cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := profileBuilders[c.Profile]; !ok {
		errs = append(errs, fmt.Errorf("unknown profile %q (available: %s)", c.Profile, strings.Join(ProfileNames(), ", ")))
	}
	if _, err := ResolveTLSProfile(c.TLSProfile); err != nil {
		errs = append(errs, err)
	}
	if c.CaptchaTimeout <= 0 {
		errs = append(errs, errors.New("captcha_timeout must be positive"))
	}
	if c.CaptchaRestarts < 0 {
		errs = append(errs, errors.New("captcha_restarts must not be negative"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.PollAttempts <= 0 {
		errs = append(errs, errors.New("poll_attempts must be positive"))
	}
	if c.RequestTimeout < time.Millisecond {
		errs = append(errs, errors.New("request_timeout must be at least 1ms"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// senderConfig derives the workflow settings.
func (c *Config) senderConfig() (SenderConfig, error) {
	tlsProfile, err := ResolveTLSProfile(c.TLSProfile)
	if err != nil {
		return SenderConfig{}, err
	}
	return SenderConfig{
		Enabled:         c.Enabled,
		CaptchaTimeout:  c.CaptchaTimeout,
		CaptchaRestarts: c.CaptchaRestarts,
		PollInterval:    c.PollInterval,
		PollAttempts:    c.PollAttempts,
		Client: ClientOptions{
			TLSProfile: tlsProfile,
			Timeout:    c.RequestTimeout,
		},
	}, nil
}
