package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	ModeTest = "test"
	ModeLive = "live"
)

// ProviderConfig holds the payment provider endpoint and per-mode credentials.
type ProviderConfig struct {
	APIBaseURL  string                         `mapstructure:"api_base_url"`
	DefaultMode string                         `mapstructure:"default_mode"`
	Modes       map[string]ProviderCredentials `mapstructure:"modes"`
}

// ProviderCredentials is one mode's secret material. The publishable key is
// not a secret; it is handed to the checkout widget that completes payments.
type ProviderCredentials struct {
	SecretKey      string `mapstructure:"secret_key"`
	PublishableKey string `mapstructure:"publishable_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
}

func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		APIBaseURL:  "https://api.stripe.com",
		DefaultMode: ModeTest,
		Modes: map[string]ProviderCredentials{
			ModeTest: {},
			ModeLive: {},
		},
	}
}

// Credentials returns the configured credentials for mode, if any.
func (c ProviderConfig) Credentials(mode string) (ProviderCredentials, bool) {
	creds, ok := c.Modes[mode]
	return creds, ok
}

type ProviderConfigHolder struct {
	current atomic.Value // holds ProviderConfig
}

func NewProviderConfigHolder() (*ProviderConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("provider")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/paymirror/config") // Volume-mounted config
	v.AddConfigPath("/etc/paymirror")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	// env hanya untuk path override (optional)
	v.SetEnvPrefix("PAYMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultProviderConfig()
		v.SetDefault("provider.api_base_url", defaults.APIBaseURL)
		v.SetDefault("provider.default_mode", defaults.DefaultMode)
		v.SetDefault("provider.modes.test.secret_key", "")
		v.SetDefault("provider.modes.test.webhook_secret", "")
		v.SetDefault("provider.modes.live.secret_key", "")
		v.SetDefault("provider.modes.live.webhook_secret", "")
	}

	var cfg ProviderConfig
	if err := v.UnmarshalKey("provider", &cfg); err != nil {
		return nil, err
	}
	if err := validateProviderConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ProviderConfigHolder{}
	holder.current.Store(cfg)

	// 🔥 HOT RELOAD
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ProviderConfig
		if err := v.UnmarshalKey("provider", &updated); err != nil {
			log.Printf("[provider-config] reload failed: %v", err)
			return
		}
		if err := validateProviderConfig(updated); err != nil {
			log.Printf("[provider-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[provider-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ProviderConfigHolder) Get() ProviderConfig {
	return h.current.Load().(ProviderConfig)
}

func validateProviderConfig(cfg ProviderConfig) error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return errors.New("provider.api_base_url cannot be empty")
	}
	switch cfg.DefaultMode {
	case ModeTest, ModeLive:
	default:
		return fmt.Errorf("provider.default_mode must be %q or %q", ModeTest, ModeLive)
	}
	for mode := range cfg.Modes {
		switch mode {
		case ModeTest, ModeLive:
		default:
			return fmt.Errorf("provider.modes contains unknown mode %q", mode)
		}
	}
	return nil
}
