package mode

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/smallbiznis/paymirror/internal/config"
)

var (
	ErrInvalidMode       = errors.New("invalid_mode")
	ErrModeNotConfigured = errors.New("mode_not_configured")
)

// Context is an immutable snapshot of one mode and its credentials. Operations
// resolve a snapshot once at entry and carry it through, so a concurrent mode
// switch never changes which credentials an in-flight operation uses.
type Context struct {
	Mode           string
	APIBaseURL     string
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

// LiveMode reports whether the snapshot points at live credentials.
func (c Context) LiveMode() bool {
	return c.Mode == config.ModeLive
}

// HasCredentials reports whether the snapshot carries a usable secret key.
// A mode without credentials can still be activated; provider calls under it
// fail fast with ErrModeNotConfigured.
func (c Context) HasCredentials() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

// Normalize validates a raw mode value.
func Normalize(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	switch mode {
	case config.ModeTest, config.ModeLive:
		return mode, nil
	default:
		return "", ErrInvalidMode
	}
}

// Holder tracks the active mode. Reads are lock-free and Switch is atomic,
// so readers observe either the old mode or the new one, never a mix.
type Holder struct {
	provider func() config.ProviderConfig
	active   atomic.Value // holds the active mode string
}

// NewHolder builds a Holder starting on the provider config's default mode.
func NewHolder(cfgHolder *config.ProviderConfigHolder) *Holder {
	h := &Holder{provider: cfgHolder.Get}
	h.active.Store(cfgHolder.Get().DefaultMode)
	return h
}

// NewHolderFromProvider builds a Holder from a provider config source.
func NewHolderFromProvider(provider func() config.ProviderConfig, initial string) (*Holder, error) {
	mode, err := Normalize(initial)
	if err != nil {
		return nil, err
	}
	h := &Holder{provider: provider}
	h.active.Store(mode)
	return h, nil
}

// Active returns the active mode name.
func (h *Holder) Active() string {
	return h.active.Load().(string)
}

// Current returns a snapshot of the active mode and its credentials.
func (h *Holder) Current() Context {
	return h.snapshot(h.Active())
}

// Snapshot returns a snapshot for an explicit mode without switching.
func (h *Holder) Snapshot(raw string) (Context, error) {
	mode, err := Normalize(raw)
	if err != nil {
		return Context{}, err
	}
	return h.snapshot(mode), nil
}

// Switch atomically activates the given mode and returns its snapshot.
// Switching is idempotent and succeeds even when the target mode has no
// credentials configured; only an unrecognized name fails.
func (h *Holder) Switch(raw string) (Context, error) {
	mode, err := Normalize(raw)
	if err != nil {
		return Context{}, err
	}

	h.active.Store(mode)
	return h.snapshot(mode), nil
}

func (h *Holder) snapshot(mode string) Context {
	cfg := h.provider()
	creds, _ := cfg.Credentials(mode)
	return Context{
		Mode:           mode,
		APIBaseURL:     cfg.APIBaseURL,
		SecretKey:      creds.SecretKey,
		PublishableKey: creds.PublishableKey,
		WebhookSecret:  creds.WebhookSecret,
	}
}
