package mode

import (
	"sync"
	"testing"

	"github.com/smallbiznis/paymirror/internal/config"
	"github.com/stretchr/testify/require"
)

func testProvider() config.ProviderConfig {
	return config.ProviderConfig{
		APIBaseURL:  "https://api.example.test",
		DefaultMode: config.ModeTest,
		Modes: map[string]config.ProviderCredentials{
			config.ModeTest: {SecretKey: "sk_test_abc", WebhookSecret: "whsec_test"},
			config.ModeLive: {SecretKey: "sk_live_def", WebhookSecret: "whsec_live"},
		},
	}
}

func newTestHolder(t *testing.T, cfg config.ProviderConfig) *Holder {
	t.Helper()
	holder, err := NewHolderFromProvider(func() config.ProviderConfig { return cfg }, cfg.DefaultMode)
	require.NoError(t, err)
	return holder
}

func TestNormalizeRejectsUnknownMode(t *testing.T) {
	for _, raw := range []string{"", "production", "TESTING", "live-mode"} {
		_, err := Normalize(raw)
		require.ErrorIs(t, err, ErrInvalidMode, "raw %q", raw)
	}
	for raw, want := range map[string]string{"test": "test", " LIVE ": "live", "Test": "test"} {
		got, err := Normalize(raw)
		require.NoError(t, err)
		require.Equal(t, want, got, "raw %q", raw)
	}
}

func TestCurrentReflectsActiveMode(t *testing.T) {
	holder := newTestHolder(t, testProvider())

	snap := holder.Current()
	require.Equal(t, config.ModeTest, snap.Mode)
	require.Equal(t, "sk_test_abc", snap.SecretKey)
	require.False(t, snap.LiveMode())

	switched, err := holder.Switch(config.ModeLive)
	require.NoError(t, err)
	require.Equal(t, "sk_live_def", switched.SecretKey)
	require.True(t, switched.LiveMode())
	require.Equal(t, config.ModeLive, holder.Active())
}

func TestSwitchRejectsUnknownMode(t *testing.T) {
	holder := newTestHolder(t, testProvider())
	_, err := holder.Switch("sandbox")
	require.ErrorIs(t, err, ErrInvalidMode)
	require.Equal(t, config.ModeTest, holder.Active(), "failed switch must not change the active mode")
}

func TestSwitchToUnconfiguredModeSucceeds(t *testing.T) {
	cfg := testProvider()
	cfg.Modes[config.ModeLive] = config.ProviderCredentials{}
	holder := newTestHolder(t, cfg)

	snap, err := holder.Switch(config.ModeLive)
	require.NoError(t, err)
	require.False(t, snap.HasCredentials())
	require.Equal(t, config.ModeLive, holder.Active())
}

func TestSnapshotIsStableAcrossSwitch(t *testing.T) {
	holder := newTestHolder(t, testProvider())

	before := holder.Current()
	_, err := holder.Switch(config.ModeLive)
	require.NoError(t, err)

	require.Equal(t, config.ModeTest, before.Mode, "snapshot taken before switch must not change")
	require.Equal(t, "sk_test_abc", before.SecretKey)
}

func TestSnapshotForExplicitMode(t *testing.T) {
	holder := newTestHolder(t, testProvider())

	snap, err := holder.Snapshot(config.ModeLive)
	require.NoError(t, err)
	require.Equal(t, config.ModeLive, snap.Mode)
	require.Equal(t, "whsec_live", snap.WebhookSecret)
	require.Equal(t, config.ModeTest, holder.Active(), "explicit snapshot must not switch the active mode")
}

func TestConcurrentSwitchYieldsConsistentSnapshots(t *testing.T) {
	holder := newTestHolder(t, testProvider())
	secretByMode := map[string]string{
		config.ModeTest: "sk_test_abc",
		config.ModeLive: "sk_live_def",
	}

	done := make(chan struct{})
	writerStopped := make(chan struct{})
	go func() {
		defer close(writerStopped)
		modes := []string{config.ModeLive, config.ModeTest}
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if _, err := holder.Switch(modes[i%len(modes)]); err != nil {
				t.Errorf("switch to %s: %v", modes[i%len(modes)], err)
				return
			}
		}
	}()

	var readers sync.WaitGroup
	for r := 0; r < 8; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 2000; i++ {
				snap := holder.Current()
				if secretByMode[snap.Mode] != snap.SecretKey {
					t.Errorf("snapshot mixed mode %s with secret %s", snap.Mode, snap.SecretKey)
					return
				}
			}
		}()
	}

	readers.Wait()
	close(done)
	<-writerStopped
}
