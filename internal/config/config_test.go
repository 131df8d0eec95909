package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBindPort, cfg.Gateway.BindPort)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Gateway.HeartbeatInterval)
	assert.Equal(t, DefaultMediaMaxMB, cfg.Media.MaxMB)
	assert.True(t, cfg.Commands.UseAccessGroups)
	assert.NoError(t, cfg.Validate())
}

func TestLoadAccountsAndDurations(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[gateway]
token = "secret"
heartbeat_interval = "5s"

[accounts.10001]
group_policy = "allowlist"
allow_from = ["123", "456"]
media_max_mb = 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Gateway.HeartbeatInterval)

	acct := cfg.ResolveAccount("10001")
	assert.True(t, acct.Configured)
	assert.True(t, acct.Enabled)
	assert.Equal(t, "secret", acct.Token)
	assert.Equal(t, PolicyAllowlist, acct.GroupPolicy)
	assert.Equal(t, PolicyOpen, acct.DMPolicy)
	assert.Equal(t, []string{"123", "456"}, acct.AllowFrom)
	assert.Equal(t, int64(5<<20), acct.MediaMaxBytes)
	assert.Equal(t, DefaultTextChunkLimit, acct.TextChunkLimit)
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[accounts.a]
group_policy = "everyone"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsIdleTimeoutBelowPing(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[gateway]
ping_after = "30s"
idle_timeout = "10s"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestResolveUnknownAccountUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg := defaults()
	acct := cfg.ResolveAccount("")
	assert.Equal(t, DefaultAccountID, acct.ID)
	assert.False(t, acct.Configured)
	assert.Equal(t, int64(DefaultMediaMaxMB)<<20, acct.MediaMaxBytes)
}

func TestAccountIDsIncludesDefault(t *testing.T) {
	t.Parallel()

	cfg := defaults()
	cfg.Accounts = map[string]AccountConfig{"a": {}, DefaultAccountID: {}}
	ids := cfg.AccountIDs()
	assert.ElementsMatch(t, []string{DefaultAccountID, "a"}, ids)
}

func TestAccountIDsOmitsUnconfiguredDefault(t *testing.T) {
	t.Parallel()

	cfg := defaults()
	cfg.Accounts = map[string]AccountConfig{"a": {Token: "x"}}
	assert.Equal(t, []string{"a"}, cfg.AccountIDs())

	cfg.Accounts = nil
	assert.Equal(t, []string{DefaultAccountID}, cfg.AccountIDs())
}
