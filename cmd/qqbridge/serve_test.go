package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/memohai/qqbridge/internal/config"
)

func TestAppGraphIsComplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	if err := fx.ValidateApp(appOptions(path), fx.NopLogger); err != nil {
		t.Fatalf("dependency graph: %v", err)
	}
}

func TestSkipReason(t *testing.T) {
	assert.Equal(t, "", skipReason(config.Account{ID: "a", Enabled: true, Token: "x"}))
	assert.Equal(t, "account disabled", skipReason(config.Account{ID: "a", Token: "x"}))
	assert.Equal(t, "no gateway token configured", skipReason(config.Account{ID: "a", Enabled: true}))
}

func TestOnlyNamedAccountsAreMonitored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[accounts.a]
token = "x"
`), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	ids := cfg.AccountIDs()
	assert.Equal(t, []string{"a"}, ids)
	assert.Equal(t, "", skipReason(cfg.ResolveAccount(ids[0])))
}
