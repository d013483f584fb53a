package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadResolvesNetworkPreset(t *testing.T) {
	path := writeTOML(t, `
mode = "run"

[wallet]
private_key = "`+devKey+`"

[nado]
network = "testnet"
request_timeout = "12s"

[engine]
ticker = "BTC"
spread = 0.001
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://gateway.test.nado.xyz/v1", cfg.Nado.GatewayURL)
	assert.Equal(t, "wss://gateway.test.nado.xyz/v1/ws", cfg.Nado.WSURL)
	assert.Equal(t, int64(763373), cfg.Nado.ChainID)
	assert.Equal(t, 12*time.Second, cfg.Nado.RequestTimeout.Duration)
	assert.Equal(t, "BTC", cfg.Engine.Ticker)
	assert.Equal(t, 5, cfg.Engine.Interval, "untouched fields keep defaults")

	sess := cfg.Engine.Session()
	assert.Equal(t, "0.001", sess.Spread.String())
	assert.NoError(t, sess.Validate())
}

func TestLoadLegacyEnvAliases(t *testing.T) {
	t.Setenv("NADO_PRIVATE_KEY", devKey)
	t.Setenv("NADO_NETWORK", "testnet")
	t.Setenv("NADO_SUBACCOUNT_NAME", "bot1")
	t.Setenv("NADOBOT_NADO_KNOWN_PRODUCTS", "4, 8")
	t.Setenv("NADOBOT_ENGINE_MAX_LEVERAGE", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, devKey, cfg.Wallet.PrivateKey)
	assert.Equal(t, "bot1", cfg.Nado.Subaccount)
	assert.Equal(t, int64(763373), cfg.Nado.ChainID)
	assert.Equal(t, []uint32{4, 8}, cfg.Nado.KnownProducts)
	assert.Equal(t, 3.0, cfg.Engine.MaxLeverage)
}

func TestPrefixedEnvWinsOverAlias(t *testing.T) {
	t.Setenv("NADO_SUBACCOUNT_NAME", "legacy")
	t.Setenv("NADOBOT_NADO_SUBACCOUNT", "current")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "current", cfg.Nado.Subaccount)
}

func TestExplicitURLsSurviveNetworkResolution(t *testing.T) {
	t.Setenv("NADOBOT_NADO_GATEWAY_URL", "http://127.0.0.1:9999/v1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999/v1", cfg.Nado.GatewayURL)
	assert.Equal(t, "wss://gateway.prod.nado.xyz/v1/ws", cfg.Nado.WSURL)
	assert.Equal(t, int64(57073), cfg.Nado.ChainID)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.LogLevel = "loud"
	cfg.Nado.Subaccount = "much-too-long-label"
	cfg.S3.Enabled = true
	cfg.Engine.MaxLeverage = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"unknown mode", "log_level", "wallet", "subaccount", "s3: archiving requires postgres", "max_leverage"} {
		assert.Contains(t, msg, want)
	}
	assert.True(t, strings.HasPrefix(msg, "config validation failed"))
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = devKey
	cfg.Server.APIKey = "secret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, devKey, cfg.Wallet.PrivateKey, "original untouched")

	out.Nado.KnownProducts[0] = 99
	assert.Equal(t, uint32(4), cfg.Nado.KnownProducts[0])
}
