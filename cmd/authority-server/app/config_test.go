package app

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrEthical07/authority/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
address: ":9090"
log_level: debug
redis:
  addr: "redis.internal:6379"
token:
  private_key_file: %q
  issuer: bench
  access_ttl: 10m
roles:
  analyst: ["reports:view"]
  admin: ["reports:view", "sessions:manage", "*"]
principals:
  - id: u1
    email: ana@example.com
    role: analyst
    active: true
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	priv, _, err := token.GenerateEd25519PEM()
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "signing.pem")
	require.NoError(t, os.WriteFile(keyPath, priv, 0o600))

	cfgPath := filepath.Join(dir, "authority.yaml")
	content := []byte(fmt.Sprintf(sampleConfig, keyPath))
	require.NoError(t, os.WriteFile(cfgPath, content, 0o600))
	return cfgPath
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := loadConfig(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Token.RefreshTTL)
	require.Len(t, cfg.Principals, 1)
	assert.Equal(t, "ana@example.com", cfg.Principals[0].Email)
	assert.True(t, cfg.Principals[0].Active)
	assert.Equal(t, []string{"reports:view", "sessions:manage"}, cfg.permissions())
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeSample(t)
	t.Setenv("AUTHORITY_REDIS_ADDR", "redis.override:6380")
	t.Setenv("AUTHORITY_TOKEN_ACCESS_TTL", "2m")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.override:6380", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Token.AccessTTL)
}

func TestLoadConfigRequiresSigningKey(t *testing.T) {
	t.Setenv("AUTHORITY_DATABASE_URL", "postgres://localhost/authority")

	_, err := loadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key")
}

func TestLoadConfigRejectsBadLogLevel(t *testing.T) {
	path := writeSample(t)
	t.Setenv("AUTHORITY_LOG_LEVEL", "loud")

	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestAuthorityConfigDerivesPublicKey(t *testing.T) {
	cfg, err := loadConfig(writeSample(t))
	require.NoError(t, err)

	authCfg, err := cfg.authorityConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, authCfg.Token.PublicKey)
	assert.Equal(t, "bench", authCfg.Token.Issuer)
	assert.Equal(t, 3, authCfg.Session.MaxConcurrent)
	assert.True(t, authCfg.RateLimit.Enabled)
}

func TestCookieConfigIsSecureByDefault(t *testing.T) {
	cfg, err := loadConfig(writeSample(t))
	require.NoError(t, err)

	cookies := cfg.cookieConfig()
	assert.False(t, cookies.Insecure)
}

func TestTrustedProxies(t *testing.T) {
	cfg, err := loadConfig(writeSample(t))
	require.NoError(t, err)
	assert.Empty(t, cfg.TrustedProxies, "forwarding headers must be ignored by default")

	path := writeSample(t)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("trusted_proxies: [\"10.0.0.0/8\", \"bogus\"]\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted_proxies")
}
