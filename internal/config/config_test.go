package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Load("")
	assert.Equal(t, "127.0.0.1:3333", cfg.Listen)
	assert.Equal(t, []string{"ws://127.0.0.1:3333/ws"}, cfg.Connect)
	assert.Equal(t, []byte(DefaultSecret), cfg.SecretBytes())
	assert.False(t, cfg.HasDatabase())
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 0.0.0.0:4444
connect:
  - ws://broker-a:3333/ws
  - ws://broker-b:3333/ws
log_level: debug
request_timeout_seconds: 5
database:
  host: db.internal
users:
  - username: alice
    password: wonderland
    full_name: Alice
    role: user
`), 0o600))

	cfg := Load(path)
	assert.Equal(t, "0.0.0.0:4444", cfg.Listen)
	assert.Len(t, cfg.Connect, 2)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
	assert.True(t, cfg.HasDatabase())
	// Nested defaults survive a partial database section.
	assert.Equal(t, "5432", cfg.Database.Port)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Username)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 0.0.0.0:4444\n"), 0o600))

	t.Setenv("RELAY_LISTEN", "127.0.0.1:5555")
	t.Setenv("RELAY_CONNECT", "ws://one/ws, ws://two/ws")
	t.Setenv("RELAY_TOKEN_TTL_HOURS", "1")

	cfg := Load(path)
	assert.Equal(t, "127.0.0.1:5555", cfg.Listen)
	assert.Equal(t, []string{"ws://one/ws", "ws://two/ws"}, cfg.Connect)
	assert.Equal(t, time.Hour, cfg.TokenTTL())
}

func TestSecretBytes(t *testing.T) {
	cfg := Default()

	cfg.Secret = base64.StdEncoding.EncodeToString([]byte("super secret"))
	assert.Equal(t, []byte("super secret"), cfg.SecretBytes())

	// Values that are not base64 are taken literally.
	cfg.Secret = "not*base64*at*all"
	assert.Equal(t, []byte("not*base64*at*all"), cfg.SecretBytes())
}

func TestMissingFileFallsBack(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, Default().Listen, cfg.Listen)
}
