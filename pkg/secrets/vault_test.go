package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"music-stream/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kvResponse = `{
  "request_id": "6f1b",
  "lease_id": "",
  "renewable": false,
  "lease_duration": 0,
  "data": {
    "data": {"jwt-secret": "from-vault"},
    "metadata": {
      "created_time": "2024-01-01T00:00:00.000000Z",
      "custom_metadata": null,
      "deletion_time": "",
      "destroyed": false,
      "version": 1
    }
  },
  "wrap_info": null,
  "warnings": null,
  "auth": null
}`

func newVaultServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/secret/data/music-stream" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(kvResponse))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDisabledReadsEnvironment(t *testing.T) {
	t.Setenv("DB_PASSWORD", "env-password")
	m, err := NewVaultManager(VaultConfig{Enabled: false}, logger.Discard())
	require.NoError(t, err)

	value, err := m.GetSecret(context.Background(), KeyDBPassword)
	require.NoError(t, err)
	assert.Equal(t, "env-password", value)

	t.Setenv("JWT_SECRET", "")
	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), KeyJWTSecret, "fallback"))
}

func TestEnabledRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true, Token: "t"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestReadsFromVaultWithEnvFallback(t *testing.T) {
	server := newVaultServer(t)
	t.Setenv("DB_PASSWORD", "env-password")

	m, err := NewVaultManager(VaultConfig{
		Enabled:     true,
		Address:     server.URL,
		Token:       "root",
		SecretsPath: "music-stream",
	}, logger.Discard())
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()

	value, err := m.GetSecret(ctx, KeyJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "from-vault", value)

	value, err = m.GetSecret(ctx, KeyDBPassword)
	require.NoError(t, err)
	assert.Equal(t, "env-password", value)
}
