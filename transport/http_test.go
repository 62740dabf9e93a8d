package transport

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/config"
)

func TestResolveTLS(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := config.NewInternalConfig()
		tls, err := resolveTLS(cfg)
		require.NoError(t, err)
		assert.Nil(t, tls)
	})

	t.Run("manual requires cert and key", func(t *testing.T) {
		cfg := config.NewInternalConfig()
		cfg.SSLEnabledValue = true
		_, err := resolveTLS(cfg)
		assert.Error(t, err)

		cfg.SSLCertFileValue = "server.crt"
		_, err = resolveTLS(cfg)
		assert.Error(t, err)

		cfg.SSLKeyFileValue = "server.key"
		tls, err := resolveTLS(cfg)
		require.NoError(t, err)
		require.NotNil(t, tls)
		assert.Nil(t, tls.acme)
		assert.Equal(t, "server.crt", tls.certFile)
		assert.Equal(t, "server.key", tls.keyFile)
	})

	t.Run("acme requires domains", func(t *testing.T) {
		cfg := config.NewInternalConfig()
		cfg.SSLEnabledValue = true
		cfg.SSLModeValue = "acme"
		_, err := resolveTLS(cfg)
		assert.Error(t, err)

		cfg.SSLAcmeDomainsValue = []string{"agent.example.com"}
		cfg.SSLAcmeCacheDirValue = t.TempDir()
		tls, err := resolveTLS(cfg)
		require.NoError(t, err)
		require.NotNil(t, tls)
		assert.NotNil(t, tls.acme)
	})
}

func TestNewServerValidation(t *testing.T) {
	cfg := config.NewInternalConfig()
	handler := http.NewServeMux()

	_, err := NewServer(context.Background(), zap.NewNop(), nil, handler)
	assert.Error(t, err)

	_, err = NewServer(context.Background(), zap.NewNop(), cfg, nil)
	assert.Error(t, err)

	srv, err := NewServer(context.Background(), zap.NewNop(), cfg, handler)
	require.NoError(t, err)
	assert.Equal(t, ":41241", srv.inner.Addr)
	assert.Nil(t, srv.tls)
}
