package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
credentials:
  dir: /etc/ecf/certs
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "test", cfg.Dispatch.Environment)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, "ecf-gateway", cfg.Auth.Issuer)
	assert.Equal(t, 5*time.Minute, cfg.Auth.SeedTTL)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_CERT_PASSPHRASE", "s3cret")
	path := writeConfig(t, `
credentials:
  dir: /etc/ecf/certs
  passphrase: ${TEST_CERT_PASSPHRASE}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Credentials.Passphrase)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  basePath: /fiscal
credentials:
  dir: /etc/ecf/certs
  passphrase: secret
dispatch:
  environment: cert
  summaryThreshold: "250000"
auth:
  secret: token-secret
reception:
  webhookUrl: https://erp.example.do/events
discovery:
  serviceDomain: dir.ecf.example.do
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "cert", cfg.Dispatch.Environment)
	assert.Equal(t, "250000", cfg.Dispatch.SummaryThreshold)
	assert.Equal(t, "token-secret", cfg.Auth.Secret)
	assert.Equal(t, "https://erp.example.do/events", cfg.Reception.WebhookURL)
	assert.Equal(t, "dir.ecf.example.do", cfg.Discovery.ServiceDomain)
}

func TestLoadRequiresCredentialSource(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "credentials.dir")
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	path := writeConfig(t, `
credentials:
  dir: /etc/ecf/certs
dispatch:
  environment: staging
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "dispatch.environment")
}

func TestLoadRejectsIncompleteTLS(t *testing.T) {
	path := writeConfig(t, `
server:
  tls:
    enabled: true
credentials:
  dir: /etc/ecf/certs
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "tls")
}
