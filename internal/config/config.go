// Package config handles configuration loading for the gateway.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive
// values like certificate passphrases and token secrets to be injected
// at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, TLS, base path)
//   - credentials: fiscal certificate containers (directory, passphrase)
//   - dispatch: submission policy (environment, summary threshold)
//   - auth: peer authentication (token secret, TTLs)
//   - reception: inbound document handling (webhook URL)
//   - discovery: peer endpoint resolution (service domain, DNS server)
//
// # Example Configuration
//
//	server:
//	  port: 8080
//
//	credentials:
//	  dir: /etc/ecf/certs
//	  passphrase: ${CERT_PASSPHRASE}
//
//	dispatch:
//	  environment: test
//	  summaryThreshold: 250000
//
//	auth:
//	  secret: ${TOKEN_SECRET}
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

// Config is the root configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Auth        AuthConfig        `yaml:"auth"`
	Reception   ReceptionConfig   `yaml:"reception"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"basePath"`
	TLS      struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// CredentialsConfig holds fiscal certificate container settings
type CredentialsConfig struct {
	// Dir contains one PKCS#12 container per taxpayer, named
	// <taxID>.p12.
	Dir string `yaml:"dir"`

	// Passphrase unlocks the containers. Usually an env reference.
	Passphrase string `yaml:"passphrase"`

	// DefaultBlob optionally carries the default credential container
	// as base64, for deployments without a certificate directory.
	DefaultBlob string `yaml:"defaultBlob"`
}

// DispatchConfig holds submission policy settings
type DispatchConfig struct {
	// Environment is the default target when a request names none.
	Environment string `yaml:"environment"`

	// SummaryThreshold is the total below which a consumption invoice
	// is submitted as a reduced summary.
	SummaryThreshold string `yaml:"summaryThreshold"`

	// Timeout bounds each authority call.
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig holds peer authentication settings
type AuthConfig struct {
	// Secret signs tokens issued to counter-parties. Required to serve
	// the peer authentication endpoints.
	Secret string `yaml:"secret"`

	Issuer   string        `yaml:"issuer"`
	SeedTTL  time.Duration `yaml:"seedTTL"`
	TokenTTL time.Duration `yaml:"tokenTTL"`
}

// ReceptionConfig holds inbound document settings
type ReceptionConfig struct {
	// WebhookURL receives a JSON event per acknowledged document.
	// Empty disables notifications.
	WebhookURL string `yaml:"webhookUrl"`

	// WebhookTimeout bounds each delivery attempt.
	WebhookTimeout time.Duration `yaml:"webhookTimeout"`
}

// DiscoveryConfig holds peer endpoint resolution settings
type DiscoveryConfig struct {
	// ServiceDomain is the base domain for DNS endpoint records.
	// Empty disables the DNS fallback.
	ServiceDomain string `yaml:"serviceDomain"`

	// DNSServer overrides the system resolver ("ip:port").
	DNSServer string `yaml:"dnsServer"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/"
	}
	if c.Dispatch.Environment == "" {
		c.Dispatch.Environment = string(ecf.EnvTest)
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = 30 * time.Second
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "ecf-gateway"
	}
	if c.Auth.SeedTTL == 0 {
		c.Auth.SeedTTL = 5 * time.Minute
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Reception.WebhookTimeout == 0 {
		c.Reception.WebhookTimeout = 10 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Credentials.Dir == "" && c.Credentials.DefaultBlob == "" {
		return fmt.Errorf("credentials.dir or credentials.defaultBlob is required")
	}

	if !ecf.Environment(c.Dispatch.Environment).Valid() {
		return fmt.Errorf("dispatch.environment must be 'test', 'cert', or 'prod', got '%s'", c.Dispatch.Environment)
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.certFile and server.tls.keyFile are required when TLS is enabled")
	}

	return nil
}
