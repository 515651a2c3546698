// Package keystore resolves signing credentials for taxpayers.
//
// A credential is the private key and X.509 certificate issued to one
// taxpayer (RNC) for signing electronic fiscal documents. Credentials
// are loaded from PKCS#12 containers and cached for the process
// lifetime; the cache is the only state shared across requests.
//
// Implementations must be safe for concurrent use.
package keystore

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
)

// DefaultTaxID is the cache sentinel for the process-wide default
// credential, used when a request names no taxpayer.
const DefaultTaxID = "default"

// Credential is one taxpayer's signing material. Immutable once loaded.
type Credential struct {
	TaxID       string
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
}

// Provider resolves taxpayer credentials.
type Provider interface {
	// Resolve returns the credential for the given tax ID, or the
	// default credential when taxID is empty. A cache hit returns the
	// identical in-memory credential without touching storage.
	Resolve(ctx context.Context, taxID string) (*Credential, error)

	// Evict drops one tax ID from the cache. Empty taxID evicts the
	// default credential.
	Evict(taxID string)

	// EvictAll drops every cached credential.
	EvictAll()

	// Close releases any resources held by the provider.
	Close() error
}
