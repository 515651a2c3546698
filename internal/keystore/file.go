package keystore

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pkcs12"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

// FileProvider loads PKCS#12 credential containers from disk.
//
// Per-taxpayer containers are expected at {dir}/{taxID}.p12. The
// default credential may come from {dir}/default.p12 or from an
// inlined base64 blob (environment-supplied); the file path takes
// precedence unless the request names a tax ID, since per-tenant
// credentials always come from disk.
type FileProvider struct {
	dir         string
	passphrase  string
	defaultBlob []byte // optional base64-decoded PKCS#12 container

	// decode parses a PKCS#12 container. Overridable in tests.
	decode func(data []byte, password string) (interface{}, *x509.Certificate, error)

	mu    sync.RWMutex
	cache map[string]*Credential
	loads int
}

// FileProviderConfig configures a FileProvider.
type FileProviderConfig struct {
	// Dir is the directory holding {taxID}.p12 containers.
	Dir string
	// Passphrase decrypts the containers.
	Passphrase string
	// DefaultBlob is an optional base64-encoded PKCS#12 container for
	// the default credential, typically injected via environment.
	DefaultBlob string
}

// NewFileProvider creates a file-based credential provider.
func NewFileProvider(cfg FileProviderConfig) (*FileProvider, error) {
	if cfg.Dir != "" {
		info, err := os.Stat(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("checking credential directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("credential path is not a directory: %s", cfg.Dir)
		}
	}

	var blob []byte
	if cfg.DefaultBlob != "" {
		decoded, err := base64.StdEncoding.DecodeString(cfg.DefaultBlob)
		if err != nil {
			return nil, fmt.Errorf("decoding default credential blob: %w", err)
		}
		blob = decoded
	}

	return &FileProvider{
		dir:         cfg.Dir,
		passphrase:  cfg.Passphrase,
		defaultBlob: blob,
		decode:      pkcs12.Decode,
		cache:       make(map[string]*Credential),
	}, nil
}

// Resolve returns the credential for taxID, loading and caching it on
// first use. A concurrent double load is tolerated; last writer wins.
func (p *FileProvider) Resolve(ctx context.Context, taxID string) (*Credential, error) {
	key := taxID
	if key == "" {
		key = DefaultTaxID
	}

	p.mu.RLock()
	if cred, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return cred, nil
	}
	p.mu.RUnlock()

	cred, err := p.load(key)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = cred
	p.mu.Unlock()

	return cred, nil
}

// Evict drops one cached credential.
func (p *FileProvider) Evict(taxID string) {
	key := taxID
	if key == "" {
		key = DefaultTaxID
	}
	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
}

// EvictAll drops every cached credential.
func (p *FileProvider) EvictAll() {
	p.mu.Lock()
	p.cache = make(map[string]*Credential)
	p.mu.Unlock()
}

// Close releases the cache.
func (p *FileProvider) Close() error {
	p.EvictAll()
	return nil
}

func (p *FileProvider) load(key string) (*Credential, error) {
	data, err := p.readContainer(key)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.loads++
	p.mu.Unlock()

	priv, cert, err := p.decode(data, p.passphrase)
	if err != nil {
		return nil, &ecf.CredentialLoadError{TaxID: key, Err: err}
	}

	rsaKey, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, &ecf.CredentialLoadError{TaxID: key, Err: fmt.Errorf("container key is %T, want RSA", priv)}
	}

	return &Credential{
		TaxID:       key,
		PrivateKey:  rsaKey,
		Certificate: cert,
	}, nil
}

func (p *FileProvider) readContainer(key string) ([]byte, error) {
	path := filepath.Join(p.dir, key+".p12")
	if p.dir != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading credential container: %w", err)
		}
	}

	// The inlined blob only backs the default credential; per-tenant
	// material always comes from disk.
	if key == DefaultTaxID && len(p.defaultBlob) > 0 {
		return p.defaultBlob, nil
	}

	return nil, fmt.Errorf("%w: %s", ecf.ErrCredentialNotFound, key)
}
