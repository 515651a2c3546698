// Package auth implements the seed-exchange authentication the gateway
// offers its counter-parties: a caller fetches a short-lived seed,
// signs it with their fiscal certificate and trades the signed seed for
// a bearer token scoped to subsequent reception calls.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ithesk/firmadgii/pkg/sign"
)

// Sentinel errors for seed and token validation failures.
var (
	// ErrSeedUnknown indicates the seed was not issued here, or was
	// already consumed. Seeds are single use.
	ErrSeedUnknown = errors.New("unknown or already used seed")

	// ErrSeedExpired indicates the seed outlived its validity window.
	ErrSeedExpired = errors.New("seed has expired")

	// ErrSeedUnsigned indicates the presented seed carries no valid
	// signature.
	ErrSeedUnsigned = errors.New("seed is not signed")

	// ErrNoToken indicates no Bearer token was provided.
	ErrNoToken = errors.New("no authorization token provided")

	// ErrInvalidToken indicates the token is malformed or its signature
	// does not verify.
	ErrInvalidToken = errors.New("invalid authorization token")

	// ErrTokenExpired indicates the token's exp claim is in the past.
	ErrTokenExpired = errors.New("token has expired")
)

// Config holds the token service settings.
type Config struct {
	// Secret signs issued tokens. Required.
	Secret []byte

	// Issuer is the iss claim stamped on issued tokens.
	Issuer string

	// SeedTTL bounds how long a fetched seed may be signed and returned.
	SeedTTL time.Duration

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration
}

// Token is an issued bearer token with its expiry.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expira"`
}

// Claims are the claims carried by gateway-issued tokens. Subject is
// the tax ID read from the signer's certificate.
type Claims struct {
	jwt.RegisteredClaims
}

// Service issues seeds and trades signed seeds for bearer tokens.
type Service struct {
	cfg    Config
	signer *sign.Signer
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	issued map[string]time.Time // seed nonce -> issue time
}

// NewService creates the token service. The signing secret is required.
func NewService(cfg Config, signer *sign.Signer, logger *slog.Logger) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "ecf-gateway"
	}
	if cfg.SeedTTL <= 0 {
		cfg.SeedTTL = 5 * time.Minute
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		signer: signer,
		logger: logger,
		now:    time.Now,
		issued: make(map[string]time.Time),
	}, nil
}

// Seed issues a fresh authentication challenge. The returned XML is
// what the caller must sign and present to ValidateSeed.
func (s *Service) Seed() (string, error) {
	nonce := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	s.prune(now)
	s.issued[nonce] = now
	s.mu.Unlock()

	doc := etree.NewDocument()
	root := doc.CreateElement("SemillaModel")
	root.CreateElement("valor").SetText(nonce)
	root.CreateElement("fecha").SetText(now.Format(time.RFC3339))
	return doc.WriteToString()
}

// ValidateSeed verifies a signed seed and mints a bearer token for the
// tax ID named in the signing certificate. Each seed validates at most
// once.
func (s *Service) ValidateSeed(signedSeed string) (*Token, error) {
	cert, err := s.signer.Verify(signedSeed)
	if err != nil {
		if errors.Is(err, sign.ErrNotSigned) {
			return nil, ErrSeedUnsigned
		}
		return nil, fmt.Errorf("verifying seed signature: %w", err)
	}

	nonce, err := seedNonce(signedSeed)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	issuedAt, ok := s.issued[nonce]
	delete(s.issued, nonce)
	s.mu.Unlock()
	if !ok {
		return nil, ErrSeedUnknown
	}
	if now.Sub(issuedAt) > s.cfg.SeedTTL {
		return nil, ErrSeedExpired
	}

	taxID := cert.Subject.CommonName
	expiry := now.Add(s.cfg.TokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   taxID,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	s.logger.Info("token issued", "tax_id", taxID, "expires_at", expiry)
	return &Token{Value: signed, ExpiresAt: expiry}, nil
}

// ValidateToken verifies a gateway-issued bearer token.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return s.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRequest extracts and validates the Bearer token on a request.
func (s *Service) ValidateRequest(r *http.Request) (*Claims, error) {
	token := extractBearerToken(r)
	if token == "" {
		return nil, ErrNoToken
	}
	return s.ValidateToken(token)
}

// prune drops expired seeds. Caller holds the lock.
func (s *Service) prune(now time.Time) {
	for nonce, issuedAt := range s.issued {
		if now.Sub(issuedAt) > s.cfg.SeedTTL {
			delete(s.issued, nonce)
		}
	}
}

func seedNonce(signedSeed string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(signedSeed); err != nil {
		return "", fmt.Errorf("parsing seed: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", errors.New("seed has no root element")
	}
	el := root.FindElement(".//*[local-name()='valor']")
	if el == nil || el.Text() == "" {
		return "", ErrSeedUnknown
	}
	return el.Text(), nil
}

// extractBearerToken extracts the Bearer token from the Authorization
// header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
