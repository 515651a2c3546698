package dispatch

import (
	"context"

	"github.com/ithesk/firmadgii/pkg/authority"
	"github.com/ithesk/firmadgii/pkg/ecf"
)

// Query operations share the authenticate-then-call sequence with
// submissions but carry no document of their own.

// StatusByTrackID polls the authority for one submission's state.
func (d *Dispatcher) StatusByTrackID(ctx context.Context, env ecf.Environment, taxID, trackID string) (*ecf.TrackedSubmission, error) {
	if trackID == "" {
		return nil, &ecf.ValidationError{Field: "trackId", Reason: "tracking identifier is required"}
	}
	token, err := d.authenticateAs(ctx, env, taxID)
	if err != nil {
		return nil, err
	}
	return d.authority.StatusByTrackID(ctx, env, token, trackID)
}

// StatusHistory lists every tracked submission for a document number.
func (d *Dispatcher) StatusHistory(ctx context.Context, env ecf.Environment, taxID, issuerTaxID, encf string) ([]ecf.TrackedSubmission, error) {
	if issuerTaxID == "" || encf == "" {
		return nil, &ecf.ValidationError{Field: "query", Reason: "issuer and document number are required"}
	}
	token, err := d.authenticateAs(ctx, env, taxID)
	if err != nil {
		return nil, err
	}
	return d.authority.StatusHistory(ctx, env, token, issuerTaxID, encf)
}

// Validity checks existence/validity of a document by its identifiers.
func (d *Dispatcher) Validity(ctx context.Context, env ecf.Environment, taxID string, q authority.ValidityQuery) (*ecf.TrackedSubmission, error) {
	if q.IssuerTaxID == "" || q.ENCF == "" {
		return nil, &ecf.ValidationError{Field: "query", Reason: "issuer and document number are required"}
	}
	token, err := d.authenticateAs(ctx, env, taxID)
	if err != nil {
		return nil, err
	}
	return d.authority.Validity(ctx, env, token, q)
}

// PeerDirectory resolves a counter-party's registered endpoints.
func (d *Dispatcher) PeerDirectory(ctx context.Context, env ecf.Environment, taxID, counterPartyTaxID string) ([]authority.DirectoryEntry, error) {
	token, err := d.authenticateAs(ctx, env, taxID)
	if err != nil {
		return nil, err
	}
	return d.authority.Directory(ctx, env, token, counterPartyTaxID)
}

func (d *Dispatcher) authenticateAs(ctx context.Context, env ecf.Environment, taxID string) (*authority.Token, error) {
	if env == "" {
		env = ecf.EnvTest
	}
	if !env.Valid() {
		return nil, &ecf.ValidationError{Field: "environment", Reason: "unknown environment"}
	}
	cred, err := d.credentials.Resolve(ctx, taxID)
	if err != nil {
		return nil, err
	}
	return d.authenticate(ctx, env, cred)
}
