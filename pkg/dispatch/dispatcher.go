// Package dispatch is the protocol orchestrator for the gateway.
//
// Dispatching a document is one synchronous traversal of the document
// lifecycle: Drafted -> Transformed -> Signed -> Authenticated ->
// Submitted. Nothing is persisted between calls; the only shared state
// in the gateway is the credential cache behind the resolver.
//
// The routing table maps document type plus business condition onto an
// authority operation. The one non-trivial branch is the consumption
// invoice below the small-amount threshold: the full invoice is signed
// and retained for archival, and a reduced summary carrying the full
// invoice's security code is what actually reaches the authority.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/ithesk/firmadgii/internal/keystore"
	"github.com/ithesk/firmadgii/pkg/authority"
	"github.com/ithesk/firmadgii/pkg/ecf"
	"github.com/ithesk/firmadgii/pkg/qr"
	"github.com/ithesk/firmadgii/pkg/sign"
	"github.com/ithesk/firmadgii/pkg/transform"
)

// Policy holds the business constants routing decisions depend on.
// The summary threshold is an external policy input, not a constant.
type Policy struct {
	// SummaryThreshold is the total below which a consumption invoice
	// is submitted as a reduced summary.
	SummaryThreshold decimal.Decimal
}

// DefaultPolicy returns the authority's published threshold.
func DefaultPolicy() Policy {
	return Policy{SummaryThreshold: decimal.NewFromInt(250000)}
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Credentials keystore.Provider
	Signer      *sign.Signer
	Authority   authority.Client
	References  *qr.Builder
	Policy      Policy
	Logger      *slog.Logger
}

// Dispatcher routes fiscal documents to authority operations.
type Dispatcher struct {
	credentials keystore.Provider
	signer      *sign.Signer
	authority   authority.Client
	references  *qr.Builder
	policy      Policy
	logger      *slog.Logger
}

// New creates a dispatcher. Credentials, signer and authority client
// are required; the reference builder is optional (no QR URLs are
// produced without it).
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential provider is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if cfg.Authority == nil {
		return nil, fmt.Errorf("authority client is required")
	}
	if cfg.Policy.SummaryThreshold.IsZero() {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		credentials: cfg.Credentials,
		signer:      cfg.Signer,
		authority:   cfg.Authority,
		references:  cfg.References,
		policy:      cfg.Policy,
		logger:      cfg.Logger,
	}, nil
}

// SendRequest is one outbound dispatch.
type SendRequest struct {
	Document    *ecf.Document
	TaxID       string // credential selector; empty means default
	Environment ecf.Environment
	SignOnly    bool // stop after signing, no authority call
}

// Result is the structured outcome of a dispatch.
type Result struct {
	TrackID      string
	Status       string
	Messages     []string
	SignedXML    string
	SecurityCode string
	ReferenceURL string

	// SummaryXML is populated when a consumption invoice was reduced
	// to a summary: SignedXML then holds the archived full invoice and
	// SummaryXML what was submitted.
	SummaryXML string
}

// Send drives one document through the full lifecycle.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*Result, error) {
	if req.Document == nil {
		return nil, &ecf.ValidationError{Field: "document", Reason: "document is required"}
	}
	env := req.Environment
	if env == "" {
		env = ecf.EnvTest
	}
	if !env.Valid() {
		return nil, &ecf.ValidationError{Field: "environment", Reason: fmt.Sprintf("unknown environment %q", env)}
	}

	// Shape validation happens before any credential or signing work;
	// a rejected approval without a reason never reaches the wire.
	if err := req.Document.Validate(); err != nil {
		return nil, err
	}

	cred, err := d.credentials.Resolve(ctx, req.TaxID)
	if err != nil {
		return nil, err
	}

	xml, err := transform.ToXML(req.Document)
	if err != nil {
		return nil, err
	}

	signedXML, code, err := d.signer.Sign(xml, req.Document.Type, cred.PrivateKey, cred.Certificate)
	if err != nil {
		return nil, err
	}

	result := &Result{SignedXML: signedXML, SecurityCode: code}
	d.attachReference(result, req.Document, code, env)

	if req.SignOnly {
		d.logger.Info("document signed",
			"type", req.Document.Type.String(),
			"env", string(env),
			"sign_only", true,
		)
		return result, nil
	}

	token, err := d.authenticate(ctx, env, cred)
	if err != nil {
		return nil, err
	}

	submit, err := d.route(ctx, env, token, cred, req.Document, signedXML, code, result)
	if err != nil {
		return nil, err
	}

	result.TrackID = submit.TrackID
	result.Status = submit.Status
	result.Messages = submit.Messages

	d.logger.Info("document submitted",
		"type", req.Document.Type.String(),
		"env", string(env),
		"track_id", submit.TrackID,
		"status", submit.Status,
	)
	return result, nil
}

// route performs the authority call for a signed document.
func (d *Dispatcher) route(ctx context.Context, env ecf.Environment, token *authority.Token, cred *keystore.Credential, doc *ecf.Document, signedXML, code string, result *Result) (*authority.SubmitResult, error) {
	switch doc.Type {
	case ecf.TypeInvoice:
		if d.summaryEligible(doc.Invoice) {
			return d.submitAsSummary(ctx, env, token, cred, doc.Invoice, code, result)
		}
		return d.authority.SubmitDocument(ctx, env, token, signedXML, submissionFilename(doc.Invoice.Header.IssuerTaxID, doc.Invoice.Header.ENCF))

	case ecf.TypeConsumptionSummary:
		return d.authority.SubmitSummary(ctx, env, token, signedXML, submissionFilename(doc.Summary.Header.IssuerTaxID, doc.Summary.Header.ENCF))

	case ecf.TypeCommercialApproval:
		return d.authority.SubmitApproval(ctx, env, token, signedXML, submissionFilename(doc.Approval.IssuerTaxID, doc.Approval.ENCF))

	case ecf.TypeSequenceVoid:
		return d.authority.VoidSequence(ctx, env, token, signedXML, submissionFilename(doc.Void.IssuerTaxID, doc.Void.FromENCF))

	case ecf.TypeReceiptAck:
		// Acknowledgments answer a counter-party directly through the
		// reception pipeline; they have no authority operation.
		return nil, &ecf.ValidationError{Field: "document", Reason: "acknowledgments are not submitted to the authority"}

	default:
		return nil, &ecf.ValidationError{Field: "type", Reason: "unknown document type"}
	}
}

// summaryEligible reports whether a full invoice is reduced to a
// consumption summary: consumption type code and total below the
// threshold.
func (d *Dispatcher) summaryEligible(inv *ecf.Invoice) bool {
	if ecf.TypeCodeFromENCF(inv.Header.ENCF) != ecf.ConsumptionTypeCode {
		return false
	}
	return inv.Header.Total.LessThan(d.policy.SummaryThreshold)
}

// submitAsSummary reduces a full invoice to its summary shape and
// submits that. The summary's security code is the full invoice's
// verification code, linking the archived document to what the
// authority sees; the full signed invoice stays on the result.
func (d *Dispatcher) submitAsSummary(ctx context.Context, env ecf.Environment, token *authority.Token, cred *keystore.Credential, inv *ecf.Invoice, invoiceCode string, result *Result) (*authority.SubmitResult, error) {
	summary, err := ecf.NewConsumptionSummary(ecf.ConsumptionSummary{
		Header:       inv.Header,
		SecurityCode: invoiceCode,
	})
	if err != nil {
		return nil, err
	}

	xml, err := transform.ToXML(summary)
	if err != nil {
		return nil, err
	}

	signedSummary, _, err := d.signer.Sign(xml, ecf.TypeConsumptionSummary, cred.PrivateKey, cred.Certificate)
	if err != nil {
		return nil, err
	}
	result.SummaryXML = signedSummary

	d.logger.Info("consumption invoice reduced to summary",
		"encf", inv.Header.ENCF,
		"total", inv.Header.Total.StringFixed(2),
	)

	return d.authority.SubmitSummary(ctx, env, token, signedSummary, submissionFilename(inv.Header.IssuerTaxID, inv.Header.ENCF))
}

// authenticate runs the seed exchange for one credential. Submissions
// always re-authenticate; the signed document bytes produced before
// this step are reused, not discarded, on the retry a caller may make.
func (d *Dispatcher) authenticate(ctx context.Context, env ecf.Environment, cred *keystore.Credential) (*authority.Token, error) {
	seed, err := d.authority.FetchSeed(ctx, env)
	if err != nil {
		return nil, err
	}

	// Seeds carry no document type tag, so no SigningError here.
	signedSeed, err := d.signer.SignSeed(seed, cred.PrivateKey, cred.Certificate)
	if err != nil {
		return nil, fmt.Errorf("signing authentication seed: %w", err)
	}

	return d.authority.ValidateSeed(ctx, env, signedSeed)
}

// attachReference derives the verification URL where one applies.
func (d *Dispatcher) attachReference(result *Result, doc *ecf.Document, code string, env ecf.Environment) {
	if d.references == nil {
		return
	}

	var ref qr.Reference
	switch doc.Type {
	case ecf.TypeInvoice:
		h := doc.Invoice.Header
		ref = qr.Reference{
			IssuerTaxID:  h.IssuerTaxID,
			BuyerTaxID:   h.BuyerTaxID,
			ENCF:         h.ENCF,
			Total:        h.Total,
			SecurityCode: code,
			IssueDate:    h.IssueDate,
			Environment:  env,
		}
	case ecf.TypeConsumptionSummary:
		h := doc.Summary.Header
		ref = qr.Reference{
			IssuerTaxID:  h.IssuerTaxID,
			ENCF:         h.ENCF,
			Total:        h.Total,
			SecurityCode: code,
			IssueDate:    h.IssueDate,
			Environment:  env,
		}
	default:
		return
	}

	u, err := d.references.URL(ref)
	if err != nil {
		d.logger.Warn("reference URL not derived", "error", err)
		return
	}
	result.ReferenceURL = u
}

func submissionFilename(taxID, encf string) string {
	return taxID + encf + ".xml"
}
