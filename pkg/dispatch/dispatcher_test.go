package dispatch

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ithesk/firmadgii/internal/keystore"
	"github.com/ithesk/firmadgii/pkg/authority"
	"github.com/ithesk/firmadgii/pkg/ecf"
	"github.com/ithesk/firmadgii/pkg/qr"
	"github.com/ithesk/firmadgii/pkg/sign"
	"github.com/ithesk/firmadgii/pkg/transform"
)

// fakeProvider serves one in-memory credential and counts resolutions.
type fakeProvider struct {
	cred     *keystore.Credential
	resolves int
}

func (f *fakeProvider) Resolve(ctx context.Context, taxID string) (*keystore.Credential, error) {
	f.resolves++
	return f.cred, nil
}
func (f *fakeProvider) Evict(string) {}
func (f *fakeProvider) EvictAll()    {}
func (f *fakeProvider) Close() error { return nil }

// fakeAuthority records every operation it receives.
type fakeAuthority struct {
	seed       string
	seeds      int
	validates  int
	documents  []string
	summaries  []string
	approvals  []string
	voids      []string
	submitErr  error
	directory  []authority.DirectoryEntry
	statusResp *ecf.TrackedSubmission
}

func (f *fakeAuthority) FetchSeed(ctx context.Context, env ecf.Environment) (string, error) {
	f.seeds++
	if f.seed != "" {
		return f.seed, nil
	}
	return `<SemillaModel><valor>nonce</valor><fecha>2024-06-15T10:00:00</fecha></SemillaModel>`, nil
}

func (f *fakeAuthority) ValidateSeed(ctx context.Context, env ecf.Environment, signedSeed string) (*authority.Token, error) {
	f.validates++
	return &authority.Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeAuthority) SubmitDocument(ctx context.Context, env ecf.Environment, token *authority.Token, signedXML, filename string) (*authority.SubmitResult, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.documents = append(f.documents, signedXML)
	return &authority.SubmitResult{TrackID: "track-001", Status: "EnProceso"}, nil
}

func (f *fakeAuthority) SubmitSummary(ctx context.Context, env ecf.Environment, token *authority.Token, signedXML, filename string) (*authority.SubmitResult, error) {
	f.summaries = append(f.summaries, signedXML)
	return &authority.SubmitResult{TrackID: "track-fc-001", Status: "Aceptado"}, nil
}

func (f *fakeAuthority) SubmitApproval(ctx context.Context, env ecf.Environment, token *authority.Token, signedXML, filename string) (*authority.SubmitResult, error) {
	f.approvals = append(f.approvals, signedXML)
	return &authority.SubmitResult{TrackID: "track-ac-001", Status: "Aceptado"}, nil
}

func (f *fakeAuthority) VoidSequence(ctx context.Context, env ecf.Environment, token *authority.Token, signedXML, filename string) (*authority.SubmitResult, error) {
	f.voids = append(f.voids, signedXML)
	return &authority.SubmitResult{TrackID: "track-an-001", Status: "Aceptado"}, nil
}

func (f *fakeAuthority) StatusByTrackID(ctx context.Context, env ecf.Environment, token *authority.Token, trackID string) (*ecf.TrackedSubmission, error) {
	return f.statusResp, nil
}

func (f *fakeAuthority) StatusHistory(ctx context.Context, env ecf.Environment, token *authority.Token, issuerTaxID, encf string) ([]ecf.TrackedSubmission, error) {
	return []ecf.TrackedSubmission{{TrackID: "track-001", ENCF: encf, Status: "Aceptado"}}, nil
}

func (f *fakeAuthority) Validity(ctx context.Context, env ecf.Environment, token *authority.Token, q authority.ValidityQuery) (*ecf.TrackedSubmission, error) {
	return &ecf.TrackedSubmission{ENCF: q.ENCF, Status: "Aceptado"}, nil
}

func (f *fakeAuthority) Directory(ctx context.Context, env ecf.Environment, token *authority.Token, taxID string) ([]authority.DirectoryEntry, error) {
	return f.directory, nil
}

func (f *fakeAuthority) calls() int {
	return f.seeds + f.validates + len(f.documents) + len(f.summaries) + len(f.approvals) + len(f.voids)
}

func testCredential(t *testing.T) *keystore.Credential {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "130862346"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &keystore.Credential{TaxID: "130862346", PrivateKey: key, Certificate: cert}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeAuthority) {
	t.Helper()

	auth := &fakeAuthority{}
	d, err := New(Config{
		Credentials: &fakeProvider{cred: testCredential(t)},
		Signer:      sign.New(),
		Authority:   auth,
		References:  qr.New(),
		Logger:      slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return d, auth
}

func creditInvoice() *ecf.Document {
	doc, _ := ecf.NewInvoice(ecf.Invoice{
		Header: ecf.Header{
			IssuerTaxID: "130862346",
			IssuerName:  "EMPRESA DEMO SRL",
			BuyerTaxID:  "101000001",
			ENCF:        "E310005000201",
			IssueDate:   time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			Total:       decimal.NewFromFloat(11800.00),
		},
		Items: []ecf.LineItem{{
			Line:        1,
			Description: "Servicio",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromFloat(11800.00),
			Amount:      decimal.NewFromFloat(11800.00),
		}},
		Subtotal: decimal.NewFromFloat(11800.00),
	})
	return doc
}

func consumptionInvoice(total float64) *ecf.Document {
	doc, _ := ecf.NewInvoice(ecf.Invoice{
		Header: ecf.Header{
			IssuerTaxID: "130862346",
			ENCF:        "E320000000051",
			IssueDate:   time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			Total:       decimal.NewFromFloat(total),
		},
		Items: []ecf.LineItem{{
			Line:        1,
			Description: "Producto",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromFloat(total),
			Amount:      decimal.NewFromFloat(total),
		}},
		Subtotal: decimal.NewFromFloat(total),
	})
	return doc
}

func TestSendInvoiceEndToEnd(t *testing.T) {
	d, auth := newTestDispatcher(t)

	result, err := d.Send(context.Background(), SendRequest{
		Document:    creditInvoice(),
		Environment: ecf.EnvTest,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.TrackID)
	assert.Contains(t, result.SignedXML, "<Signature")
	assert.Len(t, result.SecurityCode, 6)
	assert.Contains(t, result.ReferenceURL, "ConsultaTimbre")
	assert.Len(t, auth.documents, 1)
	assert.Equal(t, 1, auth.seeds)
}

func TestSmallConsumptionInvoiceBecomesSummary(t *testing.T) {
	d, auth := newTestDispatcher(t)

	result, err := d.Send(context.Background(), SendRequest{
		Document:    consumptionInvoice(350.50),
		Environment: ecf.EnvTest,
	})
	require.NoError(t, err)

	// The authority saw a summary, not the full invoice.
	require.Len(t, auth.summaries, 1)
	assert.Empty(t, auth.documents)

	// The full signed invoice is retained for archival, and the
	// submitted summary carries the invoice's own security code.
	assert.Contains(t, result.SignedXML, "<ECF>")
	assert.Contains(t, result.SummaryXML, "<RFCE>")
	assert.Contains(t, result.SummaryXML, "<CodigoSeguridadeCF>"+result.SecurityCode+"</CodigoSeguridadeCF>")
	assert.Equal(t, "track-fc-001", result.TrackID)
}

func TestLargeConsumptionInvoiceStaysFull(t *testing.T) {
	d, auth := newTestDispatcher(t)

	_, err := d.Send(context.Background(), SendRequest{
		Document:    consumptionInvoice(300000),
		Environment: ecf.EnvTest,
	})
	require.NoError(t, err)

	assert.Len(t, auth.documents, 1)
	assert.Empty(t, auth.summaries)
}

func TestRejectedApprovalRequiresReason(t *testing.T) {
	d, auth := newTestDispatcher(t)

	doc := &ecf.Document{
		Type: ecf.TypeCommercialApproval,
		Approval: &ecf.CommercialApproval{
			IssuerTaxID: "101000001",
			SellerTaxID: "130862346",
			ENCF:        "E310005000201",
			State:       ecf.Rejected,
			// RejectReason deliberately empty
		},
	}

	_, err := d.Send(context.Background(), SendRequest{Document: doc})

	var vErr *ecf.ValidationError
	require.ErrorAs(t, err, &vErr)
	// Validation failed before any signing or network work.
	assert.Zero(t, auth.calls())
}

func TestApprovalSubmitted(t *testing.T) {
	d, auth := newTestDispatcher(t)

	doc, err := ecf.NewCommercialApproval(ecf.CommercialApproval{
		IssuerTaxID: "101000001",
		SellerTaxID: "130862346",
		ENCF:        "E310005000201",
		State:       ecf.Approved,
		Total:       decimal.NewFromFloat(11800.00),
		IssueDate:   time.Now(),
	})
	require.NoError(t, err)

	result, err := d.Send(context.Background(), SendRequest{Document: doc})
	require.NoError(t, err)

	assert.Len(t, auth.approvals, 1)
	assert.Equal(t, "track-ac-001", result.TrackID)
}

func TestSequenceVoidSubmitted(t *testing.T) {
	d, auth := newTestDispatcher(t)

	doc, err := ecf.NewSequenceVoid(ecf.SequenceVoid{
		IssuerTaxID: "130862346",
		TypeCode:    "31",
		FromENCF:    "E310005000300",
		ToENCF:      "E310005000400",
		Quantity:    101,
	})
	require.NoError(t, err)

	_, err = d.Send(context.Background(), SendRequest{Document: doc})
	require.NoError(t, err)
	assert.Len(t, auth.voids, 1)
}

func TestSignOnlySkipsAuthority(t *testing.T) {
	d, auth := newTestDispatcher(t)

	result, err := d.Send(context.Background(), SendRequest{
		Document: creditInvoice(),
		SignOnly: true,
	})
	require.NoError(t, err)

	assert.Contains(t, result.SignedXML, "<Signature")
	assert.Empty(t, result.TrackID)
	assert.Zero(t, auth.calls())
}

func TestSubmissionErrorPropagates(t *testing.T) {
	d, auth := newTestDispatcher(t)
	auth.submitErr = &ecf.SubmissionError{Operation: "submit-document", Status: 503, Response: "unavailable"}

	_, err := d.Send(context.Background(), SendRequest{Document: creditInvoice()})

	var subErr *ecf.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, 503, subErr.Status)
}

func TestSeedSigningFailureNotTaggedAsDocument(t *testing.T) {
	d, auth := newTestDispatcher(t)
	auth.seed = "not a seed document"

	_, err := d.Send(context.Background(), SendRequest{Document: creditInvoice()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication seed")

	// The document itself signed fine; the failure is the seed's.
	var sErr *ecf.SigningError
	assert.False(t, errors.As(err, &sErr))
	assert.NotContains(t, err.Error(), ecf.TypeInvoice.String())
}

func TestAcknowledgmentNotRoutable(t *testing.T) {
	d, _ := newTestDispatcher(t)

	doc, err := ecf.NewReceiptAck(ecf.ReceiptAck{
		IssuerTaxID: "101000001",
		SenderTaxID: "130862346",
		ENCF:        "E310005000201",
		Status:      ecf.AckReceived,
		ReceivedAt:  time.Now(),
	})
	require.NoError(t, err)

	_, err = d.Send(context.Background(), SendRequest{Document: doc})
	var vErr *ecf.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestStatusByTrackID(t *testing.T) {
	d, auth := newTestDispatcher(t)
	auth.statusResp = &ecf.TrackedSubmission{TrackID: "track-001", Status: "Aceptado", Messages: []string{"ok"}}

	got, err := d.StatusByTrackID(context.Background(), ecf.EnvTest, "", "track-001")
	require.NoError(t, err)
	assert.Equal(t, "Aceptado", got.Status)

	_, err = d.StatusByTrackID(context.Background(), ecf.EnvTest, "", "")
	assert.Error(t, err)
}

func TestPeerDirectory(t *testing.T) {
	d, auth := newTestDispatcher(t)
	auth.directory = []authority.DirectoryEntry{{
		TaxID:        "101000001",
		ReceptionURL: "https://peer.example.do/recepcion",
	}}

	entries, err := d.PeerDirectory(context.Background(), ecf.EnvTest, "", "101000001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://peer.example.do/recepcion", entries[0].ReceptionURL)

	// Directory lookups authenticate like any other authority call.
	assert.Equal(t, 1, auth.validates)
}

func TestSummaryDocumentSubmittedDirectly(t *testing.T) {
	d, auth := newTestDispatcher(t)

	doc, err := ecf.NewConsumptionSummary(ecf.ConsumptionSummary{
		Header: ecf.Header{
			IssuerTaxID: "130862346",
			ENCF:        "E320000000052",
			IssueDate:   time.Now(),
			Total:       decimal.NewFromFloat(900),
		},
		SecurityCode: "abc123",
	})
	require.NoError(t, err)

	_, err = d.Send(context.Background(), SendRequest{Document: doc})
	require.NoError(t, err)
	assert.Len(t, auth.summaries, 1)
}

func TestTransformedInvoiceKeepsTotals(t *testing.T) {
	// The transform must not silently drop monetary fields.
	xml, err := transform.ToXML(creditInvoice())
	require.NoError(t, err)
	assert.Contains(t, xml, "<MontoTotal>11800.00</MontoTotal>")
	assert.Contains(t, xml, "<NumeroLinea>1</NumeroLinea>")
}
