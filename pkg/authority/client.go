// Package authority implements the transport client for the tax
// authority's electronic fiscal document platform.
//
// The client covers the full operation surface the dispatcher routes
// to: seed-based authentication, document and summary submission,
// commercial approval, sequence voidance, status and validity queries,
// and the taxpayer service directory. Transport failures, timeouts
// included, surface uniformly as SubmissionError; the client never
// retries, that policy belongs to the caller.
package authority

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

// Token is a bearer token minted by the authority after seed
// validation. One token authorizes submissions until it expires.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// SubmitResult is the authority's answer to a submission.
type SubmitResult struct {
	TrackID  string
	Status   string
	Messages []string
}

// ValidityQuery identifies a document for existence/validity lookup.
type ValidityQuery struct {
	IssuerTaxID  string
	ENCF         string
	BuyerTaxID   string // optional
	SecurityCode string // optional
}

// DirectoryEntry describes a counter-party's registered endpoints.
type DirectoryEntry struct {
	TaxID             string
	Name              string
	ReceptionURL      string
	AuthenticationURL string
	ApprovalURL       string
}

// Client is the authority operation surface consumed by the dispatcher.
type Client interface {
	FetchSeed(ctx context.Context, env ecf.Environment) (string, error)
	ValidateSeed(ctx context.Context, env ecf.Environment, signedSeed string) (*Token, error)
	SubmitDocument(ctx context.Context, env ecf.Environment, token *Token, signedXML, filename string) (*SubmitResult, error)
	SubmitSummary(ctx context.Context, env ecf.Environment, token *Token, signedXML, filename string) (*SubmitResult, error)
	SubmitApproval(ctx context.Context, env ecf.Environment, token *Token, signedXML, filename string) (*SubmitResult, error)
	VoidSequence(ctx context.Context, env ecf.Environment, token *Token, signedXML, filename string) (*SubmitResult, error)
	StatusByTrackID(ctx context.Context, env ecf.Environment, token *Token, trackID string) (*ecf.TrackedSubmission, error)
	StatusHistory(ctx context.Context, env ecf.Environment, token *Token, issuerTaxID, encf string) ([]ecf.TrackedSubmission, error)
	Validity(ctx context.Context, env ecf.Environment, token *Token, q ValidityQuery) (*ecf.TrackedSubmission, error)
	Directory(ctx context.Context, env ecf.Environment, token *Token, taxID string) ([]DirectoryEntry, error)
}

// HTTPConfig contains transport settings for the authority client.
type HTTPConfig struct {
	Timeout         time.Duration
	MinTLSVersion   uint16
	IdleConnTimeout time.Duration
}

// DefaultHTTPConfig returns conservative transport defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout:         30 * time.Second,
		MinTLSVersion:   tls.VersionTLS12,
		IdleConnTimeout: 90 * time.Second,
	}
}

// HTTPClient talks to the authority over HTTPS.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates an authority client.
func NewHTTPClient(cfg *HTTPConfig) *HTTPClient {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}

	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{MinVersion: cfg.MinTLSVersion},
		IdleConnTimeout:     cfg.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// FetchSeed retrieves an authentication challenge from the authority.
func (c *HTTPClient) FetchSeed(ctx context.Context, env ecf.Environment) (string, error) {
	base, err := baseURL(env)
	if err != nil {
		return "", &ecf.SubmissionError{Operation: "seed", Err: err}
	}

	body, err := c.get(ctx, base+pathSeed, nil, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ValidateSeed exchanges a signed seed for a bearer token.
func (c *HTTPClient) ValidateSeed(ctx context.Context, env ecf.Environment, signedSeed string) (*Token, error) {
	base, err := baseURL(env)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: "authenticate", Err: err}
	}

	body, err := c.postFile(ctx, "authenticate", base+pathValidateSeed, nil, signedSeed, "seed.xml")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Token  string `json:"token"`
		Expira string `json:"expira"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ecf.SubmissionError{Operation: "authenticate", Response: string(body), Err: err}
	}
	if resp.Token == "" {
		return nil, &ecf.SubmissionError{Operation: "authenticate", Response: string(body), Err: fmt.Errorf("no token in response")}
	}

	token := &Token{Value: resp.Token}
	if ts, err := time.Parse(time.RFC3339, resp.Expira); err == nil {
		token.ExpiresAt = ts
	}
	return token, nil
}

// SubmitDocument submits a signed electronic document.
func (c *HTTPClient) SubmitDocument(ctx context.Context, env ecf.Environment, token *Token, signedXML, filename string) (*SubmitResult, error) {
	return c.submit(ctx, "submit-document", env, pathSubmitDoc, token, signedXML, filename)
}

// SubmitSummary submits a signed consumption summary.
func (c *HTTPClient) SubmitSummary(ctx context.Context, env ecf.Environment, token *Token, signedXML, filename string) (*SubmitResult, error) {
	return c.submit(ctx, "submit-summary", env, pathSubmitFC, token, signedXML, filename)
}

// SubmitApproval submits a signed commercial approval.
func (c *HTTPClient) SubmitApproval(ctx context.Context, env ecf.Environment, token *Token, signedXML, filename string) (*SubmitResult, error) {
	return c.submit(ctx, "submit-approval", env, pathApproval, token, signedXML, filename)
}

// VoidSequence submits a signed sequence voidance.
func (c *HTTPClient) VoidSequence(ctx context.Context, env ecf.Environment, token *Token, signedXML, filename string) (*SubmitResult, error) {
	return c.submit(ctx, "void-sequence", env, pathVoidRange, token, signedXML, filename)
}

// StatusByTrackID polls the authority for the state of one submission.
func (c *HTTPClient) StatusByTrackID(ctx context.Context, env ecf.Environment, token *Token, trackID string) (*ecf.TrackedSubmission, error) {
	base, err := baseURL(env)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: "status", Err: err}
	}

	q := url.Values{"trackId": {trackID}}
	body, err := c.get(ctx, base+pathStatusTrack, q, token)
	if err != nil {
		return nil, err
	}
	return parseTracked(body, trackID)
}

// StatusHistory lists all tracked submissions for a document number.
func (c *HTTPClient) StatusHistory(ctx context.Context, env ecf.Environment, token *Token, issuerTaxID, encf string) ([]ecf.TrackedSubmission, error) {
	base, err := baseURL(env)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: "status-history", Err: err}
	}

	q := url.Values{"rncemisor": {issuerTaxID}, "encf": {encf}}
	body, err := c.get(ctx, base+pathTrackIDs, q, token)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		TrackID string `json:"trackId"`
		Estado  string `json:"estado"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ecf.SubmissionError{Operation: "status-history", Response: string(body), Err: err}
	}

	out := make([]ecf.TrackedSubmission, len(raw))
	for i, r := range raw {
		out[i] = ecf.TrackedSubmission{TrackID: r.TrackID, ENCF: encf, Status: r.Estado}
	}
	return out, nil
}

// Validity checks existence/validity of a document by its identifiers.
func (c *HTTPClient) Validity(ctx context.Context, env ecf.Environment, token *Token, vq ValidityQuery) (*ecf.TrackedSubmission, error) {
	base, err := baseURL(env)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: "validity", Err: err}
	}

	q := url.Values{
		"rncemisor":      {vq.IssuerTaxID},
		"ncfelectronico": {vq.ENCF},
	}
	if vq.BuyerTaxID != "" {
		q.Set("rnccomprador", vq.BuyerTaxID)
	}
	if vq.SecurityCode != "" {
		q.Set("codigoseguridad", vq.SecurityCode)
	}

	body, err := c.get(ctx, base+pathValidity, q, token)
	if err != nil {
		return nil, err
	}
	return parseTracked(body, "")
}

// Directory resolves a counter-party's registered service endpoints.
func (c *HTTPClient) Directory(ctx context.Context, env ecf.Environment, token *Token, taxID string) ([]DirectoryEntry, error) {
	base, err := baseURL(env)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: "directory", Err: err}
	}

	q := url.Values{}
	if taxID != "" {
		q.Set("rnc", taxID)
	}
	body, err := c.get(ctx, base+pathDirectory, q, token)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		RNC              string `json:"rnc"`
		Nombre           string `json:"nombre"`
		URLRecepcion     string `json:"urlRecepcion"`
		URLAutenticacion string `json:"urlAutenticacion"`
		URLAceptacion    string `json:"urlAceptacion"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ecf.SubmissionError{Operation: "directory", Response: string(body), Err: err}
	}

	out := make([]DirectoryEntry, len(raw))
	for i, r := range raw {
		out[i] = DirectoryEntry{
			TaxID:             r.RNC,
			Name:              r.Nombre,
			ReceptionURL:      r.URLRecepcion,
			AuthenticationURL: r.URLAutenticacion,
			ApprovalURL:       r.URLAceptacion,
		}
	}
	return out, nil
}

// submit uploads a signed XML file and decodes the tracking response.
func (c *HTTPClient) submit(ctx context.Context, op string, env ecf.Environment, path string, token *Token, signedXML, filename string) (*SubmitResult, error) {
	base, err := baseURL(env)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: op, Err: err}
	}

	body, err := c.postFile(ctx, op, base+path, token, signedXML, filename)
	if err != nil {
		return nil, err
	}

	var resp struct {
		TrackID  string   `json:"trackId"`
		Estado   string   `json:"estado"`
		Mensajes []string `json:"mensajes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ecf.SubmissionError{Operation: op, Response: string(body), Err: err}
	}

	return &SubmitResult{TrackID: resp.TrackID, Status: resp.Estado, Messages: resp.Mensajes}, nil
}

// postFile uploads an XML document as a multipart form file.
func (c *HTTPClient) postFile(ctx context.Context, op, endpoint string, token *Token, content, filename string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("xml", filename)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: op, Err: err}
	}
	if _, err := io.Copy(part, strings.NewReader(content)); err != nil {
		return nil, &ecf.SubmissionError{Operation: op, Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &ecf.SubmissionError{Operation: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != nil {
		req.Header.Set("Authorization", token.Value)
	}

	return c.do(op, req)
}

// get performs a query against the authority.
func (c *HTTPClient) get(ctx context.Context, endpoint string, q url.Values, token *Token) ([]byte, error) {
	u := endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: "query", Err: err}
	}
	if token != nil {
		req.Header.Set("Authorization", token.Value)
	}

	return c.do("query", req)
}

func (c *HTTPClient) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ecf.SubmissionError{Operation: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ecf.SubmissionError{Operation: op, Status: resp.StatusCode, Response: string(body)}
	}
	return body, nil
}

func parseTracked(body []byte, trackID string) (*ecf.TrackedSubmission, error) {
	var resp struct {
		TrackID  string   `json:"trackId"`
		ENCF     string   `json:"encf"`
		Estado   string   `json:"estado"`
		Mensajes []string `json:"mensajes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ecf.SubmissionError{Operation: "status", Response: string(body), Err: err}
	}
	if resp.TrackID == "" {
		resp.TrackID = trackID
	}
	return &ecf.TrackedSubmission{
		TrackID:  resp.TrackID,
		ENCF:     resp.ENCF,
		Status:   resp.Estado,
		Messages: resp.Mensajes,
	}, nil
}
