// Package server provides the HTTP surface of the fiscal gateway.
//
// The server exposes three API surfaces:
//
// # Document API
//
//   - POST /api/invoices   - sign and submit an invoice (or reduce to a summary)
//   - POST /api/summaries  - sign and submit a consumption summary
//   - POST /api/approvals  - sign and submit a commercial approval
//   - POST /api/voidances  - sign and submit a sequence voidance
//   - GET  /api/status/{trackID}  - poll one submission
//   - GET  /api/status            - status history by issuer + document number
//   - GET  /api/validity          - document existence/validity lookup
//   - GET  /api/directory/{taxID} - resolve a counter-party endpoint
//     (authority directory first, DNS fallback)
//
// # Reception (peer-facing, Bearer token when auth is configured)
//
//   - POST /api/reception - receive a counter-party document, answers
//     with the raw signed acknowledgment XML
//
// # Peer Authentication
//
// These two mimic the authority's own contract, since the gateway can
// act as the receiving endpoint in peer-to-peer deployments:
//
//   - GET  /api/autenticacion/semilla           - authentication challenge (raw XML)
//   - POST /api/autenticacion/validacionsemilla - signed challenge -> bearer token
//
// # Health
//
//   - GET /health - liveness probe
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ithesk/firmadgii/internal/auth"
	"github.com/ithesk/firmadgii/internal/config"
	"github.com/ithesk/firmadgii/internal/reception"
	"github.com/ithesk/firmadgii/pkg/authority"
	"github.com/ithesk/firmadgii/pkg/discovery"
	"github.com/ithesk/firmadgii/pkg/dispatch"
	"github.com/ithesk/firmadgii/pkg/ecf"
)

// maxBodyBytes bounds inbound payloads. Fiscal documents are small;
// anything larger is not a document.
const maxBodyBytes = 10 << 20

// Sender is the dispatch surface the server routes to.
type Sender interface {
	Send(ctx context.Context, req dispatch.SendRequest) (*dispatch.Result, error)
	StatusByTrackID(ctx context.Context, env ecf.Environment, taxID, trackID string) (*ecf.TrackedSubmission, error)
	StatusHistory(ctx context.Context, env ecf.Environment, taxID, issuerTaxID, encf string) ([]ecf.TrackedSubmission, error)
	Validity(ctx context.Context, env ecf.Environment, taxID string, q authority.ValidityQuery) (*ecf.TrackedSubmission, error)
}

// Resolver finds a counter-party's reception endpoint, directory first
// with a DNS fallback.
type Resolver interface {
	Resolve(ctx context.Context, taxID string) (*discovery.Endpoint, error)
}

// Receiver processes inbound counter-party documents.
type Receiver interface {
	Process(ctx context.Context, in reception.Input) (*reception.Outcome, error)
}

// TokenService issues and validates peer authentication tokens.
type TokenService interface {
	Seed() (string, error)
	ValidateSeed(signedSeed string) (*auth.Token, error)
	ValidateRequest(r *http.Request) (*auth.Claims, error)
}

// Server is the gateway HTTP server.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	httpSrv  *http.Server
	sender   Sender
	receiver Receiver
	resolver Resolver
	tokens   TokenService // nil disables the peer auth surface
}

// New creates the gateway server.
func New(cfg *config.Config, sender Sender, receiver Receiver, resolver Resolver, tokens TokenService, logger *slog.Logger) (*Server, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if receiver == nil {
		return nil, errors.New("receiver is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		sender:   sender,
		receiver: receiver,
		resolver: resolver,
		tokens:   tokens,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening on the specified address.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", "addr", addr, "tls", s.config.Server.TLS.Enabled)
	if s.config.Server.TLS.Enabled {
		return s.httpSrv.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	basePath := strings.TrimSuffix(s.config.Server.BasePath, "/")

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST "+basePath+"/api/invoices", s.handleSendInvoice)
	mux.HandleFunc("POST "+basePath+"/api/summaries", s.handleSendSummary)
	mux.HandleFunc("POST "+basePath+"/api/approvals", s.handleSendApproval)
	mux.HandleFunc("POST "+basePath+"/api/voidances", s.handleSendVoid)

	mux.HandleFunc("GET "+basePath+"/api/status/{trackID}", s.handleStatus)
	mux.HandleFunc("GET "+basePath+"/api/status", s.handleStatusHistory)
	mux.HandleFunc("GET "+basePath+"/api/validity", s.handleValidity)
	mux.HandleFunc("GET "+basePath+"/api/directory/{taxID}", s.handleDirectory)

	mux.HandleFunc("POST "+basePath+"/api/reception", s.withPeerAuth(s.handleReception))

	if s.tokens != nil {
		mux.HandleFunc("GET "+basePath+"/api/autenticacion/semilla", s.handleSeed)
		mux.HandleFunc("POST "+basePath+"/api/autenticacion/validacionsemilla", s.handleValidateSeed)
	}
}

// Middleware

// withLogging logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withPeerAuth gates peer-facing endpoints behind a gateway-issued
// bearer token. Skipped when no token service is configured.
func (s *Server) withPeerAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			next(w, r)
			return
		}

		_, err := s.tokens.ValidateRequest(r)
		if err != nil {
			s.logger.Debug("peer authentication failed", "error", err, "path", r.URL.Path)
			switch {
			case errors.Is(err, auth.ErrNoToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="e-CF reception"`)
				s.jsonError(w, "authentication required", http.StatusUnauthorized)
			case errors.Is(err, auth.ErrTokenExpired):
				s.jsonError(w, "token expired", http.StatusUnauthorized)
			default:
				s.jsonError(w, "authentication failed", http.StatusUnauthorized)
			}
			return
		}
		next(w, r)
	}
}

// Health

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Document API

// sendRequest is the JSON request shape shared by the document routes.
// Exactly one document body is expected per route.
type sendRequest struct {
	TaxID       string `json:"taxId,omitempty"`
	Environment string `json:"environment,omitempty"`
	SignOnly    bool   `json:"signOnly,omitempty"`

	Invoice  *ecf.Invoice            `json:"invoice,omitempty"`
	Summary  *ecf.ConsumptionSummary `json:"summary,omitempty"`
	Approval *ecf.CommercialApproval `json:"approval,omitempty"`
	Void     *ecf.SequenceVoid       `json:"void,omitempty"`
}

func (s *Server) handleSendInvoice(w http.ResponseWriter, r *http.Request) {
	s.handleSend(w, r, func(req *sendRequest) (*ecf.Document, error) {
		if req.Invoice == nil {
			return nil, &ecf.ValidationError{Field: "invoice", Reason: "invoice body is required"}
		}
		return ecf.NewInvoice(*req.Invoice)
	})
}

func (s *Server) handleSendSummary(w http.ResponseWriter, r *http.Request) {
	s.handleSend(w, r, func(req *sendRequest) (*ecf.Document, error) {
		if req.Summary == nil {
			return nil, &ecf.ValidationError{Field: "summary", Reason: "summary body is required"}
		}
		return ecf.NewConsumptionSummary(*req.Summary)
	})
}

func (s *Server) handleSendApproval(w http.ResponseWriter, r *http.Request) {
	s.handleSend(w, r, func(req *sendRequest) (*ecf.Document, error) {
		if req.Approval == nil {
			return nil, &ecf.ValidationError{Field: "approval", Reason: "approval body is required"}
		}
		return ecf.NewCommercialApproval(*req.Approval)
	})
}

func (s *Server) handleSendVoid(w http.ResponseWriter, r *http.Request) {
	s.handleSend(w, r, func(req *sendRequest) (*ecf.Document, error) {
		if req.Void == nil {
			return nil, &ecf.ValidationError{Field: "void", Reason: "voidance body is required"}
		}
		return ecf.NewSequenceVoid(*req.Void)
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, build func(*sendRequest) (*ecf.Document, error)) {
	var req sendRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		return
	}

	doc, err := build(&req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.sender.Send(r.Context(), dispatch.SendRequest{
		Document:    doc,
		TaxID:       req.TaxID,
		Environment: s.environment(req.Environment),
		SignOnly:    req.SignOnly,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, sendResponse{
		TrackID:      result.TrackID,
		Status:       result.Status,
		Messages:     result.Messages,
		SignedXML:    result.SignedXML,
		SecurityCode: result.SecurityCode,
		ReferenceURL: result.ReferenceURL,
		SummaryXML:   result.SummaryXML,
	}, http.StatusOK)
}

type sendResponse struct {
	TrackID      string   `json:"trackId,omitempty"`
	Status       string   `json:"status,omitempty"`
	Messages     []string `json:"messages,omitempty"`
	SignedXML    string   `json:"signedXml"`
	SecurityCode string   `json:"securityCode"`
	ReferenceURL string   `json:"referenceUrl,omitempty"`
	SummaryXML   string   `json:"summaryXml,omitempty"`
}

// Queries

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tracked, err := s.sender.StatusByTrackID(r.Context(),
		s.environment(r.URL.Query().Get("env")),
		r.URL.Query().Get("taxId"),
		r.PathValue("trackID"),
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, tracked, http.StatusOK)
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	history, err := s.sender.StatusHistory(r.Context(),
		s.environment(q.Get("env")),
		q.Get("taxId"),
		q.Get("issuer"),
		q.Get("encf"),
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, history, http.StatusOK)
}

func (s *Server) handleValidity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tracked, err := s.sender.Validity(r.Context(),
		s.environment(q.Get("env")),
		q.Get("taxId"),
		authority.ValidityQuery{
			IssuerTaxID:  q.Get("issuer"),
			ENCF:         q.Get("encf"),
			BuyerTaxID:   q.Get("buyer"),
			SecurityCode: q.Get("securityCode"),
		},
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, tracked, http.StatusOK)
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.resolver.Resolve(r.Context(), r.PathValue("taxID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, endpoint, http.StatusOK)
}

// Reception

func (s *Server) handleReception(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.jsonError(w, "reading request body", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	outcome, err := s.receiver.Process(r.Context(), reception.Input{
		Body:            body,
		ContentType:     r.Header.Get("Content-Type"),
		ReceiverTaxID:   q.Get("receiver"),
		CredentialTaxID: q.Get("taxId"),
		Rejected:        q.Get("accepted") == "false",
		RejectReason:    q.Get("reason"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The acknowledgment is the response payload, raw XML by contract.
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, outcome.SignedAck)
}

// Peer authentication

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	seed, err := s.tokens.Seed()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, seed)
}

func (s *Server) handleValidateSeed(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.jsonError(w, "reading request body", http.StatusBadRequest)
		return
	}

	token, err := s.tokens.ValidateSeed(string(body))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSeedUnknown),
			errors.Is(err, auth.ErrSeedExpired),
			errors.Is(err, auth.ErrSeedUnsigned):
			s.jsonError(w, err.Error(), http.StatusUnauthorized)
		default:
			s.writeError(w, err)
		}
		return
	}
	s.jsonResponse(w, token, http.StatusOK)
}

// Helpers

// environment resolves the effective environment: the request's when
// given, the configured default otherwise.
func (s *Server) environment(requested string) ecf.Environment {
	if requested != "" {
		return ecf.Environment(requested)
	}
	return ecf.Environment(s.config.Dispatch.Environment)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return err
	}
	return nil
}

// writeError maps the error taxonomy onto HTTP statuses. Every failure
// resolves to a structured body; no partial result accompanies an
// error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		vErr   *ecf.ValidationError
		subErr *ecf.SubmissionError
		loadEr *ecf.CredentialLoadError
	)

	switch {
	case errors.As(err, &vErr):
		s.jsonError(w, vErr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ecf.ErrMalformedReception):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ecf.ErrCredentialNotFound):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, discovery.ErrInvalidTaxID):
		s.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, discovery.ErrNoRecordsFound), errors.Is(err, discovery.ErrServiceNotFound):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &loadEr):
		s.logger.Error("credential load failed", "error", err)
		s.jsonError(w, "credential unavailable", http.StatusInternalServerError)
	case errors.As(err, &subErr):
		s.logger.Error("authority call failed", "operation", subErr.Operation, "status", subErr.Status, "error", err)
		s.jsonResponse(w, map[string]any{
			"error":             subErr.Error(),
			"authorityStatus":   subErr.Status,
			"authorityResponse": subErr.Response,
		}, http.StatusBadGateway)
	default:
		s.logger.Error("request failed", "error", err)
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]any{"success": false, "error": message}, status)
}
