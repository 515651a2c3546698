// Package reception handles inbound documents from counter-parties.
//
// Processing is a single pass over one document: locate the payload in
// whatever envelope it arrived in, extract the identifying header
// fields, decide received/not-received, and answer with a signed
// acknowledgment. The downstream notification is a deliberate
// fire-and-forget side effect: by the time it runs, the acknowledgment
// response is already committed, so its failure is logged and dropped.
package reception

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"strings"
	"time"

	"github.com/ithesk/firmadgii/internal/keystore"
	"github.com/ithesk/firmadgii/pkg/ecf"
	"github.com/ithesk/firmadgii/pkg/sign"
	"github.com/ithesk/firmadgii/pkg/transform"
)

// Notifier receives a reception event after the acknowledgment is
// signed. Implementations must tolerate being called from a detached
// goroutine.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Event describes one received document for downstream consumers.
type Event struct {
	ReceivedAt   time.Time `json:"receivedAt"`
	IssuerTaxID  string    `json:"issuerTaxId"`
	BuyerTaxID   string    `json:"buyerTaxId,omitempty"`
	ENCF         string    `json:"encf"`
	Total        string    `json:"total,omitempty"`
	Status       int       `json:"status"`
	RejectReason string    `json:"rejectReason,omitempty"`
}

// Input is one inbound reception request.
type Input struct {
	// Body is the request payload as received.
	Body []byte

	// ContentType is the declared media type; envelope location falls
	// back to sniffing when it is absent or unhelpful.
	ContentType string

	// ReceiverTaxID identifies who acknowledges. Defaults to the buyer
	// tax ID extracted from the document.
	ReceiverTaxID string

	// CredentialTaxID selects the signing credential; empty means the
	// default credential.
	CredentialTaxID string

	// Rejected marks the document as not received. The zero value
	// accepts.
	Rejected bool

	// RejectReason is the reason code, mandatory when Rejected.
	RejectReason string
}

// Outcome is the result of processing one inbound document. Ack is the
// parsed view of the emitted SignedAck, not the pre-signing draft.
type Outcome struct {
	SignedAck string
	Ack       *ecf.ReceiptAck
	Inbound   *transform.InboundDocument
}

// Pipeline processes inbound documents.
type Pipeline struct {
	credentials keystore.Provider
	signer      *sign.Signer
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a reception pipeline. The notifier is optional.
func New(credentials keystore.Provider, signer *sign.Signer, notifier Notifier, logger *slog.Logger) (*Pipeline, error) {
	if credentials == nil {
		return nil, errors.New("credential provider is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		credentials: credentials,
		signer:      signer,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Process runs one document through Received -> Parsed -> Decided ->
// Acknowledged and returns the signed acknowledgment.
func (p *Pipeline) Process(ctx context.Context, in Input) (*Outcome, error) {
	rawXML, err := locateDocument(in.Body, in.ContentType)
	if err != nil {
		return nil, err
	}

	inbound, err := transform.ParseInbound(rawXML)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ecf.ErrMalformedReception, err)
	}

	status := ecf.AckReceived
	if in.Rejected {
		if in.RejectReason == "" {
			return nil, &ecf.ValidationError{Field: "rejectReason", Reason: "reason code is required when rejecting"}
		}
		status = ecf.AckNotReceived
	}

	receiver := in.ReceiverTaxID
	if receiver == "" {
		receiver = inbound.BuyerTaxID
	}

	ackDoc, err := ecf.NewReceiptAck(ecf.ReceiptAck{
		IssuerTaxID:   receiver,
		SenderTaxID:   inbound.IssuerTaxID,
		ENCF:          inbound.ENCF,
		Status:        status,
		RejectReason:  in.RejectReason,
		ReceivedAt:    p.now(),
		OriginalTotal: inbound.Total,
	})
	if err != nil {
		return nil, err
	}

	xml, err := transform.ToXML(ackDoc)
	if err != nil {
		return nil, err
	}

	cred, err := p.credentials.Resolve(ctx, in.CredentialTaxID)
	if err != nil {
		return nil, err
	}

	signedAck, _, err := p.signer.Sign(xml, ecf.TypeReceiptAck, cred.PrivateKey, cred.Certificate)
	if err != nil {
		return nil, err
	}

	ack, err := transform.ParseAck(signedAck)
	if err != nil {
		return nil, fmt.Errorf("reading emitted acknowledgment: %w", err)
	}

	p.logger.Info("document acknowledged",
		"encf", inbound.ENCF,
		"sender", inbound.IssuerTaxID,
		"status", int(status),
	)

	p.notify(ctx, Event{
		ReceivedAt:   ackDoc.Ack.ReceivedAt,
		IssuerTaxID:  inbound.IssuerTaxID,
		BuyerTaxID:   inbound.BuyerTaxID,
		ENCF:         inbound.ENCF,
		Total:        inbound.Total.StringFixed(2),
		Status:       int(status),
		RejectReason: in.RejectReason,
	})

	return &Outcome{SignedAck: signedAck, Ack: ack, Inbound: inbound}, nil
}

// notify dispatches the downstream event on a detached goroutine. The
// context is decoupled from the request so an already-answered caller
// hanging up does not cancel the notification mid-flight.
func (p *Pipeline) notify(ctx context.Context, event Event) {
	if p.notifier == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		if err := p.notifier.Notify(detached, event); err != nil {
			p.logger.Warn("reception notification failed",
				"encf", event.ENCF,
				"error", err,
			)
		}
	}()
}

// locateDocument finds the single XML document payload inside whatever
// envelope it arrived in: a multipart envelope with one XML attachment,
// a JSON wrapper, or a raw XML body.
func locateDocument(body []byte, contentType string) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ecf.ErrMalformedReception
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		return documentFromMultipart(body, params["boundary"])
	}

	trimmed := bytes.TrimSpace(body)
	switch {
	case trimmed[0] == '<':
		return trimmed, nil
	case trimmed[0] == '{':
		return documentFromJSON(trimmed)
	}
	return nil, ecf.ErrMalformedReception
}

// documentFromMultipart scans envelope parts for the one XML document
// attachment.
func documentFromMultipart(body []byte, boundary string) ([]byte, error) {
	if boundary == "" {
		return nil, ecf.ErrMalformedReception
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ecf.ErrMalformedReception
		}

		content, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, ecf.ErrMalformedReception
		}

		if isXMLPart(part, content) {
			return bytes.TrimSpace(content), nil
		}
	}
	return nil, ecf.ErrMalformedReception
}

func isXMLPart(part *multipart.Part, content []byte) bool {
	ct := part.Header.Get("Content-Type")
	if strings.Contains(ct, "xml") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(part.FileName()), ".xml") {
		return true
	}
	trimmed := bytes.TrimSpace(content)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

// documentFromJSON unwraps a {"xml": "..."} payload.
func documentFromJSON(body []byte) ([]byte, error) {
	var wrapper struct {
		XML string `json:"xml"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, ecf.ErrMalformedReception
	}
	trimmed := strings.TrimSpace(wrapper.XML)
	if trimmed == "" || trimmed[0] != '<' {
		return nil, ecf.ErrMalformedReception
	}
	return []byte(trimmed), nil
}
