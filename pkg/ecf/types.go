package ecf

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType identifies the kind of electronic fiscal document.
// The set is closed: the dispatcher and signer switch exhaustively
// over it, so adding a type is a compile-time visible change.
type DocumentType int

const (
	// TypeInvoice is a full electronic invoice (e-CF).
	TypeInvoice DocumentType = iota
	// TypeConsumptionSummary is the reduced summary submitted for
	// small consumption invoices (RFCE).
	TypeConsumptionSummary
	// TypeReceiptAck acknowledges technical reception of a document (ARECF).
	TypeReceiptAck
	// TypeCommercialApproval accepts or rejects a received document
	// at the business level (ACECF).
	TypeCommercialApproval
	// TypeSequenceVoid voids a range of unused document sequences (ANECF).
	TypeSequenceVoid
)

// String returns the authority's tag for the document type.
func (t DocumentType) String() string {
	switch t {
	case TypeInvoice:
		return "ECF"
	case TypeConsumptionSummary:
		return "RFCE"
	case TypeReceiptAck:
		return "ARECF"
	case TypeCommercialApproval:
		return "ACECF"
	case TypeSequenceVoid:
		return "ANECF"
	default:
		return fmt.Sprintf("DocumentType(%d)", int(t))
	}
}

// Environment selects which authority deployment a call targets.
type Environment string

const (
	EnvTest Environment = "test"
	EnvCert Environment = "cert"
	EnvProd Environment = "prod"
)

// Valid reports whether the environment tag is one of the three
// supported deployments.
func (e Environment) Valid() bool {
	switch e {
	case EnvTest, EnvCert, EnvProd:
		return true
	}
	return false
}

// ConsumptionTypeCode is the two-digit document-type code embedded in
// an eNCF that denotes a consumption invoice. Consumption invoices are
// eligible for summary submission and use the short verification URL.
const ConsumptionTypeCode = "32"

// TypeCodeFromENCF extracts the two-digit document-type code from an
// electronic document number of the form E<TT><sequence>.
func TypeCodeFromENCF(encf string) string {
	if len(encf) < 3 || !strings.HasPrefix(encf, "E") {
		return ""
	}
	return encf[1:3]
}

// Header carries the identifying fields common to all document kinds.
type Header struct {
	IssuerTaxID string          `json:"issuerTaxId"`
	IssuerName  string          `json:"issuerName,omitempty"`
	BuyerTaxID  string          `json:"buyerTaxId,omitempty"`
	ENCF        string          `json:"encf"`
	IssueDate   time.Time       `json:"issueDate"`
	Total       decimal.Decimal `json:"total"`
	TotalTaxed  decimal.Decimal `json:"totalTaxed"`
	TotalITBIS  decimal.Decimal `json:"totalItbis"`
}

// LineItem is a single invoice line.
type LineItem struct {
	Line        int             `json:"line"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice is a full electronic invoice with ordered line items.
type Invoice struct {
	Header   Header          `json:"header"`
	Items    []LineItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// ConsumptionSummary is the reduced shape submitted in place of a full
// consumption invoice below the small-amount threshold. SecurityCode
// links the summary back to the archived full invoice's signature.
type ConsumptionSummary struct {
	Header       Header `json:"header"`
	SecurityCode string `json:"securityCode,omitempty"`
}

// AckStatus is the technical reception outcome carried by an ARECF.
type AckStatus int

const (
	AckReceived    AckStatus = 0
	AckNotReceived AckStatus = 1
)

// ReceiptAck acknowledges reception of a counter-party document.
type ReceiptAck struct {
	IssuerTaxID   string          `json:"issuerTaxId"` // receiver issuing the acknowledgment
	SenderTaxID   string          `json:"senderTaxId"` // original document issuer
	ENCF          string          `json:"encf"`
	Status        AckStatus       `json:"status"`
	RejectReason  string          `json:"rejectReason,omitempty"` // reason code, required when Status is AckNotReceived
	ReceivedAt    time.Time       `json:"receivedAt"`
	OriginalTotal decimal.Decimal `json:"originalTotal"`
}

// ApprovalState is the commercial decision carried by an ACECF.
type ApprovalState int

const (
	Approved ApprovalState = 1
	Rejected ApprovalState = 2
)

// CommercialApproval accepts or rejects a received document's content.
type CommercialApproval struct {
	IssuerTaxID  string          `json:"issuerTaxId"`
	SellerTaxID  string          `json:"sellerTaxId"`
	ENCF         string          `json:"encf"`
	State        ApprovalState   `json:"state"`
	RejectReason string          `json:"rejectReason,omitempty"`
	Total        decimal.Decimal `json:"total"`
	IssueDate    time.Time       `json:"issueDate"`
}

// SequenceVoid voids a contiguous range of unused sequence numbers.
type SequenceVoid struct {
	IssuerTaxID string `json:"issuerTaxId"`
	TypeCode    string `json:"typeCode"`
	FromENCF    string `json:"fromEncf"`
	ToENCF      string `json:"toEncf"`
	Quantity    int    `json:"quantity"`
}

// Document is the tagged union over fiscal document kinds. Exactly one
// payload field matching Type is populated.
type Document struct {
	Type DocumentType

	Invoice  *Invoice
	Summary  *ConsumptionSummary
	Ack      *ReceiptAck
	Approval *CommercialApproval
	Void     *SequenceVoid
}

// SignedDocument pairs the signed XML with its derived security code.
// Both are immutable once produced by the signing orchestrator.
type SignedDocument struct {
	XML          string
	SecurityCode string
}

// TrackedSubmission correlates a submitted document with the authority's
// tracking state. It is a transient echo of authority state, mutated
// only by polling, never persisted.
type TrackedSubmission struct {
	TrackID  string   `json:"trackId"`
	ENCF     string   `json:"encf,omitempty"`
	Status   string   `json:"status"`
	Messages []string `json:"messages,omitempty"`
}
