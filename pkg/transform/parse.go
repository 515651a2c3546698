package transform

import (
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

// InboundDocument holds the identifying fields extracted from a
// counter-party document during reception.
type InboundDocument struct {
	IssuerTaxID string
	BuyerTaxID  string
	ENCF        string
	Total       decimal.Decimal
	IssueDate   time.Time
}

// ParseInbound extracts identifying header fields from a received
// fiscal document. Element lookup ignores the signature block and any
// namespace prefixes the sender used.
func ParseInbound(rawXML []byte) (*InboundDocument, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawXML); err != nil {
		return nil, fmt.Errorf("parsing inbound document: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, errors.New("inbound document has no root element")
	}

	in := &InboundDocument{
		IssuerTaxID: findText(root, "RNCEmisor"),
		BuyerTaxID:  findText(root, "RNCComprador"),
		ENCF:        findText(root, "eNCF"),
	}
	if in.IssuerTaxID == "" || in.ENCF == "" {
		return nil, errors.New("inbound document lacks issuer or document number")
	}

	if s := findText(root, "MontoTotal"); s != "" {
		total, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parsing total amount %q: %w", s, err)
		}
		in.Total = total
	}

	if s := findText(root, "FechaEmision"); s != "" {
		issued, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("parsing issue date %q: %w", s, err)
		}
		in.IssueDate = issued
	}

	return in, nil
}

// ParseAck extracts the acknowledgment fields from a signed ARECF,
// giving callers a structured view of what was just emitted.
func ParseAck(signedXML string) (*ecf.ReceiptAck, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(signedXML); err != nil {
		return nil, fmt.Errorf("parsing acknowledgment: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("acknowledgment has no root element")
	}

	ack := &ecf.ReceiptAck{
		SenderTaxID: findText(root, "RNCEmisor"),
		IssuerTaxID: findText(root, "RNCComprador"),
		ENCF:        findText(root, "eNCF"),
	}
	if findText(root, "Estado") == "1" {
		ack.Status = ecf.AckNotReceived
		ack.RejectReason = findText(root, "CodigoMotivoNoRecibido")
	}
	if s := findText(root, "FechaHoraAcuseRecibo"); s != "" {
		if ts, err := time.Parse(DateTimeLayout, s); err == nil {
			ack.ReceivedAt = ts
		}
	}
	return ack, nil
}

// findText returns the text of the first descendant with the given
// local name, regardless of prefix or depth.
func findText(root *etree.Element, localName string) string {
	if el := root.FindElement(fmt.Sprintf(".//*[local-name()='%s']", localName)); el != nil {
		return el.Text()
	}
	if root.Tag == localName {
		return root.Text()
	}
	return ""
}
