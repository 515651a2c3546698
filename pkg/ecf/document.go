package ecf

// Constructors validate per-variant required fields at construction,
// so a Document that exists is structurally sound before it reaches
// the transform or signing layers.

// Validate re-runs the construction-time checks for the populated
// variant. Documents assembled field-by-field (e.g. decoded from an
// API payload) go through this before any signing work.
func (d *Document) Validate() error {
	switch d.Type {
	case TypeInvoice:
		if d.Invoice == nil {
			return &ValidationError{Field: "invoice", Reason: "body is absent"}
		}
		_, err := NewInvoice(*d.Invoice)
		return err
	case TypeConsumptionSummary:
		if d.Summary == nil {
			return &ValidationError{Field: "summary", Reason: "body is absent"}
		}
		_, err := NewConsumptionSummary(*d.Summary)
		return err
	case TypeReceiptAck:
		if d.Ack == nil {
			return &ValidationError{Field: "ack", Reason: "body is absent"}
		}
		_, err := NewReceiptAck(*d.Ack)
		return err
	case TypeCommercialApproval:
		if d.Approval == nil {
			return &ValidationError{Field: "approval", Reason: "body is absent"}
		}
		_, err := NewCommercialApproval(*d.Approval)
		return err
	case TypeSequenceVoid:
		if d.Void == nil {
			return &ValidationError{Field: "void", Reason: "body is absent"}
		}
		_, err := NewSequenceVoid(*d.Void)
		return err
	default:
		return &ValidationError{Field: "type", Reason: "unknown document type"}
	}
}

// NewInvoice builds an invoice document. An invoice needs an issuer,
// a document number and at least one line item.
func NewInvoice(inv Invoice) (*Document, error) {
	if inv.Header.IssuerTaxID == "" {
		return nil, &ValidationError{Field: "invoice.issuer", Reason: "issuer tax ID is required"}
	}
	if inv.Header.ENCF == "" {
		return nil, &ValidationError{Field: "invoice.encf", Reason: "document number is required"}
	}
	if len(inv.Items) == 0 {
		return nil, &ValidationError{Field: "invoice.items", Reason: "at least one line item is required"}
	}
	return &Document{Type: TypeInvoice, Invoice: &inv}, nil
}

// NewConsumptionSummary builds a summary document. The security code is
// normally supplied by the dispatcher from the full invoice's signature.
func NewConsumptionSummary(sum ConsumptionSummary) (*Document, error) {
	if sum.Header.IssuerTaxID == "" {
		return nil, &ValidationError{Field: "summary.issuer", Reason: "issuer tax ID is required"}
	}
	if sum.Header.ENCF == "" {
		return nil, &ValidationError{Field: "summary.encf", Reason: "document number is required"}
	}
	return &Document{Type: TypeConsumptionSummary, Summary: &sum}, nil
}

// NewReceiptAck builds a reception acknowledgment. A rejection must
// carry a reason code.
func NewReceiptAck(ack ReceiptAck) (*Document, error) {
	if ack.IssuerTaxID == "" {
		return nil, &ValidationError{Field: "ack.issuer", Reason: "receiver tax ID is required"}
	}
	if ack.ENCF == "" {
		return nil, &ValidationError{Field: "ack.encf", Reason: "document number is required"}
	}
	if ack.Status == AckNotReceived && ack.RejectReason == "" {
		return nil, &ValidationError{Field: "ack.rejectReason", Reason: "reason code is required when not received"}
	}
	return &Document{Type: TypeReceiptAck, Ack: &ack}, nil
}

// NewCommercialApproval builds a commercial approval or rejection.
// Rejections require a non-empty reason.
func NewCommercialApproval(ap CommercialApproval) (*Document, error) {
	if ap.IssuerTaxID == "" {
		return nil, &ValidationError{Field: "approval.issuer", Reason: "issuer tax ID is required"}
	}
	if ap.ENCF == "" {
		return nil, &ValidationError{Field: "approval.encf", Reason: "document number is required"}
	}
	switch ap.State {
	case Approved:
	case Rejected:
		if ap.RejectReason == "" {
			return nil, &ValidationError{Field: "approval.rejectReason", Reason: "rejection requires a reason"}
		}
	default:
		return nil, &ValidationError{Field: "approval.state", Reason: "state must be approved or rejected"}
	}
	return &Document{Type: TypeCommercialApproval, Approval: &ap}, nil
}

// NewSequenceVoid builds a sequence voidance.
func NewSequenceVoid(v SequenceVoid) (*Document, error) {
	if v.IssuerTaxID == "" {
		return nil, &ValidationError{Field: "void.issuer", Reason: "issuer tax ID is required"}
	}
	if v.FromENCF == "" || v.ToENCF == "" {
		return nil, &ValidationError{Field: "void.range", Reason: "sequence range is required"}
	}
	return &Document{Type: TypeSequenceVoid, Void: &v}, nil
}
