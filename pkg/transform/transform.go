// Package transform materializes fiscal documents as the XML shape the
// tax authority expects.
//
// The bridge owns the shape quirks the structural transform alone does
// not cover: namespace declarations required on acknowledgment and
// approval roots, day-month-year date coercion, and zero-defaulting of
// numeric fields the schema requires to be present.
package transform

import (
	"errors"
	"strconv"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

// Authority date formats. Dates are day-month-year textual form.
const (
	DateLayout     = "02-01-2006"
	DateTimeLayout = "02-01-2006 15:04:05"
)

// Namespaces the authority requires on acknowledgment and approval
// root elements.
const (
	nsXSI = "http://www.w3.org/2001/XMLSchema-instance"
	nsXSD = "http://www.w3.org/2001/XMLSchema"
)

// ToXML converts a validated document into authority XML. It fails
// with a TransformError when required nested structure is absent, and
// never silently drops fields.
func ToXML(doc *ecf.Document) (string, error) {
	if doc == nil {
		return "", &ecf.TransformError{Err: errors.New("document is nil")}
	}

	var (
		root *etree.Element
		err  error
	)
	switch doc.Type {
	case ecf.TypeInvoice:
		root, err = invoiceXML(doc.Invoice)
	case ecf.TypeConsumptionSummary:
		root, err = summaryXML(doc.Summary)
	case ecf.TypeReceiptAck:
		root, err = ackXML(doc.Ack)
	case ecf.TypeCommercialApproval:
		root, err = approvalXML(doc.Approval)
	case ecf.TypeSequenceVoid:
		root, err = voidXML(doc.Void)
	default:
		err = errors.New("unknown document type")
	}
	if err != nil {
		return "", &ecf.TransformError{Type: doc.Type, Err: err}
	}

	out := etree.NewDocument()
	out.SetRoot(root)
	xml, err := out.WriteToString()
	if err != nil {
		return "", &ecf.TransformError{Type: doc.Type, Err: err}
	}
	return xml, nil
}

func invoiceXML(inv *ecf.Invoice) (*etree.Element, error) {
	if inv == nil {
		return nil, errors.New("invoice body is absent")
	}

	root := etree.NewElement("ECF")

	enc := root.CreateElement("Encabezado")
	enc.CreateElement("Version").SetText("1.0")

	idDoc := enc.CreateElement("IdDoc")
	idDoc.CreateElement("TipoeCF").SetText(ecf.TypeCodeFromENCF(inv.Header.ENCF))
	idDoc.CreateElement("eNCF").SetText(inv.Header.ENCF)
	idDoc.CreateElement("FechaEmision").SetText(inv.Header.IssueDate.Format(DateLayout))

	emisor := enc.CreateElement("Emisor")
	emisor.CreateElement("RNCEmisor").SetText(inv.Header.IssuerTaxID)
	emisor.CreateElement("RazonSocialEmisor").SetText(inv.Header.IssuerName)

	if inv.Header.BuyerTaxID != "" {
		comprador := enc.CreateElement("Comprador")
		comprador.CreateElement("RNCComprador").SetText(inv.Header.BuyerTaxID)
	}

	totales := enc.CreateElement("Totales")
	totales.CreateElement("MontoGravadoTotal").SetText(amount(inv.Header.TotalTaxed))
	totales.CreateElement("TotalITBIS").SetText(amount(inv.Header.TotalITBIS))
	totales.CreateElement("MontoTotal").SetText(amount(inv.Header.Total))

	detalles := root.CreateElement("DetallesItems")
	for _, it := range inv.Items {
		item := detalles.CreateElement("Item")
		item.CreateElement("NumeroLinea").SetText(strconv.Itoa(it.Line))
		item.CreateElement("NombreItem").SetText(it.Description)
		item.CreateElement("CantidadItem").SetText(amount(it.Quantity))
		item.CreateElement("PrecioUnitarioItem").SetText(amount(it.UnitPrice))
		item.CreateElement("MontoItem").SetText(amount(it.Amount))
	}

	subtotales := root.CreateElement("Subtotales")
	sub := subtotales.CreateElement("Subtotal")
	sub.CreateElement("MontoSubtotal").SetText(amount(inv.Subtotal))

	return root, nil
}

func summaryXML(sum *ecf.ConsumptionSummary) (*etree.Element, error) {
	if sum == nil {
		return nil, errors.New("summary body is absent")
	}

	root := etree.NewElement("RFCE")

	enc := root.CreateElement("Encabezado")
	enc.CreateElement("Version").SetText("1.0")

	idDoc := enc.CreateElement("IdDoc")
	idDoc.CreateElement("TipoeCF").SetText(ecf.ConsumptionTypeCode)
	idDoc.CreateElement("eNCF").SetText(sum.Header.ENCF)
	idDoc.CreateElement("FechaEmision").SetText(sum.Header.IssueDate.Format(DateLayout))

	emisor := enc.CreateElement("Emisor")
	emisor.CreateElement("RNCEmisor").SetText(sum.Header.IssuerTaxID)

	if sum.Header.BuyerTaxID != "" {
		comprador := enc.CreateElement("Comprador")
		comprador.CreateElement("RNCComprador").SetText(sum.Header.BuyerTaxID)
	}

	totales := enc.CreateElement("Totales")
	totales.CreateElement("MontoGravadoTotal").SetText(amount(sum.Header.TotalTaxed))
	totales.CreateElement("TotalITBIS").SetText(amount(sum.Header.TotalITBIS))
	totales.CreateElement("MontoTotal").SetText(amount(sum.Header.Total))

	enc.CreateElement("CodigoSeguridadeCF").SetText(sum.SecurityCode)

	return root, nil
}

func ackXML(ack *ecf.ReceiptAck) (*etree.Element, error) {
	if ack == nil {
		return nil, errors.New("acknowledgment body is absent")
	}

	root := etree.NewElement("ARECF")
	root.CreateAttr("xmlns:xsi", nsXSI)
	root.CreateAttr("xmlns:xsd", nsXSD)

	det := root.CreateElement("DetalleAcusedeRecibo")
	det.CreateElement("Version").SetText("1.0")
	det.CreateElement("RNCEmisor").SetText(ack.SenderTaxID)
	det.CreateElement("RNCComprador").SetText(ack.IssuerTaxID)
	det.CreateElement("eNCF").SetText(ack.ENCF)
	det.CreateElement("Estado").SetText(strconv.Itoa(int(ack.Status)))
	if ack.Status == ecf.AckNotReceived {
		det.CreateElement("CodigoMotivoNoRecibido").SetText(ack.RejectReason)
	}
	det.CreateElement("FechaHoraAcuseRecibo").SetText(ack.ReceivedAt.Format(DateTimeLayout))

	return root, nil
}

func approvalXML(ap *ecf.CommercialApproval) (*etree.Element, error) {
	if ap == nil {
		return nil, errors.New("approval body is absent")
	}

	root := etree.NewElement("ACECF")
	root.CreateAttr("xmlns:xsi", nsXSI)
	root.CreateAttr("xmlns:xsd", nsXSD)

	det := root.CreateElement("DetalleAprobacionComercial")
	det.CreateElement("Version").SetText("1.0")
	det.CreateElement("RNCEmisor").SetText(ap.SellerTaxID)
	det.CreateElement("eNCF").SetText(ap.ENCF)
	det.CreateElement("FechaEmision").SetText(ap.IssueDate.Format(DateLayout))
	det.CreateElement("MontoTotal").SetText(amount(ap.Total))
	det.CreateElement("RNCComprador").SetText(ap.IssuerTaxID)
	det.CreateElement("Estado").SetText(strconv.Itoa(int(ap.State)))
	if ap.State == ecf.Rejected {
		det.CreateElement("DetalleMotivoRechazo").SetText(ap.RejectReason)
	}

	return root, nil
}

func voidXML(v *ecf.SequenceVoid) (*etree.Element, error) {
	if v == nil {
		return nil, errors.New("voidance body is absent")
	}

	root := etree.NewElement("ANECF")

	enc := root.CreateElement("Encabezado")
	enc.CreateElement("Version").SetText("1.0")
	enc.CreateElement("RNCEmisor").SetText(v.IssuerTaxID)
	enc.CreateElement("CantidadNCFAnulados").SetText(strconv.Itoa(v.Quantity))

	seqs := root.CreateElement("SecuenciasAnuladas")
	seq := seqs.CreateElement("SecuenciaAnulada")
	seq.CreateElement("SecuenciaInicial").SetText(v.FromENCF)
	seq.CreateElement("SecuenciaFinal").SetText(v.ToENCF)

	return root, nil
}

// amount renders a monetary or quantity value. Zero values render as
// "0.00" rather than being omitted; the schema requires presence.
func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
