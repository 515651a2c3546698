package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

func TestInvoiceXMLShape(t *testing.T) {
	doc, err := ecf.NewInvoice(ecf.Invoice{
		Header: ecf.Header{
			IssuerTaxID: "130862346",
			IssuerName:  "EMPRESA DEMO SRL",
			BuyerTaxID:  "101000001",
			ENCF:        "E310005000201",
			IssueDate:   time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			Total:       decimal.NewFromFloat(11800.00),
			TotalTaxed:  decimal.NewFromFloat(10000.00),
			TotalITBIS:  decimal.NewFromFloat(1800.00),
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
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)

	assert.Contains(t, xml, "<ECF>")
	assert.Contains(t, xml, "<TipoeCF>31</TipoeCF>")
	assert.Contains(t, xml, "<eNCF>E310005000201</eNCF>")
	// Dates are day-month-year.
	assert.Contains(t, xml, "<FechaEmision>15-06-2024</FechaEmision>")
	assert.Contains(t, xml, "<RNCEmisor>130862346</RNCEmisor>")
	assert.Contains(t, xml, "<RNCComprador>101000001</RNCComprador>")
	assert.Contains(t, xml, "<MontoTotal>11800.00</MontoTotal>")
	assert.Contains(t, xml, "<TotalITBIS>1800.00</TotalITBIS>")
	assert.Contains(t, xml, "<NumeroLinea>1</NumeroLinea>")
	assert.Contains(t, xml, "<MontoSubtotal>11800.00</MontoSubtotal>")
}

func TestInvoiceOmitsEmptyBuyer(t *testing.T) {
	doc, err := ecf.NewInvoice(ecf.Invoice{
		Header: ecf.Header{
			IssuerTaxID: "130862346",
			ENCF:        "E320000000051",
			IssueDate:   time.Now(),
			Total:       decimal.NewFromFloat(500),
		},
		Items: []ecf.LineItem{{Line: 1, Description: "Producto"}},
	})
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)
	assert.NotContains(t, xml, "Comprador")
}

func TestZeroAmountsStayPresent(t *testing.T) {
	doc, err := ecf.NewInvoice(ecf.Invoice{
		Header: ecf.Header{
			IssuerTaxID: "130862346",
			ENCF:        "E310005000202",
			IssueDate:   time.Now(),
		},
		Items: []ecf.LineItem{{Line: 1, Description: "Gratis"}},
	})
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)
	// Schema-required numerics render as 0.00 instead of vanishing.
	assert.Contains(t, xml, "<MontoTotal>0.00</MontoTotal>")
	assert.Contains(t, xml, "<TotalITBIS>0.00</TotalITBIS>")
}

func TestSummaryCarriesSecurityCode(t *testing.T) {
	doc, err := ecf.NewConsumptionSummary(ecf.ConsumptionSummary{
		Header: ecf.Header{
			IssuerTaxID: "130862346",
			ENCF:        "E320000000051",
			IssueDate:   time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			Total:       decimal.NewFromFloat(350.50),
		},
		SecurityCode: "a1b2c3",
	})
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)
	assert.Contains(t, xml, "<RFCE>")
	assert.Contains(t, xml, "<TipoeCF>32</TipoeCF>")
	assert.Contains(t, xml, "<CodigoSeguridadeCF>a1b2c3</CodigoSeguridadeCF>")
}

func TestAckXMLNamespacesAndRejection(t *testing.T) {
	doc, err := ecf.NewReceiptAck(ecf.ReceiptAck{
		IssuerTaxID:  "101000001",
		SenderTaxID:  "130862346",
		ENCF:         "E310005000201",
		Status:       ecf.AckNotReceived,
		RejectReason: "2",
		ReceivedAt:   time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)

	assert.Contains(t, xml, `xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"`)
	assert.Contains(t, xml, `xmlns:xsd="http://www.w3.org/2001/XMLSchema"`)
	assert.Contains(t, xml, "<Estado>1</Estado>")
	assert.Contains(t, xml, "<CodigoMotivoNoRecibido>2</CodigoMotivoNoRecibido>")
	assert.Contains(t, xml, "<FechaHoraAcuseRecibo>15-06-2024 14:30:00</FechaHoraAcuseRecibo>")
}

func TestAckReceivedHasNoReason(t *testing.T) {
	doc, err := ecf.NewReceiptAck(ecf.ReceiptAck{
		IssuerTaxID: "101000001",
		SenderTaxID: "130862346",
		ENCF:        "E310005000201",
		Status:      ecf.AckReceived,
		ReceivedAt:  time.Now(),
	})
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)
	assert.Contains(t, xml, "<Estado>0</Estado>")
	assert.NotContains(t, xml, "CodigoMotivoNoRecibido")
}

func TestApprovalXML(t *testing.T) {
	doc, err := ecf.NewCommercialApproval(ecf.CommercialApproval{
		IssuerTaxID:  "101000001",
		SellerTaxID:  "130862346",
		ENCF:         "E310005000201",
		State:        ecf.Rejected,
		RejectReason: "monto incorrecto",
		Total:        decimal.NewFromFloat(11800.00),
		IssueDate:    time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)
	assert.Contains(t, xml, "<ACECF")
	assert.Contains(t, xml, "<Estado>2</Estado>")
	assert.Contains(t, xml, "<DetalleMotivoRechazo>monto incorrecto</DetalleMotivoRechazo>")
}

func TestVoidXML(t *testing.T) {
	doc, err := ecf.NewSequenceVoid(ecf.SequenceVoid{
		IssuerTaxID: "130862346",
		TypeCode:    "31",
		FromENCF:    "E310005000300",
		ToENCF:      "E310005000400",
		Quantity:    101,
	})
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)
	assert.Contains(t, xml, "<ANECF>")
	assert.Contains(t, xml, "<CantidadNCFAnulados>101</CantidadNCFAnulados>")
	assert.Contains(t, xml, "<SecuenciaInicial>E310005000300</SecuenciaInicial>")
	assert.Contains(t, xml, "<SecuenciaFinal>E310005000400</SecuenciaFinal>")
}

func TestNilBodiesFail(t *testing.T) {
	var terr *ecf.TransformError

	_, err := ToXML(nil)
	assert.ErrorAs(t, err, &terr)

	_, err = ToXML(&ecf.Document{Type: ecf.TypeInvoice})
	assert.ErrorAs(t, err, &terr)

	_, err = ToXML(&ecf.Document{Type: ecf.DocumentType(42)})
	assert.ErrorAs(t, err, &terr)
}
