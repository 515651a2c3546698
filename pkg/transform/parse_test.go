package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

const inboundInvoice = `<?xml version="1.0" encoding="utf-8"?>
<ECF xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
  <Encabezado>
    <IdDoc>
      <TipoeCF>31</TipoeCF>
      <eNCF>E310005000201</eNCF>
      <FechaEmision>15-06-2024</FechaEmision>
    </IdDoc>
    <Emisor><RNCEmisor>130862346</RNCEmisor></Emisor>
    <Comprador><RNCComprador>101000001</RNCComprador></Comprador>
    <Totales><MontoTotal>11800.00</MontoTotal></Totales>
  </Encabezado>
  <ds:Signature><ds:SignatureValue>abc</ds:SignatureValue></ds:Signature>
</ECF>`

func TestParseInbound(t *testing.T) {
	in, err := ParseInbound([]byte(inboundInvoice))
	require.NoError(t, err)

	assert.Equal(t, "130862346", in.IssuerTaxID)
	assert.Equal(t, "101000001", in.BuyerTaxID)
	assert.Equal(t, "E310005000201", in.ENCF)
	assert.Equal(t, "11800.00", in.Total.StringFixed(2))
	assert.Equal(t, 2024, in.IssueDate.Year())
	assert.Equal(t, 15, in.IssueDate.Day())
}

func TestParseInboundMissingIdentity(t *testing.T) {
	_, err := ParseInbound([]byte(`<ECF><Encabezado/></ECF>`))
	assert.Error(t, err)
}

func TestParseInboundNotXML(t *testing.T) {
	_, err := ParseInbound([]byte(`{"not":"xml"}`))
	assert.Error(t, err)
}

func TestParseAckRoundTrip(t *testing.T) {
	doc, err := ecf.NewReceiptAck(ecf.ReceiptAck{
		IssuerTaxID:  "101000001",
		SenderTaxID:  "130862346",
		ENCF:         "E310005000201",
		Status:       ecf.AckNotReceived,
		RejectReason: "2",
	})
	require.NoError(t, err)

	xml, err := ToXML(doc)
	require.NoError(t, err)

	ack, err := ParseAck(xml)
	require.NoError(t, err)
	assert.Equal(t, "130862346", ack.SenderTaxID)
	assert.Equal(t, "101000001", ack.IssuerTaxID)
	assert.Equal(t, ecf.AckNotReceived, ack.Status)
	assert.Equal(t, "2", ack.RejectReason)
}
