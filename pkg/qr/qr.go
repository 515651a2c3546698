// Package qr builds the authority's public verification URLs, the
// payload encoded into a printed invoice's QR code.
package qr

import (
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

// Verification endpoints per environment. Consumption invoices use the
// short-form FC scheme with fewer parameters.
var baseURLs = map[ecf.Environment]string{
	ecf.EnvTest: "https://ecf.dgii.gov.do/testecf",
	ecf.EnvCert: "https://ecf.dgii.gov.do/certecf",
	ecf.EnvProd: "https://ecf.dgii.gov.do/ecf",
}

const (
	fullPath  = "/consultatimbre/api/ConsultaTimbre"
	shortPath = "/consultatimbrefc/api/ConsultaTimbreFC"
)

// Reference carries the fields the verification URL is derived from.
type Reference struct {
	IssuerTaxID  string
	BuyerTaxID   string
	ENCF         string
	Total        decimal.Decimal
	SecurityCode string
	IssueDate    time.Time
	SignDate     time.Time
	Environment  ecf.Environment
}

// Builder derives verification URLs. The zero value is not usable;
// construct with New.
type Builder struct {
	now func() time.Time
}

// New creates a reference builder.
func New() *Builder {
	return &Builder{now: time.Now}
}

// URL builds the verification URL for a signed document. Documents
// whose eNCF carries the consumption type code use the short scheme;
// all others use the full scheme, defaulting the signing timestamp to
// now when the caller did not supply one.
func (b *Builder) URL(ref Reference) (string, error) {
	base, ok := baseURLs[ref.Environment]
	if !ok {
		return "", fmt.Errorf("unknown environment %q", ref.Environment)
	}
	if ref.IssuerTaxID == "" || ref.ENCF == "" {
		return "", fmt.Errorf("issuer and document number are required")
	}

	q := url.Values{}
	q.Set("RncEmisor", ref.IssuerTaxID)
	q.Set("ENCF", ref.ENCF)
	q.Set("MontoTotal", ref.Total.StringFixed(2))
	q.Set("CodigoSeguridad", ref.SecurityCode)

	if ecf.TypeCodeFromENCF(ref.ENCF) == ecf.ConsumptionTypeCode {
		return base + shortPath + "?" + q.Encode(), nil
	}

	if ref.BuyerTaxID != "" {
		q.Set("RncComprador", ref.BuyerTaxID)
	}
	q.Set("FechaEmision", ref.IssueDate.Format("02-01-2006"))

	signDate := ref.SignDate
	if signDate.IsZero() {
		signDate = b.now()
	}
	q.Set("FechaFirma", signDate.Format("02-01-2006 15:04:05"))

	return base + fullPath + "?" + q.Encode(), nil
}
