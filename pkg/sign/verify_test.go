package sign

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

func TestVerifySignedDocument(t *testing.T) {
	key, cert := testCredential(t)
	s := New()

	signedXML, _, err := s.Sign(sampleInvoice, ecf.TypeInvoice, key, cert)
	require.NoError(t, err)

	got, err := s.Verify(signedXML)
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, got.Raw)
}

func TestVerifySignedSeed(t *testing.T) {
	key, cert := testCredential(t)
	s := New()

	seed := `<SemillaModel><valor>nonce-123</valor><fecha>2024-06-15T10:00:00</fecha></SemillaModel>`
	signedSeed, err := s.SignSeed(seed, key, cert)
	require.NoError(t, err)

	_, err = s.Verify(signedSeed)
	assert.NoError(t, err)
}

func TestVerifyRejectsUnsigned(t *testing.T) {
	_, err := New().Verify(sampleInvoice)
	assert.ErrorIs(t, err, ErrNotSigned)
}

func TestVerifyDetectsTampering(t *testing.T) {
	key, cert := testCredential(t)
	s := New()

	signedXML, _, err := s.Sign(sampleInvoice, ecf.TypeInvoice, key, cert)
	require.NoError(t, err)

	tampered := strings.Replace(signedXML, "<RNCEmisor>1", "<RNCEmisor>9", 1)
	_, err = s.Verify(tampered)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}
