package sign

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Verification failure modes.
var (
	// ErrNotSigned indicates the document carries no signature block.
	ErrNotSigned = errors.New("document is not signed")

	// ErrDigestMismatch indicates the document content was altered
	// after signing.
	ErrDigestMismatch = errors.New("document digest does not match signature")

	// ErrBadSignature indicates the signature value does not verify
	// against the embedded certificate.
	ErrBadSignature = errors.New("signature verification failed")
)

// Verify checks the enveloped signature on a signed document or seed
// and returns the signer's certificate on success. The certificate is
// taken from the signature's own KeyInfo; trust decisions about that
// certificate belong to the caller.
func (s *Signer) Verify(signedXML string) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(signedXML); err != nil {
		return nil, fmt.Errorf("parsing signed document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("signed document has no root element")
	}

	var sig *etree.Element
	for _, child := range root.ChildElements() {
		if child.Tag == signatureName {
			sig = child
			break
		}
	}
	if sig == nil {
		return nil, ErrNotSigned
	}

	signedInfo := sig.FindElement(".//*[local-name()='SignedInfo']")
	digestValue := sig.FindElement(".//*[local-name()='DigestValue']")
	signatureValue := sig.FindElement(".//*[local-name()='SignatureValue']")
	certText := sig.FindElement(".//*[local-name()='X509Certificate']")
	if signedInfo == nil || digestValue == nil || signatureValue == nil || certText == nil {
		return nil, ErrNotSigned
	}

	certDER, err := base64.StdEncoding.DecodeString(certText.Text())
	if err != nil {
		return nil, fmt.Errorf("decoding certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate does not carry an RSA key")
	}

	// Recompute the document digest with the signature detached, the
	// inverse of how it was produced.
	root.RemoveChild(sig)
	canonicalizer := dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	canonical, err := canonicalizer.Canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing document: %w", err)
	}
	digest := sha256.Sum256(canonical)

	wantDigest, err := base64.StdEncoding.DecodeString(digestValue.Text())
	if err != nil {
		return nil, fmt.Errorf("decoding digest value: %w", err)
	}
	if subtle.ConstantTimeCompare(digest[:], wantDigest) != 1 {
		return nil, ErrDigestMismatch
	}

	canonicalSignedInfo, err := canonicalizer.Canonicalize(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing SignedInfo: %w", err)
	}
	signedInfoDigest := sha256.Sum256(canonicalSignedInfo)

	sigBytes, err := base64.StdEncoding.DecodeString(signatureValue.Text())
	if err != nil {
		return nil, fmt.Errorf("decoding signature value: %w", err)
	}
	if err := rsa.VerifyPKCS1v15(pub, s.hash, signedInfoDigest[:], sigBytes); err != nil {
		return nil, ErrBadSignature
	}

	return cert, nil
}
