// Package sign is the single call path through which every outbound
// fiscal document passes. It applies an enveloped XML-DSig signature
// per document type and derives the 6-character security code from the
// resulting signature block.
package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/ithesk/firmadgii/pkg/ecf"
)

// Algorithm URIs for the document signature.
const (
	algExcC14N    = "http://www.w3.org/2001/10/xml-exc-c14n#"
	algEnveloped  = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	algRSASHA256  = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	algSHA256     = "http://www.w3.org/2001/04/xmlenc#sha256"
	nsXMLDSig     = "http://www.w3.org/2000/09/xmldsig#"
	signatureName = "Signature"
)

// Signer applies XML-DSig signatures to fiscal documents.
//
// Sign is a pure transform: no network, no disk, and the verification
// code is recomputed from the signed bytes on every call, never cached
// across documents.
type Signer struct {
	hash crypto.Hash
}

// New creates a signer using RSA-SHA256.
func New() *Signer {
	return &Signer{hash: crypto.SHA256}
}

// Sign signs the document XML with the taxpayer's key and certificate
// and returns the signed XML together with its security code.
func (s *Signer) Sign(xml string, docType ecf.DocumentType, key *rsa.PrivateKey, cert *x509.Certificate) (string, string, error) {
	switch docType {
	case ecf.TypeInvoice, ecf.TypeConsumptionSummary, ecf.TypeReceiptAck,
		ecf.TypeCommercialApproval, ecf.TypeSequenceVoid:
	default:
		return "", "", &ecf.SigningError{Type: docType, Err: errors.New("unsupported document type tag")}
	}
	if key == nil || cert == nil {
		return "", "", &ecf.SigningError{Type: docType, Err: errors.New("credential material is incomplete")}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return "", "", &ecf.SigningError{Type: docType, Err: fmt.Errorf("parsing document: %w", err)}
	}
	root := doc.Root()
	if root == nil {
		return "", "", &ecf.SigningError{Type: docType, Err: errors.New("document has no root element")}
	}

	sig, err := s.buildSignature(root, key, cert)
	if err != nil {
		return "", "", &ecf.SigningError{Type: docType, Err: err}
	}
	root.AddChild(sig)

	// Compact serialization: indentation would add whitespace text
	// nodes that change the canonical form the authority verifies.
	signedXML, err := doc.WriteToString()
	if err != nil {
		return "", "", &ecf.SigningError{Type: docType, Err: fmt.Errorf("serializing signed document: %w", err)}
	}

	code, err := SecurityCode(signedXML)
	if err != nil {
		return "", "", &ecf.SigningError{Type: docType, Err: err}
	}

	return signedXML, code, nil
}

// buildSignature creates an enveloped XML-DSig signature over the
// document root.
func (s *Signer) buildSignature(root *etree.Element, key *rsa.PrivateKey, cert *x509.Certificate) (*etree.Element, error) {
	// Digest the root as it stands, before the Signature element is
	// attached. The enveloped-signature transform excludes the
	// signature itself, so this matches what a verifier recomputes.
	canonicalizer := dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	canonical, err := canonicalizer.Canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing document: %w", err)
	}
	digest := sha256.Sum256(canonical)

	sig := etree.NewElement("Signature")
	sig.CreateAttr("xmlns", nsXMLDSig)

	signedInfo := sig.CreateElement("SignedInfo")
	signedInfo.CreateAttr("xmlns", nsXMLDSig)

	c14nMethod := signedInfo.CreateElement("CanonicalizationMethod")
	c14nMethod.CreateAttr("Algorithm", algExcC14N)

	sigMethod := signedInfo.CreateElement("SignatureMethod")
	sigMethod.CreateAttr("Algorithm", algRSASHA256)

	ref := signedInfo.CreateElement("Reference")
	ref.CreateAttr("URI", "")

	transforms := ref.CreateElement("Transforms")
	t1 := transforms.CreateElement("Transform")
	t1.CreateAttr("Algorithm", algEnveloped)
	t2 := transforms.CreateElement("Transform")
	t2.CreateAttr("Algorithm", algExcC14N)

	digestMethod := ref.CreateElement("DigestMethod")
	digestMethod.CreateAttr("Algorithm", algSHA256)
	ref.CreateElement("DigestValue").SetText(base64.StdEncoding.EncodeToString(digest[:]))

	canonicalSignedInfo, err := canonicalizer.Canonicalize(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing SignedInfo: %w", err)
	}
	signedInfoDigest := sha256.Sum256(canonicalSignedInfo)

	signature, err := rsa.SignPKCS1v15(rand.Reader, key, s.hash, signedInfoDigest[:])
	if err != nil {
		return nil, fmt.Errorf("computing signature: %w", err)
	}
	sig.CreateElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(signature))

	keyInfo := sig.CreateElement("KeyInfo")
	x509Data := keyInfo.CreateElement("X509Data")
	x509Data.CreateElement("X509Certificate").SetText(base64.StdEncoding.EncodeToString(cert.Raw))

	return sig, nil
}

// SignSeed signs an authority-issued authentication challenge. Seeds
// carry no document type and no security code; the signature mechanics
// are otherwise identical to document signing.
func (s *Signer) SignSeed(xml string, key *rsa.PrivateKey, cert *x509.Certificate) (string, error) {
	if key == nil || cert == nil {
		return "", errors.New("credential material is incomplete")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return "", fmt.Errorf("parsing seed: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", errors.New("seed has no root element")
	}

	sig, err := s.buildSignature(root, key, cert)
	if err != nil {
		return "", err
	}
	root.AddChild(sig)

	return doc.WriteToString()
}

// SecurityCode re-derives the 6-character verification code from a
// signed document. The code is the first six characters of the SHA-256
// digest of the SignatureValue, so identical signed XML always yields
// the identical code.
func SecurityCode(signedXML string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(signedXML); err != nil {
		return "", fmt.Errorf("parsing signed document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", errors.New("signed document has no root element")
	}

	sv := root.FindElement(".//*[local-name()='SignatureValue']")
	if sv == nil {
		return "", errors.New("signed document has no SignatureValue")
	}

	digest := sha256.Sum256([]byte(sv.Text()))
	return fmt.Sprintf("%x", digest)[:6], nil
}
