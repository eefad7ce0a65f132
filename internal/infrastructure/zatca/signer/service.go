// Detached XAdES signature for the canonical invoice XML. The signature node
// is injected into the empty ext:ExtensionContent the builder reserves, so
// the canonical (hashed) bytes never change shape.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
)

// SignedDocument is the output of one signing operation: the XML with the
// embedded signature plus the raw material the QR payload carries.
type SignedDocument struct {
	XML          []byte
	Signature    []byte // raw PKCS#1 v1.5 signature over SignedInfo
	PublicKeyDER []byte // DER-encoded signing public key
}

// DigitalSignatureService produces the detached signature and injects it into
// the extension placeholder.
type DigitalSignatureService struct{}

// NewDigitalSignatureService creates the service.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

// Sign signs the canonical XML with the certificate's RSA key. contentHash is
// the chained content hash; it rides along as a signed XAdES property so the
// signature also covers the chain link.
func (s *DigitalSignatureService) Sign(canonicalXML []byte, contentHash string, cert tls.Certificate) (*SignedDocument, error) {
	if len(canonicalXML) == 0 {
		return nil, fmt.Errorf("signer: empty XML")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, &CertificateError{Reason: "certificate must carry an RSA private key"}
	}
	x509Cert := cert.Leaf
	if x509Cert == nil {
		var err error
		x509Cert, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, &CertificateError{Reason: "parse certificate", Err: err}
		}
	}

	// 1) Digest of the canonicalized document.
	canonicalDoc, err := canonicalize(canonicalXML)
	if err != nil {
		canonicalDoc = canonicalXML
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])

	// 2) SignedInfo (C14N, Reference #invoice-doc, SHA-256 digest).
	signedInfoXML := buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalize([]byte(signedInfoXML))
	if err != nil {
		canonicalSignedInfo = []byte(signedInfoXML)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, fmt.Errorf("signer: sign SignedInfo: %w", err)
	}

	// 3) Full ds:Signature with XAdES qualifying properties.
	signingTime := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	certDigestB64, issuerName, serialHex := CertDigestAndIssuerSerial(x509Cert)
	signatureXML := buildFullSignature(signedInfoXML,
		base64.StdEncoding.EncodeToString(signatureValue),
		base64.StdEncoding.EncodeToString(x509Cert.Raw),
		signingTime, certDigestB64, issuerName, serialHex, contentHash)

	// 4) Inject into the reserved ExtensionContent.
	signedXML, err := injectSignature(canonicalXML, signatureXML)
	if err != nil {
		return nil, err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal public key: %w", err)
	}
	return &SignedDocument{
		XML:          signedXML,
		Signature:    signatureValue,
		PublicKeyDER: pubDER,
	}, nil
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(docDigestB64 string) string {
	uri := "#" + InvoiceElementID
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="` + uri + `">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + AlgC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildFullSignature(signedInfoXML, signatureValueB64, certB64, signingTime, certDigestB64, issuerName, serialHex, contentHash string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" xmlns:xades="` + NamespaceXAdES + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`<ds:Object><xades:QualifyingProperties>`)
	sb.WriteString(`<xades:SignedProperties Id="signed-props">`)
	sb.WriteString(`<xades:SignedSignatureProperties>`)
	sb.WriteString(`<xades:SigningTime>` + signingTime + `</xades:SigningTime>`)
	sb.WriteString(`<xades:SigningCertificate><xades:Cert><xades:CertDigest><ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigestB64 + `</ds:DigestValue></xades:CertDigest>`)
	sb.WriteString(`<xades:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName><ds:X509SerialNumber>` + serialHex + `</ds:X509SerialNumber></xades:IssuerSerial></xades:Cert></xades:SigningCertificate>`)
	sb.WriteString(`</xades:SignedSignatureProperties>`)
	// The chained content hash is carried as a signed data-object property so
	// tampering with the chain link invalidates the signature.
	sb.WriteString(`<xades:SignedDataObjectProperties><xades:DataObjectFormat ObjectReference="#` + InvoiceElementID + `">`)
	sb.WriteString(`<xades:Description>` + escapeXML(contentHash) + `</xades:Description>`)
	sb.WriteString(`<xades:MimeType>text/xml</xades:MimeType>`)
	sb.WriteString(`</xades:DataObjectFormat></xades:SignedDataObjectProperties>`)
	sb.WriteString(`</xades:SignedProperties></xades:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// injectSignature parses the XML, finds the reserved (empty) ExtensionContent
// under ext:UBLExtensions and appends the ds:Signature node there.
func injectSignature(xmlBytes []byte, signatureXML string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("signer: parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("signer: document has no root")
	}

	extContent := findExtensionContent(root)
	if extContent == nil {
		return nil, fmt.Errorf("signer: no ext:ExtensionContent placeholder found")
	}

	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("signer: parse signature node: %w", err)
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		extContent.AddChild(sigRoot)
	}

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("signer: serialize signed XML: %w", err)
	}
	return out.Bytes(), nil
}

// findExtensionContent walks UBLExtensions/UBLExtension/ExtensionContent;
// tag names may or may not carry the ext: prefix depending on the parser.
func findExtensionContent(root *etree.Element) *etree.Element {
	stripped := func(tag, prefix string) bool {
		return tag == prefix || strings.TrimPrefix(tag, "ext:") == prefix
	}
	for _, child := range root.ChildElements() {
		if !stripped(child.Tag, "UBLExtensions") {
			continue
		}
		for _, ext := range child.ChildElements() {
			if !stripped(ext.Tag, "UBLExtension") {
				continue
			}
			for _, ec := range ext.ChildElements() {
				if stripped(ec.Tag, "ExtensionContent") {
					return ec
				}
			}
		}
	}
	return nil
}
