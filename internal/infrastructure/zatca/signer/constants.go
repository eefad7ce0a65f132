package signer

// XML digital signature namespaces and algorithm identifiers (XAdES over
// RSA-SHA256, inclusive C14N).
const (
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES = "http://uri.etsi.org/01903/v1.3.2#"

	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2000/09/xmldsig#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	// InvoiceElementID is the Id attribute the XML builder sets on the root
	// element; the signature Reference URI points at it.
	InvoiceElementID = "invoice-doc"
)
