package zatca

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/invorya/clearance-api/internal/domain/entity"
	domzatca "github.com/invorya/clearance-api/internal/domain/zatca"
)

// UBL 2.1 namespaces. Prefixes are fixed: the canonical bytes are the hashing
// and signing input, so any prefix or ordering change breaks chain
// verification for every stored invoice.
const (
	NsInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NsCac     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NsCbc     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NsExt     = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
	NsDs      = "http://www.w3.org/2000/09/xmldsig#"
	NsXades   = "http://uri.etsi.org/01903/v1.3.2#"
)

const (
	currencyCode = "SAR"

	profileReporting = "reporting:1.0"
	profileClearance = "clearance:1.0"

	// InvoiceTypeCode name attribute: standard (B2B) vs simplified.
	subtypeStandard   = "0100000"
	subtypeSimplified = "0200000"
)

// XMLBuilderService builds the canonical UBL 2.1 invoice document (without
// signature). Deterministic: stable element ordering, fixed prefixes, two
// decimal places for amounts, UTC timestamps.
type XMLBuilderService struct{}

// NewXMLBuilderService creates the service.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// Build generates the canonical invoice bytes. The line sequence is preserved
// from the request; tax subtotals are grouped by (category, rate) in
// first-appearance order.
func (s *XMLBuilderService) Build(ctx *BuildContext) ([]byte, error) {
	if ctx == nil || ctx.Request == nil {
		return nil, fmt.Errorf("zatca: build context requires a request")
	}
	req := ctx.Request

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	// Root <Invoice>. Id anchors the signature Reference URI.
	root := xml.StartElement{
		Name: xml.Name{Space: NsInvoice, Local: "Invoice"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "Id"}, Value: "invoice-doc"},
			{Name: xml.Name{Local: "xmlns"}, Value: NsInvoice},
			{Name: xml.Name{Local: "xmlns:cac"}, Value: NsCac},
			{Name: xml.Name{Local: "xmlns:cbc"}, Value: NsCbc},
			{Name: xml.Name{Local: "xmlns:ds"}, Value: NsDs},
			{Name: xml.Name{Local: "xmlns:ext"}, Value: NsExt},
			{Name: xml.Name{Local: "xmlns:xades"}, Value: NsXades},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	// ext:UBLExtensions always first: one empty ExtensionContent the signer
	// fills with ds:Signature for Phase-2 documents.
	s.writeSignatureExtension(enc)

	issue := req.IssueTime.UTC()
	writeCbc(enc, "ProfileID", profileID(req.Mode))
	writeCbc(enc, "ID", req.InvoiceNumber)
	if ctx.UUID != "" {
		writeCbc(enc, "UUID", ctx.UUID)
	}
	writeCbc(enc, "IssueDate", issue.Format("2006-01-02"))
	writeCbc(enc, "IssueTime", issue.Format("15:04:05Z"))
	writeCbcWithAttr(enc, "InvoiceTypeCode", "388", "name", subtypeCode(req))
	writeCbc(enc, "DocumentCurrencyCode", currencyCode)
	writeCbc(enc, "TaxCurrencyCode", currencyCode)
	writeCbc(enc, "LineCountNumeric", strconv.Itoa(len(req.Lines)))

	// Invoice counter and previous-hash chain link as document references.
	s.writeDocumentReference(enc, "ICV", strconv.FormatInt(ctx.ICV, 10), "")
	prev := ctx.PreviousHash
	if prev == "" {
		prev = domzatca.GenesisHash
	}
	s.writeDocumentReference(enc, "PIH", "", prev)

	s.writeParty(enc, "AccountingSupplierParty", &req.Seller)
	if req.Buyer != nil {
		s.writeParty(enc, "AccountingCustomerParty", req.Buyer)
	}

	s.writeTaxTotal(enc, req)
	s.writeLegalMonetaryTotal(enc, req)

	for i, line := range req.Lines {
		s.writeInvoiceLine(enc, i+1, line)
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func profileID(mode entity.SubmissionMode) string {
	if mode == entity.ModePhase2 {
		return profileClearance
	}
	return profileReporting
}

func subtypeCode(req *domzatca.InvoiceRequest) string {
	if req.Simplified() {
		return subtypeSimplified
	}
	return subtypeStandard
}

// writeSignatureExtension writes the single empty UBLExtension the signer
// later fills. Present for both phases so Phase-1 and Phase-2 documents share
// one structure.
func (s *XMLBuilderService) writeSignatureExtension(enc *xml.Encoder) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "UBLExtensions"}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "UBLExtension"}})
	writeExt(enc, "ExtensionURI", "urn:oasis:names:specification:ubl:dsig:enveloped:xades")
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "ExtensionContent"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "ExtensionContent"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "UBLExtension"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "UBLExtensions"}})
}

// writeDocumentReference writes a cac:AdditionalDocumentReference with either
// a plain UUID value (ICV counter) or an embedded base64 attachment (PIH).
func (s *XMLBuilderService) writeDocumentReference(enc *xml.Encoder, id, uuidValue, attachmentB64 string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "AdditionalDocumentReference"}})
	writeCbc(enc, "ID", id)
	if uuidValue != "" {
		writeCbc(enc, "UUID", uuidValue)
	}
	if attachmentB64 != "" {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Attachment"}})
		writeCbcWithAttr(enc, "EmbeddedDocumentBinaryObject", attachmentB64, "mimeCode", "text/plain")
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Attachment"}})
	}
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "AdditionalDocumentReference"}})
}

func (s *XMLBuilderService) writeParty(enc *xml.Encoder, local string, p *domzatca.Party) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: local}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Party"}})

	if p.VATNumber != "" {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyTaxScheme"}})
		writeCbc(enc, "CompanyID", p.VATNumber)
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
		writeCbc(enc, "ID", "VAT")
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyTaxScheme"}})
	}

	if p.Address != "" {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PostalAddress"}})
		writeCbc(enc, "StreetName", p.Address)
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PostalAddress"}})
	}

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyLegalEntity"}})
	writeCbc(enc, "RegistrationName", p.Name)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyLegalEntity"}})

	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Party"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: local}})
}

// categoryTotal accumulates one (category, rate) tax subtotal.
type categoryTotal struct {
	category string
	rate     decimal.Decimal
	taxable  decimal.Decimal
	tax      decimal.Decimal
}

func (s *XMLBuilderService) writeTaxTotal(enc *xml.Encoder, req *domzatca.InvoiceRequest) {
	// Group lines by (category, rate) preserving first-appearance order.
	var order []string
	byKey := map[string]*categoryTotal{}
	for _, l := range req.Lines {
		key := l.TaxCategory + "|" + l.TaxRate.StringFixed(2)
		ct, ok := byKey[key]
		if !ok {
			ct = &categoryTotal{category: l.TaxCategory, rate: l.TaxRate}
			byKey[key] = ct
			order = append(order, key)
		}
		ct.taxable = ct.taxable.Add(l.LineTaxable())
		ct.tax = ct.tax.Add(l.LineTax())
	}

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxTotal"}})
	writeCbcAmount(enc, "TaxAmount", formatDecimal(req.Totals.TaxAmount))
	for _, key := range order {
		ct := byKey[key]
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxSubtotal"}})
		writeCbcAmount(enc, "TaxableAmount", formatDecimal(ct.taxable))
		writeCbcAmount(enc, "TaxAmount", formatDecimal(ct.tax))
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxCategory"}})
		writeCbc(enc, "ID", ct.category)
		writeCbc(enc, "Percent", ct.rate.StringFixed(2))
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
		writeCbc(enc, "ID", "VAT")
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxCategory"}})
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxSubtotal"}})
	}
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxTotal"}})
}

func (s *XMLBuilderService) writeLegalMonetaryTotal(enc *xml.Encoder, req *domzatca.InvoiceRequest) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "LegalMonetaryTotal"}})
	writeCbcAmount(enc, "LineExtensionAmount", formatDecimal(req.Totals.TaxExclusive))
	writeCbcAmount(enc, "TaxExclusiveAmount", formatDecimal(req.Totals.TaxExclusive))
	writeCbcAmount(enc, "TaxInclusiveAmount", formatDecimal(req.Totals.GrandTotal))
	writeCbcAmount(enc, "PayableAmount", formatDecimal(req.Totals.GrandTotal))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "LegalMonetaryTotal"}})
}

func (s *XMLBuilderService) writeInvoiceLine(enc *xml.Encoder, lineNum int, line domzatca.LineItem) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "InvoiceLine"}})
	writeCbc(enc, "ID", strconv.Itoa(lineNum))
	writeCbcWithAttr(enc, "InvoicedQuantity", line.Quantity.String(), "unitCode", "PCE")
	writeCbcAmount(enc, "LineExtensionAmount", formatDecimal(line.LineTaxable()))

	if line.Discount.IsPositive() {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "AllowanceCharge"}})
		writeCbc(enc, "ChargeIndicator", "false")
		writeCbcAmount(enc, "Amount", formatDecimal(line.Discount))
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "AllowanceCharge"}})
	}

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxTotal"}})
	writeCbcAmount(enc, "TaxAmount", formatDecimal(line.LineTax()))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxTotal"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Item"}})
	writeCbc(enc, "Name", line.Name)
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "ClassifiedTaxCategory"}})
	writeCbc(enc, "ID", line.TaxCategory)
	writeCbc(enc, "Percent", line.TaxRate.StringFixed(2))
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
	writeCbc(enc, "ID", "VAT")
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "ClassifiedTaxCategory"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Item"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Price"}})
	writeCbcAmount(enc, "PriceAmount", formatDecimal(line.UnitPrice))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Price"}})

	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "InvoiceLine"}})
}

// ── token helpers ─────────────────────────────────────────────────────────────

func writeCbc(enc *xml.Encoder, local, value string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCbc, Local: local}})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCbc, Local: local}})
}

func writeExt(enc *xml.Encoder, local, value string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: local}})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: local}})
}

func writeCbcAmount(enc *xml.Encoder, local, value string) {
	writeCbcWithAttr(enc, local, value, "currencyID", currencyCode)
}

func writeCbcWithAttr(enc *xml.Encoder, local, value, attrLocal, attrValue string) {
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Space: NsCbc, Local: local},
		Attr: []xml.Attr{{Name: xml.Name{Local: attrLocal}, Value: attrValue}},
	})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCbc, Local: local}})
}

func formatDecimal(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
