package zatca

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/invorya/clearance-api/internal/domain/entity"
)

// ValidationError is one rule violation. Validate returns every violation
// found, not only the first, so the caller can report all problems in one
// response.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Field, e.Code, e.Message)
}

// Validation error codes.
const (
	CodeRequired        = "REQUIRED"
	CodeFormat          = "FORMAT"
	CodeRange           = "RANGE"
	CodeTaxRate         = "TAX_RATE"
	CodeArithmetic      = "ARITHMETIC"
	CodeBuyerRequired   = "BUYER_REQUIRED"
	CodeUnknownCategory = "UNKNOWN_CATEGORY"
)

// tolerance for declared-vs-derived totals comparison.
var tolerance = decimal.New(1, -2) // 0.01

// taxCategories are the admitted tax category codes: S standard, Z zero-rated,
// E exempt, O out of scope.
var taxCategories = map[string]bool{"S": true, "Z": true, "E": true, "O": true}

// Validate checks req against the rules of the given submission mode and
// returns the ordered list of violations (empty slice = pass). Pure and
// deterministic: no I/O, no persistence, nothing thrown. Phase-2 validation is
// a strict superset of Phase-1.
func Validate(req *InvoiceRequest, mode entity.SubmissionMode) []ValidationError {
	var errs []ValidationError
	add := func(field, code, msg string) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: msg})
	}

	if req == nil {
		add("request", CodeRequired, "request body is required")
		return errs
	}

	switch req.Environment {
	case entity.EnvSandbox, entity.EnvProduction:
	case "":
		add("environment", CodeRequired, "environment is required")
	default:
		add("environment", CodeFormat, fmt.Sprintf("unknown environment %q", req.Environment))
	}

	if strings.TrimSpace(req.InvoiceNumber) == "" {
		add("invoice_number", CodeRequired, "invoice number is required")
	}
	if req.IssueTime.IsZero() {
		add("issue_time", CodeRequired, "issue time is required")
	}

	validateParty(&errs, "seller", &req.Seller, true)

	// Buyer identification is mandatory for B2B; only a simplified invoice
	// (Phase-1 under the threshold) may omit it.
	if req.Simplified() {
		if req.Buyer != nil && req.Buyer.VATNumber != "" {
			validateVAT(&errs, "buyer.vat_number", req.Buyer.VATNumber)
		}
	} else if req.Buyer == nil || strings.TrimSpace(req.Buyer.Name) == "" || req.Buyer.VATNumber == "" {
		add("buyer", CodeBuyerRequired, "buyer name and VAT number are required for non-simplified invoices")
	} else {
		validateVAT(&errs, "buyer.vat_number", req.Buyer.VATNumber)
	}

	validateLines(&errs, req)
	validateTotals(&errs, req)

	if mode == entity.ModePhase2 {
		validatePhase2(&errs, req)
	}
	return errs
}

func validateParty(errs *[]ValidationError, field string, p *Party, vatRequired bool) {
	if strings.TrimSpace(p.Name) == "" {
		*errs = append(*errs, ValidationError{Field: field + ".name", Code: CodeRequired, Message: "name is required"})
	}
	if p.VATNumber == "" {
		if vatRequired {
			*errs = append(*errs, ValidationError{Field: field + ".vat_number", Code: CodeRequired, Message: "VAT number is required"})
		}
		return
	}
	validateVAT(errs, field+".vat_number", p.VATNumber)
}

// validateVAT enforces the registration-number format: exactly 15 digits,
// first and last digit 3.
func validateVAT(errs *[]ValidationError, field, vat string) {
	ok := len(vat) == 15 && vat[0] == '3' && vat[14] == '3'
	if ok {
		for _, r := range vat {
			if r < '0' || r > '9' {
				ok = false
				break
			}
		}
	}
	if !ok {
		*errs = append(*errs, ValidationError{
			Field: field, Code: CodeFormat,
			Message: "VAT number must be 15 digits starting and ending with 3",
		})
	}
}

func validateLines(errs *[]ValidationError, req *InvoiceRequest) {
	if len(req.Lines) == 0 {
		*errs = append(*errs, ValidationError{Field: "lines", Code: CodeRequired, Message: "at least one line item is required"})
		return
	}
	for i, l := range req.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if strings.TrimSpace(l.Name) == "" {
			*errs = append(*errs, ValidationError{Field: field + ".name", Code: CodeRequired, Message: "line name is required"})
		}
		if !l.Quantity.IsPositive() {
			*errs = append(*errs, ValidationError{Field: field + ".quantity", Code: CodeRange, Message: "quantity must be positive"})
		}
		if l.UnitPrice.IsNegative() {
			*errs = append(*errs, ValidationError{Field: field + ".unit_price", Code: CodeRange, Message: "unit price must not be negative"})
		}
		if l.Discount.IsNegative() {
			*errs = append(*errs, ValidationError{Field: field + ".discount", Code: CodeRange, Message: "discount must not be negative"})
		} else if l.Discount.GreaterThan(l.Quantity.Mul(l.UnitPrice)) {
			*errs = append(*errs, ValidationError{Field: field + ".discount", Code: CodeRange, Message: "discount exceeds line gross amount"})
		}
		if !taxCategories[l.TaxCategory] {
			*errs = append(*errs, ValidationError{Field: field + ".tax_category", Code: CodeUnknownCategory, Message: fmt.Sprintf("unknown tax category %q", l.TaxCategory)})
			continue
		}
		switch l.TaxCategory {
		case "S":
			if !l.TaxRate.Equal(StandardVATRate) {
				*errs = append(*errs, ValidationError{
					Field: field + ".tax_rate", Code: CodeTaxRate,
					Message: fmt.Sprintf("tax rate %s does not match the mandated standard rate %s", l.TaxRate.StringFixed(2), StandardVATRate.StringFixed(2)),
				})
			}
		default: // Z, E, O carry no tax
			if !l.TaxRate.IsZero() {
				*errs = append(*errs, ValidationError{
					Field: field + ".tax_rate", Code: CodeTaxRate,
					Message: fmt.Sprintf("tax rate must be 0 for category %s", l.TaxCategory),
				})
			}
		}
	}
}

// validateTotals checks the declared totals against the line-derived sums
// within the tolerance.
func validateTotals(errs *[]ValidationError, req *InvoiceRequest) {
	if len(req.Lines) == 0 {
		return
	}
	var sumTaxable, sumTax decimal.Decimal
	for _, l := range req.Lines {
		sumTaxable = sumTaxable.Add(l.LineTaxable())
		sumTax = sumTax.Add(l.LineTax())
	}
	sumTaxable = sumTaxable.Round(2)

	if req.Totals.TaxExclusive.Sub(sumTaxable).Abs().GreaterThan(tolerance) {
		*errs = append(*errs, ValidationError{
			Field: "totals.tax_exclusive", Code: CodeArithmetic,
			Message: fmt.Sprintf("declared %s does not match line-derived %s", req.Totals.TaxExclusive.StringFixed(2), sumTaxable.StringFixed(2)),
		})
	}
	if req.Totals.TaxAmount.Sub(sumTax).Abs().GreaterThan(tolerance) {
		*errs = append(*errs, ValidationError{
			Field: "totals.tax_amount", Code: CodeArithmetic,
			Message: fmt.Sprintf("declared %s does not match line-derived %s", req.Totals.TaxAmount.StringFixed(2), sumTax.StringFixed(2)),
		})
	}
	expectedGrand := sumTaxable.Add(sumTax)
	if req.Totals.GrandTotal.Sub(expectedGrand).Abs().GreaterThan(tolerance) {
		*errs = append(*errs, ValidationError{
			Field: "totals.grand_total", Code: CodeArithmetic,
			Message: fmt.Sprintf("declared %s does not match tax-exclusive + tax (%s)", req.Totals.GrandTotal.StringFixed(2), expectedGrand.StringFixed(2)),
		})
	}
}

// validatePhase2 adds the clearance-tier prerequisites: well-formed UUID if
// supplied, and a well-formed previous-hash chain link.
func validatePhase2(errs *[]ValidationError, req *InvoiceRequest) {
	if req.UUID != "" {
		if _, err := uuid.Parse(req.UUID); err != nil {
			*errs = append(*errs, ValidationError{Field: "uuid", Code: CodeFormat, Message: "uuid is not a valid UUID"})
		}
	}
	if req.PreviousHash != "" && !ValidHash(req.PreviousHash) {
		*errs = append(*errs, ValidationError{
			Field: "previous_hash", Code: CodeFormat,
			Message: "previous hash must be a base64-encoded 256-bit digest",
		})
	}
}
