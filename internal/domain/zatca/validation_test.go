package zatca_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invorya/clearance-api/internal/domain/entity"
	"github.com/invorya/clearance-api/internal/domain/zatca"
)

// validRequest builds a request that passes Phase-2 validation: one standard
// line of 10 × 100.00 at 15%, totals 1000.00 / 150.00 / 1150.00.
func validRequest() *zatca.InvoiceRequest {
	return &zatca.InvoiceRequest{
		Mode:          entity.ModePhase2,
		Environment:   entity.EnvSandbox,
		InvoiceNumber: "INV-0001",
		IssueTime:     time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Seller: zatca.Party{
			Name:      "Invorya Trading Co",
			VATNumber: "310122393500003",
			Address:   "King Fahd Rd, Riyadh",
		},
		Buyer: &zatca.Party{
			Name:      "Acme Gulf LLC",
			VATNumber: "311111111100003",
		},
		Lines: []zatca.LineItem{
			{
				Name:        "Consulting hours",
				Quantity:    decimal.NewFromInt(10),
				UnitPrice:   decimal.NewFromInt(100),
				TaxRate:     decimal.RequireFromString("15.00"),
				TaxCategory: "S",
			},
		},
		Totals: zatca.Totals{
			TaxExclusive: decimal.NewFromInt(1000),
			TaxAmount:    decimal.NewFromInt(150),
			GrandTotal:   decimal.NewFromInt(1150),
		},
	}
}

func TestValidate_Pass(t *testing.T) {
	errs := zatca.Validate(validRequest(), entity.ModePhase2)
	assert.Empty(t, errs, "a consistent request must produce no validation errors")
}

func TestValidate_WrongTaxRateRejected(t *testing.T) {
	req := validRequest()
	req.Lines[0].TaxRate = decimal.RequireFromString("14.00")
	// keep totals consistent with the wrong rate so only the rate rule fires
	req.Totals.TaxAmount = decimal.NewFromInt(140)
	req.Totals.GrandTotal = decimal.NewFromInt(1140)

	errs := zatca.Validate(req, entity.ModePhase2)
	require.Len(t, errs, 1)
	assert.Equal(t, zatca.CodeTaxRate, errs[0].Code,
		"a 14.00 rate against the mandated 15.00 must fail with a tax-rate error")
	assert.Contains(t, errs[0].Message, "15.00")
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	req := validRequest()
	req.InvoiceNumber = ""
	req.Seller.VATNumber = "123"
	req.Lines[0].Quantity = decimal.NewFromInt(-1)

	errs := zatca.Validate(req, entity.ModePhase2)
	assert.GreaterOrEqual(t, len(errs), 3,
		"validation must return every violation, not only the first")

	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "invoice_number")
	assert.Contains(t, fields, "seller.vat_number")
	assert.Contains(t, fields, "lines[0].quantity")
}

func TestValidate_ArithmeticMismatch(t *testing.T) {
	req := validRequest()
	req.Totals.TaxExclusive = decimal.NewFromInt(999) // off by 1.00, over tolerance

	errs := zatca.Validate(req, entity.ModePhase2)
	require.NotEmpty(t, errs)
	assert.Equal(t, zatca.CodeArithmetic, errs[0].Code)
}

func TestValidate_ToleranceAccepted(t *testing.T) {
	req := validRequest()
	req.Totals.TaxExclusive = decimal.RequireFromString("1000.01")
	req.Totals.GrandTotal = decimal.RequireFromString("1150.01")

	errs := zatca.Validate(req, entity.ModePhase2)
	assert.Empty(t, errs, "a 0.01 rounding difference is within tolerance")
}

func TestValidate_SimplifiedInvoiceBuyerOptional(t *testing.T) {
	req := validRequest()
	req.Mode = entity.ModePhase1
	req.Buyer = nil
	req.Lines[0].Quantity = decimal.NewFromInt(1)
	req.Totals = zatca.Totals{
		TaxExclusive: decimal.NewFromInt(100),
		TaxAmount:    decimal.NewFromInt(15),
		GrandTotal:   decimal.NewFromInt(115),
	}

	errs := zatca.Validate(req, entity.ModePhase1)
	assert.Empty(t, errs, "a Phase-1 invoice under the threshold may omit the buyer")
}

func TestValidate_B2BBuyerRequiredOverThreshold(t *testing.T) {
	req := validRequest()
	req.Mode = entity.ModePhase1
	req.Buyer = nil // grand total 1150.00 is over the simplified threshold

	errs := zatca.Validate(req, entity.ModePhase1)
	require.NotEmpty(t, errs)
	assert.Equal(t, zatca.CodeBuyerRequired, errs[0].Code)
}

func TestValidate_ZeroRatedCategoryMustCarryZeroRate(t *testing.T) {
	req := validRequest()
	req.Lines[0].TaxCategory = "Z"
	req.Totals.TaxAmount = decimal.Zero
	req.Totals.GrandTotal = decimal.NewFromInt(1000)

	errs := zatca.Validate(req, entity.ModePhase2)
	require.Len(t, errs, 1)
	assert.Equal(t, zatca.CodeTaxRate, errs[0].Code,
		"category Z with a standard rate is inconsistent")
}

// Phase-2 is a strict superset of Phase-1: the same malformed chain link
// passes Phase-1 validation and fails Phase-2.
func TestValidate_Phase2Superset(t *testing.T) {
	req := validRequest()
	req.PreviousHash = "not a hash"

	assert.Empty(t, zatca.Validate(req, entity.ModePhase1),
		"Phase-1 does not check the hash chain")

	errs := zatca.Validate(req, entity.ModePhase2)
	require.Len(t, errs, 1)
	assert.Equal(t, "previous_hash", errs[0].Field)
}

func TestValidate_Phase2UUIDFormat(t *testing.T) {
	req := validRequest()
	req.UUID = "not-a-uuid"

	errs := zatca.Validate(req, entity.ModePhase2)
	require.Len(t, errs, 1)
	assert.Equal(t, "uuid", errs[0].Field)
}

func TestValidate_DiscountBounds(t *testing.T) {
	req := validRequest()
	req.Lines[0].Discount = decimal.NewFromInt(2000) // exceeds 10 × 100

	errs := zatca.Validate(req, entity.ModePhase2)
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "lines[0].discount")
}

func TestValidate_NilRequest(t *testing.T) {
	errs := zatca.Validate(nil, entity.ModePhase1)
	require.Len(t, errs, 1)
	assert.Equal(t, zatca.CodeRequired, errs[0].Code)
}
