package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"movedit/backend/internal/domain"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "expected %s, got %s", want, got)
}

func TestComputeCharge(t *testing.T) {
	assertMoney(t, "18", ComputeCharge(d("100"), domain.PolicyPercentage, d("18")))
	assertMoney(t, "18", ComputeCharge(d("100"), domain.PolicyFixed, d("18")))
	assertMoney(t, "0", ComputeCharge(d("100"), domain.PolicyNone, d("18")))
	assertMoney(t, "0", ComputeCharge(d("100"), domain.ChargePolicy("bogus"), d("18")))
	assertMoney(t, "1.85", ComputeCharge(d("10.25"), domain.PolicyPercentage, d("18")))
}

func TestExtractCharge(t *testing.T) {
	assertMoney(t, "100", ExtractCharge(d("118"), domain.PolicyPercentage, d("18")))
	assertMoney(t, "100", ExtractCharge(d("118"), domain.PolicyFixed, d("18")))
	assertMoney(t, "118", ExtractCharge(d("118"), domain.PolicyNone, d("18")))
	assertMoney(t, "84.75", ExtractCharge(d("100"), domain.PolicyPercentage, d("18")))
}

func TestComputeTotal(t *testing.T) {
	assertMoney(t, "100", ComputeTotal(d("2"), d("50"), d("0"), d("0"), false))
	assertMoney(t, "108", ComputeTotal(d("2"), d("50"), d("10"), d("18"), false))
	assertMoney(t, "90", ComputeTotal(d("2"), d("50"), d("10"), d("13.73"), true))
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, domain.PolicyPercentage, ParsePolicy("percent"))
	assert.Equal(t, domain.PolicyPercentage, ParsePolicy(" PORCENTAJE "))
	assert.Equal(t, domain.PolicyFixed, ParsePolicy("fixed"))
	assert.Equal(t, domain.PolicyFixed, ParsePolicy("FIJO"))
	assert.Equal(t, domain.PolicyNone, ParsePolicy(""))
}

func TestRecalculateFromPercent(t *testing.T) {
	m := domain.Movement{
		Quantity:        d("2"),
		Price:           d("50"),
		DiscountPercent: d("10"),
		Discount:        d("999"),
		TaxPolicy:       domain.PolicyPercentage,
		TaxValue:        d("18"),
	}

	got := Recalculate(m, DiscountFromPercent)
	assertMoney(t, "10", got.Discount)
	assertMoney(t, "16.2", got.Tax)
	assertMoney(t, "106.2", got.Total)
}

func TestRecalculateFromAmountDerivesPercent(t *testing.T) {
	m := domain.Movement{
		Quantity:  d("4"),
		Price:     d("25"),
		Discount:  d("5"),
		TaxPolicy: domain.PolicyFixed,
		TaxValue:  d("3"),
	}

	got := Recalculate(m, DiscountFromAmount)
	assertMoney(t, "5", got.DiscountPercent)
	assertMoney(t, "3", got.Tax)
	assertMoney(t, "98", got.Total)
}

func TestRecalculateTaxIncluded(t *testing.T) {
	m := domain.Movement{
		Quantity:           d("1"),
		Price:              d("118"),
		TaxPolicy:          domain.PolicyPercentage,
		TaxValue:           d("18"),
		TaxAlreadyIncluded: true,
	}

	got := Recalculate(m, DiscountFromAmount)
	assertMoney(t, "18", got.Tax)
	assertMoney(t, "118", got.Total)
}

func TestRecalculateWithoutPolicyKeepsEnteredTax(t *testing.T) {
	m := domain.Movement{Quantity: d("1"), Price: d("10"), Tax: d("1.5")}

	got := Recalculate(m, DiscountFromAmount)
	assertMoney(t, "1.5", got.Tax)
	assertMoney(t, "11.5", got.Total)
	assertMoney(t, "0", got.DiscountPercent)
}

func TestRecalculateZeroBase(t *testing.T) {
	got := Recalculate(domain.Movement{Discount: d("3")}, DiscountFromAmount)
	assertMoney(t, "0", got.DiscountPercent)
	assertMoney(t, "-3", got.Total)
}
