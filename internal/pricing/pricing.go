// Package pricing computes the derived money fields of a movement.
//
// All results are rounded to MoneyPlaces decimal places, half away from zero.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"movedit/backend/internal/domain"
)

// MoneyPlaces matches the two decimal places the backend stores amounts with.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// ParsePolicy maps a backend value type to a policy. Unknown values are PolicyNone.
func ParsePolicy(raw string) domain.ChargePolicy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "percent", "percentage", "porcentaje":
		return domain.PolicyPercentage
	case "fixed", "fijo":
		return domain.PolicyFixed
	}
	return domain.PolicyNone
}

// Round rounds an amount to money precision.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPlaces)
}

// ComputeCharge returns the tax or discount amount for amount under policy.
func ComputeCharge(amount decimal.Decimal, policy domain.ChargePolicy, value decimal.Decimal) decimal.Decimal {
	switch policy {
	case domain.PolicyPercentage:
		return Round(amount.Mul(value).Div(hundred))
	case domain.PolicyFixed:
		return Round(value)
	}
	return decimal.Zero
}

// ExtractCharge removes a charge already contained in gross and returns the net amount.
func ExtractCharge(gross decimal.Decimal, policy domain.ChargePolicy, value decimal.Decimal) decimal.Decimal {
	switch policy {
	case domain.PolicyPercentage:
		return Round(gross.Div(decimal.NewFromInt(1).Add(value.Div(hundred))))
	case domain.PolicyFixed:
		return Round(gross.Sub(value))
	}
	return Round(gross)
}

// ComputeTotal returns the line total. When taxAlreadyIncluded the price is
// gross and tax is informational, so it is not added again.
func ComputeTotal(quantity, unitPrice, discount, tax decimal.Decimal, taxAlreadyIncluded bool) decimal.Decimal {
	net := quantity.Mul(unitPrice).Sub(discount)
	if taxAlreadyIncluded {
		return Round(net)
	}
	return Round(net.Add(tax))
}

// Base returns quantity * unit price.
func Base(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return Round(quantity.Mul(unitPrice))
}
