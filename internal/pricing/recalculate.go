package pricing

import (
	"github.com/shopspring/decimal"

	"movedit/backend/internal/domain"
)

// DiscountSource says which of the two discount fields the user typed last.
// The other one is derived from it.
type DiscountSource int

const (
	DiscountFromAmount DiscountSource = iota
	DiscountFromPercent
)

func (s DiscountSource) String() string {
	if s == DiscountFromPercent {
		return "percent"
	}
	return "amount"
}

// Recalculate returns m with discount, tax and total derived from its inputs.
// Tax is recomputed only when the draft carries a tax policy; otherwise the
// entered tax amount is kept.
func Recalculate(m domain.Movement, source DiscountSource) domain.Movement {
	base := Base(m.Quantity, m.Price)

	switch source {
	case DiscountFromPercent:
		m.Discount = ComputeCharge(base, domain.PolicyPercentage, m.DiscountPercent)
	default:
		m.Discount = Round(m.Discount)
		if base.IsPositive() {
			m.DiscountPercent = Round(m.Discount.Mul(hundred).Div(base))
		} else {
			m.DiscountPercent = decimal.Zero
		}
	}

	net := base.Sub(m.Discount)
	switch {
	case m.TaxPolicy == "" || m.TaxPolicy == domain.PolicyNone:
		m.Tax = Round(m.Tax)
	case m.TaxAlreadyIncluded:
		m.Tax = Round(net.Sub(ExtractCharge(net, m.TaxPolicy, m.TaxValue)))
	default:
		m.Tax = ComputeCharge(net, m.TaxPolicy, m.TaxValue)
	}

	m.Total = ComputeTotal(m.Quantity, m.Price, m.Discount, m.Tax, m.TaxAlreadyIncluded)
	return m
}
