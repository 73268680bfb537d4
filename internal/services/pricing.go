package services

import (
	domain "github.com/voltlane/api/internal/domain"
)

// Pricing holds the checkout pricing rules. Amounts are minor currency units.
type Pricing struct {
	TaxRateBasisPoints    int
	ShippingFlat          domain.Money
	FreeShippingThreshold domain.Money
}

// DefaultPricing returns the storefront defaults: 8% tax, flat shipping 2599
// and free shipping from 50000.
func DefaultPricing() Pricing {
	return Pricing{
		TaxRateBasisPoints:    800,
		ShippingFlat:          2599,
		FreeShippingThreshold: 50000,
	}
}

// Tax computes the tax on a subtotal, truncated to whole minor units.
func (p Pricing) Tax(subtotal domain.Money) domain.Money {
	if subtotal <= 0 || p.TaxRateBasisPoints <= 0 {
		return 0
	}
	return subtotal * domain.Money(p.TaxRateBasisPoints) / 10000
}

// Shipping computes the shipping cost for a subtotal. Orders at or above the
// free-shipping threshold ship free.
func (p Pricing) Shipping(subtotal domain.Money) domain.Money {
	if subtotal <= 0 {
		return 0
	}
	if p.FreeShippingThreshold > 0 && subtotal >= p.FreeShippingThreshold {
		return 0
	}
	return p.ShippingFlat
}

// Totals derives the full pricing summary for a subtotal and item count.
func (p Pricing) Totals(subtotal domain.Money, itemCount int) domain.CartTotals {
	totals := domain.CartTotals{
		Subtotal:  subtotal,
		ItemCount: itemCount,
	}
	if subtotal <= 0 {
		return totals
	}

	totals.ShippingCost = p.Shipping(subtotal)
	totals.Tax = p.Tax(subtotal)
	totals.Total = subtotal + totals.ShippingCost + totals.Tax

	if p.FreeShippingThreshold > 0 {
		if subtotal >= p.FreeShippingThreshold {
			totals.FreeShippingProgressPct = 100
		} else {
			totals.FreeShippingRemaining = p.FreeShippingThreshold - subtotal
			totals.FreeShippingProgressPct = float64(subtotal) / float64(p.FreeShippingThreshold) * 100
		}
	}
	return totals
}
