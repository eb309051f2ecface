package model

import "fmt"

// Pricing maps quality tiers to their credit cost.
type Pricing struct {
	Tiers    map[QualityTier]int
	MockCost int
}

// DefaultPricing returns the built-in price list.
func DefaultPricing() Pricing {
	return Pricing{
		Tiers: map[QualityTier]int{
			TierStandard: 1,
			TierHD:       2,
			TierUltra:    4,
		},
		MockCost: 0,
	}
}

// Cost returns the credit cost of a job at the given tier.
func (p Pricing) Cost(tier QualityTier, mock bool) (int, error) {
	cost, ok := p.Tiers[tier]
	if !ok {
		return 0, fmt.Errorf("%w: unknown quality tier %q", ErrInvalidRequest, tier)
	}
	if mock {
		return p.MockCost, nil
	}
	return cost, nil
}
