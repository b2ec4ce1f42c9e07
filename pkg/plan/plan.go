package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
)

var (
	ErrInvalidCatalog     = errors.New("invalid plan catalog")
	ErrFailedToLoadPlans  = errors.New("failed to load plan catalog")
	ErrPriceNotRecognized = errors.New("price ID not recognized")
)

// BillingInterval represents the billing frequency of a plan.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// Plan describes a purchasable plan. PriceID must match the billing
// provider's price identifier so checkout and webhook processing can map
// directly without a translation layer.
type Plan struct {
	PriceID  string           `yaml:"price_id"`
	Name     string           `yaml:"name"`
	Tier     entitlement.Tier `yaml:"tier"`
	Interval BillingInterval  `yaml:"interval"`
	Amount   int64            `yaml:"amount"` // smallest currency unit
	Currency string           `yaml:"currency"`
}

// Catalog maps price IDs to plans.
type Catalog map[string]Plan

// Source loads the plan catalog. Implementations may read from memory,
// a config file, or a remote service.
type Source interface {
	Load(ctx context.Context) (Catalog, error)
}

// TierFor resolves a price ID to its entitlement tier. Unknown price IDs
// resolve to the free tier, never to a paid one.
func (c Catalog) TierFor(priceID string) (entitlement.Tier, bool) {
	p, ok := c[priceID]
	if !ok {
		return entitlement.TierFree, false
	}
	return entitlement.NormalizeTier(p.Tier), true
}

// Contains reports whether a price ID is purchasable.
func (c Catalog) Contains(priceID string) bool {
	_, ok := c[priceID]
	return ok
}

// Validate ensures the catalog is internally consistent. Catches
// configuration mistakes at startup instead of during checkout.
func (c Catalog) Validate() error {
	for priceID, p := range c {
		if priceID == "" {
			return errors.Join(ErrInvalidCatalog, errors.New("empty price ID"))
		}
		if p.PriceID != priceID {
			return errors.Join(ErrInvalidCatalog,
				fmt.Errorf("price ID mismatch: map key %s != plan.PriceID %s", priceID, p.PriceID))
		}
		if entitlement.NormalizeTier(p.Tier) == entitlement.TierFree && p.Amount > 0 {
			return errors.Join(ErrInvalidCatalog,
				fmt.Errorf("plan %s charges %d but maps to the free tier", priceID, p.Amount))
		}
	}
	return nil
}
