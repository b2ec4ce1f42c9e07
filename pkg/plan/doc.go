// Package plan defines the catalog of purchasable plans and the mapping
// from billing-provider price IDs to entitlement tiers.
//
// The catalog is the security boundary for checkout: only price IDs present
// in the catalog may be purchased, and an unrecognized price ID resolves to
// the free tier so it can never grant paid access.
package plan
