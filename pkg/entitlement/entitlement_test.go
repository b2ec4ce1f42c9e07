package entitlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
)

func TestNormalizeTier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, entitlement.TierFree, entitlement.NormalizeTier(entitlement.TierFree))
	assert.Equal(t, entitlement.TierPro, entitlement.NormalizeTier(entitlement.TierPro))
	assert.Equal(t, entitlement.TierPro, entitlement.NormalizeTier(entitlement.Tier("TEAM")))
	assert.Equal(t, entitlement.TierFree, entitlement.NormalizeTier(entitlement.Tier("ENTERPRISE")))
	assert.Equal(t, entitlement.TierFree, entitlement.NormalizeTier(entitlement.Tier("")))

	// Idempotence: normalizing twice yields the same result as once.
	for _, tier := range []entitlement.Tier{"FREE", "PRO", "TEAM", "garbage"} {
		once := entitlement.NormalizeTier(tier)
		assert.Equal(t, once, entitlement.NormalizeTier(once))
	}
}

func TestHasAccess_FreeContentAlwaysAccessible(t *testing.T) {
	t.Parallel()

	statuses := []entitlement.Status{
		entitlement.StatusFree,
		entitlement.StatusActive,
		entitlement.StatusTrialing,
		entitlement.StatusPastDue,
		entitlement.StatusCanceled,
		entitlement.StatusIncomplete,
		entitlement.StatusIncompleteExpired,
		entitlement.StatusUnpaid,
	}
	tiers := []entitlement.Tier{entitlement.TierFree, entitlement.TierPro, "TEAM", "bogus"}

	for _, tier := range tiers {
		for _, status := range statuses {
			sub := entitlement.Subscription{Tier: tier, Status: status}
			assert.True(t, entitlement.HasAccess(sub, entitlement.TierFree),
				"free content must be accessible for tier=%s status=%s", tier, status)
		}
	}
}

func TestHasAccess_PaidContent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		tier   entitlement.Tier
		status entitlement.Status
		want   bool
	}{
		{"active pro", entitlement.TierPro, entitlement.StatusActive, true},
		{"trialing pro", entitlement.TierPro, entitlement.StatusTrialing, true},
		{"legacy team tier counts as pro", "TEAM", entitlement.StatusActive, true},
		{"past due pro keeps tier but loses access", entitlement.TierPro, entitlement.StatusPastDue, false},
		{"canceled pro", entitlement.TierPro, entitlement.StatusCanceled, false},
		{"incomplete pro", entitlement.TierPro, entitlement.StatusIncomplete, false},
		{"unpaid pro", entitlement.TierPro, entitlement.StatusUnpaid, false},
		{"active free tier", entitlement.TierFree, entitlement.StatusActive, false},
		{"anonymous visitor", entitlement.TierFree, entitlement.StatusFree, false},
		{"unknown status denies", entitlement.TierPro, entitlement.Status("paused"), false},
		{"unknown tier denies", "ULTIMATE", entitlement.StatusActive, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sub := entitlement.Subscription{Tier: tc.tier, Status: tc.status}
			assert.Equal(t, tc.want, entitlement.HasAccess(sub, entitlement.TierPro))
		})
	}
}

func TestHasAccess_Totality(t *testing.T) {
	t.Parallel()

	// Every combination must return without panicking, including values
	// outside the declared enums.
	tiers := []entitlement.Tier{"FREE", "PRO", "TEAM", "", "???"}
	statuses := []entitlement.Status{
		"FREE", "ACTIVE", "TRIALING", "PAST_DUE", "CANCELED",
		"INCOMPLETE", "INCOMPLETE_EXPIRED", "UNPAID", "", "paused",
	}

	for _, tier := range tiers {
		for _, status := range statuses {
			sub := entitlement.Subscription{Tier: tier, Status: status}
			_ = entitlement.HasAccess(sub, entitlement.TierFree)
			_ = entitlement.HasAccess(sub, entitlement.TierPro)
		}
	}
}

func TestAnonymous(t *testing.T) {
	t.Parallel()

	sub := entitlement.Anonymous()
	assert.Equal(t, entitlement.TierFree, sub.Tier)
	assert.Equal(t, entitlement.StatusFree, sub.Status)
	assert.Nil(t, sub.CurrentPeriodEnd)
	assert.True(t, entitlement.HasAccess(sub, entitlement.TierFree))
	assert.False(t, entitlement.HasAccess(sub, entitlement.TierPro))
}
