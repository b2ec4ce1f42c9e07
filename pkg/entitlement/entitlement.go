package entitlement

// NormalizeTier maps legacy and unknown tier labels onto the current enum.
// The retired team plan keeps paid access; anything unrecognized becomes
// free so a corrupt value can never unlock paid content.
// Normalizing an already-normalized tier is a no-op.
func NormalizeTier(t Tier) Tier {
	switch t {
	case TierPro, tierTeam:
		return TierPro
	default:
		return TierFree
	}
}

// HasAccess reports whether a subscription grants access to content with
// the given tier requirement. It is total over all (tier, status)
// combinations: free content is always accessible, paid content requires a
// normalized PRO tier together with an active or trialing status.
// Unrecognized statuses deny paid access.
func HasAccess(sub Subscription, requirement Tier) bool {
	if NormalizeTier(requirement) == TierFree {
		return true
	}

	if NormalizeTier(sub.Tier) != TierPro {
		return false
	}

	switch sub.Status {
	case StatusActive, StatusTrialing:
		return true
	default:
		return false
	}
}
