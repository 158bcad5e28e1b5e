package catalog

import "github.com/digkill/medpost/internal/models"

// IsAllowed reports whether a user on plan may use a model of tier.
// Unknown plans are allowed nothing; unknown tiers are never reachable.
func IsAllowed(plan, tier models.Plan) bool {
	pr, tr := plan.Rank(), tier.Rank()
	if pr < 0 || tr < 0 {
		return false
	}
	return pr >= tr
}

// CapabilityUnlocked reports whether plan reaches at least one model of the
// capability. Premium unlocks image and ultra unlocks video.
func CapabilityUnlocked(plan models.Plan, capability models.Capability) bool {
	return len(Available(capability, plan)) > 0
}
