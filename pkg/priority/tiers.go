// Package priority classifies infrastructure assets into ordered priority
// tiers and adjusts those tiers for the declared emergency level.
//
// Classification is derived state: it is recomputed from node attributes and
// never persisted authoritatively. Adjust is pure and must be called again
// whenever the emergency level changes.
package priority

import "fmt"

// Tier is an ordered priority tier. Higher tiers are protected longer.
type Tier int

const (
	TierDisposable             Tier = 1
	TierDiscretionary          Tier = 2
	TierResidential            Tier = 3
	TierCommercial             Tier = 4
	TierEssentialUtility       Tier = 5
	TierPublicSafety           Tier = 6
	TierEmergencyServices      Tier = 7
	TierCriticalInfrastructure Tier = 8
	TierMilitaryEssential      Tier = 9
	TierCriticalLifeSupport    Tier = 10
)

var tierNames = map[Tier]string{
	TierDisposable:             "Disposable",
	TierDiscretionary:          "Discretionary",
	TierResidential:            "Residential",
	TierCommercial:             "Commercial",
	TierEssentialUtility:       "EssentialUtility",
	TierPublicSafety:           "PublicSafety",
	TierEmergencyServices:      "EmergencyServices",
	TierCriticalInfrastructure: "CriticalInfrastructure",
	TierMilitaryEssential:      "MilitaryEssential",
	TierCriticalLifeSupport:    "CriticalLifeSupport",
}

// String returns the tier name.
func (t Tier) String() string {
	if n, ok := tierNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Valid reports whether t is one of the ten defined tiers.
func (t Tier) Valid() bool {
	return t >= TierDisposable && t <= TierCriticalLifeSupport
}

// clamp bounds t to the defined range.
func clamp(t Tier) Tier {
	if t < TierDisposable {
		return TierDisposable
	}
	if t > TierCriticalLifeSupport {
		return TierCriticalLifeSupport
	}
	return t
}

// Band groups tiers by how a cascade treats a preserved asset.
type Band int

const (
	// BandOrdinary assets take the default decay.
	BandOrdinary Band = iota
	// BandMid assets (emergency services, critical infrastructure) are slowed.
	BandMid
	// BandTop assets (military, life support) cannot be reached while preserved.
	BandTop
)

// BandOf returns the preservation band of a tier.
func BandOf(t Tier) Band {
	switch {
	case t >= TierMilitaryEssential:
		return BandTop
	case t >= TierEmergencyServices:
		return BandMid
	default:
		return BandOrdinary
	}
}
