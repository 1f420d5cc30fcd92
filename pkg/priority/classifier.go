package priority

import (
	"errors"
	"math"
)

// ErrUnclassifiedAsset is returned when a node was never classified.
var ErrUnclassifiedAsset = errors.New("unclassified asset")

// ShedNever is the shed order of assets that must never be shed.
const ShedNever = math.MaxInt32

// ServiceFlags describe what an asset serves. They are derived from node
// attributes by FlagRules.
type ServiceFlags struct {
	ServesHospitals          bool `json:"servesHospitals"`
	IsLifeSupport            bool `json:"isLifeSupport"`
	ServesMilitary           bool `json:"servesMilitary"`
	IsCriticalInfrastructure bool `json:"isCriticalInfrastructure"`
	ServesEmergencyServices  bool `json:"servesEmergencyServices"`
	ServesPublicSafety       bool `json:"servesPublicSafety"`
	IsUtility                bool `json:"isUtility"`
	ServesCommercial         bool `json:"servesCommercial"`
	ServesResidential        bool `json:"servesResidential"`
	IsDiscretionary          bool `json:"isDiscretionary"`
}

// AssetClassification is the priority of one node under normal conditions.
type AssetClassification struct {
	NodeID                   string `json:"nodeId"`
	Sector                   string `json:"sector"`
	Kind                     string `json:"kind"`
	BaseTier                 Tier   `json:"basePriorityTier"`
	IsLifeSupport            bool   `json:"isLifeSupport"`
	IsMilitary               bool   `json:"isMilitary"`
	IsCriticalInfrastructure bool   `json:"isCriticalInfrastructure"`
	CanBeShed                bool   `json:"canBeShed"`
	ShedOrder                int    `json:"shedOrder"`
}

// Classify maps service flags to a tier. The first matching flag, from the
// most to the least protected, decides the tier.
func Classify(nodeID, sector, kind string, flags ServiceFlags) AssetClassification {
	lifeSupport := flags.ServesHospitals || flags.IsLifeSupport

	var tier Tier
	switch {
	case lifeSupport:
		tier = TierCriticalLifeSupport
	case flags.ServesMilitary:
		tier = TierMilitaryEssential
	case flags.IsCriticalInfrastructure:
		tier = TierCriticalInfrastructure
	case flags.ServesEmergencyServices:
		tier = TierEmergencyServices
	case flags.ServesPublicSafety:
		tier = TierPublicSafety
	case flags.IsUtility:
		tier = TierEssentialUtility
	case flags.ServesCommercial:
		tier = TierCommercial
	case flags.ServesResidential:
		tier = TierResidential
	case flags.IsDiscretionary:
		tier = TierDiscretionary
	default:
		tier = TierDisposable
	}

	canShed := !(lifeSupport || flags.ServesMilitary || flags.IsCriticalInfrastructure)
	shedOrder := ShedNever
	if canShed {
		shedOrder = int(tier)
	}

	return AssetClassification{
		NodeID:                   nodeID,
		Sector:                   sector,
		Kind:                     kind,
		BaseTier:                 tier,
		IsLifeSupport:            lifeSupport,
		IsMilitary:               flags.ServesMilitary,
		IsCriticalInfrastructure: flags.IsCriticalInfrastructure,
		CanBeShed:                canShed,
		ShedOrder:                shedOrder,
	}
}
