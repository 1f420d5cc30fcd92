package priority

import (
	"fmt"
	"strings"
	"time"
)

// EmergencyLevel is the declared national emergency posture.
type EmergencyLevel int

const (
	LevelPeacetime EmergencyLevel = iota
	LevelMinor
	LevelNationalEmergency
	LevelWar
	LevelExistential
)

var levelNames = []string{"peacetime", "minor", "national_emergency", "war", "existential"}

func (l EmergencyLevel) String() string {
	if int(l) >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel parses a level name as produced by String.
func ParseLevel(s string) (EmergencyLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == s {
			return EmergencyLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown emergency level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l EmergencyLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *EmergencyLevel) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// EmergencyContext carries the declared emergency into classifier and
// simulator calls. It replaces any process-wide authorization flag.
type EmergencyContext struct {
	Level      EmergencyLevel `json:"level"`
	DeclaredBy string         `json:"declaredBy,omitempty"`
	DeclaredAt time.Time      `json:"declaredAt,omitempty"`
}

// Adjustment is the emergency-adjusted view of a classification.
type Adjustment struct {
	Tier           Tier    `json:"tier"`
	Multiplier     float64 `json:"multiplier"`
	ShouldPreserve bool    `json:"shouldPreserve"`
}

// Band returns the preservation band of the adjusted tier.
func (a Adjustment) Band() Band {
	return BandOf(a.Tier)
}

// Adjust applies the emergency level to a classification.
//
// Peacetime and Minor pass the classification through. National emergencies
// degrade sheddable assets one tier and preserve the rest. War and
// Existential force life support and military assets to the top tier and
// degrade everything else toward Disposable.
func Adjust(c AssetClassification, level EmergencyLevel) Adjustment {
	switch level {
	case LevelNationalEmergency:
		if c.CanBeShed {
			return Adjustment{Tier: clamp(c.BaseTier - 1), Multiplier: 0.75}
		}
		return Adjustment{Tier: c.BaseTier, Multiplier: 1.5, ShouldPreserve: true}
	case LevelWar, LevelExistential:
		if c.IsLifeSupport || c.IsMilitary {
			m := 3.0
			if level == LevelExistential {
				m = 5.0
			}
			return Adjustment{Tier: TierCriticalLifeSupport, Multiplier: m, ShouldPreserve: true}
		}
		if level == LevelExistential {
			return Adjustment{Tier: TierDisposable, Multiplier: 0.1}
		}
		return Adjustment{Tier: clamp(c.BaseTier - 3), Multiplier: 0.5}
	default:
		return Adjustment{Tier: c.BaseTier, Multiplier: 1.0}
	}
}
