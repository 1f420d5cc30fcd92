package quorum

import (
	"fmt"
	"slices"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

// Policy decides which signer groups must approve an action.
type Policy struct {
	HighConsequenceActions []string               `mapstructure:"high_consequence_actions"`
	CriticalGroups         []string               `mapstructure:"critical_groups"`
	CriticalThreshold      int                    `mapstructure:"critical_threshold"`
	StandardGroups         []string               `mapstructure:"standard_groups"`
	StandardThreshold      int                    `mapstructure:"standard_threshold"`
	MandatoryGroups        []string               `mapstructure:"mandatory_groups"`
	RequiredFactors        []contracts.FactorKind `mapstructure:"required_factors"`
	// HighScopeNodes is the node count above which a standard action is
	// graded High.
	HighScopeNodes int `mapstructure:"high_scope_nodes"`
}

// DefaultPolicy is 3-of-4 for high-consequence actions with security
// mandatory, and 2-of-3 otherwise.
func DefaultPolicy() Policy {
	return Policy{
		HighConsequenceActions: []string{"load_shed", "grid_islanding", "valve_isolation"},
		CriticalGroups:         []string{"water", "power", "security", "regulatory"},
		CriticalThreshold:      3,
		StandardGroups:         []string{"operations", "engineering", "regulatory"},
		StandardThreshold:      2,
		MandatoryGroups:        []string{"security"},
		RequiredFactors:        append([]contracts.FactorKind(nil), contracts.AllFactorKinds...),
		HighScopeNodes:         10,
	}
}

// Validate rejects policies that could authorize with a single signer.
func (p Policy) Validate() error {
	check := func(name string, groups []string, threshold int) error {
		if threshold < 2 {
			return fmt.Errorf("%w: %s threshold %d must be at least 2", ErrInvalidPolicy, name, threshold)
		}
		if threshold > len(groups) {
			return fmt.Errorf("%w: %s threshold %d exceeds %d groups", ErrInvalidPolicy, name, threshold, len(groups))
		}
		seen := map[string]struct{}{}
		for _, g := range groups {
			if g == "" {
				return fmt.Errorf("%w: empty %s group name", ErrInvalidPolicy, name)
			}
			if _, dup := seen[g]; dup {
				return fmt.Errorf("%w: duplicate %s group %q", ErrInvalidPolicy, name, g)
			}
			seen[g] = struct{}{}
		}
		return nil
	}
	if err := check("critical", p.CriticalGroups, p.CriticalThreshold); err != nil {
		return err
	}
	if err := check("standard", p.StandardGroups, p.StandardThreshold); err != nil {
		return err
	}
	for _, g := range p.MandatoryGroups {
		if !slices.Contains(p.CriticalGroups, g) {
			return fmt.Errorf("%w: mandatory group %q is not a critical group", ErrInvalidPolicy, g)
		}
	}
	if len(p.MandatoryGroups) > p.CriticalThreshold {
		return fmt.Errorf("%w: %d mandatory groups exceed critical threshold %d", ErrInvalidPolicy, len(p.MandatoryGroups), p.CriticalThreshold)
	}
	if len(p.RequiredFactors) == 0 {
		return fmt.Errorf("%w: required_factors must not be empty", ErrInvalidPolicy)
	}
	for _, f := range p.RequiredFactors {
		if !slices.Contains(contracts.AllFactorKinds, f) {
			return fmt.Errorf("%w: unknown identity factor %q", ErrInvalidPolicy, f)
		}
	}
	if p.HighScopeNodes < 1 {
		return fmt.Errorf("%w: high_scope_nodes must be positive", ErrInvalidPolicy)
	}
	return nil
}

// IsHighConsequence reports whether actionType needs the critical quorum.
func (p Policy) IsHighConsequence(actionType string) bool {
	return slices.Contains(p.HighConsequenceActions, actionType)
}

// DetermineRequirement is a pure lookup of the signature rule for an action.
func (p Policy) DetermineRequirement(actionType string, scope contracts.Scope) contracts.MultiSigRequirement {
	if p.IsHighConsequence(actionType) {
		return contracts.MultiSigRequirement{
			RequiredSignerGroups:  append([]string(nil), p.CriticalGroups...),
			Threshold:             p.CriticalThreshold,
			ConsequenceLevel:      contracts.ConsequenceCritical,
			RequiresIdentityProof: true,
			MandatoryGroups:       append([]string(nil), p.MandatoryGroups...),
		}
	}

	level := contracts.ConsequenceMedium
	if len(scope.Regions) > 1 || len(scope.NodeIDs) > p.HighScopeNodes {
		level = contracts.ConsequenceHigh
	}
	return contracts.MultiSigRequirement{
		RequiredSignerGroups:  append([]string(nil), p.StandardGroups...),
		Threshold:             p.StandardThreshold,
		ConsequenceLevel:      level,
		RequiresIdentityProof: level.RequiresIdentityProof(),
	}
}
