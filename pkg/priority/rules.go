package priority

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

// Flag rule keys, one per ServiceFlags field.
const (
	FlagServesHospitals          = "serves_hospitals"
	FlagIsLifeSupport            = "is_life_support"
	FlagServesMilitary           = "serves_military"
	FlagIsCriticalInfrastructure = "is_critical_infrastructure"
	FlagServesEmergencyServices  = "serves_emergency_services"
	FlagServesPublicSafety       = "serves_public_safety"
	FlagIsUtility                = "is_utility"
	FlagServesCommercial         = "serves_commercial"
	FlagServesResidential        = "serves_residential"
	FlagIsDiscretionary          = "is_discretionary"
)

// DefaultRules derive service flags from a node's kind, sector and hints.
// Every expression sees a single variable `node` with keys
// id, sector, kind, region and hints (list of strings).
func DefaultRules() map[string]string {
	return map[string]string{
		FlagServesHospitals:          `node.kind in ["hospital", "dialysis_center", "blood_bank"] || "serves_hospitals" in node.hints`,
		FlagIsLifeSupport:            `"life_support" in node.hints`,
		FlagServesMilitary:           `node.sector == "defense" || "serves_military" in node.hints`,
		FlagIsCriticalInfrastructure: `node.kind in ["control_center", "water_treatment", "transmission_hub"] || "critical_infrastructure" in node.hints`,
		FlagServesEmergencyServices:  `node.kind in ["fire_station", "police_station", "ems_depot"] || "emergency_services" in node.hints`,
		FlagServesPublicSafety:       `"public_safety" in node.hints`,
		FlagIsUtility:                `node.sector in ["power", "water", "gas", "telecom"]`,
		FlagServesCommercial:         `node.sector == "commercial" || "commercial" in node.hints`,
		FlagServesResidential:        `node.sector == "residential" || "residential" in node.hints`,
		FlagIsDiscretionary:          `"discretionary" in node.hints`,
	}
}

var flagSetters = map[string]func(*ServiceFlags, bool){
	FlagServesHospitals:          func(f *ServiceFlags, v bool) { f.ServesHospitals = v },
	FlagIsLifeSupport:            func(f *ServiceFlags, v bool) { f.IsLifeSupport = v },
	FlagServesMilitary:           func(f *ServiceFlags, v bool) { f.ServesMilitary = v },
	FlagIsCriticalInfrastructure: func(f *ServiceFlags, v bool) { f.IsCriticalInfrastructure = v },
	FlagServesEmergencyServices:  func(f *ServiceFlags, v bool) { f.ServesEmergencyServices = v },
	FlagServesPublicSafety:       func(f *ServiceFlags, v bool) { f.ServesPublicSafety = v },
	FlagIsUtility:                func(f *ServiceFlags, v bool) { f.IsUtility = v },
	FlagServesCommercial:         func(f *ServiceFlags, v bool) { f.ServesCommercial = v },
	FlagServesResidential:        func(f *ServiceFlags, v bool) { f.ServesResidential = v },
	FlagIsDiscretionary:          func(f *ServiceFlags, v bool) { f.IsDiscretionary = v },
}

type compiledRule struct {
	flag string
	prg  cel.Program
}

// FlagRules evaluates compiled CEL expressions against graph nodes.
// A FlagRules value is immutable after construction and safe for concurrent use.
type FlagRules struct {
	rules []compiledRule
}

// NewFlagRules compiles the given rules. Keys must be known flag names;
// flags without a rule are always false. Overrides are merged over the defaults
// by the caller (see config).
func NewFlagRules(exprs map[string]string) (*FlagRules, error) {
	env, err := cel.NewEnv(
		cel.Variable("node", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	keys := make([]string, 0, len(exprs))
	for k := range exprs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fr := &FlagRules{}
	for _, flag := range keys {
		if _, ok := flagSetters[flag]; !ok {
			return nil, fmt.Errorf("unknown service flag %q", flag)
		}
		ast, issues := env.Compile(exprs[flag])
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %s: compile: %w", flag, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s: must evaluate to bool, got %s", flag, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("rule %s: program: %w", flag, err)
		}
		fr.rules = append(fr.rules, compiledRule{flag: flag, prg: prg})
	}
	return fr, nil
}

// Evaluate derives the service flags of a node.
func (r *FlagRules) Evaluate(n contracts.Node) (ServiceFlags, error) {
	hints := make([]any, len(n.Hints))
	for i, h := range n.Hints {
		hints[i] = h
	}
	input := map[string]any{
		"node": map[string]any{
			"id":     n.ID,
			"sector": n.Sector,
			"kind":   n.Kind,
			"region": n.Region,
			"hints":  hints,
		},
	}

	var flags ServiceFlags
	for _, rule := range r.rules {
		out, _, err := rule.prg.Eval(input)
		if err != nil {
			return ServiceFlags{}, fmt.Errorf("rule %s on node %s: %w", rule.flag, n.ID, err)
		}
		v, ok := out.Value().(bool)
		if !ok {
			return ServiceFlags{}, fmt.Errorf("rule %s on node %s: non-bool result", rule.flag, n.ID)
		}
		flagSetters[rule.flag](&flags, v)
	}
	return flags, nil
}

// ClassifyGraph validates g and classifies each of its nodes.
func (r *FlagRules) ClassifyGraph(g *contracts.Graph) (Classifications, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	out := make(Classifications, len(g.Nodes))
	for _, n := range g.Nodes {
		flags, err := r.Evaluate(n)
		if err != nil {
			return nil, err
		}
		out[n.ID] = Classify(n.ID, n.Sector, n.Kind, flags)
	}
	return out, nil
}
