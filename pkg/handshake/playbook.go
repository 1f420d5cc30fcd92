package handshake

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/munin/pkg/canonicalize"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

// PlaybookEntry is the response template for one incident type.
type PlaybookEntry struct {
	ActionType      string `yaml:"action_type" json:"actionType"`
	SummaryTemplate string `yaml:"summary_template" json:"summaryTemplate"`
	ProposedAction  string `yaml:"proposed_action" json:"proposedAction"`
	RegulatoryBasis string `yaml:"regulatory_basis" json:"regulatoryBasis"`
}

// Playbook maps incident types to response templates. It is data, loaded
// from configuration, and hashed into every packet's provenance.
type Playbook struct {
	Version   string                   `yaml:"version" json:"version"`
	Default   *PlaybookEntry           `yaml:"default,omitempty" json:"default,omitempty"`
	Incidents map[string]PlaybookEntry `yaml:"incidents" json:"incidents"`
}

// DefaultPlaybook is used when no playbook file is configured.
func DefaultPlaybook() *Playbook {
	return &Playbook{
		Version: "1.0.0",
		Default: &PlaybookEntry{
			ActionType:      "isolate_segment",
			SummaryTemplate: "Incident {incident_id}: predicted cascade across {node_count} assets in {region_count} region(s) ({regions}).",
			ProposedAction:  "Isolate the affected segment and re-route supply through unaffected paths.",
			RegulatoryBasis: "Operator emergency procedures, section 4 (containment).",
		},
		Incidents: map[string]PlaybookEntry{
			"power_cascade": {
				ActionType:      "load_shed",
				SummaryTemplate: "Incident {incident_id}: power cascade predicted to reach {node_count} assets across {regions}.",
				ProposedAction:  "Shed sheddable load in shed order until the cascade front is contained.",
				RegulatoryBasis: "Grid code emergency load shedding provisions.",
			},
			"water_contamination": {
				ActionType:      "valve_isolation",
				SummaryTemplate: "Incident {incident_id}: contamination may spread to {node_count} water assets in {region_count} region(s).",
				ProposedAction:  "Close isolation valves upstream of the affected pump stations.",
				RegulatoryBasis: "Drinking water safety regulation, emergency isolation clause.",
			},
			"grid_island": {
				ActionType:      "grid_islanding",
				SummaryTemplate: "Incident {incident_id}: islanding {node_count} assets across {regions}.",
				ProposedAction:  "Island the affected grid section and start black-start sequence.",
				RegulatoryBasis: "National grid resilience directive, islanding annex.",
			},
		},
	}
}

// Lookup returns the entry for incidentType, falling back to the default.
func (p *Playbook) Lookup(incidentType string) (PlaybookEntry, error) {
	if e, ok := p.Incidents[incidentType]; ok {
		return e, nil
	}
	if p.Default != nil {
		return *p.Default, nil
	}
	return PlaybookEntry{}, fmt.Errorf("%w: no playbook entry for type %q and no default", contracts.ErrInvalidIncident, incidentType)
}

// Hash returns the canonical hash of the playbook.
func (p *Playbook) Hash() (string, error) {
	return canonicalize.CanonicalHash(p)
}

// ActionTypes lists every action type the playbook can propose.
func (p *Playbook) ActionTypes() []string {
	seen := map[string]struct{}{}
	if p.Default != nil {
		seen[p.Default.ActionType] = struct{}{}
	}
	for _, e := range p.Incidents {
		seen[e.ActionType] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func renderSummary(tmpl, incidentID string, scope contracts.Scope) string {
	r := strings.NewReplacer(
		"{incident_id}", incidentID,
		"{node_count}", fmt.Sprint(len(scope.NodeIDs)),
		"{region_count}", fmt.Sprint(len(scope.Regions)),
		"{regions}", strings.Join(scope.Regions, ", "),
	)
	return r.Replace(tmpl)
}
