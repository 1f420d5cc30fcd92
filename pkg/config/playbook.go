package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/munin/pkg/handshake"
)

// PlaybookConstraint is the range of playbook versions this build reads.
const PlaybookConstraint = "^1"

// ErrIncompatiblePlaybook is returned for playbooks outside PlaybookConstraint.
var ErrIncompatiblePlaybook = errors.New("incompatible playbook version")

// LoadPlaybook reads a YAML playbook. An empty path returns the built-in
// playbook.
func LoadPlaybook(path string) (*handshake.Playbook, error) {
	if path == "" {
		return handshake.DefaultPlaybook(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	return ParsePlaybook(raw)
}

// ParsePlaybook decodes YAML strictly and checks the version.
func ParsePlaybook(raw []byte) (*handshake.Playbook, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var pb handshake.Playbook
	if err := dec.Decode(&pb); err != nil {
		return nil, fmt.Errorf("decode playbook: %w", err)
	}

	v, err := semver.NewVersion(pb.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrIncompatiblePlaybook, pb.Version, err)
	}
	c, err := semver.NewConstraint(PlaybookConstraint)
	if err != nil {
		return nil, err
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatiblePlaybook, v, PlaybookConstraint)
	}

	if pb.Default == nil && len(pb.Incidents) == 0 {
		return nil, fmt.Errorf("decode playbook: no entries")
	}
	for name, e := range pb.Incidents {
		if e.ActionType == "" {
			return nil, fmt.Errorf("decode playbook: incident %q has no action_type", name)
		}
	}
	return &pb, nil
}
