package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/munin/pkg/cascade"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/quorum"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "munin.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "file", cfg.Ledger.Backend)
	assert.Equal(t, cascade.DefaultParams(), cfg.Cascade)
	assert.Equal(t, quorum.DefaultPolicy(), cfg.Quorum.Policy)
	assert.Equal(t, 6, cfg.Quorum.PerMinute)
	assert.Equal(t, "opaque", cfg.Signers.Verifier)
	assert.Equal(t, 5*time.Second, cfg.Observability.BatchTimeout)
	assert.False(t, cfg.Observability.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
ledger:
  backend: sqlite
  path: /var/lib/munin/audit.db
cascade:
  confidence_floor: 0.25
  max_iterations_by_severity:
    high: 20
quorum:
  critical_groups: [water, power, security, regulatory, telecom]
  critical_threshold: 4
  required_factors: [iris, token]
flag_rules:
  is_utility: 'node.sector in ["power", "water"]'
`)
	t.Setenv("MUNIN_LEDGER_BACKEND", "postgres")
	t.Setenv("MUNIN_LEDGER_DSN", "postgres://munin@localhost/munin")
	t.Setenv("MUNIN_SERVER_ADDR", ":9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Ledger.Backend)
	assert.Equal(t, "postgres://munin@localhost/munin", cfg.Ledger.DSN)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.InDelta(t, 0.25, cfg.Cascade.ConfidenceFloor, 1e-9)
	assert.Equal(t, 20, cfg.Cascade.IterationCap(cascade.SeverityHigh))
	assert.Equal(t, 4, cfg.Quorum.CriticalThreshold)
	assert.Len(t, cfg.Quorum.CriticalGroups, 5)
	assert.Equal(t, []contracts.FactorKind{contracts.FactorIris, contracts.FactorToken}, cfg.Quorum.RequiredFactors)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, `node.sector in ["power", "water"]`, rules["is_utility"])
	assert.NotEmpty(t, rules["serves_hospitals"])
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		key  string
	}{
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"decay", "cascade:\n  default_decay: 1.5\n", "cascade"},
		{"single signer", "quorum:\n  standard_threshold: 1\n", "quorum"},
		{"no identity factors", "quorum:\n  required_factors: []\n", "quorum"},
		{"unknown flag", "flag_rules:\n  is_haunted: 'true'\n", "flag_rules"},
		{"bad rule", "flag_rules:\n  is_utility: 'node.sector +'\n", "flag_rules"},
		{"short secret", "signers:\n  verifier: hmac\n  hmac_secret: short\n", "signers.hmac_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParsePlaybook(t *testing.T) {
	pb, err := ParsePlaybook([]byte(`
version: 1.2.0
default:
  action_type: isolate_segment
  summary_template: "Incident {incident_id}"
incidents:
  gas_leak:
    action_type: valve_isolation
    summary_template: "Gas leak {incident_id} reaching {node_count} assets"
    proposed_action: Close mains valves.
    regulatory_basis: Gas safety regulation.
`))
	require.NoError(t, err)
	e, err := pb.Lookup("gas_leak")
	require.NoError(t, err)
	assert.Equal(t, "valve_isolation", e.ActionType)

	_, err = ParsePlaybook([]byte("version: 2.0.0\ndefault:\n  action_type: x\n"))
	assert.ErrorIs(t, err, ErrIncompatiblePlaybook)

	_, err = ParsePlaybook([]byte("version: one\ndefault:\n  action_type: x\n"))
	assert.ErrorIs(t, err, ErrIncompatiblePlaybook)

	_, err = ParsePlaybook([]byte("version: 1.0.0\ndefault:\n  action: x\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = ParsePlaybook([]byte("version: 1.0.0\n"))
	assert.Error(t, err)
}

func TestLoadPlaybook_DefaultWhenUnset(t *testing.T) {
	pb, err := LoadPlaybook("")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pb.Version)
}
