package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/munin/pkg/audit"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/handshake"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"munin"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeConfig points the ledger and artifact store at a temp dir.
func writeConfig(t *testing.T) (cfgPath, ledgerPath string) {
	t.Helper()
	dir := t.TempDir()
	ledgerPath = filepath.Join(dir, "audit.jsonl")
	body := fmt.Sprintf(`
log:
  level: error
ledger:
  backend: file
  path: %s
artifacts:
  type: fs
  dir: %s
`, ledgerPath, filepath.Join(dir, "artifacts"))
	cfgPath = filepath.Join(dir, "munin.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0600))
	return cfgPath, ledgerPath
}

func TestSimulate_Golden(t *testing.T) {
	code, out, errOut := run(t, "simulate", "testdata/chain.json", "--seed", "A", "--start", "2026-01-01T00:00:00Z")
	require.Equal(t, 0, code, errOut)

	g := goldie.New(t)
	g.Assert(t, "simulate", []byte(out))
}

func TestSimulate_JSON(t *testing.T) {
	code, out, errOut := run(t, "simulate", "testdata/chain.json", "--seed", "A", "--level", "war", "-o", "json")
	require.Equal(t, 0, code, errOut)

	var tl struct {
		Entries []contracts.TimelineEntry `json:"entries"`
		State   string                    `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &tl))
	require.Len(t, tl.Entries, 3)
	assert.Equal(t, "converged", tl.State)
}

func TestSimulate_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing seed flag", []string{"simulate", "testdata/chain.json"}},
		{"unknown seed", []string{"simulate", "testdata/chain.json", "--seed", "Z"}},
		{"bad level", []string{"simulate", "testdata/chain.json", "--seed", "A", "--level", "apocalypse"}},
		{"bad start", []string{"simulate", "testdata/chain.json", "--seed", "A", "--start", "yesterday"}},
		{"missing file", []string{"simulate", "testdata/nope.json", "--seed", "A"}},
		{"wrong document", []string{"simulate", "testdata/evidence.json", "--seed", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := run(t, tt.args...)
			assert.Equal(t, 2, code)
			assert.Contains(t, errOut, "Error:")
		})
	}
}

func TestClassify(t *testing.T) {
	code, out, errOut := run(t, "classify", "testdata/chain.json")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "NODE")
	assert.Contains(t, out, "Residential")
	assert.Contains(t, out, "shed order:")
}

func TestBuild(t *testing.T) {
	cfg, _ := writeConfig(t)
	code, out, errOut := run(t, "--config", cfg, "build",
		"--incident", "testdata/incident.json",
		"--graph", "testdata/chain.json",
		"--evidence", "testdata/evidence.json",
		"--archive")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "archived")

	var p contracts.HandshakePacket
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "load_shed", p.ActionType)
	assert.Equal(t, []string{"A", "B"}, p.Scope.NodeIDs)
	assert.InDelta(t, 0.1, p.Uncertainty.Overall, 1e-9)
	require.NoError(t, handshake.VerifyPacket(&p, ""))

	code, out, _ = run(t, "--config", cfg, "build",
		"--incident", "testdata/incident.json",
		"--graph", "testdata/chain.json",
		"--evidence", "testdata/evidence.json",
		"--prev", p.Merkle.ReceiptHash)
	require.Equal(t, 0, code)
	var next contracts.HandshakePacket
	require.NoError(t, json.Unmarshal([]byte(out), &next))
	require.NoError(t, handshake.VerifyPacket(&next, p.Merkle.ReceiptHash))
}

func TestBuild_RequiresDocuments(t *testing.T) {
	code, _, errOut := run(t, "build", "--graph", "testdata/chain.json")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "required flag")
}

func seedLedger(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	backend, err := audit.OpenFileBackend(path)
	require.NoError(t, err)
	l, err := audit.Open(ctx, backend)
	require.NoError(t, err)
	l.WithClock(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })
	for _, a := range []audit.Action{audit.ActionCreate, audit.ActionSign, audit.ActionSign} {
		_, err := l.Append(ctx, a, "tester", "hp-1", nil)
		require.NoError(t, err)
	}
	_, err = l.Append(ctx, audit.ActionCreate, "tester", "hp-2", nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestLedgerCommands(t *testing.T) {
	cfg, ledgerPath := writeConfig(t)
	seedLedger(t, ledgerPath)

	code, out, errOut := run(t, "--config", cfg, "ledger", "verify")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "VALID 4 entries")

	code, out, _ = run(t, "--config", cfg, "ledger", "query", "--packet", "hp-1", "--action", "sign", "-o", "json")
	require.Equal(t, 0, code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].SequenceNumber)

	bundlePath := filepath.Join(t.TempDir(), "bundle.json")
	code, out, _ = run(t, "--config", cfg, "ledger", "export", "--packet", "hp-1", "--out", bundlePath)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "exported 3 entries (1..3)")

	code, out, _ = run(t, "--config", cfg, "ledger", "check-bundle", bundlePath)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "VALID bundle")

	var b audit.Bundle
	raw, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &b))
	b.Entries[1].Actor = "mallory"
	raw, err = json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bundlePath, raw, 0600))

	code, _, errOut = run(t, "--config", cfg, "ledger", "check-bundle", bundlePath)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "verification failed")

	code, out, _ = run(t, "--config", cfg, "ledger", "export", "--archive")
	require.Equal(t, 0, code)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}\n$`, out)

	code, _, _ = run(t, "--config", cfg, "ledger", "export", "--packet", "nope")
	assert.Equal(t, 2, code)
}

func TestLedgerVerify_Tampered(t *testing.T) {
	cfg, ledgerPath := writeConfig(t)
	seedLedger(t, ledgerPath)

	raw, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte(`"hp-2"`), []byte(`"hp-9"`), 1)
	require.NotEqual(t, raw, tampered)
	require.NoError(t, os.WriteFile(ledgerPath, tampered, 0600))

	code, out, _ := run(t, "--config", cfg, "ledger", "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "INVALID first invalid sequence 4")
}

func TestInvalidConfig(t *testing.T) {
	code, _, errOut := run(t, "--log-level", "loud", "classify", "testdata/chain.json")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "log.level")
}
