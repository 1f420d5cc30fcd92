//go:build property
// +build property

package quorum

import (
	"context"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/munin/pkg/audit"
	"github.com/Mindburn-Labs/munin/pkg/identity"
)

// orderedGroups shuffles the critical groups by the given sort keys.
func orderedGroups(keys []int) []string {
	groups := DefaultPolicy().CriticalGroups
	idx := []int{0, 1, 2, 3}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = groups[j]
	}
	return out
}

func TestQuorumSoundness_Property(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	pkt := sealedPacket(t, "power_cascade")

	// signs the first n groups of a random order and reports whether the
	// engine claims authorization at any point
	run := func(keys []int, n int, skip string) bool {
		ctx := context.Background()
		l, err := audit.Open(ctx, audit.NewMemoryBackend())
		if err != nil {
			return true
		}
		e, err := NewEngine(DefaultPolicy(), l, identity.OpaqueVerifier{})
		if err != nil {
			return true
		}
		if _, err := e.Submit(ctx, pkt.Clone()); err != nil {
			return true
		}
		signed := 0
		for _, g := range orderedGroups(keys) {
			if signed == n {
				break
			}
			if g == skip {
				continue
			}
			ok, err := e.AddSignature(ctx, pkt.ID, g, sig(g), fullProof())
			if err != nil || ok {
				return true
			}
			signed++
		}
		got, err := e.Get(pkt.ID)
		return err != nil || got.Status == "authorized"
	}

	properties.Property("threshold-1 signatures never authorize", prop.ForAll(
		func(keys []int, n int) bool {
			return !run(keys, n, "")
		},
		gen.SliceOfN(4, gen.IntRange(0, 1000)),
		gen.IntRange(0, DefaultPolicy().CriticalThreshold-1),
	))

	properties.Property("without the mandatory group nothing authorizes", prop.ForAll(
		func(keys []int) bool {
			return !run(keys, 3, "security")
		},
		gen.SliceOfN(4, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
