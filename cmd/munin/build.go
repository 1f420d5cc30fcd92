package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/config"
	"github.com/Mindburn-Labs/munin/pkg/handshake"
)

func (a *app) buildCmd() *cobra.Command {
	var (
		incidentRef string
		graphRef    string
		evidenceRef string
		prev        string
		archive     bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build and seal a handshake packet from an incident",
		Long: `Build a handshake packet from incident, graph and evidence documents
and seal it onto the packet chain after --prev. Each document is a JSON file
or a sha256 artifact reference.

Examples:
  munin build --incident inc.json --graph grid.json --evidence ev.json
  munin build --incident sha256:... --graph grid.json --evidence ev.json --archive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			incDoc, err := a.document(ctx, incidentRef)
			if err != nil {
				return err
			}
			inc, err := incDoc.Incident(ctx)
			if err != nil {
				return err
			}
			graphDoc, err := a.document(ctx, graphRef)
			if err != nil {
				return err
			}
			g, err := graphDoc.Graph(ctx)
			if err != nil {
				return err
			}
			evDoc, err := a.document(ctx, evidenceRef)
			if err != nil {
				return err
			}
			ev, err := evDoc.Evidence(ctx)
			if err != nil {
				return err
			}

			playbook, err := config.LoadPlaybook(a.cfg.PlaybookPath)
			if err != nil {
				return err
			}
			p, err := handshake.NewBuilder(playbook).WithModelVersion(a.cfg.ModelVersion).Build(inc, g, ev)
			if err != nil {
				return err
			}
			if err := handshake.NewChain(prev).Seal(p); err != nil {
				return err
			}

			if archive {
				store, err := artifacts.Open(ctx, a.cfg.Artifacts)
				if err != nil {
					return fmt.Errorf("artifacts: %w", err)
				}
				ref, err := artifacts.PutJSON(ctx, store, p)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.stderr, "archived %s as %s\n", p.ID, ref)
			}
			return a.writeJSON(p)
		},
	}
	f := cmd.Flags()
	f.StringVar(&incidentRef, "incident", "", "Incident document (REQUIRED)")
	f.StringVar(&graphRef, "graph", "", "Graph document (REQUIRED)")
	f.StringVar(&evidenceRef, "evidence", "", "Evidence document (REQUIRED)")
	f.StringVar(&prev, "prev", "", "Receipt hash of the previously sealed packet")
	f.BoolVar(&archive, "archive", false, "Store the sealed packet in the artifact store")
	for _, name := range []string{"incident", "graph", "evidence"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
