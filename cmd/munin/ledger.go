package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/audit"
)

func (a *app) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and export the audit ledger",
	}
	cmd.AddCommand(a.ledgerVerifyCmd(), a.ledgerQueryCmd(), a.ledgerExportCmd(), a.ledgerCheckBundleCmd())
	return cmd
}

func (a *app) openLedger(ctx context.Context) (*audit.Ledger, error) {
	backend, err := audit.OpenBackend(ctx, a.cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	l, err := audit.Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return l, nil
}

func (a *app) ledgerVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute every hash and check chain linkage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close() //nolint:errcheck // read-only

			res, err := l.VerifyChain(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				if err := a.writeJSON(res); err != nil {
					return err
				}
			} else if res.Valid {
				_, _ = fmt.Fprintf(a.stdout, "%s %d entries, head %s\n", color.GreenString("VALID"), res.EntriesChecked, l.Head())
			} else {
				_, _ = fmt.Fprintf(a.stdout, "%s first invalid sequence %d\n", color.RedString("INVALID"), res.FirstInvalidSequence)
				for _, e := range res.Errors {
					_, _ = fmt.Fprintf(a.stdout, "  %s\n", e)
				}
			}
			if !res.Valid {
				return &exitError{code: 1, msg: "audit chain verification failed"}
			}
			return nil
		},
	}
}

func filterFlags(cmd *cobra.Command, f *audit.Filter) {
	cmd.Flags().StringVar(&f.PacketID, "packet", "", "Only entries for this packet id")
	cmd.Flags().StringVar((*string)(&f.Action), "action", "", "Only entries with this action")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "Keep at most this many newest entries")
}

func (a *app) ledgerQueryCmd() *cobra.Command {
	var filter audit.Filter
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List ledger entries, newest first",
		Long: `List ledger entries, newest first.

Examples:
  munin ledger query --packet hp-1f2e --limit 10
  munin ledger query --action authorize -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close() //nolint:errcheck // read-only

			entries := l.Query(filter)
			if a.jsonOutput() {
				return a.writeJSON(entries)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "SEQ\tTIME\tACTION\tACTOR\tPACKET")
			for _, e := range entries {
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					e.SequenceNumber, e.Timestamp.Format(time.RFC3339), e.Action, e.Actor, e.PacketID)
			}
			return tw.Flush()
		},
	}
	filterFlags(cmd, &filter)
	return cmd
}

func (a *app) ledgerExportCmd() *cobra.Command {
	var (
		filter  audit.Filter
		out     string
		archive bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export entries as a self-verifying bundle",
		Long: `Export matching entries in sequence order as a bundle that can be
verified offline with "munin ledger check-bundle".

Examples:
  munin ledger export --packet hp-1f2e --out bundle.json
  munin ledger export --archive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer l.Close() //nolint:errcheck // read-only

			if archive {
				store, err := artifacts.Open(ctx, a.cfg.Artifacts)
				if err != nil {
					return fmt.Errorf("artifacts: %w", err)
				}
				ref, err := l.Archive(ctx, store)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(a.stdout, ref)
				return nil
			}

			b, err := l.ExportBundle(filter)
			if err != nil {
				return err
			}
			if out == "" {
				return a.writeJSON(b)
			}
			data, err := json.MarshalIndent(b, "", "  ")
			if err != nil {
				return err
			}
			//nolint:gosec // G306: bundles are shared with auditors
			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("write bundle: %w", err)
			}
			_, _ = fmt.Fprintf(a.stdout, "exported %d entries (%d..%d) to %s\n", b.EntryCount, b.StartSeq, b.EndSeq, out)
			return nil
		},
	}
	filterFlags(cmd, &filter)
	cmd.Flags().StringVar(&out, "out", "", "Write the bundle to this file instead of stdout")
	cmd.Flags().BoolVar(&archive, "archive", false, "Archive the full ledger in the artifact store")
	return cmd
}

func (a *app) ledgerCheckBundleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-bundle <file>",
		Short: "Verify an exported bundle offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var b audit.Bundle
			if err := json.Unmarshal(data, &b); err != nil {
				return fmt.Errorf("decode bundle: %w", err)
			}
			if err := audit.VerifyBundle(&b); err != nil {
				return &exitError{code: 1, msg: err.Error()}
			}
			_, _ = fmt.Fprintf(a.stdout, "%s bundle %s, %d entries\n", color.GreenString("VALID"), b.BundleID, b.EntryCount)
			return nil
		},
	}
}
