package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/munin/pkg/cascade"
	"github.com/Mindburn-Labs/munin/pkg/priority"
)

var bandNames = map[priority.Band]string{
	priority.BandOrdinary: "ordinary",
	priority.BandMid:      "mid",
	priority.BandTop:      "top",
}

func (a *app) simulateCmd() *cobra.Command {
	var (
		seeds    []string
		start    string
		severity string
		level    string
	)
	cmd := &cobra.Command{
		Use:   "simulate <graph>",
		Short: "Predict how a failure propagates through a dependency graph",
		Long: `Run a cascade simulation from one or more seed assets.

The graph is a JSON file or a sha256 artifact reference.

Examples:
  munin simulate grid.json --seed substation-4
  munin simulate grid.json --seed substation-4 --level war --severity high -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, err := a.document(ctx, args[0])
			if err != nil {
				return err
			}
			g, err := doc.Graph(ctx)
			if err != nil {
				return err
			}
			lvl, err := priority.ParseLevel(level)
			if err != nil {
				return err
			}
			ts := time.Now().UTC()
			if start != "" {
				if ts, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}

			rules, err := a.flagRules()
			if err != nil {
				return err
			}
			sim, err := cascade.New(a.cfg.Cascade, cascade.WithFlagRules(rules))
			if err != nil {
				return err
			}
			cls, err := priority.NewRegistry(rules).ClassifyGraph(g)
			if err != nil {
				return err
			}
			req := cascade.Request{
				Graph:           g,
				Classifications: cls,
				Seeds:           seeds,
				Emergency:       priority.EmergencyContext{Level: lvl},
				Severity:        cascade.Severity(severity),
				Start:           ts,
			}
			tl, err := sim.Simulate(ctx, req)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.writeJSON(tl)
			}
			printTimeline(a.stdout, req, tl)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&seeds, "seed", nil, "Seed asset id (repeatable)")
	f.StringVar(&start, "start", "", "Start time in RFC 3339 (default now)")
	f.StringVar(&severity, "severity", string(cascade.SeverityMedium), "Incident severity: low, medium or high")
	f.StringVar(&level, "level", priority.LevelPeacetime.String(), "Emergency level")
	_ = cmd.MarkFlagRequired("seed")
	return cmd
}

func printTimeline(w io.Writer, req cascade.Request, tl *cascade.Timeline) {
	_, _ = color.New(color.Bold).Fprintf(w, "Cascade from %s (%s, severity %s)\n",
		strings.Join(req.Seeds, ","), req.Emergency.Level, req.Severity)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STEP\tTIME\tCONFIDENCE\tIMPACTED")
	for i, e := range tl.Entries {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n",
			i, e.Timestamp.Format(time.RFC3339), e.Confidence, strings.Join(e.ImpactedNodeIDs, ","))
	}
	_ = tw.Flush()

	for _, b := range tl.Blocked {
		_, _ = fmt.Fprintf(w, "%s edge %s into %s at iteration %d\n",
			color.YellowString("blocked"), b.EdgeID, b.Target, b.Iteration)
	}

	state := color.GreenString(string(tl.State))
	if tl.State == cascade.StateCapped {
		state = color.RedString(string(tl.State))
	}
	_, _ = fmt.Fprintf(w, "state: %s after %d iterations\n", state, tl.Iterations)
}

func (a *app) classifyCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "classify <graph>",
		Short: "Show the priority tier of every asset in a graph",
		Long: `Classify every node of a graph and show how the given emergency level
adjusts its tier, whether it is preserved, and the load shedding order.

Examples:
  munin classify grid.json
  munin classify grid.json --level war`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, err := a.document(ctx, args[0])
			if err != nil {
				return err
			}
			g, err := doc.Graph(ctx)
			if err != nil {
				return err
			}
			lvl, err := priority.ParseLevel(level)
			if err != nil {
				return err
			}
			rules, err := a.flagRules()
			if err != nil {
				return err
			}
			cls, err := priority.NewRegistry(rules).ClassifyGraph(g)
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(cls))
			for id := range cls {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			if a.jsonOutput() {
				type row struct {
					priority.AssetClassification
					Adjustment priority.Adjustment `json:"adjustment"`
				}
				rows := make([]row, 0, len(ids))
				for _, id := range ids {
					rows = append(rows, row{cls[id], priority.Adjust(cls[id], lvl)})
				}
				return a.writeJSON(map[string]any{"level": lvl, "assets": rows, "shedPlan": cls.ShedPlan()})
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NODE\tSECTOR\tTIER\tADJUSTED\tBAND\tPRESERVE")
			for _, id := range ids {
				c := cls[id]
				adj := priority.Adjust(c, lvl)
				preserve := "no"
				if adj.ShouldPreserve {
					preserve = color.GreenString("yes")
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					id, c.Sector, c.BaseTier, adj.Tier, bandNames[adj.Band()], preserve)
			}
			_ = tw.Flush()
			if plan := cls.ShedPlan(); len(plan) > 0 {
				_, _ = fmt.Fprintf(a.stdout, "shed order: %s\n", strings.Join(plan, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", priority.LevelPeacetime.String(), "Emergency level")
	return cmd
}
