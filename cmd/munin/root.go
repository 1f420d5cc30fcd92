package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/config"
	"github.com/Mindburn-Labs/munin/pkg/priority"
	"github.com/Mindburn-Labs/munin/pkg/sources"
)

// app holds state shared by every command.
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	logLevel   string
	output     string
	cfg        *config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "munin",
		Short: "Cascade simulation and quorum authorization for critical infrastructure",
		Long: `munin predicts how a failure propagates through an infrastructure
dependency graph, turns the prediction into a sealed response packet, and
gathers the multi-agency signatures required before the response may run.

Every lifecycle event is recorded in a hash-chained audit ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.load()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", os.Getenv("MUNIN_CONFIG"), "Path to a YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	pf.StringVarP(&a.output, "output", "o", "table", "Output format: table or json")

	root.AddCommand(
		a.simulateCmd(),
		a.classifyCmd(),
		a.buildCmd(),
		a.serveCmd(),
		a.ledgerCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := newLogger(a.stderr, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg = cfg
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("%w: log.level %q", config.ErrInvalidConfig, lc.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// document resolves a file path or a sha256 artifact reference. The
// artifact store is only opened for artifact references.
func (a *app) document(ctx context.Context, ref string) (sources.Document, error) {
	var store artifacts.Store
	if strings.HasPrefix(ref, "sha256:") {
		s, err := artifacts.Open(ctx, a.cfg.Artifacts)
		if err != nil {
			return nil, fmt.Errorf("artifacts: %w", err)
		}
		store = s
	}
	return sources.Resolve(ref, store)
}

func (a *app) flagRules() (*priority.FlagRules, error) {
	exprs, err := a.cfg.Rules()
	if err != nil {
		return nil, err
	}
	return priority.NewFlagRules(exprs)
}

func (a *app) jsonOutput() bool {
	return a.output == "json"
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
