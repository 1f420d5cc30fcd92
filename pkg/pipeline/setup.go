package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/audit"
	"github.com/Mindburn-Labs/munin/pkg/cascade"
	"github.com/Mindburn-Labs/munin/pkg/config"
	"github.com/Mindburn-Labs/munin/pkg/handshake"
	"github.com/Mindburn-Labs/munin/pkg/identity"
	"github.com/Mindburn-Labs/munin/pkg/observability"
	"github.com/Mindburn-Labs/munin/pkg/priority"
	"github.com/Mindburn-Labs/munin/pkg/quorum"
)

// ChainHead recovers the packet chain head from the last create event in
// the ledger, so that a restarted service keeps extending the same chain.
func ChainHead(l *audit.Ledger) string {
	last := l.Query(audit.Filter{Action: audit.ActionCreate, Limit: 1})
	if len(last) == 0 {
		return ""
	}
	return last[0].Metadata["receiptHash"]
}

// FromConfig opens every backend named in cfg and assembles a Service. The
// returned close function releases the ledger, limiter and telemetry.
func FromConfig(ctx context.Context, cfg *config.Config) (*Service, func(context.Context) error, error) {
	var closers []func(context.Context) error
	closeAll := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Service, func(context.Context) error, error) {
		_ = closeAll(ctx)
		return nil, nil, err
	}

	telemetry, err := observability.New(ctx, cfg.Observability)
	if err != nil {
		return fail(fmt.Errorf("observability: %w", err))
	}
	closers = append(closers, telemetry.Shutdown)

	exprs, err := cfg.Rules()
	if err != nil {
		return fail(err)
	}
	rules, err := priority.NewFlagRules(exprs)
	if err != nil {
		return fail(err)
	}
	sim, err := cascade.New(cfg.Cascade, cascade.WithFlagRules(rules))
	if err != nil {
		return fail(err)
	}

	playbook, err := config.LoadPlaybook(cfg.PlaybookPath)
	if err != nil {
		return fail(err)
	}
	builder := handshake.NewBuilder(playbook).WithModelVersion(cfg.ModelVersion)

	backend, err := audit.OpenBackend(ctx, cfg.Ledger)
	if err != nil {
		return fail(fmt.Errorf("ledger: %w", err))
	}
	ledger, err := audit.Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return fail(fmt.Errorf("ledger: %w", err))
	}
	closers = append(closers, func(context.Context) error { return ledger.Close() })

	verifier, err := signatureVerifier(cfg.Signers)
	if err != nil {
		return fail(err)
	}
	engine, err := quorum.NewEngine(cfg.Quorum.Policy, ledger, verifier)
	if err != nil {
		return fail(err)
	}

	if cfg.Quorum.RedisAddr != "" {
		rl := quorum.NewRedisLimiter(cfg.Quorum.RedisAddr, cfg.Quorum.LimiterPolicy)
		closers = append(closers, func(context.Context) error { return rl.Close() })
		if err := rl.Ping(ctx); err != nil {
			slog.Default().Warn("redis signer limiter unreachable, submissions will fail closed", "addr", cfg.Quorum.RedisAddr, "error", err)
		}
		engine.WithLimiter(rl)
	} else {
		engine.WithLimiter(quorum.NewLocalLimiter(cfg.Quorum.LimiterPolicy))
	}

	store, err := artifacts.Open(ctx, cfg.Artifacts)
	if err != nil {
		return fail(fmt.Errorf("artifacts: %w", err))
	}

	svc, err := New(Services{
		Registry:  priority.NewRegistry(rules),
		Simulator: sim,
		Builder:   builder,
		Chain:     handshake.NewChain(ChainHead(ledger)),
		Engine:    engine,
		Ledger:    ledger,
		Store:     store,
		Telemetry: telemetry,
	})
	if err != nil {
		return fail(err)
	}
	return svc, closeAll, nil
}

func signatureVerifier(cfg config.SignersConfig) (identity.SignatureVerifier, error) {
	switch cfg.Verifier {
	case "", "opaque":
		return identity.OpaqueVerifier{}, nil
	case "hmac":
		return identity.NewHMACVerifier([]byte(cfg.HMACSecret))
	default:
		return nil, fmt.Errorf("unsupported signature verifier %q", cfg.Verifier)
	}
}
