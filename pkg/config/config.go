// Package config loads the service configuration from defaults, an optional
// YAML file and MUNIN_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/audit"
	"github.com/Mindburn-Labs/munin/pkg/cascade"
	"github.com/Mindburn-Labs/munin/pkg/observability"
	"github.com/Mindburn-Labs/munin/pkg/priority"
	"github.com/Mindburn-Labs/munin/pkg/quorum"
)

// EnvPrefix prefixes every environment override, e.g. MUNIN_LEDGER_BACKEND.
const EnvPrefix = "MUNIN"

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// RequestsPerSecond limits each client IP.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// QuorumConfig is the signature policy plus submission throttling.
type QuorumConfig struct {
	quorum.Policy        `mapstructure:",squash"`
	quorum.LimiterPolicy `mapstructure:",squash"`
	// RedisAddr switches the signer limiter to the shared Redis bucket.
	RedisAddr string `mapstructure:"redis_addr"`
}

// SignersConfig selects how signature proof tokens are verified.
type SignersConfig struct {
	// Verifier is opaque or hmac.
	Verifier   string `mapstructure:"verifier"`
	HMACSecret string `mapstructure:"hmac_secret"`
}

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig         `mapstructure:"server"`
	Log           LogConfig            `mapstructure:"log"`
	Ledger        audit.BackendConfig  `mapstructure:"ledger"`
	Artifacts     artifacts.Config     `mapstructure:"artifacts"`
	Cascade       cascade.Params       `mapstructure:"cascade"`
	Quorum        QuorumConfig         `mapstructure:"quorum"`
	Signers       SignersConfig        `mapstructure:"signers"`
	Observability observability.Config `mapstructure:"observability"`
	// FlagRules overrides individual CEL service-flag rules by flag name.
	FlagRules    map[string]string `mapstructure:"flag_rules"`
	PlaybookPath string            `mapstructure:"playbook_path"`
	ModelVersion string            `mapstructure:"model_version"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.requests_per_second", 20.0)
	v.SetDefault("server.burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "data/audit.jsonl")
	v.SetDefault("ledger.dsn", "")

	v.SetDefault("artifacts.type", string(artifacts.StoreTypeFS))
	v.SetDefault("artifacts.dir", "data/artifacts")
	v.SetDefault("artifacts.s3.bucket", "")
	v.SetDefault("artifacts.s3.region", "")
	v.SetDefault("artifacts.s3.endpoint", "")
	v.SetDefault("artifacts.s3.prefix", "")
	v.SetDefault("artifacts.gcs.bucket", "")
	v.SetDefault("artifacts.gcs.prefix", "")

	p := cascade.DefaultParams()
	v.SetDefault("cascade.seed_confidence", p.SeedConfidence)
	v.SetDefault("cascade.default_decay", p.DefaultDecay)
	v.SetDefault("cascade.slowed_decay", p.SlowedDecay)
	v.SetDefault("cascade.iteration_decay", p.IterationDecay)
	v.SetDefault("cascade.confidence_floor", p.ConfidenceFloor)
	v.SetDefault("cascade.max_iterations", p.MaxIterations)
	bySeverity := map[string]any{}
	for s, n := range p.MaxIterationsBySeverity {
		bySeverity[string(s)] = n
	}
	v.SetDefault("cascade.max_iterations_by_severity", bySeverity)
	v.SetDefault("cascade.default_step_seconds", p.DefaultStepSeconds)

	q := quorum.DefaultPolicy()
	factors := make([]string, len(q.RequiredFactors))
	for i, f := range q.RequiredFactors {
		factors[i] = string(f)
	}
	v.SetDefault("quorum.high_consequence_actions", q.HighConsequenceActions)
	v.SetDefault("quorum.critical_groups", q.CriticalGroups)
	v.SetDefault("quorum.critical_threshold", q.CriticalThreshold)
	v.SetDefault("quorum.standard_groups", q.StandardGroups)
	v.SetDefault("quorum.standard_threshold", q.StandardThreshold)
	v.SetDefault("quorum.mandatory_groups", q.MandatoryGroups)
	v.SetDefault("quorum.required_factors", factors)
	v.SetDefault("quorum.high_scope_nodes", q.HighScopeNodes)
	v.SetDefault("quorum.signer_rate_per_minute", 6)
	v.SetDefault("quorum.signer_burst", 3)
	v.SetDefault("quorum.redis_addr", "")

	v.SetDefault("signers.verifier", "opaque")
	v.SetDefault("signers.hmac_secret", "")

	o := observability.DefaultConfig()
	v.SetDefault("observability.enabled", o.Enabled)
	v.SetDefault("observability.service_name", o.ServiceName)
	v.SetDefault("observability.service_version", o.ServiceVersion)
	v.SetDefault("observability.environment", o.Environment)
	v.SetDefault("observability.otlp_endpoint", o.OTLPEndpoint)
	v.SetDefault("observability.sample_rate", o.SampleRate)
	v.SetDefault("observability.batch_timeout", o.BatchTimeout)
	v.SetDefault("observability.insecure", o.Insecure)

	v.SetDefault("flag_rules", map[string]string{})
	v.SetDefault("playbook_path", "")
	v.SetDefault("model_version", "unversioned")
}

// Load reads configuration. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and names the offending key.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	}
	if c.Server.RequestsPerSecond <= 0 || c.Server.Burst < 1 {
		return fmt.Errorf("%w: server.requests_per_second and server.burst must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	if err := c.Cascade.Validate(); err != nil {
		return fmt.Errorf("%w: cascade: %w", ErrInvalidConfig, err)
	}
	if err := c.Quorum.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: quorum: %w", ErrInvalidConfig, err)
	}
	if c.Quorum.PerMinute < 1 {
		return fmt.Errorf("%w: quorum.signer_rate_per_minute must be positive", ErrInvalidConfig)
	}
	switch c.Signers.Verifier {
	case "opaque":
	case "hmac":
		if len(c.Signers.HMACSecret) < 32 {
			return fmt.Errorf("%w: signers.hmac_secret must be at least 32 bytes", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: signers.verifier %q", ErrInvalidConfig, c.Signers.Verifier)
	}
	rules, err := c.Rules()
	if err != nil {
		return fmt.Errorf("%w: flag_rules: %w", ErrInvalidConfig, err)
	}
	if _, err := priority.NewFlagRules(rules); err != nil {
		return fmt.Errorf("%w: flag_rules: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Rules returns the default flag rules with configured overrides applied.
func (c *Config) Rules() (map[string]string, error) {
	rules := priority.DefaultRules()
	for flag, expr := range c.FlagRules {
		if _, ok := rules[flag]; !ok {
			return nil, fmt.Errorf("unknown flag %q", flag)
		}
		rules[flag] = expr
	}
	return rules, nil
}
