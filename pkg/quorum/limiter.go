package quorum

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SignerLimiter throttles signature submissions per signer so that proof
// tokens cannot be brute forced.
type SignerLimiter interface {
	Allow(ctx context.Context, signerID string) (bool, error)
}

// LimiterPolicy is the submission budget of one signer.
type LimiterPolicy struct {
	PerMinute int `mapstructure:"signer_rate_per_minute"`
	Burst     int `mapstructure:"signer_burst"`
}

func (p LimiterPolicy) perSecond() float64 {
	r := float64(p.PerMinute) / 60.0
	if r <= 0 {
		r = 1.0
	}
	return r
}

func (p LimiterPolicy) burst() int {
	if p.Burst < 1 {
		return 1
	}
	return p.Burst
}

// LocalLimiter keeps one token bucket per signer in process memory.
type LocalLimiter struct {
	mu       sync.Mutex
	policy   LimiterPolicy
	limiters map[string]*rate.Limiter
	clock    func() time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(p LimiterPolicy) *LocalLimiter {
	return &LocalLimiter{
		policy:   p,
		limiters: make(map[string]*rate.Limiter),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *LocalLimiter) WithClock(clock func() time.Time) *LocalLimiter {
	l.clock = clock
	return l
}

// Allow implements SignerLimiter.
func (l *LocalLimiter) Allow(_ context.Context, signerID string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[signerID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.policy.perSecond()), l.policy.burst())
		l.limiters[signerID] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(l.clock(), 1), nil
}
