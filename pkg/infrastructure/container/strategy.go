package container

import (
	"context"
	"sync"
	"time"
)

// Strategy identifies one of two interchangeable implementation paths for an
// external capability.
type Strategy string

const (
	// StrategyAPI is the native Engine API path for image operations.
	StrategyAPI Strategy = "api"
	// StrategyCLI is the command-line fallback path for image operations.
	StrategyCLI Strategy = "cli"
	// StrategyTrivy is the primary vulnerability scanner.
	StrategyTrivy Strategy = "trivy"
	// StrategyGrype is the fallback vulnerability scanner.
	StrategyGrype Strategy = "grype"
)

// probeFunc checks whether a strategy is currently usable.
type probeFunc func(ctx context.Context) error

// strategyState tracks which of a pair of strategies to try first and which
// are available. Availability comes from explicit, cached probes; operation
// failures never change it. Preference only flips after an operation succeeds
// on the non-preferred strategy.
type strategyState struct {
	mu            sync.Mutex
	primary       Strategy
	secondary     Strategy
	preferred     Strategy
	available     map[Strategy]bool
	probes        map[Strategy]probeFunc
	lastProbe     time.Time
	probeInterval time.Duration
}

func newStrategyState(primary, secondary Strategy, probes map[Strategy]probeFunc, probeInterval time.Duration) *strategyState {
	if probeInterval <= 0 {
		probeInterval = 5 * time.Minute
	}
	return &strategyState{
		primary:       primary,
		secondary:     secondary,
		preferred:     primary,
		available:     map[Strategy]bool{primary: true, secondary: true},
		probes:        probes,
		probeInterval: probeInterval,
	}
}

// Preferred returns the strategy to attempt first.
func (s *strategyState) Preferred() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferred
}

// Alternate returns the other strategy of the pair.
func (s *strategyState) Alternate(strategy Strategy) Strategy {
	if strategy == s.primary {
		return s.secondary
	}
	return s.primary
}

// Available reports whether a strategy passed its last probe.
func (s *strategyState) Available(strategy Strategy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available[strategy]
}

// RecordSuccess flips preference to the strategy that succeeded, if it is not
// already preferred. A failure on the preferred strategy never flips
// preference by itself; that only triggers a same-call fallback attempt.
func (s *strategyState) RecordSuccess(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preferred != strategy {
		s.preferred = strategy
	}
}

// Refresh re-runs the availability probes if the cached result is stale.
// force bypasses the cache.
func (s *strategyState) Refresh(ctx context.Context, force bool) {
	s.mu.Lock()
	if !force && time.Since(s.lastProbe) < s.probeInterval {
		s.mu.Unlock()
		return
	}
	probes := s.probes
	s.lastProbe = time.Now()
	s.mu.Unlock()

	results := make(map[Strategy]bool, len(probes))
	for strategy, probe := range probes {
		results[strategy] = probe(ctx) == nil
	}

	s.mu.Lock()
	for strategy, ok := range results {
		s.available[strategy] = ok
	}
	s.mu.Unlock()
}
