// Package selector implements C6: choosing a provider (and a failover order) from
// phone prefix, breaker health and amount limits, with a weighted scoring tiebreak
// ported from the source's ProviderSelector._select_optimal_provider (fee/speed/
// priority/health weighting) for when more than one adapter survives the filters.
package selector

import (
	"sort"

	"go.uber.org/zap"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/breaker"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/provider"
)

// ScoreWeights configures the tiebreak, mirroring the 0.3/0.3/0.2/0.2 split in the source.
type ScoreWeights struct {
	Fee      float64
	Speed    float64
	Priority float64
	Health   float64
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Fee: 0.3, Speed: 0.3, Priority: 0.2, Health: 0.2}
}

// ProviderProfile is the per-provider scoring metadata, analogous to the source's
// provider_config dict (fee_percentage, processing_time, priority).
type ProviderProfile struct {
	FeePercentage  float64
	ProcessingTime int // seconds
	Priority       int // lower is better, matches the source
}

// Selector implements §4.9's five-step algorithm plus the additive scoring tiebreak.
type Selector struct {
	registry *provider.Registry
	breakers *breaker.Manager
	profiles map[string]ProviderProfile
	weights  ScoreWeights
	logger   *zap.Logger
}

func New(registry *provider.Registry, breakers *breaker.Manager, profiles map[string]ProviderProfile, logger *zap.Logger) *Selector {
	return &Selector{
		registry: registry,
		breakers: breakers,
		profiles: profiles,
		weights:  DefaultScoreWeights(),
		logger:   logger,
	}
}

// Select implements §4.9: returns the ordered adapter list (head = primary) and whether
// the selection fell back to degraded (cross-network) mode.
func (s *Selector) Select(phone string, amount int64) ([]provider.Adapter, bool, error) {
	eligible, crossNetwork := s.eligible(phone, amount)
	if len(eligible) == 0 {
		return nil, false, errs.New(errs.NoEligibleProvider, nil)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return s.score(eligible[i], amount) > s.score(eligible[j], amount)
	})

	return eligible, crossNetwork, nil
}

// eligible runs steps 1-4 of §4.9. If phone-matched+healthy+in-limit adapters exist,
// returns them (crossNetwork=false); otherwise falls back to any healthy, in-limit
// adapter regardless of phone prefix (step 4, degraded mode).
func (s *Selector) eligible(phone string, amount int64) ([]provider.Adapter, bool) {
	states := s.breakers.States()

	var phoneMatched, anyHealthy []provider.Adapter
	for _, a := range s.registry.All() {
		if states[a.ProviderTag()] == breaker.Open {
			continue
		}
		if a.Limits().Max < amount {
			continue
		}
		anyHealthy = append(anyHealthy, a)
		if a.SupportsPhone(phone) {
			phoneMatched = append(phoneMatched, a)
		}
	}

	if len(phoneMatched) > 0 {
		return phoneMatched, false
	}
	return anyHealthy, len(anyHealthy) > 0
}

// score mirrors _select_optimal_provider's weighted combination; unknown providers
// (no profile configured) score using neutral defaults so they remain selectable, just
// never preferred over a profiled peer. The health term reads the breaker manager's live
// consecutive-failure count directly (the same collaborator eligible() already queries
// for States()) rather than a static profile field, matching provider_selector.py's
// health_score = 100 - (health_status["error_count"] * 10).
func (s *Selector) score(a provider.Adapter, amount int64) float64 {
	p, ok := s.profiles[a.ProviderTag()]
	if !ok {
		p = ProviderProfile{FeePercentage: 0.02, ProcessingTime: 60, Priority: 99}
	}

	feeAmount := float64(amount) * p.FeePercentage
	feeScore := 100 - feeAmount
	speedScore := 100 - float64(p.ProcessingTime)
	priorityScore := 100 - float64(p.Priority*10)
	healthScore := 100 - float64(s.breakers.ConsecutiveFailures(a.ProviderTag())*10)

	return feeScore*s.weights.Fee + speedScore*s.weights.Speed +
		priorityScore*s.weights.Priority + healthScore*s.weights.Health
}
