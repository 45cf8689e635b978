// Package fraud defines the external fraud-scoring collaborator of §6.2. The core
// treats the model itself as opaque (§1 Non-goals); this package provides only the
// contract and one illustrative threshold-based implementation callers may swap.
package fraud

import "context"

// RiskLevel mirrors models.RiskLevel but kept independent so this package has no
// dependency on the store's schema.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Features is the structured record derived from the transaction, per §6.2.
type Features struct {
	UserID         string
	Amount         int64
	Currency       string
	RecipientPhone string
}

// Score is the §6.2 scorer output.
type Score struct {
	RiskScore  float64
	RiskLevel  RiskLevel
	IsFraud    bool
	Confidence float64
	Reasons    []string
}

// Scorer is the opaque external fraud collaborator. Implementations may call out to an
// ML service, a rules engine, or (the illustrative default) simple thresholds.
type Scorer interface {
	Score(ctx context.Context, f Features) (Score, error)
}

// ThresholdScorer is one illustrative implementation: flags amounts at or above
// HighRiskAmount as high risk and at or above CriticalRiskAmount as critical. Per §9's explicit warning, this does NOT port the source's
// hardcoded ML-conflated thresholds; it is a standalone, caller-configured example.
type ThresholdScorer struct {
	HighRiskAmount     int64
	CriticalRiskAmount int64
}

func (t ThresholdScorer) Score(ctx context.Context, f Features) (Score, error) {
	switch {
	case f.Amount >= t.CriticalRiskAmount:
		return Score{RiskScore: 0.95, RiskLevel: RiskCritical, IsFraud: true, Confidence: 0.6,
			Reasons: []string{"amount_exceeds_critical_threshold"}}, nil
	case f.Amount >= t.HighRiskAmount:
		return Score{RiskScore: 0.7, RiskLevel: RiskHigh, IsFraud: true, Confidence: 0.5,
			Reasons: []string{"amount_exceeds_high_threshold"}}, nil
	default:
		return Score{RiskScore: 0.05, RiskLevel: RiskLow, IsFraud: false, Confidence: 0.5}, nil
	}
}
