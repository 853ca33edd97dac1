// Package classifier provides pluggable supervised scorers over feature vectors.
package classifier

import (
	"math"

	"github.com/mbd888/pulseguard/internal/features"
)

// Scorer assigns each feature vector a risk probability in [0,1].
// Implementations must return exactly one score per input, in order.
type Scorer interface {
	Name() string
	ScoreBatch(vectors []features.Vector) []float64
}

// Reference model normalization constants.
const (
	ValueScale = 1000.0
	GasScale   = 3_000_000.0
)

// Linear is the reference scorer used when no trained model is loaded:
// a fixed weighted sum of normalized value, gas, contract-creation flag
// and recency.
type Linear struct {
	WeightValue    float64
	WeightGas      float64
	WeightContract float64
	WeightRecency  float64
}

// NewLinear returns the reference linear scorer.
func NewLinear() *Linear {
	return &Linear{
		WeightValue:    0.4,
		WeightGas:      0.3,
		WeightContract: 0.2,
		WeightRecency:  0.1,
	}
}

// Name implements Scorer.
func (l *Linear) Name() string { return "linear-v1" }

// ScoreBatch implements Scorer.
func (l *Linear) ScoreBatch(vectors []features.Vector) []float64 {
	out := make([]float64, len(vectors))
	for i, v := range vectors {
		s := l.WeightValue*normalize(v.Get(features.KeyValue), ValueScale) +
			l.WeightGas*normalize(v.Get(features.KeyGas), GasScale) +
			l.WeightContract*clamp01(v.Get(features.KeyIsContractCreation)) +
			l.WeightRecency*clamp01(v.Get(features.KeyRecency))
		out[i] = clamp01(s)
	}
	return out
}

func normalize(x, scale float64) float64 {
	return clamp01(x / scale)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
