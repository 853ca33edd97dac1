package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbd888/pulseguard/internal/features"
)

func TestLinear_ReferenceWeights(t *testing.T) {
	l := NewLinear()
	scores := l.ScoreBatch([]features.Vector{
		{features.KeyValue: 500, features.KeyGas: 1_500_000, features.KeyIsContractCreation: 1, features.KeyRecency: 0.5},
		{},
	})

	// 0.4*0.5 + 0.3*0.5 + 0.2*1 + 0.1*0.5
	assert.InDelta(t, 0.6, scores[0], 1e-12)
	assert.Equal(t, 0.0, scores[1])
}

func TestLinear_Saturates(t *testing.T) {
	scores := NewLinear().ScoreBatch([]features.Vector{
		{features.KeyValue: 1e12, features.KeyGas: 1e12, features.KeyIsContractCreation: 1, features.KeyRecency: 1},
	})
	assert.Equal(t, 1.0, scores[0])
}

func TestLinear_OutputRange(t *testing.T) {
	l := &Linear{WeightValue: 2, WeightGas: -3}
	scores := l.ScoreBatch([]features.Vector{
		{features.KeyValue: 1000},
		{features.KeyGas: 3_000_000},
		{features.KeyValue: -50},
	})
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestLinear_EmptyBatch(t *testing.T) {
	assert.Empty(t, NewLinear().ScoreBatch(nil))
}

func TestLinear_ImplementsScorer(t *testing.T) {
	var s Scorer = NewLinear()
	assert.Equal(t, "linear-v1", s.Name())
}
