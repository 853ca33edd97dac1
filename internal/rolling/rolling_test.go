package rolling

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/pulseguard/internal/features"
)

func vec(value, gas float64) features.Vector {
	return features.Vector{features.KeyValue: value, features.KeyGas: gas}
}

func TestScore_EmptyBufferIsZero(t *testing.T) {
	p := New(10)
	for _, v := range []features.Vector{vec(0, 0), vec(1e9, 5), {}} {
		s, err := p.Score(context.Background(), v)
		require.NoError(t, err)
		assert.Equal(t, 0.0, s)
	}
}

func TestScore_SingleEntryUsesUnitSigma(t *testing.T) {
	p := New(10)
	require.NoError(t, p.Update(context.Background(), features.Vector{"x": 2}))

	// mean 2, variance 0 -> sigma 1, z = |5-2| = 3, s = 1 - 1/4
	s, err := p.Score(context.Background(), features.Vector{"x": 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, s, 1e-12)
}

func TestScore_SampleVariance(t *testing.T) {
	p := New(10)
	ctx := context.Background()
	for _, x := range []float64{1, 2, 3} {
		require.NoError(t, p.Update(ctx, features.Vector{"x": x}))
	}

	st := p.Stats("x")
	assert.InDelta(t, 2.0, st.Mean, 1e-12)
	assert.InDelta(t, 1.0, st.Variance, 1e-12) // divides by n-1
	assert.Equal(t, 3, st.Count)

	s, err := p.Score(ctx, features.Vector{"x": 4})
	require.NoError(t, err)
	assert.InDelta(t, 1-1/3.0, s, 1e-12) // z = 2
}

func TestScore_AveragesAcrossKeys(t *testing.T) {
	p := New(10)
	ctx := context.Background()
	require.NoError(t, p.Update(ctx, vec(0, 0)))

	s, err := p.Score(ctx, vec(0, 1))
	require.NoError(t, err)
	// value z=0 -> 0, gas z=1 -> 0.5
	assert.InDelta(t, 0.25, s, 1e-12)
	assert.GreaterOrEqual(t, s, 0.0)
	assert.Less(t, s, 1.0)
}

func TestUpdateAndScore_NoLeakage(t *testing.T) {
	ctx := context.Background()
	inputs := []features.Vector{vec(1, 10), vec(5, 20), vec(2, 10), vec(100, 1e6), vec(3, 15)}

	p := New(50)
	for k, f := range inputs {
		got, err := p.UpdateAndScore(ctx, f)
		require.NoError(t, err)

		// Rebuild a pipeline from entries 0..k-1 only and score entry k.
		ref := New(50)
		for _, prev := range inputs[:k] {
			require.NoError(t, ref.Update(ctx, prev))
		}
		want, err := ref.Score(ctx, f)
		require.NoError(t, err)

		assert.Equal(t, want, got, "entry %d", k)
		assert.Equal(t, k+1, p.Len())
	}
}

func TestUpdateAndScore_FirstIsZero(t *testing.T) {
	p := New(5)
	s, err := p.UpdateAndScore(context.Background(), vec(1000, 1000))
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)
	assert.Equal(t, 1, p.Len())
}

func TestWindowBound_EvictsOldest(t *testing.T) {
	const window = 4
	p := New(window)
	ctx := context.Background()

	// First vector is an outlier that must vanish from the stats once evicted.
	require.NoError(t, p.Update(ctx, features.Vector{"x": 1000}))
	for i := 0; i < window; i++ {
		require.NoError(t, p.Update(ctx, features.Vector{"x": 1}))
	}

	assert.Equal(t, window, p.Len())
	st := p.Stats("x")
	assert.Equal(t, 1.0, st.Mean)
	assert.Equal(t, 0.0, st.Variance)

	snap := p.Snapshot()
	require.Len(t, snap, window)
	for _, v := range snap {
		assert.Equal(t, 1.0, v["x"])
	}
}

func TestSnapshot_OldestFirstAfterWrap(t *testing.T) {
	p := New(3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, p.Update(ctx, features.Vector{"x": float64(i)}))
	}
	snap := p.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{snap[0]["x"], snap[1]["x"], snap[2]["x"]})
}

func TestUpdate_CopiesInput(t *testing.T) {
	p := New(3)
	v := features.Vector{"x": 1}
	require.NoError(t, p.Update(context.Background(), v))
	v["x"] = 99
	assert.Equal(t, 1.0, p.Stats("x").Mean)
}

func TestMissingKeysDefaultToZero(t *testing.T) {
	p := New(3)
	ctx := context.Background()
	require.NoError(t, p.Update(ctx, features.Vector{"x": 4}))
	require.NoError(t, p.Update(ctx, features.Vector{}))

	st := p.Stats("x")
	assert.InDelta(t, 2.0, st.Mean, 1e-12)
}

func TestNew_DefaultWindow(t *testing.T) {
	assert.Equal(t, DefaultWindow, New(0).Window())
	assert.Equal(t, 7, New(7).Window())
}

func TestScore_ExtremeMagnitudesStayFinite(t *testing.T) {
	p := New(10)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := p.UpdateAndScore(ctx, vec(1e308, 1))
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		s, err := p.UpdateAndScore(ctx, vec(90, 900000))
		require.NoError(t, err)
		assert.False(t, math.IsNaN(s), "update %d", i)
		assert.Greater(t, s, 0.0, "update %d", i)
		assert.Less(t, s, 1.0, "update %d", i)
	}

	st := p.Stats(features.KeyValue)
	assert.False(t, math.IsInf(st.Mean, 0))
	assert.False(t, math.IsNaN(st.Mean))
}

func TestScore_WideSpreadStillDiscriminates(t *testing.T) {
	p := New(10)
	ctx := context.Background()
	require.NoError(t, p.Update(ctx, features.Vector{"x": 0}))
	require.NoError(t, p.Update(ctx, features.Vector{"x": 1e200}))

	// mean 5e199, sigma ~7.07e199, z ~3.54
	s, err := p.Score(ctx, features.Vector{"x": 3e200})
	require.NoError(t, err)
	assert.InDelta(t, 1-1/(1+2.5/math.Sqrt(0.5)), s, 1e-9)
}

func TestScore_SaturatesBelowOne(t *testing.T) {
	p := New(10)
	ctx := context.Background()
	require.NoError(t, p.Update(ctx, features.Vector{"x": 0}))

	s, err := p.Score(ctx, features.Vector{"x": 1e300})
	require.NoError(t, err)
	assert.Equal(t, MaxScore, s)
}

func TestConcurrentUpdateAndScore(t *testing.T) {
	const workers, per = 8, 50
	p := New(workers * per)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		scores = make(map[float64]float64, workers*per)
		wg     sync.WaitGroup
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				seq := float64(w*per + i)
				f := features.Vector{"seq": seq, features.KeyValue: float64(w * i), features.KeyGas: float64(i)}
				s, err := p.UpdateAndScore(ctx, f)
				if err != nil {
					t.Errorf("update: %v", err)
					return
				}
				mu.Lock()
				scores[seq] = s
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	// Replay the buffer in append order: every returned score must equal the
	// score against exactly the entries appended before it.
	snap := p.Snapshot()
	require.Len(t, snap, workers*per)
	ref := New(workers * per)
	for k, f := range snap {
		want, err := ref.Score(ctx, f)
		require.NoError(t, err)
		got, ok := scores[f["seq"]]
		require.True(t, ok, "entry %d", k)
		assert.Equal(t, want, got, "entry %d (seq %v)", k, f["seq"])
		assert.Less(t, got, 1.0)
		require.NoError(t, ref.Update(ctx, f))
	}
}

func TestUpdateAndScore_ContextCancelledWhileWaiting(t *testing.T) {
	p := New(3)
	unlock := p.mu.Lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.UpdateAndScore(ctx, vec(1, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
