// Package rolling scores feature vectors against a bounded window of
// recently observed vectors.
//
// Each key of an incoming vector is compared to the window's mean and sample
// standard deviation; the per-key z-score is squashed into [0,1) with
// 1 - 1/(1+z) and the results are averaged. A vector is only appended to the
// window after it has been scored, and the score/append pair runs under one
// lock, so no score ever sees the sample it is scoring.
package rolling

import (
	"context"
	"math"

	"github.com/mbd888/pulseguard/internal/features"
	"github.com/mbd888/pulseguard/internal/syncutil"
)

// DefaultWindow is the history capacity used when none is configured.
const DefaultWindow = 200

// MaxScore is the ceiling for a per-key score and for the averaged result.
// Extreme or non-finite z-scores saturate here instead of reaching 1.
const MaxScore = 1 - 1e-9

// Pipeline owns the history buffer. It is safe for concurrent use.
type Pipeline struct {
	mu     *syncutil.ContextMutex
	window int

	// ring buffer: entries[head] is the oldest of size entries
	entries []features.Vector
	head    int
	size    int
}

// KeyStats summarizes one feature key over the current window.
type KeyStats struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Count    int     `json:"count"`
}

// New creates a pipeline holding at most window vectors.
func New(window int) *Pipeline {
	if window < 1 {
		window = DefaultWindow
	}
	return &Pipeline{
		mu:      syncutil.NewContextMutex(),
		window:  window,
		entries: make([]features.Vector, window),
	}
}

// Window returns the buffer capacity.
func (p *Pipeline) Window() int {
	return p.window
}

// Len returns the number of buffered vectors.
func (p *Pipeline) Len() int {
	unlock := p.mu.Lock()
	defer unlock()
	return p.size
}

// Score rates f against the current window without modifying it.
// An empty window scores exactly 0.
func (p *Pipeline) Score(ctx context.Context, f features.Vector) (float64, error) {
	unlock, err := p.mu.LockContext(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return p.scoreLocked(f), nil
}

// Update appends f, evicting the oldest vector when the window is full.
func (p *Pipeline) Update(ctx context.Context, f features.Vector) error {
	unlock, err := p.mu.LockContext(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	p.appendLocked(f)
	return nil
}

// UpdateAndScore scores f against the window as it was before f arrived,
// then appends f. Both steps happen under a single lock acquisition.
func (p *Pipeline) UpdateAndScore(ctx context.Context, f features.Vector) (float64, error) {
	unlock, err := p.mu.LockContext(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	s := p.scoreLocked(f)
	p.appendLocked(f)
	return s, nil
}

// Stats returns the mean and sample variance of key over the window.
func (p *Pipeline) Stats(key string) KeyStats {
	unlock := p.mu.Lock()
	defer unlock()
	m := p.momentsLocked(key)
	return KeyStats{Mean: m.mean, Variance: m.variance, Count: p.size}
}

// Snapshot returns copies of the buffered vectors, oldest first.
func (p *Pipeline) Snapshot() []features.Vector {
	unlock := p.mu.Lock()
	defer unlock()

	out := make([]features.Vector, 0, p.size)
	for i := 0; i < p.size; i++ {
		out = append(out, p.at(i).Clone())
	}
	return out
}

func (p *Pipeline) scoreLocked(f features.Vector) float64 {
	if p.size == 0 || len(f) == 0 {
		return 0
	}

	var total float64
	keys := f.SortedKeys()
	for _, k := range keys {
		total += keyScore(f[k], p.momentsLocked(k))
	}
	return math.Min(total/float64(len(keys)), MaxScore)
}

func keyScore(x float64, m moments) float64 {
	sigma := 1.0
	if m.sigma > 0 {
		sigma = m.sigma
	}
	z := math.Abs(x-m.mean) / sigma
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return MaxScore
	}
	return math.Min(1-1/(1+z), MaxScore)
}

type moments struct {
	mean     float64
	variance float64 // sample variance (n-1); may be +Inf for extreme spreads
	sigma    float64
}

// momentsLocked computes mean and sample spread of key with Welford's
// method over samples divided by a power of two close to the biggest
// magnitude, so neither the running mean nor the squared deviations
// overflow. Entries missing the key contribute 0.
func (p *Pipeline) momentsLocked(key string) moments {
	n := p.size
	if n == 0 {
		return moments{}
	}

	var peak float64
	for i := 0; i < n; i++ {
		peak = math.Max(peak, math.Abs(p.at(i).Get(key)))
	}
	if peak == 0 {
		return moments{}
	}
	_, exp := math.Frexp(peak)
	scale := math.Ldexp(1, exp-1)

	var mean, m2 float64
	for i := 0; i < n; i++ {
		x := p.at(i).Get(key) / scale
		d := x - mean
		mean += d / float64(i+1)
		m2 += d * (x - mean)
	}

	out := moments{mean: mean * scale}
	if n < 2 {
		return out
	}
	v := m2 / float64(n-1)
	out.variance = v * scale * scale
	out.sigma = math.Sqrt(v) * scale
	return out
}

func (p *Pipeline) appendLocked(f features.Vector) {
	f = f.Clone()
	if p.size < p.window {
		p.entries[(p.head+p.size)%p.window] = f
		p.size++
		return
	}
	p.entries[p.head] = f
	p.head = (p.head + 1) % p.window
}

func (p *Pipeline) at(i int) features.Vector {
	return p.entries[(p.head+i)%p.window]
}
