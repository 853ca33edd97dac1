package graph

// CycleCounter counts simple directed cycles. It is an optional capability:
// when none is configured the cycle count degrades to zero.
type CycleCounter interface {
	CountCycles(g *Graph) int
}

// DefaultMaxCycles bounds enumeration on dense graphs.
const DefaultMaxCycles = 10000

// maxCycleSteps bounds the DFS work regardless of how many cycles are found.
const maxCycleSteps = 2_000_000

// SimpleCycles enumerates elementary cycles (self-loops included), counting
// each cycle once from its lowest-index node. Counting stops at Max.
type SimpleCycles struct {
	Max int
}

// NewSimpleCycles returns a counter capped at max cycles (DefaultMaxCycles if max <= 0).
func NewSimpleCycles(max int) *SimpleCycles {
	if max <= 0 {
		max = DefaultMaxCycles
	}
	return &SimpleCycles{Max: max}
}

// CountCycles implements CycleCounter.
func (sc *SimpleCycles) CountCycles(g *Graph) int {
	if g == nil || g.NumNodes() == 0 {
		return 0
	}
	limit := sc.Max
	if limit <= 0 {
		limit = DefaultMaxCycles
	}

	n := g.NumNodes()
	onPath := make([]bool, n)
	count := 0
	steps := 0

	var dfs func(start, v int) bool
	dfs = func(start, v int) bool {
		steps++
		if steps > maxCycleSteps {
			return false
		}
		for _, w := range g.succ[v] {
			if w == start {
				count++
				if count >= limit {
					return false
				}
				continue
			}
			if w < start || onPath[w] {
				continue
			}
			onPath[w] = true
			ok := dfs(start, w)
			onPath[w] = false
			if !ok {
				return false
			}
		}
		return true
	}

	for s := 0; s < n; s++ {
		onPath[s] = true
		ok := dfs(s, s)
		onPath[s] = false
		if !ok {
			break
		}
	}
	return count
}

// NoCycles is the degraded counter used when structural analysis is disabled.
type NoCycles struct{}

// CountCycles always returns 0.
func (NoCycles) CountCycles(*Graph) int { return 0 }

// HasCycle reports whether the graph contains any directed cycle, using an
// iterative three-colour DFS. It is linear in graph size and always available.
func HasCycle(g *Graph) bool {
	const (
		white = iota
		grey
		black
	)
	n := g.NumNodes()
	colour := make([]int, n)
	type frame struct{ v, next int }

	for root := 0; root < n; root++ {
		if colour[root] != white {
			continue
		}
		stack := []frame{{v: root}}
		colour[root] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(g.succ[top.v]) {
				w := g.succ[top.v][top.next]
				top.next++
				switch colour[w] {
				case grey:
					return true
				case white:
					colour[w] = grey
					stack = append(stack, frame{v: w})
				}
				continue
			}
			colour[top.v] = black
			stack = stack[:len(stack)-1]
		}
	}
	return false
}
