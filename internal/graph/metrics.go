package graph

import "math"

// Metric keys reported in explainability output.
const (
	MetricNumNodes            = "num_nodes"
	MetricNumEdges            = "num_edges"
	MetricAvgDegree           = "avg_degree"
	MetricAvgDegreeCentrality = "avg_degree_centrality"
	MetricDensity             = "density"
	MetricNumComponents       = "num_components"
	MetricHasCycles           = "has_cycles"
	MetricNumCycles           = "num_cycles"
	MetricMaxInDegree         = "max_in_degree"
	MetricMaxOutDegree        = "max_out_degree"
	MetricMaxEdgeWeight       = "max_edge_weight"
	MetricTotalValue          = "total_value"
	MetricTotalGas            = "total_gas"
)

// Metrics computes summary statistics for g. A nil counter reports zero cycles.
func Metrics(g *Graph, cc CycleCounter) map[string]float64 {
	n := g.NumNodes()
	e := g.NumEdges()

	m := map[string]float64{
		MetricNumNodes:            float64(n),
		MetricNumEdges:            float64(e),
		MetricAvgDegree:           0,
		MetricAvgDegreeCentrality: 0,
		MetricDensity:             0,
		MetricNumComponents:       0,
		MetricHasCycles:           0,
		MetricNumCycles:           0,
		MetricMaxInDegree:         0,
		MetricMaxOutDegree:        0,
		MetricMaxEdgeWeight:       0,
		MetricTotalValue:          0,
		MetricTotalGas:            0,
	}
	if n == 0 {
		return m
	}

	// Fan-in and fan-out peaks.
	for _, name := range g.Nodes() {
		m[MetricMaxInDegree] = math.Max(m[MetricMaxInDegree], float64(g.InDegree(name)))
		m[MetricMaxOutDegree] = math.Max(m[MetricMaxOutDegree], float64(g.OutDegree(name)))
	}
	for _, edge := range g.Edges() {
		m[MetricMaxEdgeWeight] = math.Max(m[MetricMaxEdgeWeight], float64(edge.Weight))
		m[MetricTotalValue] += edge.TotalValue
		m[MetricTotalGas] += float64(edge.TotalGas)
	}

	nf := float64(n)
	// Mean in-degree normalized by node count.
	m[MetricAvgDegreeCentrality] = (float64(e) / nf) / nf
	// Mean total degree (in + out).
	m[MetricAvgDegree] = 2 * float64(e) / nf
	if n > 1 {
		m[MetricDensity] = float64(e) / (nf * (nf - 1))
	}
	m[MetricNumComponents] = float64(WeakComponents(g))
	if HasCycle(g) {
		m[MetricHasCycles] = 1
	}
	if cc != nil {
		m[MetricNumCycles] = float64(cc.CountCycles(g))
	}
	return m
}

// WeakComponents counts weakly connected components with union-find.
func WeakComponents(g *Graph) int {
	n := g.NumNodes()
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	components := n
	for v := 0; v < n; v++ {
		for _, w := range g.succ[v] {
			rv, rw := find(v), find(w)
			if rv != rw {
				parent[rv] = rw
				components--
			}
		}
	}
	return components
}
