// Package graph builds the per-batch interaction graph between addresses and
// computes the structural signals used by the risk ensemble.
package graph

import (
	"math"

	"github.com/mbd888/pulseguard/internal/txn"
)

// Synthetic node names.
const (
	ContractCreationNode = "contract_creation"
	UnknownSenderNode    = "unknown_sender"
)

// Edge aggregates every transaction sent from one node to another in the batch.
type Edge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Weight     int     `json:"weight"` // number of transactions
	TotalValue float64 `json:"totalValue"`
	TotalGas   uint64  `json:"totalGas"`
	FirstHash  string  `json:"firstHash,omitempty"`
	LastHash   string  `json:"lastHash,omitempty"`
}

// Graph is a simple directed graph. Nodes and edges keep insertion order so
// every traversal is deterministic for a given batch.
type Graph struct {
	nodes []string
	index map[string]int

	edges   []*Edge
	edgeIdx map[[2]int]int

	succ [][]int // successor node indices, insertion order
	pred [][]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		index:   make(map[string]int),
		edgeIdx: make(map[[2]int]int),
	}
}

// Build creates a graph with one edge per distinct (sender, recipient) pair.
// A missing recipient points at ContractCreationNode.
func Build(records []txn.Record) *Graph {
	g := New()
	for _, r := range records {
		from := r.From
		if from == "" {
			from = UnknownSenderNode
		}
		to := r.To
		if to == "" {
			to = ContractCreationNode
		}
		g.AddTransaction(from, to, r.Value, r.Gas, r.Hash)
	}
	return g
}

// AddNode inserts a node if missing and returns its index.
func (g *Graph) AddNode(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, name)
	g.index[name] = i
	g.succ = append(g.succ, nil)
	g.pred = append(g.pred, nil)
	return i
}

// AddTransaction records a transfer, creating or updating the from→to edge.
func (g *Graph) AddTransaction(from, to string, value float64, gas uint64, hash string) {
	fi := g.AddNode(from)
	ti := g.AddNode(to)

	key := [2]int{fi, ti}
	if ei, ok := g.edgeIdx[key]; ok {
		e := g.edges[ei]
		e.Weight++
		e.TotalValue += value
		if e.TotalGas > math.MaxUint64-gas {
			e.TotalGas = math.MaxUint64
		} else {
			e.TotalGas += gas
		}
		if hash != "" {
			e.LastHash = hash
		}
		return
	}

	g.edgeIdx[key] = len(g.edges)
	g.edges = append(g.edges, &Edge{
		From:       from,
		To:         to,
		Weight:     1,
		TotalValue: value,
		TotalGas:   gas,
		FirstHash:  hash,
		LastHash:   hash,
	})
	g.succ[fi] = append(g.succ[fi], ti)
	g.pred[ti] = append(g.pred[ti], fi)
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the number of distinct directed edges.
func (g *Graph) NumEdges() int { return len(g.edges) }

// Nodes returns node names in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns copies of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		out[i] = *e
	}
	return out
}

// InDegree returns the number of distinct predecessors of a node.
func (g *Graph) InDegree(name string) int {
	if i, ok := g.index[name]; ok {
		return len(g.pred[i])
	}
	return 0
}

// OutDegree returns the number of distinct successors of a node.
func (g *Graph) OutDegree(name string) int {
	if i, ok := g.index[name]; ok {
		return len(g.succ[i])
	}
	return 0
}
