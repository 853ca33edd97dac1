package graph

import "strings"

// Path finder defaults.
const (
	DefaultMinHops    = 3
	DefaultMaxPaths   = 5
	DefaultStartNodes = 50
)

// FindPaths returns up to maxPaths distinct simple paths of exactly minHops
// edges, found by depth-first search from the first maxStarts nodes in
// insertion order. A path is recorded as soon as it reaches minHops and is
// not extended further. Nodes already on the current path are never revisited.
func FindPaths(g *Graph, minHops, maxPaths, maxStarts int) [][]string {
	if g == nil || minHops < 1 || maxPaths <= 0 || g.NumNodes() == 0 {
		return [][]string{}
	}
	if maxStarts <= 0 || maxStarts > g.NumNodes() {
		maxStarts = g.NumNodes()
	}

	paths := make([][]string, 0, maxPaths)
	seen := make(map[string]struct{})
	onPath := make([]bool, g.NumNodes())
	path := make([]int, 0, minHops+1)

	var dfs func(v int) bool
	dfs = func(v int) bool {
		if len(path)-1 == minHops {
			names := make([]string, len(path))
			for i, idx := range path {
				names[i] = g.nodes[idx]
			}
			key := strings.Join(names, "\x00")
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				paths = append(paths, names)
			}
			return len(paths) < maxPaths
		}
		for _, w := range g.succ[v] {
			if onPath[w] {
				continue
			}
			onPath[w] = true
			path = append(path, w)
			ok := dfs(w)
			path = path[:len(path)-1]
			onPath[w] = false
			if !ok {
				return false
			}
		}
		return true
	}

	for s := 0; s < maxStarts; s++ {
		onPath[s] = true
		path = append(path[:0], s)
		ok := dfs(s)
		onPath[s] = false
		if !ok {
			break
		}
	}
	return paths
}
