package refs

import (
	"github.com/roach88/cellcalc/internal/cell"
)

// graph maps a cell to the cells it reads.
type graph map[cell.Key][]cell.Key

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node cell.Key, g graph) bool {
	for _, neighbor := range g[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in the order given.
//
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(roots []cell.Key, g graph) [][]cell.Key {
	var (
		index   = 0
		stack   []cell.Key
		indices = make(map[cell.Key]int)
		lowlink = make(map[cell.Key]int)
		onStack = make(map[cell.Key]bool)
		sccs    [][]cell.Key
	)

	var strongConnect func(cell.Key)
	strongConnect = func(v cell.Key) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component
		if lowlink[v] == indices[v] {
			var scc []cell.Key
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range roots {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// findCycles returns, for every cell on a cycle, the loop path starting and
// ending at that cell.
func findCycles(roots []cell.Key, g graph) map[cell.Key][]cell.Key {
	out := make(map[cell.Key][]cell.Key)
	for _, scc := range tarjanSCC(roots, g) {
		if len(scc) == 1 {
			if hasSelfLoop(scc[0], g) {
				out[scc[0]] = []cell.Key{scc[0], scc[0]}
			}
			continue
		}

		members := make(map[cell.Key]bool, len(scc))
		for _, k := range scc {
			members[k] = true
		}
		for _, k := range scc {
			out[k] = cyclePath(k, members, g)
		}
	}
	return out
}

// cyclePath finds the shortest loop from start back to start that stays
// inside one SCC. Breadth-first with a visited set.
func cyclePath(start cell.Key, members map[cell.Key]bool, g graph) []cell.Key {
	parent := map[cell.Key]cell.Key{}
	visited := map[cell.Key]bool{}
	queue := []cell.Key{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, next := range g[cur] {
			if !members[next] {
				continue
			}
			if next == start {
				// walk parents back from cur, then close the loop
				path := []cell.Key{start}
				for n := cur; n != start; n = parent[n] {
					path = append(path, n)
				}
				path = append(path, start)
				// reverse the middle so the path follows edge direction
				for i, j := 1, len(path)-2; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			if !visited[next] {
				visited[next] = true
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return []cell.Key{start, start}
}
