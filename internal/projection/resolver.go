package projection

import (
	"container/heap"
	"sort"

	"planline/internal/domain"
)

// Ordering is the resolver's output. Sequence holds every orderable item;
// Cycles and Blocked partition the rest.
type Ordering struct {
	Sequence []string
	// Cycles lists strongly connected groups (or self-loops), ids sorted.
	Cycles [][]string
	// Blocked items are not in a cycle but depend, directly or not, on one.
	Blocked []string
}

// graphIndex is the adjacency of a graph restricted to a known item set.
type graphIndex struct {
	succ map[string][]string
	pred map[string][]string
}

func indexGraph(known map[string]bool, graph domain.OrchestrationGraph) graphIndex {
	g := graphIndex{succ: map[string][]string{}, pred: map[string][]string{}}
	seen := make(map[domain.DependencyEdge]bool, len(graph.Edges))
	for _, e := range graph.Edges {
		if !known[e.FromItemID] || !known[e.ToItemID] || seen[e] {
			continue
		}
		seen[e] = true
		g.succ[e.FromItemID] = append(g.succ[e.FromItemID], e.ToItemID)
		g.pred[e.ToItemID] = append(g.pred[e.ToItemID], e.FromItemID)
	}
	for _, m := range []map[string][]string{g.succ, g.pred} {
		for id := range m {
			sort.Strings(m[id])
		}
	}
	return g
}

type readyEntry struct {
	id       string
	priority int
}

// readyQueue orders by priority ascending, then id ascending.
type readyQueue []readyEntry

func (q readyQueue) Len() int { return len(q) }
func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].id < q[j].id
}
func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)   { *q = append(*q, x.(readyEntry)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// Order computes a deterministic execution order with Kahn's algorithm,
// choosing the lowest priority value among ready items at every step.
func Order(items []domain.WorkItem, graph domain.OrchestrationGraph) Ordering {
	known := make(map[string]bool, len(items))
	priority := make(map[string]int, len(items))
	for _, it := range items {
		if known[it.ID] {
			continue
		}
		known[it.ID] = true
		priority[it.ID] = it.Priority
	}
	g := indexGraph(known, graph)
	return order(items, known, priority, g)
}

func order(items []domain.WorkItem, known map[string]bool, priority map[string]int, g graphIndex) Ordering {
	indegree := make(map[string]int, len(known))
	q := &readyQueue{}
	queued := make(map[string]bool, len(known))
	for _, it := range items {
		if queued[it.ID] {
			continue
		}
		indegree[it.ID] = len(g.pred[it.ID])
		if indegree[it.ID] == 0 {
			heap.Push(q, readyEntry{id: it.ID, priority: priority[it.ID]})
		}
		queued[it.ID] = true
	}

	var out Ordering
	placed := make(map[string]bool, len(known))
	for q.Len() > 0 && len(out.Sequence) < len(known) {
		e := heap.Pop(q).(readyEntry)
		placed[e.id] = true
		out.Sequence = append(out.Sequence, e.id)
		for _, next := range g.succ[e.id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(q, readyEntry{id: next, priority: priority[next]})
			}
		}
	}
	if len(out.Sequence) == len(known) {
		return out
	}

	var rest []string
	for id := range known {
		if !placed[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	inCycle := map[string]bool{}
	for _, comp := range stronglyConnected(rest, placed, g) {
		if len(comp) == 1 && !hasSelfLoop(comp[0], g) {
			continue
		}
		sort.Strings(comp)
		out.Cycles = append(out.Cycles, comp)
		for _, id := range comp {
			inCycle[id] = true
		}
	}
	sort.Slice(out.Cycles, func(i, j int) bool { return out.Cycles[i][0] < out.Cycles[j][0] })
	for _, id := range rest {
		if !inCycle[id] {
			out.Blocked = append(out.Blocked, id)
		}
	}
	return out
}

func hasSelfLoop(id string, g graphIndex) bool {
	for _, next := range g.succ[id] {
		if next == id {
			return true
		}
	}
	return false
}

// stronglyConnected runs Tarjan's algorithm over the unplaced subgraph.
func stronglyConnected(nodes []string, placed map[string]bool, g graphIndex) [][]string {
	index := map[string]int{}
	low := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var comps [][]string
	counter := 0
	var visit func(id string)
	visit = func(id string) {
		index[id] = counter
		low[id] = counter
		counter++
		stack = append(stack, id)
		onStack[id] = true
		for _, next := range g.succ[id] {
			if placed[next] {
				continue
			}
			if _, seen := index[next]; !seen {
				visit(next)
				low[id] = min(low[id], low[next])
			} else if onStack[next] {
				low[id] = min(low[id], index[next])
			}
		}
		if low[id] != index[id] {
			return
		}
		var comp []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			comp = append(comp, top)
			if top == id {
				break
			}
		}
		comps = append(comps, comp)
	}
	for _, id := range nodes {
		if _, seen := index[id]; !seen {
			visit(id)
		}
	}
	return comps
}
