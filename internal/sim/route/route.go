// Package route finds routes through the road graph.
//
// The search is a uniform-cost (Dijkstra-style) expansion without a heuristic. Edge weights come
// from the live graph, so congested roads get more expensive as cars slow down on them.
package route

import (
	"container/heap"
	"errors"
	"math"
)

var ErrNotFound = errors.New("route: destination unreachable")

// Graph is the read-only view of the road network the search needs.
type Graph interface {
	Exists(id string) bool
	// Successors lists the roads reachable by continuing forward from id's end.
	Successors(id string) []string
	// Length is the Euclidean length of a road.
	Length(id string) float64
	// EffectiveSpeed is the speed expected on a road right now.
	EffectiveSpeed(id string) float64
}

// Weight is the cost of moving onto road id.
// Roads with no usable speed cost +Inf but stay traversable.
func Weight(g Graph, id string) float64 {
	speed := g.EffectiveSpeed(id)
	if !(speed > 0) {
		return math.Inf(1)
	}
	return g.Length(id) / speed
}

// Cost sums the weights of every step after the first.
func Cost(g Graph, path []string) float64 {
	total := 0.0
	for _, id := range path[1:] {
		total += Weight(g, id)
	}
	return total
}

// Find returns the cheapest road sequence from start to dest, both ends included, and its cost.
// Equal-cost frontier entries are expanded in the order they were discovered.
func Find(g Graph, start, dest string) ([]string, float64, error) {
	if !g.Exists(start) {
		return nil, 0, ErrNotFound
	}
	if start == dest {
		return []string{start}, 0, nil
	}

	visited := map[string]struct{}{}
	pq := &frontier{}
	seq := 0
	heap.Push(pq, &node{id: start, seq: seq})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*node)
		if _, ok := visited[cur.id]; ok {
			continue
		}
		visited[cur.id] = struct{}{}

		if cur.id == dest {
			return cur.path(), cur.cost, nil
		}

		for _, next := range g.Successors(cur.id) {
			if !g.Exists(next) {
				continue
			}
			if _, ok := visited[next]; ok {
				continue
			}
			seq++
			heap.Push(pq, &node{
				id:     next,
				cost:   cur.cost + Weight(g, next),
				seq:    seq,
				parent: cur,
			})
		}
	}
	return nil, 0, ErrNotFound
}

type node struct {
	id     string
	cost   float64
	seq    int
	parent *node
}

func (n *node) path() []string {
	var out []string
	for p := n; p != nil; p = p.parent {
		out = append(out, p.id)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type frontier []*node

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].cost != f[j].cost {
		return f[i].cost < f[j].cost
	}
	return f[i].seq < f[j].seq
}
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(*node)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}
