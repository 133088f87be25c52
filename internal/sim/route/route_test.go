package route

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

type testRoad struct {
	next   []string
	length float64
	speed  float64
}

type testGraph map[string]*testRoad

func (g testGraph) Exists(id string) bool {
	_, ok := g[id]
	return ok
}

func (g testGraph) Successors(id string) []string {
	if r, ok := g[id]; ok {
		return r.next
	}
	return nil
}

func (g testGraph) Length(id string) float64         { return g[id].length }
func (g testGraph) EffectiveSpeed(id string) float64 { return g[id].speed }

func TestFind_Chain(t *testing.T) {
	g := testGraph{
		"A": {next: []string{"B"}, length: 10, speed: 5},
		"B": {next: []string{"C"}, length: 10, speed: 5},
		"C": {length: 20, speed: 5},
	}
	p, cost, err := Find(g, "A", "C")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if fmt.Sprint(p) != "[A B C]" {
		t.Fatalf("path=%v", p)
	}
	if math.Abs(cost-6) > 1e-9 {
		t.Fatalf("cost=%v want 6", cost)
	}
}

func TestFind_SameRoadAndMissingStart(t *testing.T) {
	g := testGraph{"A": {length: 1, speed: 1}}
	p, _, err := Find(g, "A", "A")
	if err != nil || len(p) != 1 || p[0] != "A" {
		t.Fatalf("same road: p=%v err=%v", p, err)
	}
	if _, _, err := Find(g, "missing", "A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing start: err=%v", err)
	}
}

func TestFind_Unreachable(t *testing.T) {
	g := testGraph{
		"A": {next: []string{"ghost"}, length: 1, speed: 1},
		"B": {length: 1, speed: 1},
	}
	if _, _, err := Find(g, "A", "B"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestFind_PrefersFasterDetour(t *testing.T) {
	// Direct road is jammed; the two-hop detour is cheaper.
	g := testGraph{
		"S":   {next: []string{"jam", "d1"}, length: 1, speed: 5},
		"jam": {next: []string{"T"}, length: 10, speed: 0.5},
		"d1":  {next: []string{"d2"}, length: 10, speed: 5},
		"d2":  {next: []string{"T"}, length: 10, speed: 5},
		"T":   {length: 1, speed: 5},
	}
	p, _, err := Find(g, "S", "T")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if fmt.Sprint(p) != "[S d1 d2 T]" {
		t.Fatalf("path=%v", p)
	}
}

func TestFind_StoppedRoadStillTraversable(t *testing.T) {
	g := testGraph{
		"A": {next: []string{"B"}, length: 1, speed: 1},
		"B": {next: []string{"C"}, length: 1, speed: 0},
		"C": {length: 1, speed: 1},
	}
	p, cost, err := Find(g, "A", "C")
	if err != nil || len(p) != 3 {
		t.Fatalf("p=%v err=%v", p, err)
	}
	if !math.IsInf(cost, 1) {
		t.Fatalf("cost=%v want +Inf", cost)
	}
}

func TestFind_TieBreakByDiscoveryOrder(t *testing.T) {
	g := testGraph{
		"S": {next: []string{"x", "y"}, length: 1, speed: 1},
		"x": {next: []string{"T"}, length: 2, speed: 1},
		"y": {next: []string{"T"}, length: 2, speed: 1},
		"T": {length: 1, speed: 1},
	}
	for i := 0; i < 10; i++ {
		p, _, err := Find(g, "S", "T")
		if err != nil || fmt.Sprint(p) != "[S x T]" {
			t.Fatalf("p=%v err=%v", p, err)
		}
	}
}

// Costs must agree with gonum's Dijkstra on random graphs, where the weight of edge u->v is
// the weight of entering v.
func TestFind_MatchesDijkstraOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 30; round++ {
		n := 3 + rng.Intn(10)
		g := testGraph{}
		name := func(i int) string { return fmt.Sprintf("r%d", i) }
		for i := 0; i < n; i++ {
			g[name(i)] = &testRoad{length: 1 + rng.Float64()*20, speed: 0.5 + rng.Float64()*6}
		}
		oracle := simple.NewWeightedDirectedGraph(0, math.Inf(1))
		for i := 0; i < n; i++ {
			oracle.AddNode(simple.Node(i))
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j || rng.Float64() > 0.3 {
					continue
				}
				g[name(i)].next = append(g[name(i)].next, name(j))
				oracle.SetWeightedEdge(oracle.NewWeightedEdge(simple.Node(i), simple.Node(j), Weight(g, name(j))))
			}
		}

		for s := 0; s < n; s++ {
			shortest := path.DijkstraFrom(simple.Node(s), oracle)
			for d := 0; d < n; d++ {
				want := shortest.WeightTo(int64(d))
				p, cost, err := Find(g, name(s), name(d))
				if math.IsInf(want, 1) {
					if !errors.Is(err, ErrNotFound) {
						t.Fatalf("round %d %d->%d: want not found, got %v", round, s, d, p)
					}
					continue
				}
				if err != nil {
					t.Fatalf("round %d %d->%d: %v", round, s, d, err)
				}
				if math.Abs(cost-want) > 1e-9 {
					t.Fatalf("round %d %d->%d: cost=%v oracle=%v", round, s, d, cost, want)
				}
				if p[0] != name(s) || p[len(p)-1] != name(d) {
					t.Fatalf("endpoints %v", p)
				}
				for k := 0; k+1 < len(p); k++ {
					if !linked(g, p[k], p[k+1]) {
						t.Fatalf("%s does not connect to %s", p[k], p[k+1])
					}
				}
				if math.Abs(Cost(g, p)-cost) > 1e-9 {
					t.Fatalf("Cost(path)=%v returned %v", Cost(g, p), cost)
				}
			}
		}
	}
}

func linked(g testGraph, a, b string) bool {
	for _, n := range g[a].next {
		if n == b {
			return true
		}
	}
	return false
}
