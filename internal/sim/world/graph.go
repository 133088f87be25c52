package world

import "trafficsim.dev/internal/sim/route"

// roadGraph exposes the road network to the route search. Occupancy comes from a frozen view so
// edge weights stay fixed for the whole tick.
type roadGraph struct {
	w   *World
	occ map[string]occupancy
}

func (g roadGraph) Exists(id string) bool {
	_, ok := g.w.roads[id]
	return ok
}

func (g roadGraph) Successors(id string) []string {
	if r := g.w.roads[id]; r != nil {
		return r.ConnectedTo
	}
	return nil
}

func (g roadGraph) Length(id string) float64 { return g.w.roads[id].Length() }

// EffectiveSpeed is the mean speed of the cars heading along id, or its recommended speed when
// nobody is.
func (g roadGraph) EffectiveSpeed(id string) float64 {
	if o, ok := g.occ[id]; ok && o.n > 0 {
		return o.sum / float64(o.n)
	}
	return g.w.roads[id].SpeedRec
}

// FindRoute searches the current network with occupancy taken from the cars as they are now.
func (w *World) FindRoute(start, dest string) ([]string, error) {
	path, _, err := route.Find(roadGraph{w: w, occ: w.freeze().occupancy}, start, dest)
	return path, err
}
