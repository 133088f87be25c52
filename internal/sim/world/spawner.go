package world

import "trafficsim.dev/internal/sim/geom"

// Minimum clearance around a start point before a car is placed there.
const spawnClearance = 2.0

// spawn counts the timer down and, when it runs out, tries to place one autonomous car on an
// entry road bound for an exit road. Failing to find either is not an error.
func (w *World) spawn(dt float64) bool {
	w.timeUntilNextCar -= dt
	if len(w.roadIDs) == 0 || w.timeUntilNextCar > 0 {
		return false
	}
	w.timeUntilNextCar = w.spawnInterval

	incoming := map[string]bool{}
	for _, id := range w.roadIDs {
		for _, c := range w.roads[id].ConnectedTo {
			incoming[c] = true
		}
	}

	var start *Road
	for attempt := 0; attempt < w.cfg.SpawnAttempts; attempt++ {
		r := w.roads[w.roadIDs[w.rng.Intn(len(w.roadIDs))]]
		if !incoming[r.ID] && !w.occupiedNear(r.Start, spawnClearance) {
			start = r
			break
		}
	}
	if start == nil {
		return false
	}

	var end *Road
	for attempt := 0; attempt < w.cfg.SpawnAttempts; attempt++ {
		r := w.roads[w.roadIDs[w.rng.Intn(len(w.roadIDs))]]
		if len(r.ConnectedTo) == 0 {
			end = r
			break
		}
	}
	if end == nil {
		return false
	}

	c := w.newAutonomousCar(start, end.ID)
	if _, err := w.insertCar(c, "Car"); err != nil {
		return false
	}
	return true
}

func (w *World) occupiedNear(p geom.Vec2, radius float64) bool {
	for _, c := range w.cars {
		if geom.Distance(c.Pos, p) <= radius {
			return true
		}
	}
	return false
}

// newAutonomousCar builds a car at the start of road heading along it. The full route is found
// on its first AI tick.
func (w *World) newAutonomousCar(start *Road, dest string) *Car {
	img := w.cfg.CarVariants[w.rng.Intn(len(w.cfg.CarVariants))]
	c := NewCar("")
	c.Img = img
	c.Size = 1
	if img == "GuitarCar" {
		c.Size = 2
	}
	c.Pos = start.Start
	c.Rot = start.Heading()
	c.MaxSpeed = AutonomousMaxSpeed
	c.Driver = &AIState{RoadQueue: []string{start.ID}, Destination: dest}
	return c
}
