package world

import (
	"fmt"

	"trafficsim.dev/internal/protocol"
	"trafficsim.dev/internal/sim/geom"
)

// CommandError rejects a command before it touches any state.
type CommandError struct {
	Code string
	Msg  string
}

func (e *CommandError) Error() string { return e.Code + ": " + e.Msg }

func badRequest(format string, args ...any) error {
	return &CommandError{Code: protocol.ErrBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func invalidTarget(format string, args ...any) error {
	return &CommandError{Code: protocol.ErrInvalidTarget, Msg: fmt.Sprintf(format, args...)}
}

func (w *World) road(id string) (*Road, error) {
	r := w.roads[id]
	if r == nil {
		return nil, invalidTarget("no road %q", id)
	}
	return r, nil
}

func (w *World) litRoad(id string) (*Road, error) {
	r, err := w.road(id)
	if err != nil {
		return nil, err
	}
	if r.Light == nil {
		return nil, invalidTarget("road %q has no traffic light", id)
	}
	return r, nil
}

// BuildRoad adds a road from start to end and returns its id.
func (w *World) BuildRoad(start, end geom.Vec2) (string, error) {
	if !start.IsFinite() || !end.IsFinite() {
		return "", badRequest("road endpoints must be finite")
	}
	id := w.newID()
	if _, dup := w.roads[id]; dup {
		return "", &CommandError{Code: protocol.ErrConflict, Msg: fmt.Sprintf("road id %q already in use", id)}
	}
	w.addRoad(&Road{
		ID:          id,
		Width:       RoadWidth,
		Start:       start,
		End:         end,
		ConnectedTo: []string{},
		SpeedRec:    RoadSpeedRec,
	})
	return id, nil
}

func (w *World) addRoad(r *Road) {
	w.roads[r.ID] = r
	w.roadIDs = append(w.roadIDs, r.ID)
}

// FlipRoad swaps a road's endpoints.
func (w *World) FlipRoad(id string) error {
	r, err := w.road(id)
	if err != nil {
		return err
	}
	r.Start, r.End = r.End, r.Start
	return nil
}

// RemoveRoad deletes a road and every connection and intersection membership naming it.
func (w *World) RemoveRoad(id string) error {
	if _, err := w.road(id); err != nil {
		return err
	}
	delete(w.roads, id)
	for i, rid := range w.roadIDs {
		if rid == id {
			w.roadIDs = append(w.roadIDs[:i], w.roadIDs[i+1:]...)
			break
		}
	}
	for _, rid := range w.roadIDs {
		r := w.roads[rid]
		r.ConnectedTo = without(r.ConnectedTo, id)
	}
	w.scrubIntersections(id)
	return nil
}

// ToggleConnection adds to to from's successors, or removes it if already there.
func (w *World) ToggleConnection(from, to string) error {
	r, err := w.road(from)
	if err != nil {
		return err
	}
	if _, err := w.road(to); err != nil {
		return err
	}
	if r.ConnectsTo(to) {
		r.ConnectedTo = without(r.ConnectedTo, to)
	} else {
		r.ConnectedTo = append(r.ConnectedTo, to)
	}
	return nil
}

// AddLight puts a traffic light on a road. A road that already has one keeps it.
func (w *World) AddLight(id string) error {
	r, err := w.road(id)
	if err != nil {
		return err
	}
	if r.Light == nil {
		r.Light = &TrafficLight{Offset: 1, At: 1}
	}
	return nil
}

// RemoveLight takes the light off a road and drops the road from every intersection.
func (w *World) RemoveLight(id string) error {
	r, err := w.litRoad(id)
	if err != nil {
		return err
	}
	r.Light = nil
	w.scrubIntersections(id)
	return nil
}

func (w *World) FlipLight(id string) error {
	r, err := w.litRoad(id)
	if err != nil {
		return err
	}
	r.Light.Offset *= -1
	return nil
}

func (w *World) lightPair(a, b string) error {
	if a == b {
		return badRequest("an intersection needs two different roads")
	}
	if _, err := w.litRoad(a); err != nil {
		return err
	}
	_, err := w.litRoad(b)
	return err
}

// MergeIntersection puts a and b in one intersection, folding together any intersections that
// already hold either of them.
func (w *World) MergeIntersection(a, b string) error {
	if err := w.lightPair(a, b); err != nil {
		return err
	}
	merged := &Intersection{}
	kept := w.intersections[:0]
	at := -1
	for _, in := range w.intersections {
		if in.Has(a) || in.Has(b) {
			if at < 0 {
				at = len(kept)
				kept = append(kept, merged)
			}
			for _, id := range in.Roads {
				if !merged.Has(id) {
					merged.Roads = append(merged.Roads, id)
				}
			}
			continue
		}
		kept = append(kept, in)
	}
	if at < 0 {
		kept = append(kept, merged)
	}
	for _, id := range []string{a, b} {
		if !merged.Has(id) {
			merged.Roads = append(merged.Roads, id)
		}
	}
	w.intersections = kept
	w.singleGreen(merged)
	return nil
}

// singleGreen keeps the longest remaining green phase and cuts the others.
func (w *World) singleGreen(in *Intersection) {
	var keep *TrafficLight
	for _, id := range in.Roads {
		r := w.roads[id]
		if r == nil || r.Light == nil || !r.Light.Green() {
			continue
		}
		if keep == nil || r.Light.GreenLeft > keep.GreenLeft {
			if keep != nil {
				keep.GreenLeft = 0
			}
			keep = r.Light
			continue
		}
		r.Light.GreenLeft = 0
	}
}

// SplitIntersection removes a and b from every intersection that holds both.
func (w *World) SplitIntersection(a, b string) error {
	if err := w.lightPair(a, b); err != nil {
		return err
	}
	for _, in := range w.intersections {
		if in.Has(a) && in.Has(b) {
			in.Roads = without(without(in.Roads, a), b)
		}
	}
	w.pruneIntersections()
	return nil
}

// ToggleIntersection splits a and b if they already share an intersection and merges them
// otherwise.
func (w *World) ToggleIntersection(a, b string) (merged bool, err error) {
	if err := w.lightPair(a, b); err != nil {
		return false, err
	}
	for _, in := range w.intersections {
		if in.Has(a) && in.Has(b) {
			return false, w.SplitIntersection(a, b)
		}
	}
	return true, w.MergeIntersection(a, b)
}

func (w *World) scrubIntersections(id string) {
	for _, in := range w.intersections {
		in.Roads = without(in.Roads, id)
	}
	w.pruneIntersections()
}

func (w *World) pruneIntersections() {
	kept := w.intersections[:0]
	for _, in := range w.intersections {
		if len(in.Roads) > 0 {
			kept = append(kept, in)
		}
	}
	w.intersections = kept
}

func (w *World) SetSpawnInterval(seconds float64) error {
	if !geom.IsFinite(seconds) || seconds <= 0 {
		return badRequest("spawn interval must be a positive number of seconds")
	}
	w.spawnInterval = seconds
	return nil
}

func (w *World) SpawnInterval() float64 { return w.spawnInterval }

// Claim hands a car to who.
func (w *World) Claim(name, who string) error {
	c := w.Car(name)
	if c == nil {
		return invalidTarget("no car %q", name)
	}
	c.Driver = Player{ID: who}
	return nil
}

// CreatePlayerCar places a car driven by who. Police cars need allowPolice; a plain car cannot
// wear the police livery.
func (w *World) CreatePlayerCar(spec protocol.CarSpec, who string, allowPolice bool) (string, error) {
	if !spec.Pos.IsFinite() {
		return "", badRequest("car position must be finite")
	}
	c := NewCar("")
	c.Pos = spec.Pos
	if spec.Img != "" {
		c.Img = spec.Img
	}
	switch {
	case spec.IsPolice && allowPolice:
		c.IsPolice = true
		c.MaxSpeed = PoliceMaxSpeed
		c.BrakeStrength = PoliceBrake
		c.Img = PoliceImg
	case c.Img == PoliceImg:
		c.Img = DefaultImg
		c.MaxSpeed = AutonomousMaxSpeed
		c.BrakeStrength = DefaultBrakeStrength
	}
	c.Driver = Player{ID: who}
	return w.UpsertCar(c)
}

// CreateAutonomousCar places an autonomous car on start bound for dest, owned by who.
func (w *World) CreateAutonomousCar(start, dest, who string) (string, error) {
	s, err := w.road(start)
	if err != nil {
		return "", err
	}
	if _, err := w.road(dest); err != nil {
		return "", err
	}
	c := w.newAutonomousCar(s, dest)
	c.Owner = who
	return w.insertCar(c, "AiCar")
}

// RemovePlayerCar deletes a car driven or owned by who.
func (w *World) RemovePlayerCar(name, who string) error {
	c := w.Car(name)
	if c == nil {
		return invalidTarget("no car %q", name)
	}
	if c.ControlledBy() != who && c.Owner != who {
		return &CommandError{Code: protocol.ErrNoPermission, Msg: fmt.Sprintf("car %q is not yours", name)}
	}
	w.RemoveCar(name)
	return nil
}

// playerCars applies fn to every car who drives and returns how many there were.
func (w *World) playerCars(who string, fn func(*Car)) int {
	n := 0
	for _, c := range w.cars {
		if c.ControlledBy() == who {
			fn(c)
			n++
		}
	}
	return n
}

func (w *World) Steer(who string, steering float64) (int, error) {
	if !geom.IsFinite(steering) {
		return 0, badRequest("steering must be finite")
	}
	return w.playerCars(who, func(c *Car) { c.Steering = steering }), nil
}

func (w *World) Accelerate(who string, accel float64) (int, error) {
	if !geom.IsFinite(accel) {
		return 0, badRequest("acceleration must be finite")
	}
	return w.playerCars(who, func(c *Car) { c.Accel = accel }), nil
}

func (w *World) Brake(who string) int {
	return w.playerCars(who, func(c *Car) { c.HandBrakes = true })
}

func (w *World) Unbrake(who string) int {
	return w.playerCars(who, func(c *Car) { c.HandBrakes = false })
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
