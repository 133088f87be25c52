package world

import (
	"math"

	"trafficsim.dev/internal/sim/geom"
)

const (
	crashRadius       = 0.8
	brakeSnapSpeed    = 0.3
	steeringDecayBase = 5.0
	fadeSeconds       = 3.0 // time for a full fade
	fadeEpsilon       = 1e-9
)

// carView is the frozen state of one car at the start of the controller phase. Neighbour queries
// read it so every car reacts to the same picture of the road.
type carView struct {
	name    string
	pos     geom.Vec2
	rot     float64
	speed   float64
	waiting bool
	player  bool
}

type occupancy struct {
	sum float64
	n   int
}

type tickView struct {
	cars      []carView
	occupancy map[string]occupancy // keyed by the first road of each route
}

func (w *World) freeze() *tickView {
	v := &tickView{
		cars:      make([]carView, len(w.cars)),
		occupancy: map[string]occupancy{},
	}
	for i, c := range w.cars {
		cv := carView{name: c.Name, pos: c.Pos, rot: c.Rot, speed: c.Speed}
		switch d := c.Driver.(type) {
		case *AIState:
			cv.waiting = d.Waiting
			if len(d.RoadQueue) > 0 {
				o := v.occupancy[d.RoadQueue[0]]
				o.sum += c.Speed
				o.n++
				v.occupancy[d.RoadQueue[0]] = o
			}
		case Player:
			cv.player = true
		}
		v.cars[i] = cv
	}
	return v
}

// control runs physics then AI for every car.
func (w *World) control(dt float64, st *TickStats) {
	view := w.freeze()
	g := roadGraph{w: w, occ: view.occupancy}
	for i, c := range w.cars {
		w.updateCar(i, c, dt, view, g, st)
	}
}

func (w *World) updateCar(i int, c *Car, dt float64, view *tickView, g roadGraph, st *TickStats) {
	defer func() {
		if r := recover(); r != nil {
			st.Faults++
			if c.AI() != nil {
				c.Driver = nil
			}
			w.logger.Printf("car %s: dropped AI after fault: %v", c.Name, r)
		}
	}()

	integrate(c, dt)
	if collide(i, c, view) {
		st.Crashed++
	}
	applyFade(c, dt)

	if ai := c.AI(); ai != nil && !c.Crashed {
		w.drive(i, c, ai, view, g, st)
	}
}

// integrate moves the car along its heading, then applies acceleration, steering and brakes.
func integrate(c *Car, dt float64) {
	c.Pos = c.Pos.Add(geom.FromHeading(c.Rot).Scale(c.Speed * dt))

	c.Speed += c.Accel * dt
	if c.Speed > c.MaxSpeed {
		c.Speed = c.MaxSpeed
	}
	c.Rot += c.Steering * dt

	if c.HandBrakes {
		c.Speed *= math.Pow(c.BrakeStrength, dt)
		if math.Abs(c.Speed) < brakeSnapSpeed {
			c.Speed = 0
		}
		c.Steering /= math.Pow(steeringDecayBase, dt)
	}
}

// collide crashes c into the first other car within crashRadius. Police cars and cars that
// already crashed are exempt.
func collide(i int, c *Car, view *tickView) bool {
	if c.Crashed || c.IsPolice {
		return false
	}
	for j := range view.cars {
		other := &view.cars[j]
		if j == i || geom.Distance(c.Pos, other.pos) >= crashRadius {
			continue
		}
		rotDiff := geom.NormalizeDeg(c.Rot - other.rot)
		c.Steering = rotDiff
		c.Rot -= rotDiff / 3
		c.Speed += other.speed * math.Cos(geom.ToRadians(other.rot-c.Rot))

		c.Crashed = true
		c.Accel = 0
		c.Driver = nil
		c.Owner = ""
		return true
	}
	return false
}

// applyFade fades idle and crashed cars out.
func applyFade(c *Car, dt float64) {
	if (c.Driver == nil && !c.NonFade) || c.Crashed {
		c.HandBrakes = true
		c.Fade -= dt / fadeSeconds
		// Repeated subtraction leaves float residue; a spent fade must read as exactly gone.
		if c.Fade < fadeEpsilon {
			c.Fade = 0
		}
	}
}
