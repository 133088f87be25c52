package world

import (
	"math"

	"trafficsim.dev/internal/debugflags"
	"trafficsim.dev/internal/sim/geom"
	"trafficsim.dev/internal/sim/route"
)

const (
	arriveRadius    = 1.0
	driftSlack      = 5.0
	followCone      = 15.0 // degrees either side of the heading
	hardBrakeDist   = 5.0
	speedDiffBrake  = 4.0
	steerGain       = 5.0
	followGain      = 3.0
	cruiseGain      = 5.0
	lightStopFactor = 1.5
)

// drive runs the autonomous phase for one car.
func (w *World) drive(i int, c *Car, ai *AIState, view *tickView, g roadGraph, st *TickStats) {
	if len(ai.RoadQueue) == 0 {
		c.release()
		return
	}
	if !w.routeValid(ai) {
		st.RouteSearches++
		if path, _, err := route.Find(g, ai.RoadQueue[0], ai.Destination); err == nil {
			ai.RoadQueue = path
		} else {
			// Keep the stale queue and try again next tick.
			st.RouteFailures++
		}
	}

	road := w.roads[ai.RoadQueue[0]]
	if road == nil {
		c.release()
		return
	}

	// Aim between the closest point on the road and its end; the further off the road, the more
	// the closest point wins.
	closest := geom.ClosestOnLine(c.Pos, road.Start, road.End)
	if geom.Distance(closest, road.Start)+geom.Distance(closest, road.End) > road.Length()+driftSlack {
		if geom.Distance(closest, road.Start) < geom.Distance(closest, road.End) {
			closest = road.Start
		} else {
			closest = road.End
		}
	}
	exag := math.Exp(3*geom.Distance(c.Pos, closest)) + 1
	towards := closest
	if !math.IsInf(exag, 1) {
		towards = closest.Scale(exag).Add(road.End).Scale(1 / (exag + 1))
	}
	c.Steering = geom.NormalizeDeg(geom.Heading(c.Pos, towards)-c.Rot) * steerGain

	distToFinish := geom.Distance(road.End, c.Pos)
	b := c.BrakeStrength
	stopDist := 2 * (c.Speed*b/(1+b) + 1) * lightStopFactor

	c.HandBrakes = false
	ai.Waiting = road.Light != nil

	lead, minDist, ahead, followWaiting := w.carsAhead(i, c, view, stopDist)
	switch {
	case road.Light != nil && !road.Light.Green() && distToFinish < stopDist:
		c.HandBrakes = true
		c.Accel = (distToFinish - stopDist) / 3
	case ahead > 0:
		if lead < c.Speed-speedDiffBrake && lead > 0 {
			c.HandBrakes = true
		}
		c.Accel = (lead - c.Speed) * followGain
		if minDist < hardBrakeDist && lead > 0 {
			c.HandBrakes = true
			c.Accel = 0
		}
		ai.Waiting = ai.Waiting || followWaiting
	default:
		c.Accel = (road.SpeedRec - c.Speed) * cruiseGain
		w.debugf(debugflags.AI, "%s is accelerating from %.2f to %.2f with %.2f", c.Name, c.Speed, road.SpeedRec, c.Accel)
	}

	if road.Light != nil && ai.Waiting {
		road.Light.WaitingCars = append(road.Light.WaitingCars, c.Name)
	}

	if distToFinish < arriveRadius {
		ai.RoadQueue = ai.RoadQueue[1:]
		if len(ai.RoadQueue) == 0 {
			c.release()
		}
	}
	c.Fade = 1
}

// routeValid reports whether every step of the queue leads to the next and the queue ends at
// the destination.
func (w *World) routeValid(ai *AIState) bool {
	q := ai.RoadQueue
	if len(q) == 0 || q[len(q)-1] != ai.Destination {
		return false
	}
	for k := 0; k+1 < len(q); k++ {
		r := w.roads[q[k]]
		if r == nil || !r.ConnectsTo(q[k+1]) {
			return false
		}
	}
	return true
}

// carsAhead looks for cars inside the follow cone within reach. lead is the slowest speed any of
// them closes along c's heading.
func (w *World) carsAhead(i int, c *Car, view *tickView, reach float64) (lead, minDist float64, n int, waiting bool) {
	lead, minDist = math.Inf(1), math.Inf(1)
	for j := range view.cars {
		o := &view.cars[j]
		if j == i {
			continue
		}
		d := geom.Distance(c.Pos, o.pos)
		if d > reach {
			continue
		}
		if math.Abs(geom.NormalizeDeg(c.Rot-geom.Heading(c.Pos, o.pos))) >= followCone {
			continue
		}
		n++
		lead = math.Min(lead, o.speed*math.Cos(geom.ToRadians(o.rot-c.Rot)))
		minDist = math.Min(minDist, d)
		waiting = waiting || o.waiting || o.player
		w.debugf(debugflags.AI, "%s is behind %s", c.Name, o.name)
	}
	return lead, minDist, n, waiting
}
