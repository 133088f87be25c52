package world

// Extra green time granted on top of one second per waiting car.
const greenBase = 2.0

// schedule grants at most one green phase per intersection and returns how many it granted.
//
// An intersection with a green member waits for it to run out. Otherwise the member with the
// highest waiting-cars × time-since-last-green score wins, ties going to the road that has waited
// longer. A road nobody waits on scores zero and is never granted.
func (w *World) schedule() int {
	grants := 0
	for _, in := range w.intersections {
		if w.anyGreen(in) {
			continue
		}
		var best *TrafficLight
		bestScore := 0.0
		for _, id := range in.Roads {
			r := w.roads[id]
			if r == nil || r.Light == nil {
				continue
			}
			if w.greenElsewhere(id, in) {
				continue
			}
			l := r.Light
			score := float64(len(l.WaitingCars)) * (w.now - l.LastGreen)
			if score <= 0 {
				continue
			}
			if best == nil || score > bestScore || (score == bestScore && l.LastGreen < best.LastGreen) {
				best, bestScore = l, score
			}
		}
		if best != nil {
			best.GreenLeft = float64(len(best.WaitingCars)) + greenBase
			best.LastGreen = w.now
			grants++
		}
	}
	return grants
}

func (w *World) anyGreen(in *Intersection) bool {
	for _, id := range in.Roads {
		if r := w.roads[id]; r != nil && r.Light != nil && r.Light.Green() {
			return true
		}
	}
	return false
}

// greenElsewhere reports whether another intersection holding id already shows green.
func (w *World) greenElsewhere(id string, self *Intersection) bool {
	for _, in := range w.intersections {
		if in != self && in.Has(id) && w.anyGreen(in) {
			return true
		}
	}
	return false
}
