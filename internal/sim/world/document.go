package world

import (
	"fmt"
	"math"

	"trafficsim.dev/internal/persistence/snapshot"
	"trafficsim.dev/internal/protocol"
	"trafficsim.dev/internal/sim/geom"
)

// Document copies the world into its wire form. The persisted form keeps only the offset and
// phase of each traffic light; the live form adds the runtime fields.
func (w *World) Document(live bool) protocol.Document {
	doc := protocol.Document{
		Roads:            make([]protocol.RoadMsg, 0, len(w.roadIDs)),
		Cars:             make([]protocol.CarMsg, 0, len(w.cars)),
		Intersections:    make([]protocol.IntersectionMsg, 0, len(w.intersections)),
		TimeUntilNextCar: w.timeUntilNextCar,
	}
	for _, id := range w.roadIDs {
		doc.Roads = append(doc.Roads, roadMsg(w.roads[id], live))
	}
	for _, c := range w.cars {
		doc.Cars = append(doc.Cars, carMsg(c))
	}
	for _, in := range w.intersections {
		doc.Intersections = append(doc.Intersections, protocol.IntersectionMsg{Roads: append([]string{}, in.Roads...)})
	}
	return doc
}

func roadMsg(r *Road, live bool) protocol.RoadMsg {
	m := protocol.RoadMsg{
		ID:          r.ID,
		Width:       r.Width,
		Start:       r.Start,
		End:         r.End,
		ConnectedTo: append([]string{}, r.ConnectedTo...),
		SpeedRec:    r.SpeedRec,
	}
	if l := r.Light; l != nil {
		m.TrafficLight = &protocol.TrafficLightMsg{Offset: l.Offset, At: l.At}
		if live {
			green, last := l.GreenLeft, l.LastGreen
			m.TrafficLight.GreenLeft = &green
			m.TrafficLight.LastGreen = &last
			m.TrafficLight.WaitingCars = append([]string{}, l.WaitingCars...)
		}
	}
	return m
}

func carMsg(c *Car) protocol.CarMsg {
	m := protocol.CarMsg{
		Name:          c.Name,
		Img:           c.Img,
		Size:          c.Size,
		Pos:           c.Pos,
		Rot:           c.Rot,
		Speed:         c.Speed,
		Accel:         c.Accel,
		Steering:      c.Steering,
		MaxSpeed:      c.MaxSpeed,
		HandBreaks:    c.HandBrakes,
		BreakStrength: c.BrakeStrength,
		Crashed:       c.Crashed,
		Fade:          c.Fade,
		IsPolice:      c.IsPolice,
		NonFade:       c.NonFade,
		Owner:         c.Owner,
	}
	switch d := c.Driver.(type) {
	case *AIState:
		m.AI = &protocol.AIMsg{
			RoadQueue:   append([]string{}, d.RoadQueue...),
			Destination: d.Destination,
			Waiting:     d.Waiting,
		}
	case Player:
		m.ControlledBy = d.ID
	}
	return m
}

// LoadDocument replaces the world's contents. Nothing changes if the document is rejected.
//
// Cars whose names clash are kept here and dropped by the next tick. A car carrying both an
// autonomous state and a controller is handed to the controller.
func (w *World) LoadDocument(doc protocol.Document) error {
	roads := make(map[string]*Road, len(doc.Roads))
	ids := make([]string, 0, len(doc.Roads))
	for _, m := range doc.Roads {
		if m.ID == "" {
			return badRequest("road without id")
		}
		if _, dup := roads[m.ID]; dup {
			return badRequest("duplicate road id %q", m.ID)
		}
		if !m.Start.IsFinite() || !m.End.IsFinite() || !geom.IsFinite(m.Width, m.SpeedRec) {
			return badRequest("road %q has non-finite fields", m.ID)
		}
		r := &Road{
			ID:          m.ID,
			Width:       m.Width,
			Start:       m.Start,
			End:         m.End,
			ConnectedTo: append([]string{}, m.ConnectedTo...),
			SpeedRec:    m.SpeedRec,
		}
		if l := m.TrafficLight; l != nil {
			r.Light = &TrafficLight{Offset: l.Offset, At: l.At}
			if l.GreenLeft != nil && *l.GreenLeft > 0 {
				r.Light.GreenLeft = *l.GreenLeft
			}
			if l.LastGreen != nil {
				r.Light.LastGreen = *l.LastGreen
			}
			r.Light.WaitingCars = append([]string(nil), l.WaitingCars...)
		}
		roads[m.ID] = r
		ids = append(ids, m.ID)
	}

	cars := make([]*Car, 0, len(doc.Cars))
	for i, m := range doc.Cars {
		c := &Car{
			Name:          m.Name,
			Img:           m.Img,
			Size:          m.Size,
			Pos:           m.Pos,
			Rot:           m.Rot,
			Speed:         m.Speed,
			Accel:         m.Accel,
			Steering:      m.Steering,
			MaxSpeed:      m.MaxSpeed,
			HandBrakes:    m.HandBreaks,
			BrakeStrength: m.BreakStrength,
			Crashed:       m.Crashed,
			Fade:          m.Fade,
			IsPolice:      m.IsPolice,
			NonFade:       m.NonFade,
			Owner:         m.Owner,
		}
		if !c.Pos.IsFinite() || !geom.IsFinite(c.Rot, c.Speed, c.Accel, c.Steering, c.MaxSpeed, c.BrakeStrength, c.Fade) {
			return badRequest("car %d (%q) has non-finite fields", i, m.Name)
		}
		if c.Fade <= 0 {
			continue // already gone
		}
		c.Fade = math.Min(c.Fade, 1)
		switch {
		case m.ControlledBy != "":
			c.Driver = Player{ID: m.ControlledBy}
		case m.AI != nil:
			c.Driver = &AIState{
				RoadQueue:   append([]string{}, m.AI.RoadQueue...),
				Destination: m.AI.Destination,
				Waiting:     m.AI.Waiting,
			}
		}
		cars = append(cars, c)
	}

	inters := make([]*Intersection, 0, len(doc.Intersections))
	for _, m := range doc.Intersections {
		in := &Intersection{}
		for _, id := range m.Roads {
			if _, ok := roads[id]; ok && !in.Has(id) {
				in.Roads = append(in.Roads, id)
			}
		}
		if len(in.Roads) > 0 {
			inters = append(inters, in)
		}
	}

	w.roads = roads
	w.roadIDs = ids
	w.cars = cars
	w.intersections = inters
	w.timeUntilNextCar = doc.TimeUntilNextCar
	w.reindexCars()
	for _, c := range cars {
		if c.Name == "" {
			c.Name = w.nextName("Car")
			w.carIndex[c.Name] = 0
		}
	}
	w.reindexCars()
	return nil
}

// ExportSnapshot captures the live state for the periodic snapshot writer.
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			Tick:    w.tick,
			SimTime: w.now,
			Cars:    len(w.cars),
			Roads:   len(w.roadIDs),
		},
		SpawnInterval: w.spawnInterval,
		CarCounter:    w.carCount,
		World:         w.Document(true),
	}
}

// ImportSnapshot resumes from a snapshot written by ExportSnapshot.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("snapshot version %d not supported", s.Header.Version)
	}
	if err := w.LoadDocument(s.World); err != nil {
		return err
	}
	w.tick = s.Header.Tick
	w.now = s.Header.SimTime
	if s.SpawnInterval > 0 {
		w.spawnInterval = s.SpawnInterval
	}
	if s.CarCounter > w.carCount {
		w.carCount = s.CarCounter
	}
	return nil
}
