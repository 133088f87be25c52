package world

import (
	"reflect"
	"testing"

	"trafficsim.dev/internal/protocol"
	"trafficsim.dev/internal/sim/geom"
)

func TestBuildFlipRemoveRoad(t *testing.T) {
	w := newTestWorld(t)
	a := mustRoad(t, w, 0, 0, 10, 0)
	if a != "r1" {
		t.Fatalf("id=%q", a)
	}
	r := w.Road(a)
	if r.Width != RoadWidth || r.SpeedRec != RoadSpeedRec || r.ConnectedTo == nil || r.Light != nil {
		t.Fatalf("road=%+v", r)
	}
	if err := w.FlipRoad(a); err != nil {
		t.Fatalf("FlipRoad: %v", err)
	}
	if r.Start != (geom.Vec2{X: 10}) || r.End != (geom.Vec2{}) {
		t.Fatalf("flip: %+v -> %+v", r.Start, r.End)
	}
	if _, err := w.BuildRoad(geom.Vec2{}, geom.Vec2{X: 1 / zero()}); commandCode(err) != protocol.ErrBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}

	b := mustRoad(t, w, 10, 0, 20, 0)
	mustConnect(t, w, a, b)
	mustConnect(t, w, b, a)
	for _, id := range []string{a, b} {
		if err := w.AddLight(id); err != nil {
			t.Fatalf("AddLight: %v", err)
		}
	}
	if err := w.MergeIntersection(a, b); err != nil {
		t.Fatalf("MergeIntersection: %v", err)
	}
	if err := w.RemoveRoad(b); err != nil {
		t.Fatalf("RemoveRoad: %v", err)
	}
	if len(w.Road(a).ConnectedTo) != 0 {
		t.Fatalf("dangling connection: %v", w.Road(a).ConnectedTo)
	}
	if got := w.Intersections(); len(got) != 1 || !reflect.DeepEqual(got[0].Roads, []string{a}) {
		t.Fatalf("intersections=%v", got)
	}
	if err := w.RemoveRoad(b); commandCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("second remove: %v", err)
	}
	if !reflect.DeepEqual(w.RoadIDs(), []string{a}) {
		t.Fatalf("roads=%v", w.RoadIDs())
	}
}

func zero() float64 { return 0 }

func TestBuildRoad_DuplicateID(t *testing.T) {
	w := newTestWorld(t, WithIDs(func() string { return "same" }))
	mustRoad(t, w, 0, 0, 1, 0)
	if _, err := w.BuildRoad(geom.Vec2{}, geom.Vec2{X: 2}); commandCode(err) != protocol.ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestToggleConnection(t *testing.T) {
	w := newTestWorld(t)
	a := mustRoad(t, w, 0, 0, 10, 0)
	b := mustRoad(t, w, 10, 0, 20, 0)
	mustConnect(t, w, a, b)
	if !w.Road(a).ConnectsTo(b) {
		t.Fatalf("not connected")
	}
	mustConnect(t, w, a, b)
	if w.Road(a).ConnectsTo(b) {
		t.Fatalf("toggle did not disconnect")
	}
	if err := w.ToggleConnection(a, "ghost"); commandCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("expected invalid target, got %v", err)
	}
}

func TestLights(t *testing.T) {
	w := newTestWorld(t)
	a := mustRoad(t, w, 0, 0, 10, 0)
	if err := w.FlipLight(a); commandCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("flip on unlit road: %v", err)
	}
	if err := w.AddLight(a); err != nil {
		t.Fatalf("AddLight: %v", err)
	}
	l := w.Road(a).Light
	if l.Offset != 1 || l.At != 1 || l.Green() {
		t.Fatalf("light=%+v", l)
	}
	l.LastGreen = 7
	if err := w.AddLight(a); err != nil || w.Road(a).Light != l {
		t.Fatalf("AddLight replaced an existing light")
	}
	if err := w.FlipLight(a); err != nil || l.Offset != -1 {
		t.Fatalf("FlipLight: offset=%v err=%v", l.Offset, err)
	}
	if err := w.RemoveLight(a); err != nil || w.Road(a).Light != nil {
		t.Fatalf("RemoveLight: %v", err)
	}
	if err := w.RemoveLight(a); commandCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("second RemoveLight: %v", err)
	}
}

func TestIntersections_MergeSplitToggle(t *testing.T) {
	w := newTestWorld(t)
	ids := litRoads(t, w, 4)
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]

	if err := w.MergeIntersection(a, a); commandCode(err) != protocol.ErrBadRequest {
		t.Fatalf("self merge: %v", err)
	}
	plain := mustRoad(t, w, 0, 50, 10, 50)
	if err := w.MergeIntersection(a, plain); commandCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("merge with unlit road: %v", err)
	}

	if err := w.MergeIntersection(a, b); err != nil {
		t.Fatal(err)
	}
	if err := w.MergeIntersection(c, d); err != nil {
		t.Fatal(err)
	}
	w.Road(a).Light.GreenLeft = 3
	w.Road(c).Light.GreenLeft = 1
	if err := w.MergeIntersection(b, c); err != nil {
		t.Fatal(err)
	}
	got := w.Intersections()
	if len(got) != 1 || !reflect.DeepEqual(got[0].Roads, []string{a, b, c, d}) {
		t.Fatalf("intersections=%v", got)
	}
	if w.Road(a).Light.GreenLeft != 3 || w.Road(c).Light.Green() {
		t.Fatalf("merge kept two greens")
	}

	merged, err := w.ToggleIntersection(a, d)
	if err != nil || merged {
		t.Fatalf("toggle of joined pair: merged=%v err=%v", merged, err)
	}
	got = w.Intersections()
	if len(got) != 1 || !reflect.DeepEqual(got[0].Roads, []string{b, c}) {
		t.Fatalf("after split: %v", got)
	}
	merged, err = w.ToggleIntersection(a, d)
	if err != nil || !merged {
		t.Fatalf("toggle of separate pair: merged=%v err=%v", merged, err)
	}
	if got := w.Intersections(); len(got) != 2 {
		t.Fatalf("intersections=%v", got)
	}

	if err := w.SplitIntersection(b, c); err != nil {
		t.Fatal(err)
	}
	got = w.Intersections()
	if len(got) != 1 || !reflect.DeepEqual(got[0].Roads, []string{a, d}) {
		t.Fatalf("empty intersection not pruned: %v", got)
	}
	if err := w.RemoveLight(a); err != nil {
		t.Fatal(err)
	}
	got = w.Intersections()
	if len(got) != 1 || !reflect.DeepEqual(got[0].Roads, []string{d}) {
		t.Fatalf("after RemoveLight: %v", got)
	}
}

func TestSetSpawnInterval(t *testing.T) {
	w := newTestWorld(t)
	for _, v := range []float64{0, -1, 1 / zero()} {
		if err := w.SetSpawnInterval(v); commandCode(err) != protocol.ErrBadRequest {
			t.Fatalf("SetSpawnInterval(%v): %v", v, err)
		}
	}
	if err := w.SetSpawnInterval(0.25); err != nil || w.SpawnInterval() != 0.25 {
		t.Fatalf("SetSpawnInterval: %v", err)
	}
}

func TestPlayerCars(t *testing.T) {
	w := newTestWorld(t)
	name, err := w.CreatePlayerCar(protocol.CarSpec{Img: "Car3", Pos: geom.Vec2{X: 1, Y: 2}}, "p", false)
	if err != nil {
		t.Fatalf("CreatePlayerCar: %v", err)
	}
	c := w.Car(name)
	if c.Img != "Car3" || c.ControlledBy() != "p" || c.IsPolice {
		t.Fatalf("car=%+v", c)
	}

	police, err := w.CreatePlayerCar(protocol.CarSpec{Pos: geom.Vec2{X: 20}, IsPolice: true}, "p", true)
	if err != nil {
		t.Fatal(err)
	}
	if pc := w.Car(police); !pc.IsPolice || pc.Img != PoliceImg || pc.MaxSpeed != PoliceMaxSpeed || pc.BrakeStrength != PoliceBrake {
		t.Fatalf("police=%+v", pc)
	}
	fake, err := w.CreatePlayerCar(protocol.CarSpec{Img: PoliceImg, Pos: geom.Vec2{X: 40}, IsPolice: true}, "q", false)
	if err != nil {
		t.Fatal(err)
	}
	if fc := w.Car(fake); fc.IsPolice || fc.Img != DefaultImg {
		t.Fatalf("unauthorized police car: %+v", fc)
	}

	if n, err := w.Steer("p", 12); err != nil || n != 2 {
		t.Fatalf("Steer: n=%d err=%v", n, err)
	}
	if n, _ := w.Accelerate("p", 3); n != 2 || c.Accel != 3 {
		t.Fatalf("Accelerate: n=%d accel=%v", n, c.Accel)
	}
	if _, err := w.Accelerate("p", 1/zero()); commandCode(err) != protocol.ErrBadRequest {
		t.Fatalf("Accelerate(Inf): %v", err)
	}
	if n := w.Brake("q"); n != 1 || c.HandBrakes {
		t.Fatalf("Brake touched the wrong cars: n=%d", n)
	}
	if n := w.Brake("p"); n != 2 || !c.HandBrakes {
		t.Fatalf("Brake: n=%d", n)
	}
	w.Unbrake("p")
	if c.HandBrakes || c.Steering != 12 {
		t.Fatalf("car=%+v", c)
	}

	if err := w.RemovePlayerCar(name, "q"); commandCode(err) != protocol.ErrNoPermission {
		t.Fatalf("remove by stranger: %v", err)
	}
	if err := w.RemovePlayerCar(name, "p"); err != nil || w.Car(name) != nil {
		t.Fatalf("RemovePlayerCar: %v", err)
	}
	if err := w.RemovePlayerCar(name, "p"); commandCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("remove missing: %v", err)
	}
}

func TestClaimAndAutonomousCars(t *testing.T) {
	w := newTestWorld(t)
	a := mustRoad(t, w, 0, 0, 10, 0)
	b := mustRoad(t, w, 10, 0, 20, 0)
	mustConnect(t, w, a, b)

	if _, err := w.CreateAutonomousCar(a, "ghost", "p"); commandCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("bad destination: %v", err)
	}
	name, err := w.CreateAutonomousCar(a, b, "p")
	if err != nil {
		t.Fatal(err)
	}
	c := w.Car(name)
	if c.Owner != "p" || c.AI() == nil || c.AI().Destination != b {
		t.Fatalf("car=%+v", c)
	}
	if c.ControlledBy() != "" {
		t.Fatalf("autonomous car has a controller")
	}

	if err := w.RemovePlayerCar(name, "q"); commandCode(err) != protocol.ErrNoPermission {
		t.Fatalf("remove by stranger: %v", err)
	}
	if err := w.Claim(name, "q"); err != nil {
		t.Fatal(err)
	}
	if c.ControlledBy() != "q" || c.AI() != nil {
		t.Fatalf("claim: driver=%#v", c.Driver)
	}
	if err := w.Claim("ghost", "q"); commandCode(err) != protocol.ErrInvalidTarget {
		t.Fatalf("claim missing: %v", err)
	}
	// The owner may still remove a car someone else took over.
	if err := w.RemovePlayerCar(name, "p"); err != nil {
		t.Fatalf("owner remove: %v", err)
	}
}
