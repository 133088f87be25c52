package world

import (
	"reflect"
	"testing"
)

func TestSpawn_NeedsEntryAndExit(t *testing.T) {
	w := newTestWorld(t)
	w.timeUntilNextCar = 0
	if w.spawn(0.1) {
		t.Fatalf("spawned with no roads")
	}

	// A loop has no entry road.
	a := mustRoad(t, w, 0, 0, 10, 0)
	b := mustRoad(t, w, 10, 0, 0, 0)
	mustConnect(t, w, a, b)
	mustConnect(t, w, b, a)
	w.timeUntilNextCar = 0
	if w.spawn(0.1) {
		t.Fatalf("spawned with no entry road")
	}
	if w.timeUntilNextCar != w.SpawnInterval() {
		t.Fatalf("timer not reset after a failed spawn: %v", w.timeUntilNextCar)
	}

	// An entry feeding a loop has no exit.
	c := mustRoad(t, w, -10, 0, 0, 0)
	mustConnect(t, w, c, a)
	w.timeUntilNextCar = 0
	if w.spawn(0.1) {
		t.Fatalf("spawned with no exit road")
	}
	if w.CarCount() != 0 {
		t.Fatalf("cars=%d", w.CarCount())
	}
}

func TestSpawn_PlacesCarOnEntryBoundForExit(t *testing.T) {
	w := newTestWorld(t)
	a := mustRoad(t, w, 0, 0, 0, 10)
	b := mustRoad(t, w, 0, 10, 10, 10)
	mustConnect(t, w, a, b)
	w.timeUntilNextCar = 0

	if !w.spawn(0.1) {
		t.Fatalf("spawn failed")
	}
	c := w.Car("Car0")
	if c == nil {
		t.Fatalf("no Car0")
	}
	if c.Pos != w.Road(a).Start || c.Rot != 90 || c.MaxSpeed != AutonomousMaxSpeed {
		t.Fatalf("car=%+v", c)
	}
	ai := c.AI()
	if ai == nil || !reflect.DeepEqual(ai.RoadQueue, []string{a}) || ai.Destination != b {
		t.Fatalf("ai=%+v", ai)
	}
	wantSize := 1.0
	if c.Img == "GuitarCar" {
		wantSize = 2
	}
	if c.Size != wantSize {
		t.Fatalf("img=%s size=%v", c.Img, c.Size)
	}

	// The entry is now blocked by Car0.
	w.timeUntilNextCar = 0
	if w.spawn(0.1) {
		t.Fatalf("spawned on top of another car")
	}
}

func TestSpawn_Timer(t *testing.T) {
	w := newTestWorld(t)
	a := mustRoad(t, w, 0, 0, 10, 0)
	b := mustRoad(t, w, 10, 0, 20, 0)
	mustConnect(t, w, a, b)
	w.timeUntilNextCar = 2

	if w.spawn(1) {
		t.Fatalf("spawned early")
	}
	if w.timeUntilNextCar != 1 {
		t.Fatalf("timer=%v", w.timeUntilNextCar)
	}
	if !w.spawn(1) {
		t.Fatalf("did not spawn when the timer ran out")
	}
	if w.timeUntilNextCar != 2 {
		t.Fatalf("timer=%v want reset to 2", w.timeUntilNextCar)
	}

	if err := w.SetSpawnInterval(0.5); err != nil {
		t.Fatalf("SetSpawnInterval: %v", err)
	}
	w.RemoveCar("Car0")
	w.timeUntilNextCar = 0
	st := w.Step(0.1)
	if st.Spawned != 1 || w.timeUntilNextCar != 0.5 {
		t.Fatalf("spawned=%d timer=%v", st.Spawned, w.timeUntilNextCar)
	}
}
