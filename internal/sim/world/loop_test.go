package world

import (
	"context"
	"errors"
	"testing"
	"time"

	"trafficsim.dev/internal/persistence/snapshot"
	"trafficsim.dev/internal/protocol"
	"trafficsim.dev/internal/sim/geom"
)

func runWorld(t *testing.T, w *World) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("world loop did not stop")
		}
	}
}

func TestExec_RunsOnLoop(t *testing.T) {
	w := newTestWorld(t)
	defer runWorld(t, w)()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var id string
	err := w.Exec(ctx, func(w *World) error {
		var err error
		id, err = w.BuildRoad(geom.Vec2{}, geom.Vec2{X: 5})
		return err
	})
	if err != nil || id == "" {
		t.Fatalf("Exec: id=%q err=%v", id, err)
	}

	sentinel := errors.New("nope")
	if err := w.Exec(ctx, func(*World) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("Exec error=%v", err)
	}

	err = w.Exec(ctx, func(*World) error { panic("boom") })
	if commandCode(err) != protocol.ErrInternal {
		t.Fatalf("panic not turned into an internal error: %v", err)
	}

	doc, err := w.RequestState(ctx)
	if err != nil || len(doc.Roads) != 1 || doc.Roads[0].ID != id {
		t.Fatalf("RequestState: %+v %v", doc, err)
	}
	if _, err := w.RequestDocument(ctx); err != nil {
		t.Fatalf("RequestDocument: %v", err)
	}
}

func TestRun_TicksAndSnapshots(t *testing.T) {
	ticks := make(chan TickStats, 64)
	w := newTestWorld(t, WithTickObserver(func(st TickStats) {
		select {
		case ticks <- st:
		default:
		}
	}))
	w.cfg.TickPeriod = 5 * time.Millisecond
	w.cfg.SnapshotEveryTicks = 1
	sink := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink(sink)
	defer runWorld(t, w)()

	select {
	case st := <-ticks:
		if st.Tick == 0 || st.Duration < 0 {
			t.Fatalf("stats=%+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick observed")
	}
	select {
	case s := <-sink:
		if s.Header.Version != snapshot.Version || s.Header.Tick == 0 {
			t.Fatalf("snapshot header=%+v", s.Header)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot")
	}
}

func TestStop(t *testing.T) {
	w := newTestWorld(t)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	if err := w.Exec(context.Background(), func(*World) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Exec after stop=%v", err)
	}
}
