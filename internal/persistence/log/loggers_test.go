package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trafficsim.dev/internal/sim/world"
)

func TestTickLogger_WritesCompressedJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for i := uint64(1); i <= 3; i++ {
		st := world.TickStats{Tick: i, Now: float64(i) * 0.04, Cars: int(i), Duration: 1500 * time.Microsecond}
		if err := l.WriteTick(TickEntryFrom(st)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []TickEntry
	err := Scan(filepath.Join(dir, "events"), "events", func(line []byte) error {
		var e TickEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries=%d want 3", len(got))
	}
	if got[2].Tick != 3 || got[2].Cars != 3 || got[2].DurationUS != 1500 {
		t.Fatalf("last entry: %+v", got[2])
	}
}

func TestAuditLogger_WriteAfterCloseIsIgnored(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	_ = l.WriteAudit(AuditEntry{Actor: "1.2.3.4", Kind: "rbuild", Args: []string{"0", "0", "1", "1"}, Outcome: "ok"})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = l.WriteAudit(AuditEntry{Actor: "late", Kind: "rrm", Outcome: "ok"})
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	var actors []string
	err := Scan(filepath.Join(dir, "audit"), "audit", func(line []byte) error {
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		actors = append(actors, e.Actor)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(actors) != 1 || actors[0] != "1.2.3.4" {
		t.Fatalf("actors=%v", actors)
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	at := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, name := range []string{"x-2024-05-01-10.jsonl.zst", "x-2024-05-01-11.jsonl.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}

	n := 0
	if err := Scan(dir, "x", func([]byte) error { n++; return nil }); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 {
		t.Fatalf("lines=%d want 2", n)
	}
}

func TestJSONLZstdWriter_ReopenAppendsFrame(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "x")
		w.now = func() time.Time { return at }
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	n := 0
	if err := Scan(dir, "x", func([]byte) error { n++; return nil }); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 {
		t.Fatalf("lines=%d want 2", n)
	}
}
