package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ConfigFile(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tu.TickMs != 40 || tu.BroadcastMs != 100 {
		t.Fatalf("periods: tick=%d broadcast=%d", tu.TickMs, tu.BroadcastMs)
	}
	if tu.SpawnAttempts != 200 || tu.SpawnIntervalS != 2 {
		t.Fatalf("spawner: %+v", tu)
	}
	if len(tu.CarVariants) != 5 || tu.CarVariants[4] != "GuitarCar" {
		t.Fatalf("variants=%v", tu.CarVariants)
	}
	if len(tu.Users) != 1 || tu.Users[0].IP != "::1" || len(tu.Users[0].Grant) != 3 {
		t.Fatalf("users=%+v", tu.Users)
	}
	if tu.TickPeriod().Milliseconds() != 40 {
		t.Fatalf("TickPeriod=%v", tu.TickPeriod())
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	tu, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickMs != Defaults().TickMs || len(tu.CarVariants) == 0 {
		t.Fatalf("expected defaults, got %+v", tu)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("spawn_interval_s: -1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected validation error")
	}

	if err := os.WriteFile(p, []byte("tick_ms: [\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNormalize_EmptyVariantsFallBack(t *testing.T) {
	tu := Defaults()
	tu.CarVariants = []string{" ", ""}
	tu.Normalize()
	if len(tu.CarVariants) != len(Defaults().CarVariants) {
		t.Fatalf("variants=%v", tu.CarVariants)
	}
}
