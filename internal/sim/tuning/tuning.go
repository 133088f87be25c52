package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickMs      int `yaml:"tick_ms"`
	BroadcastMs int `yaml:"broadcast_ms"`

	SpawnIntervalS float64  `yaml:"spawn_interval_s"`
	SpawnAttempts  int      `yaml:"spawn_attempts"`
	CarVariants    []string `yaml:"car_variants"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	TickLogEveryTicks  int `yaml:"tick_log_every_ticks"`

	Users []UserSpec `yaml:"users,omitempty"`
}

// UserSpec seeds an identity with permissions on top of the defaults.
type UserSpec struct {
	IP    string   `yaml:"ip"`
	Name  string   `yaml:"name"`
	Grant []string `yaml:"grant"`
}

func Defaults() Tuning {
	return Tuning{
		TickMs:             40,
		BroadcastMs:        100,
		SpawnIntervalS:     2,
		SpawnAttempts:      200,
		CarVariants:        []string{"Car1", "Car2", "Car3", "Car4", "GuitarCar"},
		SnapshotEveryTicks: 1500,
		TickLogEveryTicks:  25,
	}
}

// Load reads a tuning file over the defaults. A missing file yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	variants := t.CarVariants[:0]
	for _, v := range t.CarVariants {
		if v = strings.TrimSpace(v); v != "" {
			variants = append(variants, v)
		}
	}
	t.CarVariants = variants
	if len(t.CarVariants) == 0 {
		t.CarVariants = Defaults().CarVariants
	}
	for i := range t.Users {
		t.Users[i].IP = strings.TrimSpace(t.Users[i].IP)
	}
}

func (t Tuning) Validate() error {
	if t.TickMs <= 0 {
		return fmt.Errorf("tick_ms must be > 0")
	}
	if t.BroadcastMs <= 0 {
		return fmt.Errorf("broadcast_ms must be > 0")
	}
	if math.IsNaN(t.SpawnIntervalS) || math.IsInf(t.SpawnIntervalS, 0) || t.SpawnIntervalS <= 0 {
		return fmt.Errorf("spawn_interval_s must be > 0")
	}
	if t.SpawnAttempts <= 0 {
		return fmt.Errorf("spawn_attempts must be > 0")
	}
	if t.SnapshotEveryTicks < 0 || t.TickLogEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks and tick_log_every_ticks must be >= 0")
	}
	for _, u := range t.Users {
		if u.IP == "" {
			return fmt.Errorf("user %q has empty ip", u.Name)
		}
	}
	return nil
}

func (t Tuning) TickPeriod() time.Duration      { return time.Duration(t.TickMs) * time.Millisecond }
func (t Tuning) BroadcastPeriod() time.Duration { return time.Duration(t.BroadcastMs) * time.Millisecond }
