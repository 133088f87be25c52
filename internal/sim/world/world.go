package world

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"trafficsim.dev/internal/debugflags"
	"trafficsim.dev/internal/persistence/snapshot"
	"trafficsim.dev/internal/sim/geom"
)

type Config struct {
	TickPeriod    time.Duration
	SpawnInterval float64 // seconds
	SpawnAttempts int
	CarVariants   []string
	Seed          int64

	SnapshotEveryTicks int
}

func DefaultConfig() Config {
	return Config{
		TickPeriod:    40 * time.Millisecond,
		SpawnInterval: 2,
		SpawnAttempts: 200,
		CarVariants:   []string{"Car1", "Car2", "Car3", "Car4", "GuitarCar"},
		Seed:          time.Now().UnixNano(),
	}
}

// Capabilities is the read-only view of identity permissions the tick consults when it decides
// which player cars may stay. Identities it does not know keep their cars.
type Capabilities interface {
	MayPlace(identity string) bool
}

var ErrNameCollision = errors.New("world: car name already in use")

type Option func(*World)

func WithCapabilities(c Capabilities) Option { return func(w *World) { w.caps = c } }
func WithLogger(l *log.Logger) Option        { return func(w *World) { w.logger = l } }
func WithDebug(d *debugflags.Set) Option     { return func(w *World) { w.debug = d } }
func WithRand(r *rand.Rand) Option           { return func(w *World) { w.rng = r } }

// WithIDs replaces the road id generator.
func WithIDs(next func() string) Option { return func(w *World) { w.newID = next } }

// WithTickObserver is called on the loop goroutine after every tick driven by Run.
func WithTickObserver(fn func(TickStats)) Option { return func(w *World) { w.onTick = fn } }

// World is the single authoritative simulation.
// All state must be accessed only from the world loop goroutine, or before Run starts.
type World struct {
	cfg    Config
	caps   Capabilities
	logger *log.Logger
	debug  *debugflags.Set
	rng    *rand.Rand
	newID  func() string
	onTick func(TickStats)

	roads   map[string]*Road
	roadIDs []string // insertion order

	cars     []*Car
	carIndex map[string]int

	intersections []*Intersection

	tick             uint64
	now              float64 // simulation seconds
	timeUntilNextCar float64
	spawnInterval    float64
	carCount         uint64

	exec         chan execReq
	stateReq     chan stateReq
	stop         chan struct{}
	snapshotSink chan<- snapshot.SnapshotV1
}

func New(cfg Config, opts ...Option) *World {
	def := DefaultConfig()
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = def.TickPeriod
	}
	if !(cfg.SpawnInterval > 0) {
		cfg.SpawnInterval = def.SpawnInterval
	}
	if cfg.SpawnAttempts <= 0 {
		cfg.SpawnAttempts = def.SpawnAttempts
	}
	if len(cfg.CarVariants) == 0 {
		cfg.CarVariants = def.CarVariants
	}
	w := &World{
		cfg:           cfg,
		newID:         uuid.NewString,
		roads:         map[string]*Road{},
		carIndex:      map[string]int{},
		spawnInterval: cfg.SpawnInterval,
		exec:          make(chan execReq, 64),
		stateReq:      make(chan stateReq, 64),
		stop:          make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = log.New(os.Stderr, "[world] ", log.LstdFlags)
	}
	if w.rng == nil {
		w.rng = rand.New(rand.NewSource(cfg.Seed))
	}
	return w
}

func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

// TickStats summarizes one Step.
type TickStats struct {
	Tick uint64
	Now  float64
	Dt   float64

	Cars          int
	Roads         int
	Intersections int

	Spawned       int
	Crashed       int
	Removed       int
	Grants        int
	RouteSearches int
	RouteFailures int
	Faults        int

	Duration time.Duration
}

// Step advances the world by dt seconds.
func (w *World) Step(dt float64) TickStats {
	if !(dt >= 0) || math.IsInf(dt, 0) {
		dt = 0
	}
	w.tick++
	w.now += dt
	st := TickStats{Tick: w.tick, Dt: dt}

	w.decayLights(dt)
	w.PruneDanglingConnections()
	w.control(dt, &st)
	w.filterCars(&st)
	st.Grants = w.schedule()
	if w.spawn(dt) {
		st.Spawned = 1
	}

	st.Now = w.now
	st.Cars = len(w.cars)
	st.Roads = len(w.roadIDs)
	st.Intersections = len(w.intersections)
	return st
}

func (w *World) Tick() uint64      { return w.tick }
func (w *World) Now() float64      { return w.now }
func (w *World) CarCount() int     { return len(w.cars) }
func (w *World) RoadIDs() []string { return append([]string(nil), w.roadIDs...) }

// Road returns the live road; callers must not keep it past the current loop turn.
func (w *World) Road(id string) *Road { return w.roads[id] }

// Car returns the live car by name.
func (w *World) Car(name string) *Car {
	if i, ok := w.carIndex[name]; ok {
		return w.cars[i]
	}
	return nil
}

func (w *World) Intersections() []Intersection {
	out := make([]Intersection, 0, len(w.intersections))
	for _, in := range w.intersections {
		out = append(out, Intersection{Roads: append([]string(nil), in.Roads...)})
	}
	return out
}

// decayLights counts green phases down and clears last tick's waiting lists.
func (w *World) decayLights(dt float64) {
	for _, id := range w.roadIDs {
		l := w.roads[id].Light
		if l == nil {
			continue
		}
		l.WaitingCars = l.WaitingCars[:0]
		if l.GreenLeft > 0 {
			l.GreenLeft -= dt
			if l.GreenLeft <= 0 {
				l.GreenLeft = 0
			}
		}
	}
}

// PruneDanglingConnections drops connected_to entries that name missing roads.
func (w *World) PruneDanglingConnections() {
	for _, id := range w.roadIDs {
		r := w.roads[id]
		kept := r.ConnectedTo[:0]
		for _, c := range r.ConnectedTo {
			if _, ok := w.roads[c]; ok {
				kept = append(kept, c)
			}
		}
		r.ConnectedTo = kept
	}
}

// UpsertCar inserts a live car and returns its name. A car without a name gets the next free
// Car<N>. Fade above 1 is clamped; a car with no fade left is rejected.
func (w *World) UpsertCar(c *Car) (string, error) { return w.insertCar(c, "Car") }

func (w *World) insertCar(c *Car, prefix string) (string, error) {
	if c == nil {
		return "", badRequest("car is required")
	}
	if !c.Pos.IsFinite() || !geom.IsFinite(c.Rot, c.Speed, c.Accel, c.Steering, c.MaxSpeed, c.BrakeStrength, c.Fade) {
		return "", badRequest("car has non-finite fields")
	}
	if c.Fade <= 0 {
		return "", badRequest("car %q has faded out", c.Name)
	}
	if c.Name != "" {
		if _, ok := w.carIndex[c.Name]; ok {
			return "", ErrNameCollision
		}
	} else {
		c.Name = w.nextName(prefix)
	}
	c.Fade = math.Min(c.Fade, 1)
	w.carIndex[c.Name] = len(w.cars)
	w.cars = append(w.cars, c)
	return c.Name, nil
}

// RemoveCar deletes a car immediately.
func (w *World) RemoveCar(name string) bool {
	i, ok := w.carIndex[name]
	if !ok {
		return false
	}
	w.cars = append(w.cars[:i], w.cars[i+1:]...)
	w.reindexCars()
	return true
}

func (w *World) reindexCars() {
	clear(w.carIndex)
	for i, c := range w.cars {
		w.carIndex[c.Name] = i
	}
}

// nextName returns the first unused <prefix><N>, advancing the counter past names already taken.
func (w *World) nextName(prefix string) string {
	for {
		name := fmt.Sprintf("%s%d", prefix, w.carCount)
		w.carCount++
		if _, taken := w.carIndex[name]; !taken {
			return name
		}
	}
}

// filterCars drops faded cars, cars whose holder lost the place permission and every car whose
// name is shared with another.
func (w *World) filterCars(st *TickStats) {
	seen := make(map[string]int, len(w.cars))
	for _, c := range w.cars {
		seen[c.Name]++
	}
	kept := w.cars[:0]
	for _, c := range w.cars {
		switch {
		case seen[c.Name] > 1, c.Fade <= 0:
		case w.caps != nil && c.holder() != "" && !w.caps.MayPlace(c.holder()):
		default:
			kept = append(kept, c)
			continue
		}
		st.Removed++
	}
	for i := len(kept); i < len(w.cars); i++ {
		w.cars[i] = nil
	}
	w.cars = kept
	w.reindexCars()
}

func (w *World) debugf(category, format string, args ...any) {
	if w.debug.On(category) {
		w.logger.Printf(format, args...)
	}
}
