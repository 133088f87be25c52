package world

import (
	"trafficsim.dev/internal/sim/geom"
)

// Defaults for newly built roads and cars.
const (
	RoadWidth    = 1.5
	RoadSpeedRec = 5.0

	DefaultImg           = "Car1"
	DefaultMaxSpeed      = 6.0
	DefaultBrakeStrength = 0.2

	AutonomousMaxSpeed = 8.0
	PoliceImg          = "CarPolis"
	PoliceMaxSpeed     = 10.0
	PoliceBrake        = 0.1
)

type Road struct {
	ID          string
	Width       float64
	Start       geom.Vec2
	End         geom.Vec2
	ConnectedTo []string
	SpeedRec    float64
	Light       *TrafficLight
}

func (r *Road) Length() float64  { return geom.Distance(r.Start, r.End) }
func (r *Road) Heading() float64 { return geom.Heading(r.Start, r.End) }

func (r *Road) ConnectsTo(id string) bool {
	for _, c := range r.ConnectedTo {
		if c == id {
			return true
		}
	}
	return false
}

type TrafficLight struct {
	Offset float64
	At     float64

	GreenLeft float64 // seconds, never negative
	LastGreen float64 // simulation time of the last grant

	// Names of the cars waiting on this road, rebuilt every tick.
	WaitingCars []string
}

func (l *TrafficLight) Green() bool { return l.GreenLeft > 0 }

// Intersection is a set of light-bearing roads that are never green together.
type Intersection struct {
	Roads []string
}

func (in *Intersection) Has(id string) bool {
	for _, r := range in.Roads {
		if r == id {
			return true
		}
	}
	return false
}

// Driver says who is steering a car. A nil Driver is an idle car.
type Driver interface {
	driver()
}

// AIState drives an autonomous car along a route.
type AIState struct {
	// RoadQueue is the remaining route; the first element is the road being followed.
	RoadQueue   []string
	Destination string
	Waiting     bool
}

// Player hands a car to an external identity.
type Player struct {
	ID string
}

func (*AIState) driver() {}
func (Player) driver()   {}

type Car struct {
	Name string
	Img  string
	Size float64

	Pos      geom.Vec2
	Rot      float64 // degrees
	Speed    float64
	Accel    float64
	Steering float64
	MaxSpeed float64

	HandBrakes    bool
	BrakeStrength float64

	Crashed  bool
	Fade     float64
	IsPolice bool
	NonFade  bool

	Driver Driver

	// Owner is the identity that asked for an autonomous car. It may remove the car and takes
	// the wheel once the route ends.
	Owner string
}

// NewCar returns a car with the default physical properties and no driver.
func NewCar(name string) *Car {
	return &Car{
		Name:          name,
		Img:           DefaultImg,
		MaxSpeed:      DefaultMaxSpeed,
		BrakeStrength: DefaultBrakeStrength,
		Fade:          1,
	}
}

// AI returns the autonomous state, or nil when the car is not autonomous.
func (c *Car) AI() *AIState {
	ai, _ := c.Driver.(*AIState)
	return ai
}

// ControlledBy returns the identity of the player driving the car, if any.
func (c *Car) ControlledBy() string {
	if p, ok := c.Driver.(Player); ok {
		return p.ID
	}
	return ""
}

// holder is the identity whose capabilities keep the car in the world.
func (c *Car) holder() string {
	if id := c.ControlledBy(); id != "" {
		return id
	}
	return c.Owner
}

// release drops the autonomous driver; an owned car goes back to its owner.
func (c *Car) release() {
	if c.Owner != "" {
		c.Driver = Player{ID: c.Owner}
		return
	}
	c.Driver = nil
}
