package protocol

import "trafficsim.dev/internal/sim/geom"

// Document is the world as it is saved to disk and broadcast to viewers.
//
// The persisted form leaves the runtime fields of traffic lights unset; the live form carries them.
type Document struct {
	Roads            []RoadMsg         `json:"roads"`
	Cars             []CarMsg          `json:"cars"`
	Intersections    []IntersectionMsg `json:"intersections"`
	TimeUntilNextCar float64           `json:"timeUntilNextCar"`
}

type RoadMsg struct {
	ID           string           `json:"id"`
	Width        float64          `json:"width"`
	Start        geom.Vec2        `json:"start"`
	End          geom.Vec2        `json:"end"`
	ConnectedTo  []string         `json:"connected_to"`
	SpeedRec     float64          `json:"speed_rec"`
	TrafficLight *TrafficLightMsg `json:"traffic_light,omitempty"`
}

type TrafficLightMsg struct {
	Offset float64 `json:"offset"`
	At     float64 `json:"at"`

	// Runtime only.
	GreenLeft   *float64 `json:"green_left,omitempty"`
	LastGreen   *float64 `json:"last_green,omitempty"`
	WaitingCars []string `json:"waiting_cars,omitempty"`
}

type IntersectionMsg struct {
	Roads []string `json:"roads"`
}

type CarMsg struct {
	Name          string    `json:"name"`
	Img           string    `json:"img"`
	Size          float64   `json:"size,omitempty"`
	Pos           geom.Vec2 `json:"pos"`
	Rot           float64   `json:"rot"`
	Speed         float64   `json:"speed"`
	Accel         float64   `json:"accel"`
	Steering      float64   `json:"steering"`
	MaxSpeed      float64   `json:"maxSpeed"`
	HandBreaks    bool      `json:"hand_breaks"`
	BreakStrength float64   `json:"break_strength"`
	Crashed       bool      `json:"crashed"`
	Fade          float64   `json:"fade"`
	IsPolice      bool      `json:"is_police"`
	NonFade       bool      `json:"non_fade,omitempty"`
	AI            *AIMsg    `json:"ai,omitempty"`
	ControlledBy  string    `json:"controlled_by,omitempty"`
	Owner         string    `json:"owner,omitempty"`
}

type AIMsg struct {
	RoadQueue   []string `json:"road_queue"`
	Destination string   `json:"destination"`
	Waiting     bool     `json:"waiting"`
}

// CarSpec is the payload of the create frame.
type CarSpec struct {
	Img      string    `json:"img"`
	Pos      geom.Vec2 `json:"pos"`
	IsPolice bool      `json:"is_police"`
}

// StateMsg is what a connected client receives every broadcast interval.
type StateMsg struct {
	Document
	You    YouMsg     `json:"you"`
	Others []OtherMsg `json:"others"`
}

type YouMsg struct {
	IP   string  `json:"ip"`
	Info YouInfo `json:"info"`
}

type YouInfo struct {
	LoggedIn bool     `json:"loggedIn"`
	Perms    []string `json:"perms"`
}

type OtherMsg struct {
	IP   string `json:"ip"`
	Name string `json:"name"`
}
