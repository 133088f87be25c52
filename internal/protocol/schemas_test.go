package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"trafficsim.dev/internal/protocol"
	"trafficsim.dev/internal/sim/geom"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	// Round-trips a Go value through JSON so the schema sees what the wire sees.
	asJSON := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	docSchema := compile("document.schema.json")
	stateSchema := compile("state.schema.json")
	replySchema := compile("reply.schema.json")

	var legacy any
	_ = json.Unmarshal([]byte(`{
	  "roads":[
	    {"id":"r1","width":1.5,"start":{"x":0,"y":0},"end":{"x":10,"y":0},"connected_to":["r2"],"speed_rec":5,
	     "traffic_light":{"offset":1,"at":1}},
	    {"id":"r2","width":1.5,"start":{"x":10,"y":0},"end":{"x":10,"y":10},"connected_to":[],"speed_rec":5}
	  ],
	  "intersections":[{"roads":["r1","r2"]}]
	}`), &legacy)
	validate(docSchema, legacy)

	green := 3.0
	last := 12.5
	state := protocol.StateMsg{
		Document: protocol.Document{
			Roads: []protocol.RoadMsg{{
				ID:          "r1",
				Width:       1.5,
				Start:       geom.Vec2{},
				End:         geom.Vec2{X: 10},
				ConnectedTo: []string{},
				SpeedRec:    5,
				TrafficLight: &protocol.TrafficLightMsg{
					Offset: 1, At: 1, GreenLeft: &green, LastGreen: &last, WaitingCars: []string{"Car1"},
				},
			}},
			Cars: []protocol.CarMsg{{
				Name: "Car1", Img: "Car1", Pos: geom.Vec2{X: 2}, MaxSpeed: 8, BreakStrength: 0.2, Fade: 1,
				AI: &protocol.AIMsg{RoadQueue: []string{"r1"}, Destination: "r1", Waiting: true},
			}},
			Intersections: []protocol.IntersectionMsg{{Roads: []string{"r1"}}},
		},
		You:    protocol.YouMsg{IP: "::1", Info: protocol.YouInfo{LoggedIn: true, Perms: []string{"connect", "view"}}},
		Others: []protocol.OtherMsg{{IP: "::1", Name: "loovjo"}},
	}
	validate(stateSchema, asJSON(state))
	validate(docSchema, asJSON(state.Document))

	validate(replySchema, asJSON(protocol.ReplyMsg{Res: "Gave build to ::1"}))
	validate(replySchema, asJSON(protocol.NewError(protocol.ErrNoPermission, "build required")))

	var bad any
	_ = json.Unmarshal([]byte(`{"error":{"code":"nope","message":"x"}}`), &bad)
	if err := replySchema.Validate(bad); err == nil {
		t.Fatalf("expected malformed error code to fail validation")
	}
}
