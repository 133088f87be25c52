package savefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trafficsim.dev/internal/protocol"
	"trafficsim.dev/internal/sim/geom"
)

func TestLoad_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Traffic.js")
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Roads) != 0 || doc.Cars == nil || doc.Intersections == nil {
		t.Fatalf("doc=%+v", doc)
	}
	raw, err := os.ReadFile(path)
	if err != nil || string(raw) != "[]" {
		t.Fatalf("created file=%q err=%v", raw, err)
	}
}

func TestDecode_LegacyArray(t *testing.T) {
	raw := `[{"id":"a","start":{"x":0,"y":0},"end":{"x":5,"y":0},"connected_to":["b"]},
	         {"id":"b","width":2,"start":{"x":5,"y":0},"end":{"x":9,"y":0},"speed_rec":3}]`
	doc, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(doc.Roads) != 2 {
		t.Fatalf("roads=%d", len(doc.Roads))
	}
	a, b := doc.Roads[0], doc.Roads[1]
	if a.Width != 1.5 || a.SpeedRec != 5 || a.ConnectedTo[0] != "b" {
		t.Fatalf("a=%+v", a)
	}
	if b.Width != 2 || b.SpeedRec != 3 || b.ConnectedTo == nil {
		t.Fatalf("b=%+v", b)
	}
}

func TestDecode_Object(t *testing.T) {
	raw := `{"roads":[{"id":"a","width":1.5,"start":{"x":0,"y":0},"end":{"x":5,"y":0},"connected_to":[],"speed_rec":5,
	          "traffic_light":{"offset":1,"at":1}}],
	         "intersections":[{"roads":["a"]}],"timeUntilNextCar":1.5}`
	doc, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.TimeUntilNextCar != 1.5 || len(doc.Intersections) != 1 || doc.Roads[0].TrafficLight == nil {
		t.Fatalf("doc=%+v", doc)
	}
	if _, err := Decode([]byte(`{"roads": 3}`)); err == nil {
		t.Fatalf("accepted a malformed document")
	}
}

func TestSave_DropsCarsAndRuntimeFields(t *testing.T) {
	green, last := 2.0, 9.0
	doc := Document{
		Roads: []protocol.RoadMsg{{
			ID: "a", Width: 1.5, End: geom.Vec2{X: 5}, ConnectedTo: []string{}, SpeedRec: 5,
			TrafficLight: &protocol.TrafficLightMsg{Offset: -1, At: 1, GreenLeft: &green, LastGreen: &last, WaitingCars: []string{"c"}},
		}},
		Cars:          []protocol.CarMsg{{Name: "c", Fade: 1}},
		Intersections: []protocol.IntersectionMsg{{Roads: []string{"a"}}},
	}
	path := filepath.Join(t.TempDir(), "sub", "save.json")
	if err := Save(path, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if doc.Roads[0].TrafficLight.GreenLeft == nil {
		t.Fatalf("Save mutated its input")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"green_left", "last_green", "waiting_cars", `"name"`} {
		if strings.Contains(string(raw), field) {
			t.Fatalf("saved file carries %s:\n%s", field, raw)
		}
	}
	if !strings.Contains(string(raw), "\n    \"roads\"") {
		t.Fatalf("not indented with four spaces:\n%s", raw)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(back.Roads) != 1 || back.Roads[0].TrafficLight.Offset != -1 || len(back.Cars) != 0 {
		t.Fatalf("reloaded=%+v", back)
	}
}
