// Package savefile loads and saves the human-editable JSON world document.
//
// Two layouts are accepted on load: the document object
// {roads, cars, intersections, timeUntilNextCar} and the legacy bare array of roads.
package savefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"trafficsim.dev/internal/protocol"
	"trafficsim.dev/internal/sim/world"
)

type Document = protocol.Document

// Load reads the document at path. A missing file is created holding an empty road list.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return Document{}, err
		}
		raw = []byte("[]")
	} else if err != nil {
		return Document{}, err
	}
	doc, err := Decode(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Decode parses either layout and fills the fields older files leave out.
func Decode(raw []byte) (Document, error) {
	var doc Document
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &doc.Roads); err != nil {
			return Document{}, err
		}
	} else if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, err
	}

	if doc.Roads == nil {
		doc.Roads = []protocol.RoadMsg{}
	}
	if doc.Cars == nil {
		doc.Cars = []protocol.CarMsg{}
	}
	if doc.Intersections == nil {
		doc.Intersections = []protocol.IntersectionMsg{}
	}
	for i := range doc.Roads {
		r := &doc.Roads[i]
		if r.Width == 0 {
			r.Width = world.RoadWidth
		}
		if r.SpeedRec == 0 {
			r.SpeedRec = world.RoadSpeedRec
		}
		if r.ConnectedTo == nil {
			r.ConnectedTo = []string{}
		}
	}
	return doc, nil
}

// Save writes the road network of doc to path. Cars are transient and are not saved; traffic
// lights keep only their offset and phase.
func Save(path string, doc Document) error {
	out := Document{
		Roads:         make([]protocol.RoadMsg, len(doc.Roads)),
		Cars:          []protocol.CarMsg{},
		Intersections: doc.Intersections,
	}
	copy(out.Roads, doc.Roads)
	for i := range out.Roads {
		if l := out.Roads[i].TrafficLight; l != nil {
			out.Roads[i].TrafficLight = &protocol.TrafficLightMsg{Offset: l.Offset, At: l.At}
		}
	}
	if out.Intersections == nil {
		out.Intersections = []protocol.IntersectionMsg{}
	}

	raw, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
