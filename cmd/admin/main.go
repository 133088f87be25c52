package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	persistlog "trafficsim.dev/internal/persistence/log"
	"trafficsim.dev/internal/persistence/savefile"
	"trafficsim.dev/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "info":
			infoCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the snapshots in the data dir, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	ticks, err := snapshotTicks(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for i := len(ticks) - 1; i >= 0; i-- {
		fmt.Printf("%d.snap.zst\n", ticks[i])
	}
}

func infoCmd(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	savePath := fs.String("save", "", "describe a saved world document instead of a snapshot")
	_ = fs.Parse(args)

	if p := strings.TrimSpace(*savePath); p != "" {
		raw, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		doc, err := savefile.Decode(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, "decode:", err)
			os.Exit(1)
		}
		lights := 0
		for _, r := range doc.Roads {
			if r.TrafficLight != nil {
				lights++
			}
		}
		printJSON(map[string]any{
			"path":          p,
			"roads":         len(doc.Roads),
			"intersections": len(doc.Intersections),
			"lights":        lights,
		})
		return
	}

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = latestSnapshot(*dataDir)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}
	h, err := snapshot.ReadHeader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(struct {
		Path string `json:"path"`
		snapshot.Header
	}{Path: path, Header: h})
}

// exportCmd turns a snapshot back into a world document the server can start from.
func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	outPath := fs.String("out", "", "output document path (required)")
	raw := fs.Bool("json", false, "write the full snapshot as JSON instead of a road document")
	_ = fs.Parse(args)

	if strings.TrimSpace(*outPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -out")
		os.Exit(2)
	}
	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = latestSnapshot(*dataDir)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	if *raw {
		b, err := json.MarshalIndent(snap, "", "  ")
		if err == nil {
			err = os.WriteFile(*outPath, b, 0o644)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
	} else if err := savefile.Save(*outPath, snap.World); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	fmt.Printf("export ok: snapshot=%s tick=%d roads=%d out=%s\n",
		filepath.Base(path), snap.Header.Tick, len(snap.World.Roads), *outPath)
}

// auditCmd prints matching audit entries from the JSONL logs, oldest first.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	actor := fs.String("actor", "", "actor filter (ip, or \"\" for all)")
	kind := fs.String("kind", "", "command kind filter")
	outcome := fs.String("outcome", "", "outcome filter (ok, denied, rejected, ...)")
	limit := fs.Int("limit", 0, "print only the last N matches (0 = all)")
	_ = fs.Parse(args)

	var out []persistlog.AuditEntry
	err := persistlog.Scan(filepath.Join(*dataDir, "audit"), "audit", func(line []byte) error {
		var e persistlog.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if *actor != "" && e.Actor != *actor {
			return nil
		}
		if *kind != "" && e.Kind != *kind {
			return nil
		}
		if *outcome != "" && e.Outcome != *outcome {
			return nil
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	if *limit > 0 && len(out) > *limit {
		out = out[len(out)-*limit:]
	}
	for _, e := range out {
		printJSON(e)
	}
}

func snapshotTicks(dataDir string) ([]uint64, error) {
	ents, err := os.ReadDir(filepath.Join(dataDir, "snapshots"))
	if err != nil {
		return nil, err
	}
	var ticks []uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks, nil
}

func latestSnapshot(dataDir string) string {
	ticks, err := snapshotTicks(dataDir)
	if err != nil || len(ticks) == 0 {
		return ""
	}
	return filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", ticks[len(ticks)-1]))
}
