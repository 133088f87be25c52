package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trafficsim.dev/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor filter (audits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "traffic.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch q {
	case "snapshots":
		rows, err := idx.RecentSnapshots(ctx, *limit)
		exitOnErr("query", err)
		for _, r := range rows {
			printJSON(r)
		}

	case "ticks":
		rows, err := idx.RecentTicks(ctx, *limit)
		exitOnErr("query", err)
		for _, r := range rows {
			printJSON(r)
		}

	case "audits":
		rows, err := idx.RecentAudits(ctx, *actor, *limit)
		exitOnErr("query", err)
		for _, r := range rows {
			printJSON(r)
		}

	case "tuning":
		d, err := idx.TuningDigest(ctx)
		exitOnErr("query", err)
		printJSON(map[string]string{"digest": d})

	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (snapshots|ticks|audits|tuning)\n", q)
		os.Exit(2)
	}
}

func exitOnErr(what string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
