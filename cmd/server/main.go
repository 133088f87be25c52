package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trafficsim.dev/internal/access"
	"trafficsim.dev/internal/console"
	"trafficsim.dev/internal/control"
	"trafficsim.dev/internal/debugflags"
	"trafficsim.dev/internal/observability"
	persistlog "trafficsim.dev/internal/persistence/log"
	"trafficsim.dev/internal/persistence/savefile"
	"trafficsim.dev/internal/persistence/snapshot"
	"trafficsim.dev/internal/sim/tuning"
	"trafficsim.dev/internal/sim/world"
	"trafficsim.dev/internal/transport/static"
	"trafficsim.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8000", "http listen address")
		savePath   = flag.String("save", "Traffic.js", "world document to load and SAVE to")
		webDir     = flag.String("web", "Web", "browser client directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + snapshot metadata)")
		debugFlags = flag.String("debug", debugflags.Cmd, "comma-separated debug categories enabled at start")
		stdinCmds  = flag.Bool("console", true, "read moderator commands from stdin")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	_ = os.MkdirAll(*dataDir, 0o755)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	reg := access.NewRegistry()
	for _, u := range tune.Users {
		perms := make([]access.Perm, 0, len(u.Grant))
		for _, g := range u.Grant {
			p, ok := access.ParsePerm(g)
			if !ok {
				logger.Printf("tuning: user %s: unknown permission %q", u.IP, g)
				continue
			}
			perms = append(perms, p)
		}
		reg.Seed(u.IP, u.Name, perms...)
	}
	debug := debugflags.New(strings.Split(*debugFlags, ",")...)

	// Optional: read-model index backend.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	metrics, err := observability.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}

	tickLog := persistlog.NewTickLogger(*dataDir)
	auditLog := persistlog.NewAuditLogger(*dataDir)
	defer tickLog.Close()
	defer auditLog.Close()
	ticks := multiTickLogger{a: tickLog, b: idx}
	tickLogEvery := uint64(tune.TickLogEveryTicks)

	w := world.New(world.Config{
		TickPeriod:         tune.TickPeriod(),
		SpawnInterval:      tune.SpawnIntervalS,
		SpawnAttempts:      tune.SpawnAttempts,
		CarVariants:        tune.CarVariants,
		Seed:               *seed,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
	},
		world.WithCapabilities(reg),
		world.WithDebug(debug),
		world.WithLogger(log.New(os.Stdout, "[world] ", log.LstdFlags)),
		world.WithTickObserver(func(st world.TickStats) {
			metrics.ObserveTick(st)
			if tickLogEvery > 0 && st.Tick%tickLogEvery == 0 {
				_ = ticks.WriteTick(persistlog.TickEntryFrom(st))
			}
		}),
	)

	// Resume from a snapshot, or start from the saved road network.
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.Tick())
	} else {
		doc, err := savefile.Load(*savePath)
		if err != nil {
			logger.Fatalf("load %s: %v", *savePath, err)
		}
		if err := w.LoadDocument(doc); err != nil {
			logger.Fatalf("load %s: %v", *savePath, err)
		}
		logger.Printf("loaded %s: roads=%d intersections=%d", *savePath, len(doc.Roads), len(doc.Intersections))
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	writeSnapshot := func(snap snapshot.SnapshotV1) (string, error) {
		path := filepath.Join(*dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			return "", err
		}
		if idx != nil {
			idx.RecordSnapshot(path, snap)
		}
		return path, nil
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				if _, err := writeSnapshot(snap); err != nil {
					logger.Printf("snapshot write: %v", err)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	con := console.New(w, reg, debug, *savePath, log.New(os.Stdout, "[console] ", log.LstdFlags))
	disp := control.New(w, reg,
		control.WithConsole(con),
		control.WithMetrics(metrics),
		control.WithAudit(multiAuditLogger{a: auditLog, b: idx}),
		control.WithDebug(debug),
		control.WithLogger(log.New(os.Stdout, "[control] ", log.LstdFlags)),
	)
	wsSrv := ws.NewServer(w, reg, disp,
		ws.WithLogger(log.New(os.Stdout, "[ws] ", log.LstdFlags)),
		ws.WithDebug(debug),
		ws.WithClientGauge(metrics),
		ws.WithBroadcastPeriod(tune.BroadcastPeriod()),
	)
	go func() { _ = wsSrv.Run(ctx) }()

	if *stdinCmds {
		go func() {
			if err := con.ServeLines(ctx, os.Stdin, os.Stdout); err != nil && err != context.Canceled {
				logger.Printf("console: %v", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", wsSrv.Handler())
	mux.Handle("/", static.New(*webDir, reg, debug, log.New(os.Stdout, "[http] ", log.LstdFlags)))

	if envBool("TRAFFIC_ENABLE_ADMIN_HTTP", true) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			var resp adminState
			err := w.Exec(r.Context(), func(w *world.World) error {
				resp = adminState{
					Tick:          w.Tick(),
					SimTime:       w.Now(),
					Cars:          w.CarCount(),
					Roads:         len(w.RoadIDs()),
					Intersections: len(w.Intersections()),
					SpawnInterval: w.SpawnInterval(),
				}
				return nil
			})
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			resp.Clients = wsSrv.Clients()
			resp.Debug = debug.Enabled()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			var snap snapshot.SnapshotV1
			err := w.Exec(ctx2, func(w *world.World) error { snap = w.ExportSnapshot(); return nil })
			path := ""
			if err == nil {
				path, err = writeSnapshot(snap)
			}
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": snap.Header.Tick, "path": path})
		})
	} else {
		logger.Printf("admin endpoints disabled (TRAFFIC_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("TRAFFIC_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (save=%s web=%s)", *addr, *savePath, *webDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

type adminState struct {
	Tick          uint64   `json:"tick"`
	SimTime       float64  `json:"sim_time"`
	Cars          int      `json:"cars"`
	Roads         int      `json:"roads"`
	Intersections int      `json:"intersections"`
	SpawnInterval float64  `json:"spawn_interval"`
	Clients       int      `json:"clients"`
	Debug         []string `json:"debug"`
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(name string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return def
	}
	return v
}
