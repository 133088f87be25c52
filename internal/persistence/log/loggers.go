package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"trafficsim.dev/internal/sim/world"
)

// JSONLZstdWriter appends one JSON document per line to an hourly zstd file under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	// Reopening an hour appends a second zstd frame; readers decode concatenated frames.
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// asyncWriter moves disk writes off the caller's goroutine. Entries are dropped when the queue
// is full.
type asyncWriter struct {
	w  *JSONLZstdWriter
	ch chan any

	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newAsyncWriter(w *JSONLZstdWriter, depth int) *asyncWriter {
	a := &asyncWriter{w: w, ch: make(chan any, depth)}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for v := range a.ch {
			if err := a.w.Write(v); err != nil {
				a.failed.Add(1)
			}
		}
	}()
	return a
}

func (a *asyncWriter) enqueue(v any) {
	if a.closed.Load() {
		return
	}
	select {
	case a.ch <- v:
	default:
		a.dropped.Add(1)
	}
}

func (a *asyncWriter) close() error {
	var err error
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.ch)
		a.wg.Wait()
		err = a.w.Close()
	})
	return err
}

const queueDepth = 4096

// TickEntry is one sampled tick.
type TickEntry struct {
	Tick          uint64  `json:"tick"`
	SimTime       float64 `json:"sim_time"`
	Dt            float64 `json:"dt"`
	Cars          int     `json:"cars"`
	Roads         int     `json:"roads"`
	Intersections int     `json:"intersections"`
	Spawned       int     `json:"spawned"`
	Crashed       int     `json:"crashed"`
	Removed       int     `json:"removed"`
	Grants        int     `json:"grants"`
	RouteSearches int     `json:"route_searches"`
	RouteFailures int     `json:"route_failures"`
	Faults        int     `json:"faults"`
	DurationUS    int64   `json:"duration_us"`
}

func TickEntryFrom(st world.TickStats) TickEntry {
	return TickEntry{
		Tick:          st.Tick,
		SimTime:       st.Now,
		Dt:            st.Dt,
		Cars:          st.Cars,
		Roads:         st.Roads,
		Intersections: st.Intersections,
		Spawned:       st.Spawned,
		Crashed:       st.Crashed,
		Removed:       st.Removed,
		Grants:        st.Grants,
		RouteSearches: st.RouteSearches,
		RouteFailures: st.RouteFailures,
		Faults:        st.Faults,
		DurationUS:    st.Duration.Microseconds(),
	}
}

// AuditEntry records one client or console command and how it ended.
type AuditEntry struct {
	Time    string   `json:"time"`
	Actor   string   `json:"actor"`
	Kind    string   `json:"kind"`
	Args    []string `json:"args,omitempty"`
	Outcome string   `json:"outcome"`
	Message string   `json:"message,omitempty"`
}

// TickLogger writes one JSONL entry per sampled tick (compressed).
type TickLogger struct{ a *asyncWriter }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{a: newAsyncWriter(NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events"), queueDepth)}
}

func (l *TickLogger) WriteTick(v TickEntry) error { l.a.enqueue(v); return nil }
func (l *TickLogger) Dropped() uint64             { return l.a.dropped.Load() }
func (l *TickLogger) Close() error                { return l.a.close() }

// AuditLogger writes audit JSONL entries (compressed).
type AuditLogger struct{ a *asyncWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{a: newAsyncWriter(NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit"), queueDepth)}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error { l.a.enqueue(v); return nil }
func (l *AuditLogger) Dropped() uint64               { return l.a.dropped.Load() }
func (l *AuditLogger) Close() error                  { return l.a.close() }
