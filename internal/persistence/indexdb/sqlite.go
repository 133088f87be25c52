package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	persistlog "trafficsim.dev/internal/persistence/log"
	"trafficsim.dev/internal/persistence/snapshot"
	"trafficsim.dev/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index over the tick log, the audit log and the snapshot
// directory. Writes are queued and batched on one goroutine; the JSONL logs stay the source of
// truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     persistlog.TickEntry
	audit    persistlog.AuditEntry
	snapshot SnapshotRow
}

type SnapshotRow struct {
	Tick          uint64  `json:"tick"`
	Path          string  `json:"path"`
	SimTime       float64 `json:"sim_time"`
	Cars          int     `json:"cars"`
	Roads         int     `json:"roads"`
	SpawnInterval float64 `json:"spawn_interval"`
}

type AuditRow struct {
	Seq int64 `json:"seq"`
	persistlog.AuditEntry
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			sim_time REAL NOT NULL,
			cars INTEGER NOT NULL,
			roads INTEGER NOT NULL,
			spawned INTEGER NOT NULL,
			crashed INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			duration_us INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			actor TEXT NOT NULL,
			kind TEXT NOT NULL,
			outcome TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor ON audits(actor, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			sim_time REAL NOT NULL,
			cars INTEGER NOT NULL,
			roads INTEGER NOT NULL,
			spawn_interval REAL NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
}

func (s *SQLiteIndex) WriteTick(entry persistlog.TickEntry) error {
	s.enqueue(req{kind: reqTick, tick: entry})
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry persistlog.AuditEntry) error {
	s.enqueue(req{kind: reqAudit, audit: entry})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	s.enqueue(req{kind: reqSnapshot, snapshot: SnapshotRow{
		Tick:          snap.Header.Tick,
		Path:          path,
		SimTime:       snap.Header.SimTime,
		Cars:          snap.Header.Cars,
		Roads:         snap.Header.Roads,
		SpawnInterval: snap.SpawnInterval,
	}})
}

// UpsertTuning stores the tuning the server actually runs with, keyed by its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// TuningDigest returns the digest of the stored tuning, or "" if none was stored.
func (s *SQLiteIndex) TuningDigest(ctx context.Context) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM config WHERE name='tuning'`).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}

func (s *SQLiteIndex) RecentSnapshots(ctx context.Context, limit int) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,path,sim_time,cars,roads,spawn_interval FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		var tick int64
		if err := rows.Scan(&tick, &r.Path, &r.SimTime, &r.Cars, &r.Roads, &r.SpawnInterval); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) RecentTicks(ctx context.Context, limit int) ([]persistlog.TickEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM ticks ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistlog.TickEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e persistlog.TickEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentAudits lists the newest audit rows, optionally only those of one actor.
func (s *SQLiteIndex) RecentAudits(ctx context.Context, actor string, limit int) ([]AuditRow, error) {
	q := `SELECT seq,raw_json FROM audits`
	var args []any
	if strings.TrimSpace(actor) != "" {
		q += ` WHERE actor=?`
		args = append(args, actor)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		var raw string
		if err := rows.Scan(&r.Seq, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &r.AuditEntry); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,sim_time,cars,roads,spawned,crashed,removed,duration_us,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(time,actor,kind,outcome,raw_json) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,sim_time,cars,roads,spawn_interval) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertAudit, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			b, _ := json.Marshal(t)
			exec(insertTick, int64(t.Tick), t.SimTime, t.Cars, t.Roads, t.Spawned, t.Crashed, t.Removed, t.DurationUS, string(b))
		case reqAudit:
			a := r.audit
			b, _ := json.Marshal(a)
			exec(insertAudit, a.Time, a.Actor, a.Kind, a.Outcome, string(b))
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.SimTime, sn.Cars, sn.Roads, sn.SpawnInterval)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
