package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trafficsim.dev/internal/persistence/indexdb"
	persistlog "trafficsim.dev/internal/persistence/log"
	"trafficsim.dev/internal/persistence/snapshot"
	"trafficsim.dev/internal/sim/tuning"
)

type runtimeIndex interface {
	WriteTick(persistlog.TickEntry) error
	WriteAudit(persistlog.AuditEntry) error
	Close() error
	UpsertTuning(tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TRAFFIC_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "traffic.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported TRAFFIC_INDEX_BACKEND: %s", backend)
	}
}

type multiTickLogger struct {
	a *persistlog.TickLogger
	b runtimeIndex
}

func (m multiTickLogger) WriteTick(entry persistlog.TickEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a *persistlog.AuditLogger
	b runtimeIndex
}

func (m multiAuditLogger) WriteAudit(entry persistlog.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
