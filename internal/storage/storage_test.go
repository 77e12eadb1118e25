package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "badgewatch/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v, want nil, nil", driver, st, err)
		}
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	tests := []Config{
		{Driver: "redis", Path: "x"},
		{Driver: "file"},
		{Driver: "sqlite"},
	}
	for _, cfg := range tests {
		if _, err := Open(cfg, logx.Nop()); err == nil {
			t.Fatalf("Open(%+v) error = nil, want error", cfg)
		}
	}
}

func TestFileStoreAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state", "bw.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := st.AppendAudit(ctx, AuditEntry{At: at, SubscriberID: 42, Action: ActionConfigure, Login: "alice", OK: true}); err != nil {
		t.Fatalf("AppendAudit() error = %v", err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{SubscriberID: 42, Action: ActionReset, OK: true}); err != nil {
		t.Fatalf("AppendAudit() error = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{}); err == nil {
		t.Fatalf("AppendAudit() after Close error = nil")
	}

	f, err := os.Open(filepath.Join(dir, "state", "bw.audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()
	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if !got[0].At.Equal(at) || got[0].Login != "alice" || got[0].Action != ActionConfigure {
		t.Fatalf("entry[0] = %+v", got[0])
	}
	if got[1].At.IsZero() {
		t.Fatalf("entry[1].At not stamped")
	}
}

func TestSQLiteStoreAppend(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "audit.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for _, a := range []string{ActionConfigure, ActionCheck, ActionReset} {
		if err := st.AppendAudit(ctx, AuditEntry{SubscriberID: 7, Action: a, OK: true}); err != nil {
			t.Fatalf("AppendAudit(%s) error = %v", a, err)
		}
	}
	var n int
	db := st.(*sqliteStore).db
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit WHERE subscriber_id = ? AND ok = 1`, 7).Scan(&n); err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if n != 3 {
		t.Fatalf("audit rows = %d, want 3", n)
	}
}
