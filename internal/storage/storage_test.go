package storage

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "reviewbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestCycleIDContext(t *testing.T) {
	t.Parallel()
	if got := CycleIDFrom(context.Background()); got != "" {
		t.Fatalf("empty ctx cycle id = %q", got)
	}
	ctx := WithCycleID(context.Background(), "abc")
	if got := CycleIDFrom(ctx); got != "abc" {
		t.Fatalf("cycle id = %q", got)
	}
}

func TestFileStoreAppends(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "journal.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	recs := []DeliveryRecord{
		{CycleID: "c1", Kind: KindStatus, ChatID: 1, Text: "first", OK: true, Attempts: 1},
		{CycleID: "c1", Kind: KindAlert, ChatID: 1, Text: "second", Attempts: 3, Error: "boom"},
	}
	for _, r := range recs {
		if err := st.AppendDelivery(ctx, r); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}
	if err := st.AppendCycle(ctx, CycleRecord{ID: "c1", Cursor: 10, NextCursor: 20, Advanced: true, Messages: 1}); err != nil {
		t.Fatalf("AppendCycle: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendDelivery(ctx, recs[0]); err == nil {
		t.Fatal("append after close should fail")
	}

	got := readLines[DeliveryRecord](t, filepath.Join(dir, "journal.deliveries.jsonl"))
	if len(got) != 2 {
		t.Fatalf("delivery lines = %d, want 2", len(got))
	}
	if got[0].Text != "first" || !got[0].OK || got[0].At.IsZero() {
		t.Fatalf("first record = %+v", got[0])
	}
	if got[1].Error != "boom" || got[1].Kind != KindAlert {
		t.Fatalf("second record = %+v", got[1])
	}
	cycles := readLines[CycleRecord](t, filepath.Join(dir, "journal.cycles.jsonl"))
	if len(cycles) != 1 || cycles[0].NextCursor != 20 {
		t.Fatalf("cycles = %+v", cycles)
	}
}

func TestSQLiteStoreAppends(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := st.AppendDelivery(ctx, DeliveryRecord{Kind: KindStatus, ChatID: 5, Text: "hello", OK: true, Attempts: 1}); err != nil {
		t.Fatalf("AppendDelivery: %v", err)
	}
	if err := st.AppendCycle(ctx, CycleRecord{ID: "c1", Cursor: 1, NextCursor: 2, Advanced: true}); err != nil {
		t.Fatalf("AppendCycle: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var text string
	var ok int
	if err := db.QueryRow(`SELECT text, ok FROM deliveries`).Scan(&text, &ok); err != nil {
		t.Fatalf("query deliveries: %v", err)
	}
	if text != "hello" || ok != 1 {
		t.Fatalf("row = %q, %d", text, ok)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("cycles count = %d, %v", n, err)
	}
}

func readLines[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []T
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		out = append(out, v)
	}
	return out
}
