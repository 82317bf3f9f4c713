package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordTransitionCompressesPayloadAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	payload := []byte("LC3 16_2 capability blob")
	if err := l.RecordTransition(context.Background(), time.Unix(1000, 0), "peer1/pac_sink0/setup1", "IDLE", "CONFIG", payload); err != nil {
		t.Fatalf("record transition: %v", err)
	}

	var blob []byte
	row := l.db.QueryRow(`SELECT payload FROM transitions WHERE setup_id = ?`, "peer1/pac_sink0/setup1")
	if err := row.Scan(&blob); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(blob) == 0 {
		t.Fatalf("expected non-empty compressed payload")
	}
	got, err := decompress(blob)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected round-trip payload %q, got %q", payload, got)
	}
}

func TestRecordTeardownInsertsRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	if err := l.RecordTeardown(context.Background(), time.Unix(2000, 0), "peer1/pac_sink0/setup1", "qos-failed"); err != nil {
		t.Fatalf("record teardown: %v", err)
	}

	var reason string
	row := l.db.QueryRow(`SELECT reason FROM teardowns WHERE setup_id = ?`, "peer1/pac_sink0/setup1")
	if err := row.Scan(&reason); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if reason != "qos-failed" {
		t.Fatalf("expected reason qos-failed, got %q", reason)
	}
}

func TestRecordTransitionWithoutPayloadStoresNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	if err := l.RecordTransition(context.Background(), time.Unix(3000, 0), "s1", "QOS", "ENABLING", nil); err != nil {
		t.Fatalf("record transition: %v", err)
	}
	var blob []byte
	row := l.db.QueryRow(`SELECT payload FROM transitions WHERE setup_id = ?`, "s1")
	if err := row.Scan(&blob); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(blob) != 0 {
		t.Fatalf("expected no payload stored, got %d bytes", len(blob))
	}
}
