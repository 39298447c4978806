package core

import (
	"context"
	"path/filepath"
	"testing"
	"tmcnotebook/internal/infra/persistence/sqlite"
)

func TestOpenRecordStoreDrivers(t *testing.T) {
	mem, err := OpenRecordStore(StorageConfig{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	_ = mem.Close()

	if _, err := OpenRecordStore(StorageConfig{Driver: "cassandra"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}

	path := filepath.Join(t.TempDir(), "cells.db")
	store, err := OpenRecordStore(StorageConfig{SQLitePath: path})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = store.Close() }()
	if s, ok := store.(*sqlite.Store); !ok || s.Path() != path {
		t.Fatalf("expected sqlite default driver, got %T", store)
	}

	reg, err := Open(context.Background(), store, fixedClock())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	mustCreate(t, reg, "Map Year Cell")
	snap, err := store.Load(context.Background())
	if err != nil || len(snap.Records) != 1 {
		t.Fatalf("expected persisted record, got %+v (%v)", snap, err)
	}
}
