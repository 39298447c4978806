package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"tmcnotebook/internal/archive/core"
)

func TestSanitizeKeyErrors(t *testing.T) {
	for _, key := range []string{"", "  ", "../escape", "/abs", "a/../b", "x.meta"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "nested")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem || s.Root() != root {
		t.Fatalf("unexpected store %s %s", s.Driver(), s.Root())
	}
	info, err := s.Put(ctx, "notebooks/a.json", strings.NewReader("hello"), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"cells": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	// sha256("hello")
	if info.Size != 5 || info.ETag != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "notebooks/a.json", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "notebooks/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" || got.Metadata["cells"] != "1" || got.ContentType != "application/json" {
		t.Fatalf("unexpected object %+v %q", got, body)
	}
	if _, _, err := s.Get(ctx, "notebooks/missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Put(ctx, "b.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	list, err := s.List(ctx, "notebooks/")
	if err != nil || len(list) != 1 || list[0].Key != "notebooks/a.json" {
		t.Fatalf("list = %+v, %v", list, err)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 || all[0].Key != "b.json" {
		t.Fatalf("list all = %+v", all)
	}
	if ok, err := s.Delete(ctx, "notebooks/a.json"); err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "notebooks/a.json"); ok {
		t.Fatalf("expected second delete to report missing")
	}
	if _, err := os.Stat(filepath.Join(root, "notebooks", "a.json.meta")); !os.IsNotExist(err) {
		t.Fatalf("expected sidecar removed, got %v", err)
	}
}

func TestListCorruptMeta(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json.meta"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.List(context.Background(), ""); err == nil {
		t.Fatalf("expected decode error")
	}
}
