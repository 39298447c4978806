// Package archive exports registry snapshots to an object store and imports
// them back. Backends live under internal/infra/archive and are only reached
// through this package.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"tmcnotebook/internal/archive/core"
	"tmcnotebook/pkg/domain"

	"github.com/google/uuid"
)

type (
	// Driver identifies an archive backend.
	Driver = core.Driver
	// PutOptions configures an object write.
	PutOptions = core.PutOptions
	// Info describes a stored archive object.
	Info = core.Info
	// Store is the interface implemented by archive backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

const (
	// KeyPrefix namespaces notebook snapshots inside a store.
	KeyPrefix     = "notebooks/"
	contentType   = "application/json"
	formatVersion = 1
)

// Document is the serialized form of an exported notebook.
type Document struct {
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Snapshot   domain.Snapshot `json:"snapshot"`
}

// NewKey returns a fresh archive key under KeyPrefix.
func NewKey() string {
	return KeyPrefix + uuid.NewString() + ".json"
}

// Export writes snap under a freshly generated key.
func Export(ctx context.Context, store Store, snap domain.Snapshot, now time.Time) (Info, error) {
	return ExportAs(ctx, store, NewKey(), snap, now)
}

// ExportAs writes snap under key. Existing keys are never overwritten.
func ExportAs(ctx context.Context, store Store, key string, snap domain.Snapshot, now time.Time) (Info, error) {
	if store == nil {
		return Info{}, fmt.Errorf("export: nil store")
	}
	doc := Document{Version: formatVersion, ExportedAt: now.UTC(), Snapshot: snap}
	if doc.Snapshot.Records == nil {
		doc.Snapshot.Records = []domain.Record{}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return Info{}, fmt.Errorf("export %s: %w", key, err)
	}
	info, err := store.Put(ctx, key, bytes.NewReader(b), PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"cells":    strconv.Itoa(len(snap.Records)),
			"sequence": strconv.FormatInt(int64(snap.Sequence), 10),
		},
	})
	if err != nil {
		return Info{}, fmt.Errorf("export %s: %w", key, err)
	}
	return info, nil
}

// Import reads and validates the snapshot stored at key.
func Import(ctx context.Context, store Store, key string) (domain.Snapshot, error) {
	if store == nil {
		return domain.Snapshot{}, fmt.Errorf("import: nil store")
	}
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("import %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("import %s: %w", key, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return domain.Snapshot{}, fmt.Errorf("import %s: decode: %w", key, err)
	}
	if doc.Version != formatVersion {
		return domain.Snapshot{}, fmt.Errorf("import %s: unsupported archive version %d", key, doc.Version)
	}
	seen := make(map[domain.CellID]struct{}, len(doc.Snapshot.Records))
	for _, rec := range doc.Snapshot.Records {
		if rec.CellID <= 0 {
			return domain.Snapshot{}, fmt.Errorf("import %s: invalid cell id %d", key, rec.CellID)
		}
		if _, dup := seen[rec.CellID]; dup {
			return domain.Snapshot{}, fmt.Errorf("import %s: duplicate cell id %d", key, rec.CellID)
		}
		seen[rec.CellID] = struct{}{}
		if rec.CellID > doc.Snapshot.Sequence {
			doc.Snapshot.Sequence = rec.CellID
		}
	}
	return doc.Snapshot, nil
}

// Remove deletes the snapshot stored at key. Unknown keys fail with
// ErrNotFound.
func Remove(ctx context.Context, store Store, key string) error {
	if store == nil {
		return fmt.Errorf("remove: nil store")
	}
	deleted, err := store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	if !deleted {
		return fmt.Errorf("remove %s: %w", key, ErrNotFound)
	}
	return nil
}

// List returns the notebook archives held by store, ordered by key.
func List(ctx context.Context, store Store) ([]Info, error) {
	infos, err := store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".json") {
			out = append(out, info)
		}
	}
	return out, nil
}
