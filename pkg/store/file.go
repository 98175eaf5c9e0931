package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gw-resize/pkg/model"
)

// DefaultSnapshotFile is written relative to the working directory and overwritten on every run.
const DefaultSnapshotFile = "routes_save.txt"

// FileStore writes the snapshot as JSON to a single file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultSnapshotFile
	}
	return &FileStore{path: path}
}

// Save writes to a temp file and renames it over the target so a crash never leaves half a snapshot.
func (f *FileStore) Save(_ context.Context, snap *model.RouteSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot back. Files written by older tooling hold only the tables map.
func (f *FileStore) Load(_ context.Context) (*model.RouteSnapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap model.RouteSnapshot
	if err := json.Unmarshal(data, &snap); err == nil && snap.Tables != nil {
		return &snap, nil
	}
	var legacy map[string][]model.RouteRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	return &model.RouteSnapshot{Tables: upgradeLegacy(legacy)}, nil
}

// upgradeLegacy re-keys tables from bare names to "name:resource_group". A bare-named table
// without routes carries no resource group and nothing to restore, so it is dropped.
func upgradeLegacy(in map[string][]model.RouteRecord) map[string][]model.RouteRecord {
	out := make(map[string][]model.RouteRecord, len(in))
	for name, routes := range in {
		if _, err := model.ParseRouteTableRef(name); err != nil && len(routes) == 0 {
			continue
		}
		key := name
		if _, err := model.ParseRouteTableRef(name); err != nil && len(routes) > 0 && routes[0].ResourceGroup != "" {
			key = model.RouteTableRef{Name: name, ResourceGroup: routes[0].ResourceGroup}.String()
		}
		out[key] = routes
	}
	return out
}

func (f *FileStore) Location() string { return f.path }
