package store

import (
	"context"
	"errors"

	"gw-resize/pkg/model"
)

// ErrNotFound is returned when no snapshot has been saved under a key.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotStore persists the pre-change route snapshot of a run.
type SnapshotStore interface {
	Save(ctx context.Context, snap *model.RouteSnapshot) error
	Load(ctx context.Context) (*model.RouteSnapshot, error)
	// Location describes where the snapshot lives, for operator messages.
	Location() string
}
