package consul

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"gw-resize/pkg/model"
)

const (
	snapshotPrefix = "gw-resize/snapshots/"
	lockPrefix     = "gw-resize/locks/"
)

// ErrKeyNotFound is returned when a KV key does not exist.
var ErrKeyNotFound = errors.New("consul key not found")

// Store keeps route snapshots in Consul KV and hands out per-gateway run locks.
type Store struct {
	cli *consulapi.Client
}

func NewStore(addr string) (*Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Store{cli: cli}, nil
}

// SnapshotKey is the KV key holding a gateway's snapshot.
func SnapshotKey(gateway string) string {
	return snapshotPrefix + gateway
}

// LockKey is the KV key guarding runs against a gateway pair.
func LockKey(gateway string) string {
	return lockPrefix + gateway
}

func (s *Store) SaveSnapshot(ctx context.Context, gateway string, snap *model.RouteSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	opts := (&consulapi.WriteOptions{}).WithContext(ctx)
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: SnapshotKey(gateway), Value: b}, opts)
	return err
}

func (s *Store) LoadSnapshot(ctx context.Context, gateway string) (*model.RouteSnapshot, error) {
	opts := (&consulapi.QueryOptions{}).WithContext(ctx)
	kv, _, err := s.cli.KV().Get(SnapshotKey(gateway), opts)
	if err != nil {
		return nil, err
	}
	if kv == nil {
		return nil, ErrKeyNotFound
	}
	var snap model.RouteSnapshot
	if err := json.Unmarshal(kv.Value, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Lock acquires the run lock for gateway, blocking until it is held or ctx ends.
// The returned channel is closed if consul invalidates the session; the func releases the lock.
func (s *Store) Lock(ctx context.Context, gateway string) (<-chan struct{}, func() error, error) {
	lock, err := s.cli.LockOpts(&consulapi.LockOptions{
		Key:          LockKey(gateway),
		Value:        []byte(time.Now().UTC().Format(time.RFC3339)),
		SessionName:  "gw-resize " + gateway,
		SessionTTL:   "30s",
		LockWaitTime: 5 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build lock: %w", err)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			close(stop)
		case <-done:
		}
	}()
	lost, err := lock.Lock(stop)
	close(done)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire lock %s: %w", LockKey(gateway), err)
	}
	if lost == nil {
		return nil, nil, fmt.Errorf("acquire lock %s: %w", LockKey(gateway), ctx.Err())
	}
	return lost, lock.Unlock, nil
}
