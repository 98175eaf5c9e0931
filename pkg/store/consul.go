package store

import (
	"context"
	"errors"

	"gw-resize/pkg/consul"
	"gw-resize/pkg/model"
)

// ConsulStore keeps the snapshot in Consul KV so another operator host can restore from it.
type ConsulStore struct {
	kv      *consul.Store
	gateway string
}

// NewConsulStore stores the snapshot for gateway under the Consul KV prefix.
func NewConsulStore(kv *consul.Store, gateway string) *ConsulStore {
	return &ConsulStore{kv: kv, gateway: gateway}
}

func (c *ConsulStore) Save(ctx context.Context, snap *model.RouteSnapshot) error {
	return c.kv.SaveSnapshot(ctx, c.gateway, snap)
}

func (c *ConsulStore) Load(ctx context.Context) (*model.RouteSnapshot, error) {
	snap, err := c.kv.LoadSnapshot(ctx, c.gateway)
	if errors.Is(err, consul.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return snap, err
}

func (c *ConsulStore) Location() string {
	return "consul:" + consul.SnapshotKey(c.gateway)
}
