package cli

import (
	"context"
	"fmt"
	"net/http"

	"gw-resize/pkg/cloud"
	"gw-resize/pkg/config"
	"gw-resize/pkg/consul"
	"gw-resize/pkg/controller"
	"gw-resize/pkg/db"
	"gw-resize/pkg/journal"
	"gw-resize/pkg/progress"
	"gw-resize/pkg/resize"
	"gw-resize/pkg/store"
)

func (a *app) httpClient() (*http.Client, error) {
	return controller.BuildHTTPClient(a.cfg.Controller.CA, a.cfg.Controller.Insecure)
}

func (a *app) controllerClient(hc *http.Client) (*controller.Client, error) {
	return controller.New(a.cfg.Controller.Host, controller.WithHTTPClient(hc))
}

// routeClient builds the cloud backend. Azure credentials missing from config and environment are prompted for.
func (a *app) routeClient(hc *http.Client) (cloud.RouteClient, error) {
	c := a.cfg.Cloud
	switch c.Provider {
	case config.ProviderSimulator:
		return cloud.NewSimulatorClient(c.SimulatorURL, c.SimulatorToken, hc), nil
	default:
		creds := c.Azure
		if len(creds.Missing()) > 0 {
			if err := config.FillCredentials(&creds, a.prompter); err != nil {
				return nil, err
			}
		}
		return cloud.NewAzureClient(creds)
	}
}

// snapshotStore returns the configured store and, for consul, the lock shared by concurrent operators.
func (a *app) snapshotStore(gateway string) (store.SnapshotStore, resize.Locker, error) {
	s := a.cfg.Snapshot
	if s.Store != config.StoreConsul {
		return store.NewFileStore(s.File), nil, nil
	}
	if gateway == "" {
		return nil, nil, fmt.Errorf("--gateway_name is required with --snapshot-store consul")
	}
	kv, err := consul.NewStore(s.ConsulAddr)
	if err != nil {
		return nil, nil, err
	}
	return store.NewConsulStore(kv, gateway), kv, nil
}

// observers opens the journal, the history database and the progress stream as configured.
// The returned func releases them.
func (a *app) observers(ctx context.Context, withProgress bool) ([]resize.Observer, func(), error) {
	var (
		obs     []resize.Observer
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if a.cfg.Journal != "" {
		j, err := journal.Open(a.cfg.Journal, a.log)
		if err != nil {
			return nil, cleanup, err
		}
		obs = append(obs, j)
		closers = append(closers, func() { _ = j.Close() })
	}
	if a.cfg.HistoryDSN != "" {
		h, err := db.Open(a.cfg.HistoryDSN, a.log)
		if err != nil {
			a.log.Warnf("run history disabled: %v", err)
		} else {
			obs = append(obs, h)
			closers = append(closers, func() { _ = h.Close() })
		}
	}
	if withProgress && a.cfg.ProgressAddr != "" {
		hub := progress.NewHub(a.log)
		pctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := hub.Serve(pctx, a.cfg.ProgressAddr); err != nil {
				a.log.Warnf("progress stream: %v", err)
			}
		}()
		obs = append(obs, hub)
		closers = append(closers, func() { cancel(); <-done })
	}
	return obs, cleanup, nil
}
