// Package progress broadcasts run progress to websocket subscribers.
package progress

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gw-resize/pkg/logging"
	"gw-resize/pkg/model"
)

// Path is where subscribers connect.
const Path = "/v1/progress"

// Message types.
const (
	TypeRun   = "run"
	TypeRoute = "route"
	TypeAudit = "audit"
)

// Message is the envelope written to subscribers.
type Message struct {
	Type    string      `json:"type"`
	RunID   string      `json:"runId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type subscriber struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	runID string
}

func (s *subscriber) write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(msg)
}

// Hub keeps subscribers and the last known state of each run so late subscribers catch up.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	last map[string]Message
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:  log,
		subs: map[*subscriber]struct{}{},
		last: map[string]Message{},
	}
}

// Handler serves Path. ?runId=xxx restricts the stream to one run.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, h.handleSubscribe)
	return mux
}

func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugf("ws upgrade failed: %v", err)
		return
	}
	sub := &subscriber{conn: c, runID: r.URL.Query().Get("runId")}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	var replay []Message
	for id, msg := range h.last {
		if sub.runID == "" || sub.runID == id {
			replay = append(replay, msg)
		}
	}
	h.mu.Unlock()
	h.log.Debugf("progress subscriber connected run=%q", sub.runID)
	for _, msg := range replay {
		if err := sub.write(msg); err != nil {
			h.drop(sub)
			return
		}
	}
	go h.readLoop(sub)
}

// readLoop only drains control frames until the peer goes away.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.drop(sub)
	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	_ = sub.conn.Close()
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		h.log.Debugf("progress subscriber disconnected run=%q", sub.runID)
	}
}

// Subscribers reports the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.runID == "" || s.runID == msg.RunID {
			subs = append(subs, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range subs {
		if err := s.write(msg); err != nil {
			go h.drop(s)
		}
	}
}

func (h *Hub) RunUpdated(run model.Run) {
	msg := Message{Type: TypeRun, RunID: run.ID, Payload: run}
	h.mu.Lock()
	h.last[run.ID] = msg
	h.mu.Unlock()
	h.broadcast(msg)
}

func (h *Hub) RouteChanged(c model.RouteChange) {
	h.broadcast(Message{Type: TypeRoute, RunID: c.RunID, Payload: c})
}

func (h *Hub) Audit(e model.AuditEntry) {
	h.broadcast(Message{Type: TypeAudit, RunID: e.RunID, Payload: e})
}

// Serve listens on addr until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	h.log.Infof("progress stream on %s%s", addr, Path)
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
