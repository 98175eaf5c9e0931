// Package journal keeps a local sqlite record of every route mutation and run status change,
// so an interrupted run can be audited and repaired from the operator host.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"gw-resize/pkg/logging"
	"gw-resize/pkg/model"
)

// DefaultPath is used when no journal path is configured.
const DefaultPath = "gw-resize.db"

const schema = `
CREATE TABLE IF NOT EXISTS route_ops(run_id TEXT, tbl TEXT, route_id TEXT, route_name TEXT, from_hop TEXT, to_hop TEXT, phase TEXT, ts INTEGER);
CREATE INDEX IF NOT EXISTS idx_route_ops_run ON route_ops(run_id);
CREATE TABLE IF NOT EXISTS runs(id TEXT PRIMARY KEY, gateway TEXT, status TEXT, outcome TEXT, error TEXT, steps TEXT, started INTEGER, updated INTEGER);
CREATE TABLE IF NOT EXISTS audit(run_id TEXT, actor TEXT, action TEXT, target TEXT, detail TEXT, ts INTEGER);
`

// Journal is a sqlite-backed run observer. Write failures are logged, never returned to the run.
type Journal struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// Open creates the journal file and schema when missing.
func Open(path string, log *zap.SugaredLogger) (*Journal, error) {
	if path == "" {
		path = DefaultPath
	}
	if log == nil {
		log = logging.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db, log: log}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) RunUpdated(run model.Run) {
	steps, _ := json.Marshal(run.Steps)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := j.db.ExecContext(ctx, `INSERT INTO runs(id, gateway, status, outcome, error, steps, started, updated) VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, outcome=excluded.outcome, error=excluded.error, steps=excluded.steps, updated=excluded.updated`,
		run.ID, run.Gateway, run.Status, run.Outcome, run.Error, string(steps), run.StartedAt.Unix(), time.Now().Unix())
	if err != nil {
		j.log.Warnf("journal run %s: %v", run.ID, err)
	}
}

func (j *Journal) RouteChanged(c model.RouteChange) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := j.db.ExecContext(ctx, `INSERT INTO route_ops(run_id, tbl, route_id, route_name, from_hop, to_hop, phase, ts) VALUES(?,?,?,?,?,?,?,?)`,
		c.RunID, c.Table, c.RouteID, c.RouteName, c.From, c.To, c.Phase, c.Timestamp.UnixNano())
	if err != nil {
		j.log.Warnf("journal route %s: %v", c.RouteName, err)
	}
}

func (j *Journal) Audit(e model.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := j.db.ExecContext(ctx, `INSERT INTO audit(run_id, actor, action, target, detail, ts) VALUES(?,?,?,?,?,?)`,
		e.RunID, e.Actor, e.Action, e.Target, e.Detail, e.Timestamp.Unix())
	if err != nil {
		j.log.Warnf("journal audit %s: %v", e.Action, err)
	}
}

// Changes returns the route mutations of a run in submission order.
func (j *Journal) Changes(ctx context.Context, runID string) ([]model.RouteChange, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT run_id, tbl, route_id, route_name, from_hop, to_hop, phase, ts FROM route_ops WHERE run_id=? ORDER BY ts, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RouteChange
	for rows.Next() {
		var c model.RouteChange
		var ts int64
		if err := rows.Scan(&c.RunID, &c.Table, &c.RouteID, &c.RouteName, &c.From, &c.To, &c.Phase, &ts); err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Run returns the last recorded state of a run.
func (j *Journal) Run(ctx context.Context, runID string) (model.Run, error) {
	var (
		run     model.Run
		steps   string
		started int64
		updated int64
	)
	err := j.db.QueryRowContext(ctx, `SELECT id, gateway, status, outcome, error, steps, started, updated FROM runs WHERE id=?`, runID).
		Scan(&run.ID, &run.Gateway, &run.Status, &run.Outcome, &run.Error, &steps, &started, &updated)
	if err != nil {
		return model.Run{}, err
	}
	_ = json.Unmarshal([]byte(steps), &run.Steps)
	run.StartedAt = time.Unix(started, 0).UTC()
	if run.Status != model.RunRunning {
		run.FinishedAt = time.Unix(updated, 0).UTC()
	}
	return run, nil
}

// Unfinished lists runs that never recorded a final status, newest first.
func (j *Journal) Unfinished(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id FROM runs WHERE status=? ORDER BY started DESC`, model.RunRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
