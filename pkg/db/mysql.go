package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"gw-resize/pkg/logging"
	"gw-resize/pkg/model"
)

// History stores runs and audit entries in MySQL so several operators share one record.
type History struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// DSN resolves the connection string.
// Env:
//
//	MYSQL_DSN or MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASS, MYSQL_DB
func DSN(explicit string) string {
	if explicit != "" {
		return explicit
	}
	_ = loadDotEnv()
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		return dsn
	}
	c := connFromEnv()
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", c.user, c.pass, c.host, c.port, c.name)
}

type conn struct {
	host, port, user, pass, name string
}

func connFromEnv() conn {
	return conn{
		host: getenv("MYSQL_HOST", "127.0.0.1"),
		port: getenv("MYSQL_PORT", "3306"),
		user: getenv("MYSQL_USER", "root"),
		pass: getenv("MYSQL_PASS", ""),
		name: getenv("MYSQL_DB", "gw_resize"),
	}
}

// Open connects to MySQL and runs migrations.
func Open(dsn string, log *zap.SugaredLogger) (*History, error) {
	if log == nil {
		log = logging.Nop()
	}
	dsn = DSN(dsn)
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		// Try to create database if missing
		if !strings.Contains(err.Error(), "Unknown database") {
			return nil, err
		}
		if cerr := createDatabase(dsn); cerr != nil {
			return nil, fmt.Errorf("create database failed: %w", cerr)
		}
		db, err = gorm.Open(mysql.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	if err := db.AutoMigrate(&model.Run{}, &model.AuditEntry{}); err != nil {
		return nil, err
	}
	return &History{db: db, log: log}, nil
}

func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (h *History) RunUpdated(run model.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&run).Error
	if err != nil {
		h.log.Warnf("history run %s: %v", run.ID, err)
	}
}

// RouteChanged is recorded by the local journal only.
func (h *History) RouteChanged(model.RouteChange) {}

func (h *History) Audit(e model.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.db.WithContext(ctx).Create(&e).Error; err != nil {
		h.log.Warnf("history audit %s: %v", e.Action, err)
	}
}

// Runs lists the newest runs, optionally for one gateway.
func (h *History) Runs(ctx context.Context, gateway string, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := h.db.WithContext(ctx).Order("started_at desc").Limit(limit)
	if gateway != "" {
		q = q.Where("gateway = ?", gateway)
	}
	var runs []model.Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// AuditTrail returns the audit entries of a run in insertion order.
func (h *History) AuditTrail(ctx context.Context, runID string) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := h.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&entries).Error
	return entries, err
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// serverDSN splits dsn into a connection string without a database and the database name.
func serverDSN(dsn string) (string, string, error) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return "", "", fmt.Errorf("parse dsn: %w", err)
	}
	name := cfg.DBName
	if name == "" {
		return "", "", fmt.Errorf("dsn names no database")
	}
	cfg.DBName = ""
	return cfg.FormatDSN(), name, nil
}

// createDatabase creates the database named in dsn on the server dsn points at.
func createDatabase(dsn string) error {
	server, name, err := serverDSN(dsn)
	if err != nil {
		return err
	}
	db, err := sql.Open("mysql", server)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", name))
	return err
}
