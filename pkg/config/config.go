// Package config layers defaults, an optional YAML file, .env, the environment and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"gw-resize/pkg/cloud"
	"gw-resize/pkg/journal"
	"gw-resize/pkg/model"
	"gw-resize/pkg/resize"
	"gw-resize/pkg/store"
)

// Cloud providers.
const (
	ProviderAzure     = "azure"
	ProviderSimulator = "simulator"
)

// Snapshot stores.
const (
	StoreFile   = "file"
	StoreConsul = "consul"
)

type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Cloud      CloudConfig      `yaml:"cloud"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Resize     ResizeConfig     `yaml:"resize"`

	Journal      string `yaml:"journal"`
	HistoryDSN   string `yaml:"history_dsn"`
	ProgressAddr string `yaml:"progress_addr"`
	Verbose      bool   `yaml:"verbose"`
}

type ControllerConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	CA       string `yaml:"ca"`
	Insecure bool   `yaml:"insecure"`
}

type CloudConfig struct {
	Provider       string            `yaml:"provider"`
	SimulatorURL   string            `yaml:"simulator_url"`
	SimulatorToken string            `yaml:"simulator_token"`
	Azure          cloud.Credentials `yaml:"azure"`
}

type SnapshotConfig struct {
	File       string `yaml:"file"`
	Store      string `yaml:"store"`
	ConsulAddr string `yaml:"consul_addr"`
}

type ResizeConfig struct {
	HASuffix             string        `yaml:"ha_suffix"`
	RedirectToActiveWait time.Duration `yaml:"redirect_to_active_wait"`
	RedirectToHAWait     time.Duration `yaml:"redirect_to_ha_wait"`
	RestoreWait          time.Duration `yaml:"restore_wait"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	SettleDelay          time.Duration `yaml:"settle_delay"`
	VerifyResize         bool          `yaml:"verify_resize"`
	ResizeTimeout        time.Duration `yaml:"resize_timeout"`
	RollbackResize       bool          `yaml:"rollback_resize"`
	CloudRetries         uint64        `yaml:"cloud_retries"`
}

// Default returns the built-in configuration.
func Default() *Config {
	d := resize.DefaultOptions()
	return &Config{
		Cloud:    CloudConfig{Provider: ProviderAzure},
		Snapshot: SnapshotConfig{File: store.DefaultSnapshotFile, Store: StoreFile},
		Journal:  journal.DefaultPath,
		Resize: ResizeConfig{
			HASuffix:             model.DefaultHASuffix,
			RedirectToActiveWait: d.RedirectToActiveWait,
			RedirectToHAWait:     d.RedirectToHAWait,
			RestoreWait:          d.RestoreWait,
			PollInterval:         d.PollInterval,
			VerifyResize:         d.VerifyResize,
			ResizeTimeout:        d.ResizeTimeout,
			CloudRetries:         d.CloudRetries,
		},
	}
}

// DefaultPath returns ~/.gw-resize/config.yaml.
func DefaultPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(".", ".gw-resize", "config.yaml")
	}
	return filepath.Join(home, ".gw-resize", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "warning: config file %s has permissions %04o, expected 0600; it may hold credentials\n", path, perm)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads ./.env when present and overlays environment values.
// Variables already set in the process environment win over .env.
func (c *Config) ApplyEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Cloud.Azure.TenantID, "AZURE_TENANT_ID")
	set(&c.Cloud.Azure.ClientID, "AZURE_CLIENT_ID")
	set(&c.Cloud.Azure.SubscriptionID, "AZURE_SUBSCRIPTION_ID")
	set(&c.Cloud.Azure.ClientSecret, "AZURE_CLIENT_SECRET")
	set(&c.Cloud.SimulatorToken, "GW_SIM_TOKEN")
	set(&c.HistoryDSN, "MYSQL_DSN")
	set(&c.Snapshot.ConsulAddr, "CONSUL_HTTP_ADDR")
	return nil
}

// Validate checks the settings that do not depend on the subcommand.
func (c *Config) Validate() error {
	switch c.Cloud.Provider {
	case ProviderAzure:
	case ProviderSimulator:
		if c.Cloud.SimulatorURL == "" {
			return fmt.Errorf("--simulator-url is required with --cloud-provider %s", ProviderSimulator)
		}
	default:
		return fmt.Errorf("unknown cloud provider %q (want %s or %s)", c.Cloud.Provider, ProviderAzure, ProviderSimulator)
	}
	switch c.Snapshot.Store {
	case StoreFile, StoreConsul:
	default:
		return fmt.Errorf("unknown snapshot store %q (want %s or %s)", c.Snapshot.Store, StoreFile, StoreConsul)
	}
	return nil
}

// ResizeOptions converts the resize section for the orchestrator.
func (c *Config) ResizeOptions() resize.Options {
	r := c.Resize
	return resize.Options{
		HASuffix:             r.HASuffix,
		RedirectToActiveWait: r.RedirectToActiveWait,
		RedirectToHAWait:     r.RedirectToHAWait,
		RestoreWait:          r.RestoreWait,
		PollInterval:         r.PollInterval,
		SettleDelay:          r.SettleDelay,
		VerifyResize:         r.VerifyResize,
		ResizeTimeout:        r.ResizeTimeout,
		RollbackResize:       r.RollbackResize,
		CloudRetries:         r.CloudRetries,
	}
}
