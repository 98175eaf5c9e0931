// Package cli builds the gw-resize command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gw-resize/pkg/config"
	"gw-resize/pkg/logging"
)

// Exit statuses.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitMissing = 4
)

// exitError carries a specific exit status and, for usage problems, the usage text to print.
type exitError struct {
	code  int
	err   error
	usage string
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// app holds state shared by the commands of one invocation.
type app struct {
	configPath string
	flags      flagValues
	cfg        *config.Config
	prompter   config.Prompter
	log        *zap.SugaredLogger
}

// flagValues receives flag values before they are layered over the config file.
type flagValues struct {
	host, user, password string
	gateway, size        string
	ca                   string
	insecure             bool
	provider             string
	simulatorURL         string
	snapshotFile         string
	snapshotStore        string
	consulAddr           string
	journal              string
	historyDSN           string
	progressAddr         string
	rollbackResize       bool
	noVerifyResize       bool
	verbose              bool
}

const usageLine = "gw-resize -c <controller_ip> -u <controller_user> -p <controller_password> -g <gateway_name> -s <gateway_size>"

// NewRootCommand builds a fresh command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newRootCommand(&app{prompter: config.SurveyPrompter{}}, stdout, stderr)
}

func newRootCommand(a *app, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   usageLine,
		Short: "Resize a spoke gateway and its HA peer without dropping routed traffic",
		Long: `gw-resize moves VNet route-table next hops off the HA gateway, resizes it, moves them
onto the HA gateway, resizes the active gateway and finally restores every route to
the next hop it had before the run. Any failure after the snapshot is unwound.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
		RunE:              a.runResize,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &exitError{code: ExitUsage, err: err, usage: c.UsageString()}
	})

	f := &a.flags
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default is ~/.gw-resize/config.yaml)")
	pf.StringVarP(&f.host, "controller_ip", "c", "", "controller address")
	pf.StringVarP(&f.user, "controller_user", "u", "", "controller user")
	pf.StringVarP(&f.password, "controller_password", "p", "", "controller password")
	pf.StringVarP(&f.gateway, "gateway_name", "g", "", "active gateway name (the HA peer is <name>-hagw)")
	pf.StringVar(&f.ca, "ca", "", "CA bundle for the controller certificate")
	pf.BoolVar(&f.insecure, "insecure", false, "skip controller certificate verification")
	pf.StringVar(&f.provider, "cloud-provider", "", "route table backend: azure or simulator")
	pf.StringVar(&f.simulatorURL, "simulator-url", "", "gw-sim base URL (with --cloud-provider simulator)")
	pf.StringVar(&f.snapshotFile, "snapshot-file", "", "snapshot file (default routes_save.txt)")
	pf.StringVar(&f.snapshotStore, "snapshot-store", "", "snapshot store: file or consul")
	pf.StringVar(&f.consulAddr, "consul-addr", "", "consul address for --snapshot-store consul")
	pf.StringVar(&f.journal, "journal", "", "sqlite journal path, empty string disables (default gw-resize.db)")
	pf.StringVar(&f.historyDSN, "history-dsn", "", "MySQL DSN for shared run history")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	fl := root.Flags()
	fl.StringVarP(&f.size, "gateway_size", "s", "", "target gateway size")
	fl.StringVar(&f.progressAddr, "progress-addr", "", "serve websocket progress on this address")
	fl.BoolVar(&f.rollbackResize, "rollback-resize", false, "on failure also resize gateways back to their original size")
	fl.BoolVar(&f.noVerifyResize, "no-verify-resize", false, "do not wait for the controller to report the new size")

	root.AddCommand(
		newRestoreCommand(a),
		newHistoryCommand(a),
		newJournalCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree and maps the outcome to an exit status.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return execute(ctx, NewRootCommand(stdout, stderr), args, stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintln(stderr, "Error:", ee.err)
		if ee.usage != "" {
			fmt.Fprint(stderr, ee.usage)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitFailure
}

// load layers defaults, the config file, .env, the environment and finally the flags that were set.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	f := a.flags
	changed := cmd.Flags().Changed
	overlay := []struct {
		name  string
		apply func()
	}{
		{"controller_ip", func() { cfg.Controller.Host = f.host }},
		{"controller_user", func() { cfg.Controller.User = f.user }},
		{"controller_password", func() { cfg.Controller.Password = f.password }},
		{"ca", func() { cfg.Controller.CA = f.ca }},
		{"insecure", func() { cfg.Controller.Insecure = f.insecure }},
		{"cloud-provider", func() { cfg.Cloud.Provider = f.provider }},
		{"simulator-url", func() { cfg.Cloud.SimulatorURL = f.simulatorURL }},
		{"snapshot-file", func() { cfg.Snapshot.File = f.snapshotFile }},
		{"snapshot-store", func() { cfg.Snapshot.Store = f.snapshotStore }},
		{"consul-addr", func() { cfg.Snapshot.ConsulAddr = f.consulAddr }},
		{"journal", func() { cfg.Journal = f.journal }},
		{"history-dsn", func() { cfg.HistoryDSN = f.historyDSN }},
		{"verbose", func() { cfg.Verbose = f.verbose }},
		{"progress-addr", func() { cfg.ProgressAddr = f.progressAddr }},
		{"rollback-resize", func() { cfg.Resize.RollbackResize = f.rollbackResize }},
		{"no-verify-resize", func() { cfg.Resize.VerifyResize = !f.noVerifyResize }},
	}
	for _, o := range overlay {
		if cmd.Flags().Lookup(o.name) != nil && changed(o.name) {
			o.apply()
		}
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: ExitUsage, err: err, usage: cmd.UsageString()}
	}
	a.cfg = cfg
	if a.log == nil {
		a.log = logging.New("gw-resize", cfg.Verbose)
	}
	return nil
}

// requireValues returns a missing-options error listing the empty ones, in order.
func requireValues(cmd *cobra.Command, pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, "--"+pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &exitError{
		code:  ExitMissing,
		err:   fmt.Errorf("missing required option(s): %s", strings.Join(missing, ", ")),
		usage: cmd.UsageString(),
	}
}
