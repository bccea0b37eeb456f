// Package commands implements the statuspipe command line.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/app"
	"github.com/BTreeMap/StatusPipe/internal/config"
	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/BTreeMap/StatusPipe/internal/status"
	"github.com/alecthomas/kong"
)

var logLevel = new(slog.LevelVar)

// Global carries state shared by all commands.
type Global struct {
	Out io.Writer
}

// CLI definition & global flags. Flags override the config file and the
// environment.
type CLI struct {
	Config   string           `short:"c" help:"Configuration file path (YAML)" type:"path"`
	Verbose  bool             `short:"v" help:"Enable verbose logging"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit"`
	StateDir string           `name:"state-dir" help:"State directory (overrides $STATUSPIPE_STATE_DIR)"`
	DBDriver string           `name:"db-driver" help:"Database driver: sqlite3 or postgres (overrides $DATABASE_DRIVER)"`
	DBDSN    string           `name:"db-dsn" help:"Database DSN (overrides $DATABASE_URL)"`
	Timezone string           `help:"IANA timezone for dates and schedules (overrides $STATUSPIPE_TIMEZONE)"`

	Serve     ServeCmd     `cmd:"" help:"Run the daemon: HTTP API, notification delivery, uploads and periodic ticks"`
	Status    StatusCmd    `cmd:"" help:"Print the current status"`
	Exposed   ExposedCmd   `cmd:"" help:"Record an exposure notification"`
	Unexposed UnexposedCmd `cmd:"" help:"Withdraw a previous exposure notification"`
	Diagnose  DiagnoseCmd  `cmd:"" help:"Self-report symptoms"`
	Checkin   CheckinCmd   `cmd:"" help:"Answer the symptom check-in"`
	Tick      TickCmd      `cmd:"" help:"Re-evaluate time-driven status changes"`
	Result    ResultCmd    `cmd:"" help:"Apply a lab test result"`
	Mailbox   MailboxCmd   `cmd:"" help:"Print and clear the pending drawer message"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	if c.Verbose {
		logLevel.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	return nil
}

// LoadConfig loads the configuration and applies the global flags.
func (c *CLI) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.StateDir != "" {
		cfg.StateDir = c.StateDir
	}
	if c.DBDSN != "" {
		cfg.Database.DSN = c.DBDSN
		cfg.Database.Driver = ""
	}
	if c.DBDriver != "" {
		cfg.Database.Driver = c.DBDriver
	}
	if c.Timezone != "" {
		cfg.Timezone = c.Timezone
	}
	cfg.Resolve()
	if !c.Verbose {
		logLevel.Set(cfg.SlogLevel())
	}
	return cfg, nil
}

// runOperation opens the state directory, applies op and prints the
// resulting status. A side effect failure is reported but does not fail the
// command: the new status has been saved.
func runOperation(g *Global, root *CLI, command string, op func(*status.Machine, context.Context) error) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(cfg, command)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close state", logfields.Error(err))
		}
	}()

	ctx := context.Background()
	if op != nil {
		if err := op(a.Machine(), ctx); err != nil {
			if !errors.Is(err, status.ErrSideEffect) {
				return fmt.Errorf("%s: %w", command, err)
			}
			slog.Warn("Status saved but a follow-up action failed", logfields.Operation(command), logfields.Error(err))
		}
	}
	state, err := a.Machine().State(ctx)
	if err != nil {
		return err
	}
	return printState(g.Out, state)
}

func printState(w io.Writer, state models.StatusState) error {
	data, err := models.MarshalStatusState(state)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseDate accepts RFC 3339 or a calendar date, which is read as midnight in
// the configured timezone.
func parseDate(value string, cfg *config.Config) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", value)
	}
	return t, nil
}
