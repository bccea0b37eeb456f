package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/app"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/BTreeMap/StatusPipe/internal/status"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

func (c *StatusCmd) Run(g *Global, root *CLI) error {
	return runOperation(g, root, "status", nil)
}

// ExposedCmd implements the 'exposed' command.
type ExposedCmd struct{}

func (c *ExposedCmd) Run(g *Global, root *CLI) error {
	return runOperation(g, root, "exposed", (*status.Machine).Exposed)
}

// UnexposedCmd implements the 'unexposed' command.
type UnexposedCmd struct{}

func (c *UnexposedCmd) Run(g *Global, root *CLI) error {
	return runOperation(g, root, "unexposed", (*status.Machine).Unexposed)
}

// TickCmd implements the 'tick' command.
type TickCmd struct{}

func (c *TickCmd) Run(g *Global, root *CLI) error {
	return runOperation(g, root, "tick", (*status.Machine).Tick)
}

// DiagnoseCmd implements the 'diagnose' command.
type DiagnoseCmd struct {
	Symptoms []string `arg:"" help:"Symptoms: temperature, cough, anosmia, sneeze, nausea"`
	Start    string   `help:"Symptom onset (YYYY-MM-DD or RFC 3339)" required:""`
}

func (c *DiagnoseCmd) Run(g *Global, root *CLI) error {
	symptoms, err := models.ParseSymptoms(c.Symptoms...)
	if err != nil {
		return err
	}
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	start, err := parseDate(c.Start, cfg)
	if err != nil {
		return err
	}
	return runOperation(g, root, "diagnose", func(m *status.Machine, ctx context.Context) error {
		return m.SelfDiagnose(ctx, symptoms, start)
	})
}

// CheckinCmd implements the 'checkin' command.
type CheckinCmd struct {
	Symptoms []string `arg:"" optional:"" help:"Current symptoms; none means recovered"`
}

func (c *CheckinCmd) Run(g *Global, root *CLI) error {
	symptoms, err := models.ParseSymptoms(c.Symptoms...)
	if err != nil {
		return err
	}
	return runOperation(g, root, "checkin", func(m *status.Machine, ctx context.Context) error {
		return m.Checkin(ctx, symptoms)
	})
}

// ResultCmd implements the 'result' command.
type ResultCmd struct {
	Result   string `arg:"" enum:"positive,negative,unclear" help:"Test outcome: positive, negative or unclear"`
	TestedAt string `name:"tested-at" help:"When the sample was taken (YYYY-MM-DD or RFC 3339); defaults to now"`
	Type     string `help:"Test type, passed through"`
	AckURL   string `name:"ack-url" help:"Acknowledgement URL, passed through"`
}

func (c *ResultCmd) Run(g *Global, root *CLI) error {
	kind, err := models.ParseTestResultKind(c.Result)
	if err != nil {
		return err
	}
	tested := time.Now()
	if c.TestedAt != "" {
		cfg, err := root.LoadConfig()
		if err != nil {
			return err
		}
		if tested, err = parseDate(c.TestedAt, cfg); err != nil {
			return err
		}
	}
	result := models.TestResult{Result: kind, TestTimestamp: tested, Type: c.Type, AcknowledgementURL: c.AckURL}
	return runOperation(g, root, "result", func(m *status.Machine, ctx context.Context) error {
		return m.Received(ctx, result)
	})
}

// MailboxCmd implements the 'mailbox' command.
type MailboxCmd struct{}

func (c *MailboxCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(cfg, "mailbox")
	if err != nil {
		return err
	}
	defer a.Close()

	msg, err := a.Mailbox().Receive(context.Background())
	if err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}
	if msg == nil {
		_, err = fmt.Fprintln(g.Out, "no message")
		return err
	}
	return printJSON(g.Out, msg)
}
