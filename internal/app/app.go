// Package app assembles StatusPipe from its configuration: the store, the
// status machine and its collaborators, and the background workers of the
// daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/api"
	"github.com/BTreeMap/StatusPipe/internal/config"
	"github.com/BTreeMap/StatusPipe/internal/labresults"
	"github.com/BTreeMap/StatusPipe/internal/lockfile"
	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/mailbox"
	"github.com/BTreeMap/StatusPipe/internal/metrics"
	"github.com/BTreeMap/StatusPipe/internal/natsbus"
	"github.com/BTreeMap/StatusPipe/internal/notify"
	"github.com/BTreeMap/StatusPipe/internal/recovery"
	"github.com/BTreeMap/StatusPipe/internal/scheduler"
	"github.com/BTreeMap/StatusPipe/internal/status"
	"github.com/BTreeMap/StatusPipe/internal/store"
	"github.com/BTreeMap/StatusPipe/internal/upload"
	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// App owns everything opened for one command run. Close releases it.
type App struct {
	cfg      *config.Config
	loc      *time.Location
	clock    clockwork.Clock
	lock     *lockfile.Lock
	store    store.Store
	mailbox  *mailbox.Durable
	machine  *status.Machine
	registry *prom.Registry
}

// Open locks the state directory, opens the store and builds the status
// machine. Notifications and uploads requested through the machine are
// queued in the store and delivered by Serve.
func Open(cfg *config.Config, command string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", cfg.StateDir, err)
	}

	lock, err := lockfile.Acquire(cfg.StateDir, command)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg.Database)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		loc:      loc,
		clock:    clockwork.NewRealClock(),
		lock:     lock,
		store:    st,
		mailbox:  mailbox.NewDurable(st),
		registry: prom.NewRegistry(),
	}
	a.machine = status.NewMachine(st, notify.NewScheduler(st), upload.NewUploader(st), a.mailbox,
		status.WithClock(a.clock),
		status.WithLocation(loc),
		status.WithRecorder(metrics.NewPrometheusRecorder(a.registry)),
	)
	slog.Debug("App.Open: opened", "command", command, "driver", cfg.Database.Driver, "timezone", loc.String())
	return a, nil
}

func openStore(db config.DatabaseConfig) (store.Store, error) {
	switch db.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(store.WithPostgresDSN(db.DSN))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(store.WithSQLiteDSN(db.DSN))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

func (a *App) Machine() *status.Machine  { return a.machine }
func (a *App) Mailbox() *mailbox.Durable { return a.mailbox }
func (a *App) Store() store.Store        { return a.store }

// Close stops the machine, closes the store and releases the lock.
func (a *App) Close() error {
	a.machine.Close()
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if err := a.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Serve runs the daemon until ctx is done: notification delivery, contact
// uploads, the status bridge, the lab result consumer, periodic maintenance
// and the HTTP API.
func (a *App) Serve(ctx context.Context) error {
	sender, err := a.notificationSender()
	if err != nil {
		return err
	}
	pub, closePub, err := a.publisher(ctx)
	if err != nil {
		return err
	}
	defer closePub()

	runner := store.NewJobRunnerWithClock(a.store, a.cfg.Schedule.JobPollInterval, a.clock)
	notify.RegisterHandlers(runner, sender)
	outbox := store.NewOutboxSenderWithClock(a.store,
		upload.SendFunc(a.store, pub, a.cfg.NATS.UploadSubject, a.clock.Now),
		a.cfg.Schedule.OutboxPollInterval, a.clock)

	rm := recovery.NewRecoveryManager()
	rm.RegisterRecoverable("jobs", runner)
	rm.RegisterRecoverable("outbox", outbox)
	rm.RegisterRecoverable("status", a.machine)
	rm.RegisterRecoverable("contacts", recovery.RecoverableFunc(
		scheduler.ExpireContactsTask(a.store, a.cfg.Schedule.ContactEventTTL, a.clock)))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("App.Serve: recovery incomplete", logfields.Error(err))
	}

	cron := scheduler.NewScheduler(a.loc)
	if err := cron.AddJob("tick", a.cfg.Schedule.Tick, scheduler.TickTask(a.machine)); err != nil {
		return err
	}
	if a.cfg.Schedule.ContactExpiry != "" {
		task := scheduler.ExpireContactsTask(a.store, a.cfg.Schedule.ContactEventTTL, a.clock)
		if err := cron.AddJob("contact_expiry", a.cfg.Schedule.ContactExpiry, task); err != nil {
			return err
		}
	}

	var consumer *labresults.Consumer
	if len(a.cfg.Kafka.Brokers) > 0 {
		consumer, err = labresults.NewConsumer(labresults.Config{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
			GroupID: a.cfg.Kafka.GroupID,
		}, a.machine, a.store)
		if err != nil {
			return err
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				slog.Warn("App.Serve: failed to close consumer", logfields.Error(err))
			}
		}()
	}

	server := api.NewServer(a.machine, a.mailbox, a.store,
		api.WithAddr(a.cfg.API.Addr),
		api.WithNow(a.clock.Now),
		api.WithMetricsHandler(metrics.HTTPHandler(a.registry)),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { runner.Run(ctx); return nil })
	g.Go(func() error { outbox.Run(ctx); return nil })
	g.Go(func() error { natsbus.NewBridge(a.machine, pub, a.cfg.NATS.StatusSubject).Run(ctx); return nil })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(ctx) })
	}
	g.Go(func() error { return server.Run(ctx) })

	cron.Start(ctx)
	defer cron.Stop()

	slog.Info("App.Serve: started", "api_addr", a.cfg.API.Addr, "kafka", consumer != nil, "nats", a.cfg.NATS.URL != "")
	return g.Wait()
}

func (a *App) notificationSender() (notify.Sender, error) {
	tw := a.cfg.Twilio
	if tw.AccountSID == "" {
		return notify.LogSender{}, nil
	}
	return notify.NewTwilioSender(
		notify.WithAccountSID(tw.AccountSID),
		notify.WithAuthToken(tw.AuthToken),
		notify.WithFrom(tw.From),
		notify.WithTo(tw.To),
	)
}

// publisher connects to NATS when configured. Without NATS, published data is
// only logged and uploads still complete.
func (a *App) publisher(ctx context.Context) (natsbus.Publisher, func(), error) {
	if a.cfg.NATS.URL == "" {
		return logPublisher{}, func() {}, nil
	}
	client, err := natsbus.Connect(ctx, natsbus.Config{
		URL:      a.cfg.NATS.URL,
		Stream:   a.cfg.NATS.Stream,
		Subjects: []string{a.cfg.NATS.StatusSubject, a.cfg.NATS.UploadSubject},
	})
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		if err := client.Close(); err != nil {
			slog.Warn("App.Serve: failed to close NATS client", logfields.Error(err))
		}
	}, nil
}

type logPublisher struct{}

func (logPublisher) Publish(_ context.Context, subject string, data []byte) error {
	slog.Info("logPublisher.Publish: NATS not configured, dropping payload", logfields.Subject(subject), "bytes", len(data))
	return nil
}
