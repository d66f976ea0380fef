// Package app builds every service from settings and a pipeline definition
// and wires them together.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	dbconnector "dealsignal"
	"dealsignal/internal/api"
	"dealsignal/internal/bus"
	"dealsignal/internal/config"
	"dealsignal/internal/crypto"
	"dealsignal/internal/events"
	"dealsignal/internal/logger"
	"dealsignal/internal/metrics"
	"dealsignal/internal/notify"
	"dealsignal/internal/runner"
	"dealsignal/internal/scheduler"
	"dealsignal/internal/source"
	"dealsignal/internal/storage"
)

// Options overrides construction details, mostly for tests.
type Options struct {
	HTTPClient   *http.Client
	OpenDatabase func(dbconnector.ConnectionConfig) (dbconnector.RecordSource, error)
	Policy       *scheduler.FrequencyPolicy
	Redis        redis.Cmdable
}

type App struct {
	Settings config.Settings
	Pipeline *config.Pipeline
	Log      logger.Logger

	Signals   *events.Bus[events.Signal]
	Refresh   *events.Bus[events.Refresh]
	Refreshes *events.Recorder

	Sources       *source.Registry
	Runner        *runner.Runner
	Scheduler     *scheduler.Scheduler
	Notifications *notify.Engine
	Metrics       *metrics.Recorder
	Simulator     *notify.Simulator
	History       *storage.Repository

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func()
}

// New constructs the application. Optional integrations (Postgres, NATS,
// Redis, SMTP) are skipped when unconfigured; failing to reach Postgres or
// NATS is logged and the app runs without them.
func New(ctx context.Context, settings config.Settings, pipeline *config.Pipeline, log logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{
		Settings:  settings,
		Pipeline:  pipeline,
		Log:       log,
		Signals:   events.NewBus[events.Signal]("signals", log),
		Refresh:   events.NewBus[events.Refresh]("refresh", log),
		Refreshes: events.NewRecorder(0),
		Metrics:   metrics.New(),
	}
	a.Refresh.Subscribe(a.Refreshes.Record)

	sealer, err := newSealer(settings.EncryptionKey)
	if err != nil {
		return nil, err
	}

	a.Sources, err = source.BuildRegistry(pipeline.Sources, source.Factory{
		Limits: source.Limits{
			FetchTimeout: settings.Source.FetchTimeout,
			HealthTTL:    settings.Source.HealthTTL,
			MaxRecords:   settings.Source.MaxRecords,
		},
		Log:          log,
		Client:       opts.HTTPClient,
		Observer:     a.Metrics.SetSourceConnected,
		Secrets:      sealer.Resolve,
		OpenDatabase: opts.OpenDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.Sources.Close() })

	jobCfgs, err := pipeline.JobConfigs()
	if err != nil {
		a.Close()
		return nil, err
	}
	jobs, err := runner.BuildJobs(jobCfgs, a.Signals, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Runner = runner.New(a.Sources, pipeline.Sources, jobs, log)
	a.Runner.OnRun(a.Metrics.ObservePipelineRun)

	policy := opts.Policy
	if policy == nil {
		if policy, err = buildPolicy(settings); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Scheduler = scheduler.New(a.Runner, scheduler.Options{
		Policy:           policy,
		ExecutionTimeout: settings.Scheduler.ExecutionTimeout,
		Refresh:          a.Refresh,
		Metrics:          a.Metrics,
		Log:              log,
	})
	for _, sc := range pipeline.Schedules {
		if err := a.Scheduler.AddSchedule(sc.Schedule()); err != nil {
			a.Close()
			return nil, err
		}
	}

	if err := a.buildNotifications(settings, pipeline, sealer, opts); err != nil {
		a.Close()
		return nil, err
	}
	a.Signals.Subscribe(func(sig events.Signal) {
		a.Notifications.HandleSignal(context.Background(), sig)
	})

	a.connectHistory(ctx, settings.DatabaseURL)
	a.connectNATS(settings.NATSURL)
	return a, nil
}

func newSealer(key string) (*crypto.Sealer, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := crypto.ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return crypto.NewSealer(raw)
}

func buildPolicy(settings config.Settings) (*scheduler.FrequencyPolicy, error) {
	if settings.Scheduler.Demo {
		return scheduler.DemoPolicy(), nil
	}
	specs := make(map[scheduler.Frequency]string, len(settings.Frequencies))
	for f, spec := range settings.Frequencies {
		specs[scheduler.Frequency(f)] = spec
	}
	policy, err := scheduler.NewFrequencyPolicy(specs)
	if err != nil {
		return nil, fmt.Errorf("frequencies: %w", err)
	}
	return policy, nil
}

func (a *App) buildNotifications(settings config.Settings, pipeline *config.Pipeline, sealer *crypto.Sealer, opts Options) error {
	a.Notifications = notify.NewEngine(notify.EngineOptions{
		Log:       a.Log,
		Metrics:   a.Metrics,
		Watchlist: notify.NewStaticWatchlist(settings.Watchlist...),
	})
	a.Notifications.RegisterDeliverer(notify.ChannelInApp, notify.NewInAppDeliverer(a.Log))

	if settings.SMTP.Host != "" {
		password := settings.SMTP.Password
		if settings.SMTP.PasswordEnc != "" {
			if sealer == nil {
				return fmt.Errorf("smtp.passwordEnc: %w", crypto.ErrNoKey)
			}
			plain, err := sealer.Decrypt(strings.TrimPrefix(settings.SMTP.PasswordEnc, crypto.EncryptedPrefix))
			if err != nil {
				return fmt.Errorf("smtp.passwordEnc: %w", err)
			}
			password = plain
		}
		a.Notifications.RegisterDeliverer(notify.ChannelEmail, notify.NewEmailDeliverer(notify.SMTPConfig{
			Host:     settings.SMTP.Host,
			Port:     settings.SMTP.Port,
			Username: settings.SMTP.Username,
			Password: password,
			From:     settings.SMTP.From,
			Timeout:  settings.SMTP.Timeout,
		}))
	}

	rdb := opts.Redis
	if rdb == nil && settings.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		a.closers = append(a.closers, func() { _ = client.Close() })
		rdb = client
	}
	if rdb != nil {
		a.Notifications.RegisterDeliverer(notify.ChannelMobile, notify.NewMobileDeliverer(rdb))
	}

	for _, c := range pipeline.Channels {
		if _, err := a.Notifications.SaveChannel(c.Channel()); err != nil {
			return fmt.Errorf("channel %s: %w", c.ID, err)
		}
	}
	for _, r := range pipeline.Rules {
		if _, err := a.Notifications.SaveRule(r.Rule()); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	if settings.Simulation.Enabled {
		a.Simulator = notify.NewSimulator(a.Notifications, settings.Simulation.Interval, settings.Simulation.Probability, a.Log)
	}
	return nil
}

func (a *App) connectHistory(ctx context.Context, dsn string) {
	if dsn == "" {
		return
	}
	store, err := storage.NewStore(ctx, dsn)
	if err != nil {
		a.Log.Warn("run history disabled: cannot connect to postgres", logger.Err(err))
		return
	}
	repo := storage.NewRepository(store)
	if err := repo.EnsureSchema(ctx); err != nil {
		a.Log.Warn("run history disabled", logger.Err(err))
		store.Close()
		return
	}
	a.History = repo
	history := storage.NewHistory(repo, a.Log)
	a.Runner.OnRun(history.ObserveRun)
	a.Refresh.Subscribe(history.ObserveRefresh)
	a.closers = append(a.closers, store.Close)
}

func (a *App) connectNATS(url string) {
	if url == "" {
		return
	}
	bridge, err := bus.Connect(url, a.Log)
	if err != nil {
		a.Log.Warn("nats bridge disabled", logger.Err(err))
		return
	}
	bus.Forward(bridge, a.Refresh, bus.SubjectRefresh)
	bus.Forward(bridge, a.Signals, bus.SubjectSignal)
	if err := bridge.HandleRunRequests(a.Scheduler); err != nil {
		a.Log.Warn("nats run requests disabled", logger.Err(err))
	}
	a.closers = append(a.closers, bridge.Close)
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	h := &api.Handler{
		Scheduler:     a.Scheduler,
		Runner:        a.Runner,
		Notifications: a.Notifications,
		Refreshes:     a.Refreshes,
		Metrics:       a.Metrics.Handler(),
		Log:           a.Log,
		Timeout:       30 * time.Second,
	}
	if a.History != nil {
		h.History = a.History
	}
	return h.Router()
}

// Start launches the scheduler (when autostart is on) and the simulator.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	if a.Settings.Scheduler.Autostart {
		a.Scheduler.Start()
	}
	if a.Simulator != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Simulator.Run(ctx)
		}()
	}
}

// Close stops background work and releases connections in reverse order.
func (a *App) Close() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.wg.Wait()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	_ = a.Log.Sync()
}
