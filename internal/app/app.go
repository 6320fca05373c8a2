// Package app wires configuration, the messaging client, the dispatcher and
// the scheduler into one process and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"pollbot/internal/config"
	"pollbot/internal/dispatch"
	"pollbot/internal/eventbus"
	"pollbot/internal/metrics"
	"pollbot/internal/runtime/supervisor"
	"pollbot/internal/scheduler"
	"pollbot/internal/storage"
	"pollbot/internal/transport"
	"pollbot/internal/transport/whatsapp"
	logx "pollbot/pkg/logx"
	"pollbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	alert *alertSender
	bus   eventbus.Bus
	store storage.Store

	client   transport.Client
	disp     *dispatch.Dispatcher
	recorder *dispatch.Recorder
	sched    *scheduler.Service
	metrics  *metrics.Dispatch
	notify   *systemd.Notifier
	coord    *Coordinator
}

type Option func(*options)

type options struct {
	client transport.Client
	qr     io.Writer
	lookup func(string) (string, bool)
}

// WithClient replaces the platform client built from config.
func WithClient(c transport.Client) Option { return func(o *options) { o.client = c } }

// WithQRWriter sets where pairing QR codes are drawn. Default stdout.
func WithQRWriter(w io.Writer) Option { return func(o *options) { o.qr = w } }

// WithEnvLookup replaces os.LookupEnv for config overrides.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = fn }
}

// New loads the config at cfgPath and builds every component. Nothing is
// started and no network connection is made, except for opening the client session store.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{qr: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	if o.lookup != nil {
		cfgm.SetEnvLookup(o.lookup)
	}
	cfgm.SetValidator(validateSchedule)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(cfg.Logging.LogxConfig())
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	loc, err := cfg.Poll.LocationValue()
	if err != nil {
		return nil, err
	}
	tpl, err := mapTemplate(cfg.Poll)
	if err != nil {
		return nil, err
	}
	policy, err := mapPolicy(cfg)
	if err != nil {
		return nil, err
	}
	startupDelay, err := cfg.Poll.StartupTestDelayValue()
	if err != nil {
		return nil, err
	}
	sc, dedupWindow, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	client := o.client
	if client == nil {
		client, err = newClient(ctx, cfg.Transport, root)
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			return nil, err
		}
	}

	bus := eventbus.New()
	disp, err := dispatch.New(dispatch.Options{
		Client:      client,
		TargetName:  cfg.Poll.Target.Name,
		TargetID:    cfg.Poll.Target.ID,
		Template:    tpl,
		Location:    loc,
		Policy:      policy,
		Store:       store,
		DedupWindow: dedupWindow,
		Bus:         bus,
		Log:         root,
	})
	if err != nil {
		_ = client.Close(ctx)
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		client:  client,
		disp:    disp,
		sched:   scheduler.New(loc, root),
		metrics: metrics.New(nil, cfg.Metrics.Textfile, root),
		notify:  systemd.New(cfg.Systemd.Notify),
	}
	if store != nil {
		a.recorder = &dispatch.Recorder{Store: store, Bus: bus, Platform: client.Platform(), Log: log}
	}

	a.alert = newAlertSender(client, cfg.Logging.Alert.TargetID)
	logSvc.SetAlertSender(a.alert)

	a.coord = &Coordinator{
		Client:           client,
		Scheduler:        a.sched,
		Dispatcher:       disp,
		Schedule:         cfg.Poll.Schedule,
		StartupTestDelay: startupDelay,
		QR:               o.qr,
		RenderQR:         whatsapp.RenderQR,
		OnReady:          a.onFirstReady,
		Log:              root.With(logx.String("comp", "lifecycle")),
	}

	log.Info("pollbot configured",
		logx.String("platform", client.Platform()),
		logx.String("target", disp.Target()),
		logx.String("schedule", cfg.Poll.Schedule),
		logx.String("tz", loc.String()),
		logx.Int("max_retries", policy.MaxRetries),
		logx.Duration("retry_delay", policy.RetryDelay),
	)
	return a, nil
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.coord.Supervisor = a.sup

	if a.recorder != nil {
		a.sup.Go("dispatch.recorder", a.recorder.Run)
	}
	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus, a.nextRun)
	})

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go("client.events", a.coord.Run)
	a.coord.Connect()

	a.startConfigReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.cfg.Systemd.Watchdog {
		interval, err := a.notify.WatchdogInterval()
		if err != nil {
			a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		} else if interval > 0 {
			a.sup.Go("systemd.watchdog", func(c context.Context) error {
				return a.notify.RunWatchdog(c, interval, nil)
			})
		}
	}

	a.log.Info("app started")
	return nil
}

func (a *App) nextRun() time.Time {
	t, _ := a.sched.NextRun(weeklyJob, time.Now())
	return t
}

func (a *App) onFirstReady() {
	next := a.nextRun()
	a.metrics.SetNextRun(next)
	if err := a.metrics.Flush(); err != nil {
		a.log.Warn("metrics textfile write failed", logx.Err(err))
	}
	if sent, err := a.notify.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		_, _ = a.notify.Status("next poll " + next.Format(time.RFC3339))
		a.log.Debug("systemd notified ready")
	}
}

// startConfigReload applies logging changes live and flags everything else as restart-only.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)

	a.alert.SetTarget(newCfg.Logging.Alert.TargetID)
	a.logs.Apply(newCfg.Logging.LogxConfig())

	if ch.RestartRequired {
		a.log.Warn("config changed outside logging; restart required for it to take effect", fields...)
	}
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order, each step bounded so a
// stuck component cannot hold up the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	if _, err := a.notify.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		for _, st := range a.sup.Snapshot() {
			a.log.Debug("goroutine stats",
				logx.String("name", st.Name),
				logx.Int("active", st.Active),
				logx.Int("restarts", st.Restarts),
				logx.Int("panics", st.Panics),
			)
		}
		return err
	})
	a.step(ctx, "client", 3*time.Second, a.client.Close)
	a.step(ctx, "metrics", time.Second, func(context.Context) error { return a.metrics.Flush() })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn with an upper bound that never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
