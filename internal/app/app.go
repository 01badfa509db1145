package app

import (
	"context"
	"fmt"
	"sync"

	"adhand/internal/config"
	"adhand/internal/dispatch"
	"adhand/internal/location"
	"adhand/internal/notify"
	"adhand/internal/prayer"
	"adhand/internal/runloop"
	"adhand/internal/storage"
	"adhand/internal/weather"
	"adhand/pkg/logx"
)

// defaultAladhanMethod is the Muslim World League convention, used when the
// config leaves prayer.method unset.
const defaultAladhanMethod = 3

type Options struct {
	ConfigPath string
}

// App owns the daemon's services and their lifecycle.
type App struct {
	log  logx.Logger
	logs *logx.Service

	cfgMgr   *config.Manager
	loop     *runloop.Loop
	disp     *dispatch.Dispatcher
	store    storage.Store
	resolver *location.Resolver
	notifier *notify.Service
	renderer *LogRenderer
	orch     *Orchestrator

	cancel context.CancelFunc
	cfgCh  chan *config.Config
	wg     sync.WaitGroup
}

func New(opts Options) (*App, error) {
	mgr := config.NewManager(opts.ConfigPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	a := &App{log: log, logs: logs, cfgMgr: mgr}

	a.loop = runloop.New(64, log.With(logx.String("svc", "runloop")))
	a.disp = dispatch.New(dispatch.Config{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}, a.loop, log.With(logx.String("svc", "dispatch")))

	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			logs.Close()
			return nil, err
		}
		store, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("svc", "storage")))
		if err != nil {
			logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = store
	}

	a.resolver = location.NewResolver(
		resolverConfig(cfg),
		location.DetectViaIP,
		log.With(logx.String("svc", "location")),
	)

	var source PrayerSource
	switch cfg.Prayer.Source {
	case "solar":
		source = prayer.NewSolarSource(cfg.Prayer.School, log.With(logx.String("svc", "prayer")))
	default:
		method := cfg.Prayer.Method
		if method == 0 {
			method = defaultAladhanMethod
		}
		source = prayer.NewAladhanClient(prayer.AladhanConfig{
			Method: method,
			School: cfg.Prayer.School,
		}, log.With(logx.String("svc", "prayer")))
	}

	var weatherSource WeatherSource
	if cfg.Weather.Enabled {
		weatherSource = weather.NewClient(log.With(logx.String("svc", "weather")))
	}

	a.notifier = notify.New(notifyConfig(cfg), a.buildBackends(cfg), log.With(logx.String("svc", "notify")))
	a.renderer = NewLogRenderer(a.loop, log.With(logx.String("svc", "render")), nil)

	orch, err := NewOrchestrator(cfg.RefreshCronSpec(), Deps{
		Loop:       a.loop,
		Dispatcher: a.disp,
		Locations:  a.resolver,
		Prayers:    source,
		Weather:    weatherSource,
		Notifier:   a.notifier,
		Store:      a.store,
		Renderer:   a.renderer,
		Log:        log.With(logx.String("svc", "orchestrator")),
	})
	if err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		logs.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

// Start brings the services up and kicks off the first refresh cycle. The
// first refresh waits for the persisted last-known location so it is
// available as a detection fallback.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.loop.Start(runCtx)
	a.disp.Start(runCtx)
	a.notifier.Start(runCtx)
	a.renderer.Start(runCtx)

	a.cfgCh = a.cfgMgr.Subscribe(4)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(runCtx); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		for cfg := range a.cfgCh {
			a.applyConfig(cfg)
		}
	}()

	if a.store != nil {
		dispatch.Submit(a.disp, "refresh-history",
			func(ctx context.Context) ([]storage.RefreshRecord, error) {
				return a.store.RecentRefreshes(ctx, 1)
			},
			func(recs []storage.RefreshRecord) {
				if len(recs) == 0 {
					return
				}
				last := recs[0]
				if last.Error != "" {
					a.log.Info("previous run ended with a failed refresh",
						logx.Time("at", last.At), logx.String("error", last.Error))
					return
				}
				a.log.Info("previous refresh",
					logx.Time("at", last.At),
					logx.String("location", last.City+", "+last.Country),
					logx.String("date", last.Date))
			},
			func(err error) { a.log.Warn("reading refresh history failed", logx.Err(err)) },
		)
		dispatch.Submit(a.disp, "load-location",
			func(ctx context.Context) (*prayer.Location, error) { return a.store.LoadLocation(ctx) },
			func(loc *prayer.Location) {
				if loc != nil {
					a.log.Info("restored last known location", logx.String("location", loc.String()))
					a.resolver.Remember(*loc)
				}
				a.orch.RequestRefresh()
			},
			func(err error) {
				a.log.Warn("loading last known location failed", logx.Err(err))
				a.orch.RequestRefresh()
			},
		)
	} else {
		a.orch.RequestRefresh()
	}

	a.log.Info("adhand started")
	return nil
}

// Stop tears the services down in dependency order. Queued dispatcher tickets
// are failed while the run loop still drains, so every pending callback gets
// its outcome.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.cfgMgr.Unsubscribe(a.cfgCh)
	a.wg.Wait()

	a.orch.Close()
	a.disp.Stop()
	a.notifier.Stop()

	a.loop.Stop()
	a.loop.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing storage failed", logx.Err(err))
		}
	}
	a.log.Info("adhand stopped")
	_ = a.logs.Close()
}

// applyConfig handles a hot reload: swap log sinks, location policy, and the
// notify pipeline, then refresh. Storage driver and backend set changes
// require a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.resolver.Apply(resolverConfig(cfg))
	a.notifier.Apply(notifyConfig(cfg))

	a.log.Info("configuration applied; refreshing")
	a.orch.RequestRefresh()
}

func (a *App) buildBackends(cfg *config.Config) []notify.Backend {
	var backends []notify.Backend
	if cfg.Notify.Player.Enabled {
		backends = append(backends, notify.NewPlayer(notify.PlayerConfig{
			Enabled:     true,
			Command:     cfg.Notify.Player.Command,
			FullSound:   cfg.Notify.Player.FullSound,
			ShortSound:  cfg.Notify.Player.ShortSound,
			UseShortFor: cfg.Notify.Player.UseShortFor,
		}, a.log.With(logx.String("svc", "notify"))))
	}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Enabled: true,
			Token:   cfg.Notify.Telegram.Token,
			ChatID:  cfg.Notify.Telegram.ChatID,
		}, a.log.With(logx.String("svc", "notify")))
		if err != nil {
			// A broken Telegram setup must not keep the adhan from playing.
			a.log.Error("telegram backend disabled", logx.Err(err))
		} else {
			backends = append(backends, tg)
		}
	}
	return backends
}

func resolverConfig(cfg *config.Config) location.Config {
	manual := &prayer.Location{
		City:      cfg.Location.City,
		Country:   cfg.Location.Country,
		Latitude:  cfg.Location.Latitude,
		Longitude: cfg.Location.Longitude,
		Timezone:  cfg.Location.Timezone,
	}
	return location.Config{Auto: cfg.Location.Auto, Manual: manual}
}

func notifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Enabled:    cfg.Notify.Enabled,
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
	}
}
