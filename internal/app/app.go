// Package app wires the relay together: config, logging, storage, the chat
// client, identity resolution, dispatch and the trigger server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"chtbtr/internal/chat"
	"chtbtr/internal/compose"
	"chtbtr/internal/config"
	"chtbtr/internal/dispatch"
	"chtbtr/internal/eventbus"
	"chtbtr/internal/identity"
	"chtbtr/internal/relay"
	rtsup "chtbtr/internal/runtime/supervisor"
	"chtbtr/internal/server"
	"chtbtr/internal/settings"
	"chtbtr/internal/storage"
	"chtbtr/internal/transport/telegram"
	logx "chtbtr/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	chat     *chat.Client
	ids      *identity.Resolver
	relay    *relay.Service
	dispatch *dispatch.Service
	server   *server.Service
	refresh  *tokenRefresher

	started time.Time
	stopped atomic.Bool
}

// New builds every component from cfg and authenticates against the chat
// backend. cfgm may be nil, in which case the config is never reloaded.
func New(ctx context.Context, cfg *config.Config, cfgm *config.Manager) (a *App, err error) {
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	if tc, ok := mapAlertConfig(cfg); ok {
		alerts, err := telegram.NewAlertSender(tc)
		if err != nil {
			log.Warn("telegram alerts unavailable", logx.Err(err))
		} else {
			logSvc.SetAlertSender(alerts)
		}
	}
	defer func() {
		if err != nil {
			_ = logSvc.Close()
		}
	}()

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	log.Info("storage opened", logx.String("driver", sc.Driver))

	cc, err := mapChatConfig(cfg)
	if err != nil {
		return nil, err
	}
	chatc := chat.New(cc, log.With(logx.String("comp", "chat")))
	if err := chatc.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("chat authentication failed: %w", err)
	}

	ids, err := identity.NewResolver(ctx, chatc, store, bus, log.With(logx.String("comp", "identity")))
	if err != nil {
		return nil, err
	}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dc, chatc, store, bus, log.With(logx.String("comp", "dispatch")))

	rl := relay.New(
		ids,
		settings.NewProvider(store),
		compose.Composer{ReviewDomain: cfg.Chat.ReviewDomain},
		disp,
		log.With(logx.String("comp", "relay")),
	)

	refresh, err := newTokenRefresher(cfg.Chat.TokenRefresh, cc.Timeout, chatc, bus, log.With(logx.String("comp", "token")))
	if err != nil {
		return nil, err
	}

	a = &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		chat:     chatc,
		ids:      ids,
		relay:    rl,
		dispatch: disp,
		refresh:  refresh,
	}

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.server = server.New(srvCfg, rl, a.health, log.With(logx.String("comp", "server")))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the trigger server's bound address once started.
func (a *App) Addr() string { return a.server.Addr() }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()

	a.dispatch.Start(a.sup.Context())
	a.server.Start(a.sup.Context())
	a.refresh.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
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

	if a.cfgm != nil {
		a.startReload()
	}

	a.log.Info("app started")
	return nil
}

// startReload applies hot-reloaded logging and dispatch settings. Other
// sections are logged as needing a restart.
func (a *App) startReload() {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	a.cfgm.Commit(a.cfg)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if dc, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.dispatch.Apply(dc)
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Health is the payload served at /health.
type Health struct {
	Uptime       string                    `json:"uptime"`
	Identity     identity.Stats            `json:"identity"`
	Relay        relay.Stats               `json:"relay"`
	Dispatch     dispatch.Stats            `json:"dispatch"`
	TokenRefresh RefreshStats              `json:"token_refresh"`
	Supervisors  map[string]rtsup.Snapshot `json:"supervisors"`
}

func (a *App) health(context.Context) any {
	h := Health{
		Identity:     a.ids.Snapshot(),
		Relay:        a.relay.Stats(),
		Dispatch:     a.dispatch.Stats(),
		TokenRefresh: a.refresh.Stats(),
		Supervisors:  map[string]rtsup.Snapshot{},
	}
	if !a.started.IsZero() {
		h.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	if a.sup != nil {
		h.Supervisors["app"] = a.sup.Snapshot()
	}
	if s := a.dispatch.Supervisor(); s != nil {
		h.Supervisors["dispatch"] = s.Snapshot()
	}
	if s := a.server.Supervisor(); s != nil {
		h.Supervisors["server"] = s.Snapshot()
	}
	return h
}

// Stop shuts everything down once; later calls return nil.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.stopped.Swap(true) {
		return nil
	}
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// The server goes first so no trigger is accepted after dispatch stops.
	a.step(ctx, "server", 3*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	a.step(ctx, "token_refresh", 1*time.Second, func(c context.Context) error { a.refresh.Stop(c); return nil })

	// Dispatch drains its queue under its own deadline before the app
	// context is canceled.
	a.step(ctx, "dispatch", 5*time.Second, func(c context.Context) error { a.dispatch.Stop(c); return nil })

	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.close()
}

func (a *App) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	if limit > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
