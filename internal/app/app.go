// Package app wires the pipeline together: transport -> dispatch queue ->
// store -> curation -> notifier, plus config reload and the cron trigger.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chatcurator/internal/cache"
	"chatcurator/internal/config"
	"chatcurator/internal/curation"
	"chatcurator/internal/dispatch"
	"chatcurator/internal/notify"
	"chatcurator/internal/ranking"
	"chatcurator/internal/storage"
	"chatcurator/internal/store"
	"chatcurator/internal/transport"
	"chatcurator/internal/transport/telegram"
	logx "chatcurator/pkg/logx"
)

const defaultSchedule = "*/15 * * * *"

// RankerAPIKeyEnv names the environment variable holding the ranking API key.
// OPENAI_API_KEY is accepted as a fallback.
const RankerAPIKeyEnv = "CURATOR_RANKER_API_KEY"

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	mirror   storage.Store
	adapter  transport.Adapter
	cache    *cache.Cache
	store    *store.Store
	ranker   *ranking.Client
	notifier *notify.Dispatcher
	orch     *curation.Orchestrator
	queue    *dispatch.Queue
	cron     *cron.Cron
	cronID   cron.EntryID

	ownersMu sync.RWMutex
	owners   map[int64]struct{}
	events   chan []transport.Event

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		owners: ownerSet(cfg.Transport.OwnerUserIDs),
	}

	a.mirror, err = storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, _ := config.ParseDurationField("transport.poll_timeout", cfg.Transport.PollTimeout)
	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Transport.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	ttl, _ := config.ParseDurationOrDefault("cache.ttl", cfg.Cache.TTL, cache.DefaultTTL)
	a.cache = cache.New(a.adapter, ttl, log.With(logx.String("comp", "cache")))

	var mirror store.Mirror
	var ledgerMirror curation.Mirror
	if a.mirror != nil {
		mirror = a.mirror
		ledgerMirror = a.mirror
	}
	a.store = store.New(storeConfig(cfg), mirror, log.With(logx.String("comp", "store")))

	a.ranker = ranking.NewClient(rankerConfig(cfg), log.With(logx.String("comp", "ranker")))
	a.notifier = notify.New(notifyConfig(cfg), a.adapter, log.With(logx.String("comp", "notify")))
	a.orch = curation.New(curationConfig(cfg), a.store, a.ranker, a.notifier, ledgerMirror,
		log.With(logx.String("comp", "curation")))
	a.store.SetOnAccept(a.orch.Trigger)

	a.queue = dispatch.New(dispatch.Config{Workers: cfg.Dispatch.Workers}, a.cache, a.store,
		log.With(logx.String("comp", "dispatch")))

	a.cron = cron.New()
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Restore durable mirrors before accepting traffic.
	if err := a.store.Load(runCtx); err != nil {
		a.log.Warn("store restore failed; starting empty", logx.Err(err))
	}
	if err := a.orch.Load(runCtx); err != nil {
		a.log.Warn("ledger restore failed; starting empty", logx.Err(err))
	}

	a.orch.Start(runCtx)
	a.queue.Start(runCtx)

	a.events = make(chan []transport.Event, 64)
	if err := a.adapter.Start(runCtx, a.events); err != nil {
		cancel()
		return fmt.Errorf("start adapter: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.consume(runCtx)
	}()

	cfg := a.cfgMgr.Get()
	if cfg.Curation.Enabled {
		schedule := cfg.Curation.Schedule
		if schedule == "" {
			schedule = defaultSchedule
		}
		id, err := a.cron.AddFunc(schedule, a.orch.Trigger)
		if err != nil {
			a.log.Warn("invalid curation schedule; periodic trigger disabled",
				logx.String("schedule", schedule), logx.Err(err))
		} else {
			a.cronID = id
		}
	}
	a.cron.Start()

	// Config reload: watch the file and re-apply live-tunable sections.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	sub := a.cfgMgr.Subscribe(2)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case c, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c)
			}
		}
	}()

	a.log.Info("curator started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	stopCtx := a.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	_ = a.adapter.Stop(ctx)

	// Let in-flight events settle, then take a final snapshot.
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = a.queue.WaitIdle(drainCtx)
	cancel()
	if err := a.store.Save(context.Background()); err != nil {
		a.log.Warn("final save failed", logx.Err(err))
	}

	a.wg.Wait()
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	a.log.Info("curator stopped")
	return a.logSvc.Close()
}

// consume routes inbound batches: owner commands to the command handler,
// everything else into the dispatch queue.
func (a *App) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-a.events:
			if !ok {
				return
			}
			pipeline := batch[:0:0]
			for _, ev := range batch {
				if a.isOwnerCommand(ev) {
					// Commands run off-loop: /curate blocks on the ranking
					// call, and a stalled consume loop drops inbound events.
					go a.handleCommand(ctx, ev)
					continue
				}
				pipeline = append(pipeline, ev)
			}
			a.queue.Enqueue(pipeline)
		}
	}
}

// applyConfig re-applies the live-tunable sections after a reload.
// Dispatch worker count and the transport token are start-time only.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.store.Apply(storeConfig(cfg))
	a.orch.Apply(curationConfig(cfg))
	a.notifier.Apply(notifyConfig(cfg))
	a.ownersMu.Lock()
	a.owners = ownerSet(cfg.Transport.OwnerUserIDs)
	a.ownersMu.Unlock()
	a.log.Info("config applied")
}

// ---- config -> component conversions ----

func storageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func storeConfig(cfg *config.Config) store.Config {
	dmin, _ := config.ParseDurationOrDefault("store.human_delay.min", cfg.Store.HumanDelay.Min, 500*time.Millisecond)
	dmax, _ := config.ParseDurationOrDefault("store.human_delay.max", cfg.Store.HumanDelay.Max, 2*time.Second)
	return store.Config{
		MaxPerSource:     cfg.Store.MaxPerSource,
		MaxPerMinute:     cfg.Store.MaxPerMinute,
		MinLength:        cfg.Store.MinLength,
		MaxLength:        cfg.Store.MaxLength,
		IncludeMedia:     cfg.Store.IncludeMedia,
		IncludeForwarded: cfg.Store.IncludeForwarded,
		DelayEnabled:     cfg.Store.HumanDelay.Enabled,
		DelayMin:         dmin,
		DelayMax:         dmax,
	}
}

func curationConfig(cfg *config.Config) curation.Config {
	return curation.Config{
		Enabled: cfg.Curation.Enabled,
		TopK:    cfg.Curation.TopK,
		Profile: cfg.Curation.Profile,
	}
}

func notifyConfig(cfg *config.Config) notify.Config {
	pacing, _ := config.ParseDurationField("notify.pacing", cfg.Notify.Pacing)
	return notify.Config{
		Destination: cfg.Notify.Destination,
		Pacing:      pacing,
	}
}

func rankerConfig(cfg *config.Config) ranking.Config {
	key := os.Getenv(RankerAPIKeyEnv)
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	timeout, _ := config.ParseDurationField("curation.ranker.timeout", cfg.Curation.Ranker.Timeout)
	return ranking.Config{
		APIKey:  key,
		BaseURL: cfg.Curation.Ranker.BaseURL,
		Model:   cfg.Curation.Ranker.Model,
		Timeout: timeout,
	}
}

func ownerSet(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func (a *App) isOwnerCommand(ev transport.Event) bool {
	if len(ev.Text) == 0 || ev.Text[0] != '/' {
		return false
	}
	id, err := strconv.ParseInt(ev.SenderID, 10, 64)
	if err != nil {
		return false
	}
	a.ownersMu.RLock()
	_, ok := a.owners[id]
	a.ownersMu.RUnlock()
	return ok
}
