// Package app wires the stores, workers and HTTP surface together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	v1 "agent_dashboard/api/v1"
	"agent_dashboard/internal/activity"
	"agent_dashboard/internal/archive"
	"agent_dashboard/internal/auth"
	"agent_dashboard/internal/cache"
	"agent_dashboard/internal/config"
	"agent_dashboard/internal/dashboard"
	"agent_dashboard/internal/heartbeat"
	"agent_dashboard/internal/jobs"
	"agent_dashboard/internal/memory"
	"agent_dashboard/internal/metrics"
	"agent_dashboard/internal/preferences"
	"agent_dashboard/internal/profiles"
	"agent_dashboard/internal/queue"
	"agent_dashboard/internal/service"
	"agent_dashboard/internal/ws"
)

// Options selects the optional parts of the application
type Options struct {
	// Serve wires the heartbeat pool, the push channels and the scheduler
	Serve bool
}

// App holds every component built from the configuration
type App struct {
	Config      *config.Config
	Logger      *logrus.Entry
	Profiles    *profiles.Registry
	Queue       *queue.Store
	Memory      *memory.Store
	Activity    *activity.Log
	Preferences *preferences.Store
	Archive     archive.Sink
	Metrics     *metrics.Recorder
	Projection  *dashboard.Projection
	Service     *service.SubagentService

	pool    *heartbeat.Pool
	socket  *ws.Server
	redis   *cache.RedisPublisher
	watcher *profiles.Watcher
	jobs    *jobs.Scheduler
	opts    Options
	started bool
}

// New builds the application. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Entry, opts Options) (*App, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	auth.InitJWT(cfg.JWT.Secret)

	reg, err := loadProfiles(cfg.Paths.Profiles, logger)
	if err != nil {
		return nil, err
	}
	logger.Infof("Loaded %d profiles from %s", reg.Len(), cfg.Paths.Profiles)

	staleAfter := time.Duration(cfg.Tracking.StaleAfterSec) * time.Second
	starvedAfter := time.Duration(cfg.Tracking.StarvedAfterSec) * time.Second

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Profiles: reg,
		Metrics:  metrics.New(),
		opts:     opts,
	}
	a.Queue = queue.NewStore(queue.Options{
		Path:         cfg.Paths.Queue,
		Profiles:     reg,
		StarvedAfter: starvedAfter,
		Logger:       logger,
	})
	a.Memory = memory.NewStore(memory.Options{Dir: cfg.Paths.MemoryDir, Logger: logger})
	a.Activity = activity.NewLog(activity.Options{
		Path:       cfg.Paths.ActivityLog,
		MaxEntries: cfg.Tracking.ActivityMaxEntries,
		Logger:     logger,
	})
	a.Preferences = preferences.NewStore(cfg.Paths.Preferences, logger)

	a.Archive, err = archive.Open(cfg.Paths.Archive, cfg.Archive.MySQLDSN, cfg.Debug)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a.Projection = dashboard.New(dashboard.Options{
		Profiles:     reg,
		Tasks:        a.Queue,
		Memory:       a.Memory,
		Activity:     a.Activity,
		StaleAfter:   staleAfter,
		StarvedAfter: starvedAfter,
		Logger:       logger,
	})

	deps := service.Deps{
		Profiles: reg,
		Queue:    a.Queue,
		Memory:   a.Memory,
		Activity: a.Activity,
		Metrics:  a.Metrics,
		Logger:   logger,
	}
	if opts.Serve {
		if err := a.wireServe(ctx, &deps); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Service = service.NewSubagentService(deps)
	return a, nil
}

func (a *App) wireServe(ctx context.Context, deps *service.Deps) error {
	cfg := a.Config

	a.pool = heartbeat.NewPool(&heartbeat.Config{
		Command:     cfg.Heartbeat.Command,
		Dir:         cfg.WorkspaceRoot,
		Workers:     cfg.Heartbeat.Workers,
		Timeout:     time.Duration(cfg.Heartbeat.TimeoutSec) * time.Second,
		MinInterval: time.Duration(cfg.Heartbeat.MinIntervalSec) * time.Second,
		Logger:      a.Logger,
		OnResult: func(res heartbeat.Result) {
			if a.Service != nil {
				a.Service.HandleHeartbeatResult(res)
			}
		},
	})
	deps.Heartbeat = a.pool

	a.socket = ws.NewServer(func(ctx context.Context) (any, error) {
		return a.Projection.GetDashboardState(ctx)
	}, a.Logger)
	fan := ws.Fanout{a.socket}

	if cfg.Redis.Addr != "" {
		client, err := cache.InitRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// push is best effort, polling stays authoritative
			a.Logger.Warnf("Redis publisher disabled: %v", err)
		} else {
			a.redis = cache.NewRedisPublisher(client, a.Logger)
			fan = append(fan, a.redis)
			a.Logger.Infof("Publishing events to Redis at %s", cfg.Redis.Addr)
		}
	}
	deps.Publisher = fan

	w, err := profiles.NewWatcher(cfg.Paths.Profiles, a.Profiles, a.Logger)
	if err != nil {
		return err
	}
	a.watcher = w

	a.jobs, err = jobs.NewScheduler(jobs.Config{
		Queue:        a.Queue,
		Sink:         a.Archive,
		State:        a.Projection,
		Metrics:      a.Metrics,
		ArchiveEvery: time.Duration(cfg.Archive.IntervalSec) * time.Second,
		Retention:    time.Duration(cfg.Archive.RetentionHours) * time.Hour,
		SweepEvery:   time.Duration(cfg.Tracking.SweepIntervalSec) * time.Second,
		Logger:       a.Logger,
	})
	return err
}

// Start launches the background workers of serve mode
func (a *App) Start(ctx context.Context) error {
	if !a.opts.Serve {
		return nil
	}
	if err := a.watcher.Start(ctx); err != nil {
		a.Logger.Warnf("Profiles hot reload disabled: %v", err)
	}
	a.watcher.OnReload(func(n int) {
		a.socket.Publish(ws.EventProfiles, map[string]int{"count": n})
	})
	a.pool.Start()
	a.socket.Start()
	a.jobs.Start()
	a.started = true
	return nil
}

// Router builds the gin engine serving the API
func (a *App) Router() *gin.Engine {
	if a.Config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if a.Config.Debug {
		r.Use(gin.Logger())
	}

	var socket http.Handler
	if a.socket != nil {
		socket = a.socket.Handler(auth.Enabled())
	}
	v1.SetupRouter(r, v1.Deps{
		Config:      a.Config,
		State:       a.Projection,
		Service:     a.Service,
		Preferences: a.Preferences,
		Queue:       a.Queue,
		Archive:     a.Archive,
		Metrics:     a.Metrics.Handler(),
		Socket:      socket,
	})
	return r
}

// Serve runs the HTTP server until ctx is cancelled
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infof("Server starting on %s", a.Config.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Logger.Info("Shutting down server")
	return srv.Shutdown(shutdownCtx)
}

// Close stops the workers and releases the stores, in reverse start order
func (a *App) Close() {
	if a.jobs != nil && a.started {
		if err := a.jobs.Stop(); err != nil {
			a.Logger.Warnf("Failed to stop scheduler: %v", err)
		}
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.socket != nil {
		_ = a.socket.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.Archive != nil {
		_ = a.Archive.Close()
	}
	if a.Preferences != nil {
		a.Preferences.Close()
	}
	if a.Activity != nil {
		a.Activity.Close()
	}
	if a.Memory != nil {
		a.Memory.Close()
	}
	if a.Queue != nil {
		a.Queue.Close()
	}
}

// loadProfiles reads the profiles file. A missing file starts with no
// profiles so the watcher can pick it up once it is written.
func loadProfiles(path string, logger *logrus.Entry) (*profiles.Registry, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("Profiles file %s not found, starting without profiles", path)
		return profiles.NewRegistry(nil), nil
	}
	reg, err := profiles.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return reg, nil
}
