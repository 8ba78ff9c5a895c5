package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/api"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/config"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/credstore"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/database"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/directory"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/jobs"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/lineage"
	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/metrics"
)

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts)).With("service", "sen-alerte-auth")
}

// app holds everything main wires together
type app struct {
	router  http.Handler
	store   auth.Store
	metrics *metrics.Metrics
	worker  *jobs.Worker
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildApp opens the stores and assembles the HTTP surface.
// Without DATABASE_URL (development only) everything lives in memory.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}

	var dir auth.PrincipalDirectory
	if cfg.DatabaseURL != "" {
		db, err := database.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		pg := credstore.NewPostgres(db)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				a.close()
				return nil, err
			}
		}
		a.store, dir = pg, directory.NewPostgres(db)
		log.Info("credential store ready", "driver", cfg.DBDriver)
	} else {
		mem := directory.NewMemory()
		if err := seedDevAdmin(mem, cfg); err != nil {
			return nil, err
		}
		a.store, dir = credstore.NewMemory(), mem
		log.Warn("no DATABASE_URL, using in-memory stores")
	}

	tokens := auth.NewAuthService([]byte(cfg.JWTSecret),
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithIssuer(cfg.JWTIssuer),
	)
	issuer := auth.NewIssuer(tokens, a.store,
		auth.WithRefreshTTL(cfg.RefreshTokenTTL),
		auth.WithRecorder(a.metrics),
		auth.WithLogger(log),
	)

	refreshOpts := []auth.RefresherOption{auth.WithRefreshLogger(log)}
	if cfg.RedisAddr != "" {
		if cfg.GraceWindow > 0 {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			a.closers = append(a.closers, rdb.Close)
			refreshOpts = append(refreshOpts, auth.WithGraceCache(lineage.New(rdb, cfg.GraceWindow)))
			log.Info("rotation grace window enabled", "window", cfg.GraceWindow)
		}

		w, err := newPurgeWorker(cfg, a.store, a.metrics, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.worker = w
	}
	refresher := auth.NewRefresher(issuer, dir, refreshOpts...)

	limiter := auth.NewRateLimiter(time.Minute, cfg.LoginWindow, 10000)
	a.closers = append(a.closers, func() error { limiter.Stop(); return nil })

	h := api.NewHandler(api.Deps{
		Tokens:       tokens,
		Issuer:       issuer,
		Refresher:    refresher,
		Directory:    dir,
		Store:        a.store,
		Audit:        auth.NewSlogAuditLogger(log),
		LoginLimiter: limiter,
		Logger:       log,
	})
	a.router = api.NewRouter(h, api.RouterConfig{
		Logger:           log,
		Metrics:          a.metrics,
		IsDev:            cfg.IsDevelopment(),
		CORSOrigins:      cfg.Origins(),
		BodyLimit:        cfg.BodyLimit(),
		RefreshLimit:     cfg.RefreshRateLimit,
		RefreshWindow:    cfg.RefreshRateWin,
		LoginMaxAttempts: cfg.LoginMaxAttempts,
		LoginWindow:      cfg.LoginWindow,
	})
	return a, nil
}

func newPurgeWorker(cfg *config.Config, store auth.Store, m *metrics.Metrics, log *slog.Logger) (*jobs.Worker, error) {
	task, err := jobs.NewPurgeTask(cfg.PurgeRetention)
	if err != nil {
		return nil, err
	}
	purge := jobs.NewPurgeJob(store, log, m)
	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		Logger:   log,
		Handlers: []jobs.TaskHandler{{Type: jobs.TaskPurgeCredentials, Handler: purge.Handle}},
		Cron:     []jobs.CronRegistration{{Spec: cfg.PurgeSchedule, Task: task}},
	})
}

// seedDevAdmin puts DEV_ADMIN_EMAIL into the in-memory directory so a
// development server can be logged into
func seedDevAdmin(dir *directory.Memory, cfg *config.Config) error {
	if cfg.DevAdminEmail == "" || cfg.DevAdminPassword == "" {
		return nil
	}
	hash, err := auth.NewAuthService(nil).HashPassword(cfg.DevAdminPassword)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	dir.Put(auth.Principal{
		ID:           uuid.New(),
		Role:         auth.RoleAdministrator,
		DisplayName:  "Development Admin",
		Email:        cfg.DevAdminEmail,
		Status:       auth.StatusActive,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.router,
		TLSConfig:         cfg.TLS(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mode := "production"
		if cfg.IsDevelopment() {
			mode = "development"
		}
		log.Info("server starting", "mode", mode, "addr", srv.Addr, "tls", cfg.TLSEnabled)

		var err error
		if cfg.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			// nosemgrep: go.lang.security.audit.net.use-tls.use-tls -- TLS termination handled by reverse proxy in production
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(gctx) })
	}
	return g.Wait()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}
	log := newLogger(cfg, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
