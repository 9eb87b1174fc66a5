package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"medportal/internal/adapter/scheduler"
	"medportal/internal/adapter/web"
	"medportal/internal/auth"
	"medportal/internal/config"
	"medportal/internal/dispatch"
	"medportal/internal/navigate"
	"medportal/internal/notify"
	"medportal/internal/platform/httpclient"
	"medportal/internal/platform/logger"
	"medportal/internal/query"
	"medportal/internal/storage/sessions"
	"medportal/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "medportal",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the portal and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()
	a.log.Info("starting", "env", a.cfg.Env, "addr", a.cfg.HTTP.Addr, "session_store", a.cfg.Session.Store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sessions.Open(ctx, sessions.Config{
		Backend:     sessions.Backend(a.cfg.Session.Store),
		SQLitePath:  a.cfg.Session.SQLitePath,
		PostgresDSN: a.cfg.Session.PostgresDSN,
		RedisURL:    a.cfg.Session.RedisURL,
	}, a.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.log.Warn("close session store", "err", err)
		}
	}()

	client := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithTimeout(a.cfg.API.Timeout),
		httpclient.WithRetries(a.cfg.API.Retries, 200*time.Millisecond),
	)
	api, err := upstream.New(a.cfg.API.BaseURL, client, a.log)
	if err != nil {
		return err
	}

	manager := auth.NewManager(store.Store, api, auth.Options{SessionTTL: a.cfg.Session.TTL, Logger: a.log})
	cookies, err := auth.NewCookieCodec(a.cfg.Session.Secret, a.cfg.Session.TTL)
	if err != nil {
		return err
	}

	board := navigate.NewBoard()
	toasts := notify.New(notify.Options{
		Position:     notify.Position(a.cfg.Toast.Position),
		ReverseOrder: a.cfg.Toast.ReverseOrder,
		TTL:          a.cfg.Toast.TTL,
	})
	dispatcher := dispatch.New(board, toasts, a.log)
	cache := query.New(query.Options{
		StaleTime:    a.cfg.Query.StaleTime,
		GCTime:       a.cfg.Query.GCTime,
		RenderBudget: a.cfg.Query.RenderBudget,
		QuerySink:    dispatcher,
		MutationSink: dispatcher,
		Logger:       a.log,
	})

	sched := scheduler.NewWithContext(ctx, scheduler.Config{Logger: a.log})
	if err := scheduler.RegisterHousekeeping(sched, scheduler.Housekeeping{
		Sessions:   manager,
		Cache:      cache,
		Toasts:     toasts,
		Navigation: board,
		Logger:     a.log,
	}); err != nil {
		return err
	}

	if !a.cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv, err := web.New(web.Deps{
		Sessions:   manager,
		API:        api,
		Cache:      cache,
		Toasts:     toasts,
		Navigation: board,
		Cookies:    cookies,
		Health:     store.Ping,
		Logger:     a.log,
	}, web.Options{
		CookieName:    a.cfg.Session.Cookie,
		SecureCookies: !a.cfg.IsDev(),
		Theme:         a.cfg.UI.Theme,
		EnforceRoles:  a.cfg.Routes.EnforceRoles,
		FormInterval:  a.cfg.HTTP.FormInterval,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	sched.Start()
	a.log.Info("listening", "addr", a.cfg.HTTP.Addr)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			a.log.Error("server", "err", err)
			stop()
			_ = sched.StopContext(context.Background())
			return err
		}
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = httpSrv.Shutdown(shutdownCtx)
	if serr := sched.StopContext(shutdownCtx); serr != nil {
		a.log.Warn("stop scheduler", "err", serr)
	}
	return err
}
