// Package web is the browser-facing side of the portal: a gin engine that
// resolves every page through the route tree, gates protected views with the
// route guard and renders server-side templates. Reads go through the process
// query cache, form posts through its mutations; failures reach the user only
// as toasts or replace-redirects performed by the error dispatcher.
package web

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"medportal/internal/auth"
	"medportal/internal/notify"
	"medportal/internal/query"
	"medportal/internal/route"
	"medportal/internal/upstream"
)

// Sessions is the part of auth.Manager the web layer uses.
type Sessions interface {
	Login(ctx context.Context, clientID string, in upstream.LoginRequest) (*auth.Session, error)
	Signup(ctx context.Context, clientID string, in upstream.SignupRequest) (*auth.Session, error)
	Logout(ctx context.Context, sessionID string) error
	Resolve(ctx context.Context, sessionID string) (auth.Status, *auth.Session)
	TokenSource(sessionID string) upstream.TokenSource
	Provider(sessionID string) auth.Provider
}

// API is the part of the main API client the pages read and write.
type API interface {
	Doctor(ctx context.Context, ts upstream.TokenSource) (*upstream.DoctorDto, error)
	Patient(ctx context.Context, ts upstream.TokenSource) (*upstream.PatientDto, error)
	Doctors(ctx context.Context, ts upstream.TokenSource) ([]upstream.DoctorDto, error)
	Sections(ctx context.Context, ts upstream.TokenSource) ([]upstream.Section, error)
	UpdateProfile(ctx context.Context, ts upstream.TokenSource, role upstream.Role, in upstream.ProfileUpdate) (*upstream.Profile, error)
}

// Toasts is the notification surface.
type Toasts interface {
	Position() notify.Position
	Error(ctx context.Context, text string)
	Success(ctx context.Context, text string)
	Take(clientID string) []notify.Toast
}

// Navigation holds pending replace-redirects per browser client.
type Navigation interface {
	Take(clientID string) (string, bool)
}

// Deps are the collaborators of Server.
type Deps struct {
	Sessions   Sessions
	API        API
	Cache      *query.Cache
	Toasts     Toasts
	Navigation Navigation
	Cookies    *auth.CookieCodec
	// Health reports readiness of the session store for /healthz. Nil means always ready.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

// Options configures Server.
type Options struct {
	// CookieName of the session cookie, default "portal_session".
	CookieName string
	// SecureCookies marks cookies Secure.
	SecureCookies bool
	// Theme is the default theme, "light" or "dark".
	Theme string
	// EnforceRoles turns on the role guard of dashboard children.
	EnforceRoles bool
	// FormInterval is the minimum gap between auth form posts of a client.
	FormInterval time.Duration
	// SettleWait is how long a guarded request waits for a running token
	// refresh before showing the loading view, default 2s. Negative disables it.
	SettleWait time.Duration
	// Tree overrides the route tree, default route.DefaultTree.
	Tree *route.Tree
}

// Server serves the portal.
type Server struct {
	deps    Deps
	opts    Options
	log     *slog.Logger
	tree    *route.Tree
	guard   route.Guard
	tmpl    *template.Template
	limiter *RateLimiter
	engine  *gin.Engine
}

var registerOnce sync.Once

// New builds the engine and mounts the providers and routes.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Sessions == nil || deps.API == nil || deps.Cache == nil || deps.Toasts == nil || deps.Navigation == nil || deps.Cookies == nil {
		return nil, errors.New("web: missing dependency")
	}
	if opts.CookieName == "" {
		opts.CookieName = "portal_session"
	}
	if opts.SettleWait == 0 {
		opts.SettleWait = 2 * time.Second
	}
	if opts.Theme != themeDark {
		opts.Theme = themeLight
	}
	if opts.Tree == nil {
		opts.Tree = route.DefaultTree()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	var regErr error
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			regErr = upstream.RegisterValidations(v)
		}
	})
	if regErr != nil {
		return nil, regErr
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	s := &Server{
		deps:    deps,
		opts:    opts,
		log:     log.With("component", "web"),
		tree:    opts.Tree,
		guard:   route.Guard{EnforceRoles: opts.EnforceRoles},
		tmpl:    tmpl,
		limiter: NewRateLimiter(opts.FormInterval),
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the http.Handler of the portal.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.HandleMethodNotAllowed = false
	r.SetHTMLTemplate(s.tmpl)

	r.Use(s.recoverer(), s.requestLogger())
	r.GET("/healthz", s.healthz)

	providers := []gin.HandlerFunc{s.themeProvider(), s.cacheProvider(), s.authProvider(), s.layoutProvider()}
	pages := r.Group("/", providers...)
	for _, p := range s.tree.Paths() {
		pages.GET(p, s.outlet)
	}
	pages.POST(route.PathLogin, s.limit(), s.postLogin)
	pages.POST(route.PathSignup, s.limit(), s.postSignup)
	pages.POST("/auth/logout", s.postLogout)
	pages.POST(route.PathPatient+"/profile", s.postProfile(upstream.RolePatient))
	pages.POST(route.PathDoctor+"/profile", s.postProfile(upstream.RoleDoctor))
	pages.POST("/theme", s.postTheme)

	r.NoRoute(append(providers, s.outlet)...)
	return r
}

func (s *Server) healthz(c *gin.Context) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			s.log.WarnContext(ctx, "health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "cache": s.cacheStats()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cache": s.cacheStats()})
}

// cacheStats counts query entries and tracked mutations by status.
func (s *Server) cacheStats() gin.H {
	var pending, failed int
	muts := s.deps.Cache.Mutations()
	for _, m := range muts {
		switch m.Status {
		case query.StatusPending:
			pending++
		case query.StatusError:
			failed++
		}
	}
	return gin.H{
		"queries":           s.deps.Cache.Len(),
		"mutations":         len(muts),
		"pending_mutations": pending,
		"failed_mutations":  failed,
	}
}
