package web

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"medportal/internal/auth"
	"medportal/internal/query"
	"medportal/internal/shared"
)

const (
	// HeaderCorrelationID tracks a request end to end.
	HeaderCorrelationID = "X-Correlation-ID"
	// HeaderRequestID is accepted from proxies that use it instead.
	HeaderRequestID = "X-Request-ID"

	themeCookie = "portal_theme"
	themeLight  = "light"
	themeDark   = "dark"
)

// Context keys of the providers.
const (
	keyCorrelation = "portal.correlation_id"
	keyTheme       = "portal.theme"
	keyCache       = "portal.cache"
	keyAuth        = "portal.auth"
	keyView        = "portal.view"
)

// authState is what the auth provider resolved for the request.
type authState struct {
	ClientID  string
	SessionID string
	Status    auth.Status
	Session   *auth.Session
}

// recoverer is the error boundary: a panic anywhere below renders the error page.
func (s *Server) recoverer() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		s.log.ErrorContext(c.Request.Context(), "panic while serving",
			"path", c.Request.URL.Path,
			"correlation_id", c.GetString(keyCorrelation),
			"err", shared.Ensure(rec),
			"stack", string(debug.Stack()),
		)
		if c.Writer.Written() {
			c.Abort()
			return
		}
		s.renderError(c)
	})
}

func normalizeCID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, "\r\n") {
		return ""
	}
	const maxLen = 128
	if len(v) > maxLen {
		v = v[:maxLen]
	}
	return v
}

// requestLogger assigns the correlation id and logs every request once it is done.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		cid := normalizeCID(c.GetHeader(HeaderCorrelationID))
		if cid == "" {
			cid = normalizeCID(c.GetHeader(HeaderRequestID))
		}
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Set(keyCorrelation, cid)
		c.Header(HeaderCorrelationID, cid)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "notfound"
		}
		level := slog.LevelInfo
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case c.Request.URL.Path == "/healthz":
			level = slog.LevelDebug
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", route,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"correlation_id", cid,
		}
		if st, ok := c.Get(keyAuth); ok {
			attrs = append(attrs, "client_id", st.(*authState).ClientID)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		s.log.Log(c.Request.Context(), level, "request", attrs...)
	}
}

// themeProvider picks the theme from the theme cookie or the default.
func (s *Server) themeProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		theme := s.opts.Theme
		if v, err := c.Cookie(themeCookie); err == nil && (v == themeLight || v == themeDark) {
			theme = v
		}
		c.Set(keyTheme, theme)
		c.Next()
	}
}

// cacheProvider exposes the process query cache to the handlers below.
func (s *Server) cacheProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(keyCache, s.deps.Cache)
		c.Next()
	}
}

// authProvider identifies the browser, resolves its session and reissues the
// cookie when the client is new or its session ended.
func (s *Server) authProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		var clientID, sessionID string
		if raw, err := c.Cookie(s.opts.CookieName); err == nil && raw != "" {
			claims, err := s.deps.Cookies.Decode(raw)
			if err != nil {
				s.log.DebugContext(c.Request.Context(), "dropping session cookie", "err", err)
			} else {
				clientID, sessionID = claims.ClientID, claims.SessionID
			}
		}
		reissue := clientID == ""
		if reissue {
			clientID = auth.NewClientID()
		}

		ctx := shared.WithClientID(c.Request.Context(), clientID)
		c.Request = c.Request.WithContext(ctx)

		status, sess := s.deps.Sessions.Resolve(ctx, sessionID)
		if status == auth.StatusUnauthenticated && sessionID != "" {
			sessionID = ""
			reissue = true
		}
		if reissue {
			s.writeCookie(c, clientID, sessionID)
		}
		c.Set(keyAuth, &authState{ClientID: clientID, SessionID: sessionID, Status: status, Session: sess})
		c.Next()
	}
}

// layoutProvider prepares the shared layout of the page.
func (s *Server) layoutProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := stateOf(c)
		v := &view{
			Theme:    c.GetString(keyTheme),
			Path:     c.Request.URL.Path,
			Position: string(s.deps.Toasts.Position()),
			Status:   st.Status.String(),
			User:     st.Session,
			clientID: st.ClientID,
		}
		if st.Status == auth.StatusAuthenticated && st.Session != nil {
			v.Home = homeFor(st.Session)
		}
		c.Set(keyView, v)
		c.Next()
	}
}

// limit throttles form posts per browser client.
func (s *Server) limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := stateOf(c)
		if !s.limiter.Allow(st.ClientID) {
			s.deps.Toasts.Error(c.Request.Context(), MessageTooFast)
			c.Redirect(http.StatusSeeOther, c.Request.URL.Path)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) writeCookie(c *gin.Context, clientID, sessionID string) {
	value, err := s.deps.Cookies.Encode(clientID, sessionID)
	if err != nil {
		s.log.ErrorContext(c.Request.Context(), "encode session cookie", "err", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, value, int(s.deps.Cookies.TTL().Seconds()), "/", "", s.opts.SecureCookies, true)
}

func stateOf(c *gin.Context) *authState {
	if v, ok := c.Get(keyAuth); ok {
		return v.(*authState)
	}
	return &authState{Status: auth.StatusUnauthenticated}
}

func viewOf(c *gin.Context) *view {
	if v, ok := c.Get(keyView); ok {
		return v.(*view)
	}
	return &view{Theme: c.GetString(keyTheme), Path: c.Request.URL.Path}
}

func cacheOf(c *gin.Context) *query.Cache {
	return c.MustGet(keyCache).(*query.Cache)
}
