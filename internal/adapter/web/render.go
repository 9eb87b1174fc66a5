package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"medportal/internal/auth"
	"medportal/internal/notify"
	"medportal/internal/query"
	"medportal/internal/route"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// refreshSeconds is the meta-refresh delay of pending views.
const refreshSeconds = 1

// view is the data of the shared layout. Page carries the page-specific part.
type view struct {
	Title    string
	Theme    string
	Path     string
	Position string
	Toasts   []notify.Toast
	// Refresh reloads the page after this many seconds when positive.
	Refresh int
	Status  string
	User    *auth.Session
	Home    string
	Page    any
	Content template.HTML

	clientID string
}

// panel is one query result as seen by a template.
type panel[T any] struct {
	Data      T
	Ready     bool
	Pending   bool
	Failed    bool
	Stale     bool
	UpdatedAt time.Time
}

func panelOf[T any](r query.Result) panel[T] {
	p := panel[T]{
		Pending:   r.Status == query.StatusPending,
		Failed:    r.Status == query.StatusError,
		Stale:     r.Stale,
		UpdatedAt: r.UpdatedAt,
	}
	p.Data, p.Ready = query.Value[T](r)
	return p
}

var pageTitles = map[string]string{
	"index":          "Medical portal",
	"login":          "Sign in",
	"signup":         "Create account",
	"dashboard_home": "Dashboard",
	"patient":        "Patient dashboard",
	"doctor":         "Doctor dashboard",
	"notfound":       "Page not found",
	"loading":        "Loading",
	"error":          "Something went wrong",
}

func parseTemplates() (*template.Template, error) {
	t, err := template.New("portal").Funcs(template.FuncMap{
		"rating": func(v *float64) string {
			if v == nil {
				return "n/a"
			}
			return strconv.FormatFloat(*v, 'f', 1, 64)
		},
		"count": func(v *int) string {
			if v == nil {
				return "n/a"
			}
			return strconv.Itoa(*v)
		},
		"dict": func(kv ...any) (map[string]any, error) {
			if len(kv)%2 != 0 {
				return nil, errors.New("dict: odd number of arguments")
			}
			m := make(map[string]any, len(kv)/2)
			for i := 0; i < len(kv); i += 2 {
				k, ok := kv[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
				}
				m[k] = kv[i+1]
			}
			return m, nil
		},
		"clock": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("15:04:05")
		},
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("web: parse templates: %w", err)
	}
	return t, nil
}

// render executes page, wraps it in layouts (innermost first) and finally in
// the shared layout. A template failure panics into the error boundary.
func (s *Server) render(c *gin.Context, code int, page string, layouts []string, v *view) {
	if v.Title == "" {
		v.Title = pageTitles[page]
	}
	v.Toasts = s.deps.Toasts.Take(v.clientID)

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, page, v); err != nil {
		panic(fmt.Errorf("render page %s: %w", page, err))
	}
	for _, l := range layouts {
		v.Content = template.HTML(buf.String())
		buf.Reset()
		if err := s.tmpl.ExecuteTemplate(&buf, l, v); err != nil {
			panic(fmt.Errorf("render layout %s: %w", l, err))
		}
	}
	v.Content = template.HTML(buf.String())
	c.HTML(code, "layout", v)
}

// renderLoading shows the interstitial that reloads until the status settles.
func (s *Server) renderLoading(c *gin.Context, v *view) {
	v.Refresh = refreshSeconds
	c.Header("Cache-Control", "no-store")
	s.render(c, http.StatusOK, "loading", nil, v)
}

// renderError is the fallback page of the error boundary. It never uses layouts
// or page data so that it renders whatever broke.
func (s *Server) renderError(c *gin.Context) {
	v := viewOf(c)
	v.Title = pageTitles["error"]
	v.Refresh = 0
	v.Page = nil
	v.Content = ""

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "error", v); err != nil {
		c.String(http.StatusInternalServerError, "Something went wrong")
		c.Abort()
		return
	}
	v.Content = template.HTML(buf.String())
	c.HTML(http.StatusInternalServerError, "layout", v)
	c.Abort()
}

func homeFor(sess *auth.Session) string {
	return route.HomeFor(sess.Role)
}
