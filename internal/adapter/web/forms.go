package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"medportal/internal/auth"
	"medportal/internal/query"
	"medportal/internal/route"
	"medportal/internal/shared"
	"medportal/internal/upstream"
)

// User-visible messages of the form handlers.
const (
	MessageTooFast      = "Too many attempts, please wait a moment"
	MessageProfileSaved = "Profile updated"
)

// formPage is the data of the login and signup pages.
type formPage struct {
	Signup bool
}

// Roles offered on signup.
func (formPage) Roles() []upstream.Role {
	return []upstream.Role{upstream.RolePatient, upstream.RoleDoctor}
}

// bindError turns a form binding failure into a validation error, so that
// the dispatcher reports it like any other invalid input.
func bindError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return &shared.ValidationError{Err: err}
	}
	fields := make(map[string]string, len(ves))
	for _, fe := range ves {
		fields[fe.Field()] = fe.Tag()
	}
	return &shared.ValidationError{Fields: fields, Err: err}
}

func sessionKey(sessionID string, parts ...string) string {
	return query.Key(append([]string{"session", sessionID}, parts...)...)
}

func (s *Server) postLogin(c *gin.Context) {
	st := stateOf(c)
	var in upstream.LoginRequest
	bindErr := c.ShouldBind(&in)
	res := cacheOf(c).Mutate(c.Request.Context(), query.Key("client", st.ClientID, "login"), func(ctx context.Context) (any, error) {
		if bindErr != nil {
			return nil, bindError(bindErr)
		}
		sess, err := s.deps.Sessions.Login(ctx, st.ClientID, in)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
	s.afterSignIn(c, st, res, route.PathLogin)
}

func (s *Server) postSignup(c *gin.Context) {
	st := stateOf(c)
	var in upstream.SignupRequest
	bindErr := c.ShouldBind(&in)
	res := cacheOf(c).Mutate(c.Request.Context(), query.Key("client", st.ClientID, "signup"), func(ctx context.Context) (any, error) {
		if bindErr != nil {
			return nil, bindError(bindErr)
		}
		sess, err := s.deps.Sessions.Signup(ctx, st.ClientID, in)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
	s.afterSignIn(c, st, res, route.PathSignup)
}

// afterSignIn stores the new session in the cookie and sends the user to
// their dashboard. A failed sign-in goes back to the form; the dispatcher has
// already queued the toast.
func (s *Server) afterSignIn(c *gin.Context, st *authState, res query.Result, form string) {
	sess, ok := query.Value[*auth.Session](res)
	if !ok {
		c.Redirect(http.StatusSeeOther, form)
		return
	}
	if st.SessionID != "" && st.SessionID != sess.ID {
		cacheOf(c).Remove(sessionKey(st.SessionID, ""))
	}
	s.writeCookie(c, st.ClientID, sess.ID)
	c.Redirect(http.StatusSeeOther, route.HomeFor(sess.Role))
}

func (s *Server) postLogout(c *gin.Context) {
	st := stateOf(c)
	if st.SessionID != "" {
		cache := cacheOf(c)
		cache.Mutate(c.Request.Context(), sessionKey(st.SessionID, "logout"), func(ctx context.Context) (any, error) {
			return nil, s.deps.Sessions.Logout(ctx, st.SessionID)
		})
		cache.Remove(sessionKey(st.SessionID, ""))
	}
	s.writeCookie(c, st.ClientID, "")
	c.Redirect(http.StatusSeeOther, route.PathLogin)
}

// postProfile updates the profile of role. The dashboard of role is guarded
// the same way its page is.
func (s *Server) postProfile(role upstream.Role) gin.HandlerFunc {
	page := route.HomeFor(role)
	return func(c *gin.Context) {
		st := stateOf(c)
		var current upstream.Role
		if st.Session != nil {
			current = st.Session.Role
		}
		switch d := s.guard.Check(s.tree.Resolve(page), st.Status, current); d.Outcome {
		case route.OutcomeRedirect:
			c.Redirect(http.StatusSeeOther, d.Location)
			return
		case route.OutcomeLoading:
			c.Redirect(http.StatusSeeOther, page)
			return
		}

		var in upstream.ProfileUpdate
		bindErr := c.ShouldBind(&in)
		if in.Email != nil && strings.TrimSpace(*in.Email) == "" {
			in.Email = nil
		}
		ts := s.deps.Sessions.TokenSource(st.SessionID)
		cache := cacheOf(c)
		res := cache.Mutate(c.Request.Context(), sessionKey(st.SessionID, "profile", "update"), func(ctx context.Context) (any, error) {
			if bindErr != nil {
				return nil, bindError(bindErr)
			}
			p, err := s.deps.API.UpdateProfile(ctx, ts, role, in)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
		if res.Resolved() {
			cache.Invalidate(sessionKey(st.SessionID, ""))
			s.deps.Toasts.Success(c.Request.Context(), MessageProfileSaved)
		}
		c.Redirect(http.StatusSeeOther, page)
	}
}

// postTheme switches the theme and goes back to the page it was posted from.
func (s *Server) postTheme(c *gin.Context) {
	theme := c.PostForm("theme")
	if theme != themeLight && theme != themeDark {
		theme = themeDark
		if c.GetString(keyTheme) == themeDark {
			theme = themeLight
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(themeCookie, theme, 365*24*60*60, "/", "", s.opts.SecureCookies, false)
	c.Redirect(http.StatusSeeOther, backTo(c.PostForm("next")))
}

// backTo accepts only local absolute paths.
func backTo(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return route.PathRoot
	}
	return next
}
