package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"medportal/internal/auth"
	"medportal/internal/query"
	"medportal/internal/route"
	"medportal/internal/upstream"
)

// patientPage is the data of the patient dashboard.
type patientPage struct {
	Profile  panel[*upstream.PatientDto]
	Doctors  panel[[]upstream.DoctorDto]
	Sections panel[[]upstream.Section]
}

// doctorPage is the data of the doctor dashboard.
type doctorPage struct {
	Profile panel[*upstream.DoctorDto]
	Doctors panel[[]upstream.DoctorDto]
}

// outlet renders the view of the request path. The guard runs on every request.
func (s *Server) outlet(c *gin.Context) {
	st := stateOf(c)
	v := viewOf(c)
	m := s.tree.Resolve(c.Request.URL.Path)
	// Unknown paths always render the not-found view.
	if !m.NotFound() && s.follow(c, st.ClientID) {
		return
	}

	var role upstream.Role
	if st.Session != nil {
		role = st.Session.Role
	}
	d := s.guard.Check(m, st.Status, role)
	switch d.Outcome {
	case route.OutcomeRedirect:
		c.Redirect(http.StatusSeeOther, d.Location)
		return
	case route.OutcomeLoading:
		if s.awaitSession(c.Request.Context(), st.SessionID) {
			c.Redirect(http.StatusSeeOther, c.Request.URL.RequestURI())
			return
		}
		s.renderLoading(c, v)
		return
	}

	if m.Target() == nil {
		s.render(c, http.StatusNotFound, "notfound", nil, v)
		return
	}

	page := m.Page()
	if err := s.load(c, page, v); err != nil {
		panic(err)
	}
	// A failed query may have sent the client elsewhere.
	if !m.NotFound() && s.follow(c, st.ClientID) {
		return
	}

	code := http.StatusOK
	if m.NotFound() {
		code = http.StatusNotFound
	}
	if v.Refresh > 0 {
		c.Header("Cache-Control", "no-store")
	}
	s.render(c, code, page, m.Layouts(), v)
}

// follow performs a pending replace-navigation of the client, if any.
func (s *Server) follow(c *gin.Context, clientID string) bool {
	target, ok := s.deps.Navigation.Take(clientID)
	if !ok || target == c.Request.URL.Path {
		return false
	}
	c.Redirect(http.StatusSeeOther, target)
	return true
}

// load runs the queries of page concurrently and stores their panels on v.
// A query still running after the render budget leaves its panel pending and
// makes the page reload.
func (s *Server) load(c *gin.Context, page string, v *view) error {
	st := stateOf(c)
	ctx := c.Request.Context()
	cache := cacheOf(c)
	ts := s.deps.Sessions.TokenSource(st.SessionID)
	key := func(parts ...string) string {
		return query.Key(append([]string{"session", st.SessionID}, parts...)...)
	}

	var g errgroup.Group
	run := func(dst *query.Result, k string, fn query.Fetcher) {
		g.Go(func() error {
			*dst = cache.Query(ctx, k, fn)
			return nil
		})
	}

	switch page {
	case "patient":
		var profile, doctors, sections query.Result
		run(&profile, key("patient", "me"), fetcher(ts, s.deps.API.Patient))
		run(&doctors, key("doctors"), fetcher(ts, s.deps.API.Doctors))
		run(&sections, key("questionnaire", "sections"), fetcher(ts, s.deps.API.Sections))
		if err := g.Wait(); err != nil {
			return err
		}
		p := patientPage{
			Profile:  panelOf[*upstream.PatientDto](profile),
			Doctors:  panelOf[[]upstream.DoctorDto](doctors),
			Sections: panelOf[[]upstream.Section](sections),
		}
		if p.Profile.Pending || p.Doctors.Pending || p.Sections.Pending {
			v.Refresh = refreshSeconds
		}
		v.Page = p
	case "doctor":
		var profile, doctors query.Result
		run(&profile, key("doctor", "me"), fetcher(ts, s.deps.API.Doctor))
		run(&doctors, key("doctors"), fetcher(ts, s.deps.API.Doctors))
		if err := g.Wait(); err != nil {
			return err
		}
		p := doctorPage{
			Profile: panelOf[*upstream.DoctorDto](profile),
			Doctors: panelOf[[]upstream.DoctorDto](doctors),
		}
		if p.Profile.Pending || p.Doctors.Pending {
			v.Refresh = refreshSeconds
		}
		v.Page = p
	case "login", "signup":
		v.Page = formPage{Signup: page == "signup"}
	}
	return nil
}

// awaitSession waits for the status of sessionID to leave StatusLoading. It
// reports false when SettleWait passes first.
func (s *Server) awaitSession(ctx context.Context, sessionID string) bool {
	if sessionID == "" || s.opts.SettleWait < 0 {
		return false
	}
	p := s.deps.Sessions.Provider(sessionID)
	ch, cancel := p.Subscribe()
	defer cancel()
	if p.Status() != auth.StatusLoading {
		return true
	}
	timer := time.NewTimer(s.opts.SettleWait)
	defer timer.Stop()
	for {
		select {
		case st := <-ch:
			if st != auth.StatusLoading {
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// fetcher adapts an API read to a query.Fetcher bound to the session tokens.
func fetcher[T any](ts upstream.TokenSource, fn func(context.Context, upstream.TokenSource) (T, error)) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		v, err := fn(ctx, ts)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}
