// Package upstream is the client of the main API server.
//
// It is the boundary where transport outcomes become the portal's error
// vocabulary: an error envelope becomes *shared.APIError, a session that
// cannot be refreshed becomes *shared.RefreshAuthError, and a response that
// decodes but breaks the DTO rules becomes *shared.ValidationError. Anything
// else (dial failures, timeouts, unparseable bodies) stays a plain error.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"medportal/internal/platform/httpclient"
	"medportal/internal/shared"
)

// TokenSource supplies the bearer token of a browser session.
type TokenSource interface {
	// Token returns the current access token.
	Token(ctx context.Context) (string, error)
	// Refresh obtains a new access token after the main API rejected the current one.
	Refresh(ctx context.Context) (string, error)
}

// Doer is satisfied by *httpclient.Client.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Doer = (*httpclient.Client)(nil)

const maxErrorBody = 64 << 10

// Client talks to the main API.
type Client struct {
	http     Doer
	base     *url.URL
	validate *validator.Validate
	log      *slog.Logger
}

// New creates a Client for baseURL.
func New(baseURL string, hc Doer, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream: base url %q must be absolute", baseURL)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{http: hc, base: u, validate: NewValidator(), log: log.With("component", "upstream")}, nil
}

// Login exchanges credentials for a token grant.
func (c *Client) Login(ctx context.Context, in LoginRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.call(ctx, http.MethodPost, "/api/auth/login", nil, in, &out); err != nil {
		return nil, err
	}
	return validated(c.validate, &out)
}

// Signup registers a user and returns a token grant.
func (c *Client) Signup(ctx context.Context, in SignupRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.call(ctx, http.MethodPost, "/api/auth/signup", nil, in, &out); err != nil {
		return nil, err
	}
	return validated(c.validate, &out)
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	var out Tokens
	if err := c.call(ctx, http.MethodPost, "/api/auth/refresh", nil, refreshRequest{RefreshToken: refreshToken}, &out); err != nil {
		return nil, err
	}
	return validated(c.validate, &out)
}

// Logout revokes the tokens of accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.call(ctx, http.MethodPost, "/api/auth/logout", staticToken(accessToken), nil, nil)
}

// Doctor returns the profile of the signed-in doctor.
func (c *Client) Doctor(ctx context.Context, ts TokenSource) (*DoctorDto, error) {
	var out DoctorDto
	if err := c.call(ctx, http.MethodGet, "/api/doctors/me", ts, nil, &out); err != nil {
		return nil, err
	}
	return validated(c.validate, &out)
}

// Patient returns the profile of the signed-in patient.
func (c *Client) Patient(ctx context.Context, ts TokenSource) (*PatientDto, error) {
	var out PatientDto
	if err := c.call(ctx, http.MethodGet, "/api/patients/me", ts, nil, &out); err != nil {
		return nil, err
	}
	return validated(c.validate, &out)
}

// Doctors lists doctors.
func (c *Client) Doctors(ctx context.Context, ts TokenSource) ([]DoctorDto, error) {
	var out []DoctorDto
	if err := c.call(ctx, http.MethodGet, "/api/doctors", ts, nil, &out); err != nil {
		return nil, err
	}
	if err := checkAll(c.validate, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sections returns the questionnaire.
func (c *Client) Sections(ctx context.Context, ts TokenSource) ([]Section, error) {
	var out []Section
	if err := c.call(ctx, http.MethodGet, "/api/questionnaire/sections", ts, nil, &out); err != nil {
		return nil, err
	}
	if err := checkAll(c.validate, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProfile patches the profile of the signed-in user.
func (c *Client) UpdateProfile(ctx context.Context, ts TokenSource, role Role, in ProfileUpdate) (*Profile, error) {
	if err := checkOne(c.validate, &in); err != nil {
		return nil, err
	}
	path := "/api/patients/me"
	if role == RoleDoctor {
		path = "/api/doctors/me"
	}
	var out Profile
	if err := c.call(ctx, http.MethodPatch, path, ts, in, &out); err != nil {
		return nil, err
	}
	return validated(c.validate, &out)
}

// call performs one API call. A 401 on an authenticated call triggers a
// single refresh of ts and a retry with the new token.
func (c *Client) call(ctx context.Context, method, path string, ts TokenSource, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = b
	}

	token := ""
	if ts != nil {
		t, err := ts.Token(ctx)
		if err != nil {
			return err
		}
		token = t
	}

	resp, err := c.send(ctx, method, path, token, body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && ts != nil && token != "" {
		drain(resp)
		c.log.DebugContext(ctx, "access token rejected, refreshing", "path", path)
		fresh, err := ts.Refresh(ctx)
		if err != nil {
			if !shared.IsSessionExpired(err) {
				err = &shared.RefreshAuthError{Err: err}
			}
			return err
		}
		resp, err = c.send(ctx, method, path, fresh, body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return &shared.RefreshAuthError{Err: c.failure(resp, method, path)}
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.failure(resp, method, path)
	}
	defer drain(resp)
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// failure turns a non-2xx response into an error and closes the body.
func (c *Client) failure(resp *http.Response, method, path string) error {
	defer drain(resp)
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && (env.Message != "" || env.Description != "") {
		code := env.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return &shared.APIError{Code: code, Message: env.Message, Description: env.Description}
	}
	return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// staticToken is a TokenSource that never refreshes.
type staticToken string

func (t staticToken) Token(context.Context) (string, error) { return string(t), nil }

func (t staticToken) Refresh(context.Context) (string, error) {
	return "", errors.New("upstream: static token cannot be refreshed")
}
