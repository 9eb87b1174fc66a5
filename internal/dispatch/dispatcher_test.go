package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medportal/internal/navigate"
	"medportal/internal/notify"
	"medportal/internal/query"
	"medportal/internal/shared"
)

func TestDecide(t *testing.T) {
	apiErr := &shared.APIError{Code: 409, Message: "Email taken", Description: "User with this email already exists"}
	refresh := &shared.RefreshAuthError{Err: apiErr}
	validation := &shared.ValidationError{Fields: map[string]string{"email": "nullemail"}}

	tests := []struct {
		name string
		kind query.Kind
		err  error
		want Effect
	}{
		{"query session expired", query.KindQuery, refresh,
			Effect{Action: ActionNavigate, Path: LoginPath, Category: shared.CategorySessionExpired}},
		{"mutation session expired", query.KindMutation, fmt.Errorf("load: %w", refresh),
			Effect{Action: ActionNavigate, Path: LoginPath, Category: shared.CategorySessionExpired}},
		{"query api error shows description", query.KindQuery, apiErr,
			Effect{Action: ActionToast, Text: "User with this email already exists", Category: shared.CategoryAPI}},
		{"mutation api error shows message", query.KindMutation, apiErr,
			Effect{Action: ActionToast, Text: "Email taken", Category: shared.CategoryAPI}},
		{"query validation", query.KindQuery, validation,
			Effect{Action: ActionToast, Text: MessageServerError, Category: shared.CategoryValidation}},
		{"mutation validation", query.KindMutation, validation,
			Effect{Action: ActionToast, Text: MessageCheckInputs, Category: shared.CategoryValidation}},
		{"query connectivity", query.KindQuery, errors.New("dial tcp: connection refused"),
			Effect{Action: ActionToast, Text: MessageOffline, Category: shared.CategoryConnectivity}},
		{"mutation connectivity", query.KindMutation, context.DeadlineExceeded,
			Effect{Action: ActionToast, Text: MessageOffline, Category: shared.CategoryConnectivity}},
		{"nil is connectivity", query.KindQuery, nil,
			Effect{Action: ActionToast, Text: MessageOffline, Category: shared.CategoryConnectivity}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.kind, tt.err))
		})
	}
}

func newDispatcher(buf *bytes.Buffer) (*Dispatcher, *navigate.Board, *notify.Surface) {
	board := navigate.NewBoard()
	surface := notify.New(notify.Options{TTL: time.Minute})
	log := slog.New(slog.NewJSONHandler(buf, nil))
	return New(board, surface, log), board, surface
}

func TestDispatch_SessionExpiredNavigatesWithoutToast(t *testing.T) {
	var buf bytes.Buffer
	d, board, surface := newDispatcher(&buf)
	ctx := shared.WithClientID(context.Background(), "c1")

	eff := d.Dispatch(ctx, query.KindQuery, "s1/profile", &shared.RefreshAuthError{Err: errors.New("refresh rejected")})
	assert.Equal(t, ActionNavigate, eff.Action)

	path, ok := board.Take("c1")
	require.True(t, ok)
	assert.Equal(t, "/auth/login", path)
	assert.Empty(t, surface.Take("c1"))
}

func TestDispatch_ToastAndLog(t *testing.T) {
	var buf bytes.Buffer
	d, board, surface := newDispatcher(&buf)
	ctx := shared.WithClientID(context.Background(), "c1")

	err := fmt.Errorf("update profile: %w", &shared.APIError{Code: 400, Message: "Bad email", Description: "d"})
	d.Dispatch(ctx, query.KindMutation, "profile", err)

	toasts := surface.Take("c1")
	require.Len(t, toasts, 1)
	assert.Equal(t, notify.KindError, toasts[0].Kind)
	assert.Equal(t, "Bad email", toasts[0].Text)
	_, navigated := board.Take("c1")
	assert.False(t, navigated)

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"category":"ApiError"`)
	assert.Contains(t, out, `"kind":"mutation"`)
	assert.Contains(t, out, "update profile: Bad email")
}

func TestDispatch_NonErrorValueIsNormalized(t *testing.T) {
	var buf bytes.Buffer
	d, _, surface := newDispatcher(&buf)
	ctx := shared.WithClientID(context.Background(), "c1")

	eff := d.Dispatch(ctx, query.KindQuery, "k", shared.Ensure("plain string"))
	assert.Equal(t, MessageOffline, eff.Text)
	assert.Len(t, surface.Take("c1"), 1)
}

// A query fails because the main API is unreachable: exactly one offline toast.
func TestScenario_OfflineQuery(t *testing.T) {
	var buf bytes.Buffer
	d, _, surface := newDispatcher(&buf)
	c := query.New(query.Options{QuerySink: d, MutationSink: d, RenderBudget: time.Second})
	ctx := shared.WithClientID(context.Background(), "c1")

	r := c.Query(ctx, "doctors", func(context.Context) (any, error) {
		return nil, errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	})
	assert.Equal(t, query.StatusError, r.Status)

	toasts := surface.Take("c1")
	require.Len(t, toasts, 1)
	assert.Equal(t, MessageOffline, toasts[0].Text)
}

// A mutation is rejected by the main API: the toast shows the API message.
func TestScenario_RejectedMutation(t *testing.T) {
	var buf bytes.Buffer
	d, board, surface := newDispatcher(&buf)
	c := query.New(query.Options{QuerySink: d, MutationSink: d})
	ctx := shared.WithClientID(context.Background(), "c1")

	r := c.Mutate(ctx, "signup", func(context.Context) (any, error) {
		return nil, &shared.APIError{Code: 409, Message: "Email already registered", Description: "conflict"}
	})
	assert.Equal(t, query.StatusError, r.Status)

	toasts := surface.Take("c1")
	require.Len(t, toasts, 1)
	assert.Equal(t, "Email already registered", toasts[0].Text)
	_, ok := board.Take("c1")
	assert.False(t, ok)
}

func TestDecide_APIErrorWithOneFieldStillToasts(t *testing.T) {
	messageOnly := &shared.APIError{Code: 400, Message: "Bad request"}
	descriptionOnly := &shared.APIError{Code: 400, Description: "Name is too long"}
	neither := &shared.APIError{Code: 500}

	assert.Equal(t, "Bad request", Decide(query.KindQuery, messageOnly).Text)
	assert.Equal(t, "Bad request", Decide(query.KindMutation, messageOnly).Text)
	assert.Equal(t, "Name is too long", Decide(query.KindQuery, descriptionOnly).Text)
	assert.Equal(t, "Name is too long", Decide(query.KindMutation, descriptionOnly).Text)
	assert.Equal(t, MessageServerError, Decide(query.KindQuery, neither).Text)
	assert.Equal(t, MessageServerError, Decide(query.KindMutation, neither).Text)
}

func TestDispatch_MessageOnlyQueryErrorShowsOneToast(t *testing.T) {
	var buf bytes.Buffer
	d, _, surface := newDispatcher(&buf)
	ctx := shared.WithClientID(context.Background(), "c1")

	eff := d.Dispatch(ctx, query.KindQuery, "k", &shared.APIError{Code: 400, Message: "Bad request"})
	assert.Equal(t, ActionToast, eff.Action)

	toasts := surface.Take("c1")
	require.Len(t, toasts, 1)
	assert.Equal(t, eff.Text, toasts[0].Text)
	assert.Equal(t, "Bad request", toasts[0].Text)
}
