// Package dispatch turns failed operations into exactly one user-facing side
// effect: a replace-navigation to the login page or a toast.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"medportal/internal/query"
	"medportal/internal/shared"
)

// User-visible messages.
const (
	MessageServerError = "Something went wrong on the server, please try again later"
	MessageCheckInputs = "Validation error, please check your inputs"
	MessageOffline     = "Failed to connect to server, are you offline?"
)

// LoginPath is where an expired session is sent.
const LoginPath = "/auth/login"

// Navigator replaces the current location of the client in ctx.
type Navigator interface {
	Replace(ctx context.Context, path string)
}

// Notifier shows an error toast to the client in ctx.
type Notifier interface {
	Error(ctx context.Context, text string)
}

// Action is the kind of side effect performed.
type Action int

const (
	ActionNavigate Action = iota + 1
	ActionToast
)

func (a Action) String() string {
	switch a {
	case ActionNavigate:
		return "navigate"
	case ActionToast:
		return "toast"
	default:
		return "none"
	}
}

// Effect describes what Dispatch did.
type Effect struct {
	Action   Action
	Path     string
	Text     string
	Category shared.Category
}

// Dispatcher is the single interception point for operation failures.
type Dispatcher struct {
	nav   Navigator
	toast Notifier
	log   *slog.Logger
}

// New creates a Dispatcher.
func New(nav Navigator, toast Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{nav: nav, toast: toast, log: log.With("component", "dispatch")}
}

// Decide computes the effect for a failure without performing it.
func Decide(kind query.Kind, err error) Effect {
	c := shared.Classify(shared.Ensure(err))
	switch c.Category {
	case shared.CategorySessionExpired:
		return Effect{Action: ActionNavigate, Path: LoginPath, Category: c.Category}
	case shared.CategoryAPI:
		text := firstNonEmpty(c.Description, c.Message, MessageServerError)
		if kind == query.KindMutation {
			text = firstNonEmpty(c.Message, c.Description, MessageServerError)
		}
		return Effect{Action: ActionToast, Text: text, Category: c.Category}
	case shared.CategoryValidation:
		text := MessageServerError
		if kind == query.KindMutation {
			text = MessageCheckInputs
		}
		return Effect{Action: ActionToast, Text: text, Category: c.Category}
	default:
		return Effect{Action: ActionToast, Text: MessageOffline, Category: shared.CategoryConnectivity}
	}
}

// firstNonEmpty returns the first text that is not blank.
func firstNonEmpty(texts ...string) string {
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return t
		}
	}
	return ""
}

// Dispatch logs the failure and performs its effect synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, kind query.Kind, key string, err error) Effect {
	err = shared.Ensure(err)
	eff := Decide(kind, err)

	chain := make([]string, 0, 4)
	for _, e := range shared.UnwrapAll(err) {
		chain = append(chain, e.Error())
	}
	d.log.ErrorContext(ctx, err.Error(),
		"kind", kind.String(),
		"key", key,
		"category", eff.Category.String(),
		"action", eff.Action.String(),
		"client_id", shared.ClientID(ctx),
		"chain", chain,
		"cause", shared.Cause(err).Error(),
	)

	switch eff.Action {
	case ActionNavigate:
		if d.nav != nil {
			d.nav.Replace(ctx, eff.Path)
		}
	case ActionToast:
		if d.toast != nil {
			d.toast.Error(ctx, eff.Text)
		}
	}
	return eff
}

// OnError implements query.ErrorSink.
func (d *Dispatcher) OnError(ctx context.Context, op query.Operation, err error) {
	d.Dispatch(ctx, op.Kind, op.Key, err)
}

var _ query.ErrorSink = (*Dispatcher)(nil)
