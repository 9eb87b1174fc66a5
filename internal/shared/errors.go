// Package shared contains common error types and utilities.
package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors that can be used across the application
var (
	// ErrSessionExpired indicates that the main API rejected the session and it could not be refreshed
	ErrSessionExpired = errors.New("session expired")

	// ErrValidation indicates that a request or a response failed validation rules
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrUnknown is the synthetic error used when a nil value is normalized
	ErrUnknown = errors.New("unknown error")
)

// Category is the user-facing class of a failed operation.
// Categories are mutually exclusive; CategoryConnectivity is the fallback.
type Category int

const (
	// CategoryConnectivity means no structured response was obtained
	CategoryConnectivity Category = iota
	// CategorySessionExpired means the session could not be refreshed
	CategorySessionExpired
	// CategoryAPI means the server reported a well-formed failure
	CategoryAPI
	// CategoryValidation means the request or response broke validation rules
	CategoryValidation
)

// String returns the string representation of the Category.
func (c Category) String() string {
	switch c {
	case CategorySessionExpired:
		return "SessionExpired"
	case CategoryAPI:
		return "ApiError"
	case CategoryValidation:
		return "ValidationError"
	default:
		return "ConnectivityError"
	}
}

// RefreshAuthError is returned when the access token was rejected and the
// refresh attempt failed as well.
type RefreshAuthError struct {
	Err error
}

func (e *RefreshAuthError) Error() string {
	if e.Err == nil {
		return ErrSessionExpired.Error()
	}
	return ErrSessionExpired.Error() + ": " + e.Err.Error()
}

func (e *RefreshAuthError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSessionExpired) hold for every RefreshAuthError.
func (e *RefreshAuthError) Is(target error) bool { return target == ErrSessionExpired }

// APIError is the error envelope reported by the main API.
type APIError struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d", e.Code)
	}
	return e.Message
}

// ValidationError carries per-field validation failures.
type ValidationError struct {
	Fields map[string]string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Err != nil {
			return ErrValidation.Error() + ": " + e.Err.Error()
		}
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NonError wraps a value that was raised as a failure but is not an error.
type NonError struct {
	Value any
}

func (e *NonError) Error() string {
	return fmt.Sprintf("non-error value: %v", e.Value)
}

// Ensure normalizes any failure value into an error.
// Errors pass through unchanged, nil becomes ErrUnknown, strings and
// fmt.Stringer values become plain errors and everything else is wrapped in NonError.
func Ensure(v any) error {
	switch x := v.(type) {
	case nil:
		return ErrUnknown
	case error:
		return x
	case string:
		return errors.New(x)
	case fmt.Stringer:
		return errors.New(x.String())
	default:
		return &NonError{Value: v}
	}
}

// Classification is the result of Classify.
// Code, Message and Description are set only for CategoryAPI.
type Classification struct {
	Category    Category
	Code        int
	Message     string
	Description string
}

// categoryPriorities defines the deterministic order for classification.
// The first matching entry wins.
var categoryPriorities = []struct {
	category Category
	match    func(error) (Classification, bool)
}{
	{CategorySessionExpired, func(err error) (Classification, bool) {
		var re *RefreshAuthError
		if errors.As(err, &re) || errors.Is(err, ErrSessionExpired) {
			return Classification{Category: CategorySessionExpired}, true
		}
		return Classification{}, false
	}},
	{CategoryAPI, func(err error) (Classification, bool) {
		var ae *APIError
		if errors.As(err, &ae) && ae != nil {
			return Classification{
				Category:    CategoryAPI,
				Code:        ae.Code,
				Message:     ae.Message,
				Description: ae.Description,
			}, true
		}
		return Classification{}, false
	}},
	{CategoryValidation, func(err error) (Classification, bool) {
		var ve *ValidationError
		if errors.As(err, &ve) || errors.Is(err, ErrValidation) {
			return Classification{Category: CategoryValidation}, true
		}
		return Classification{}, false
	}},
}

// Classify maps an error onto exactly one Category.
//
// The classification priority (highest to lowest):
//  1. CategorySessionExpired (RefreshAuthError, ErrSessionExpired)
//  2. CategoryAPI (APIError, fields copied verbatim)
//  3. CategoryValidation (ValidationError, ErrValidation)
//  4. CategoryConnectivity (anything else, including nil)
//
// A session that could not be refreshed is never reported as an API error
// even when the refresh response carried an APIError.
//
// Example:
//
//	switch c := shared.Classify(err); c.Category {
//	case shared.CategorySessionExpired:
//	    nav.Replace(ctx, "/auth/login")
//	case shared.CategoryAPI:
//	    toasts.Error(ctx, c.Description)
//	}
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryConnectivity}
	}
	for _, p := range categoryPriorities {
		if c, ok := p.match(err); ok {
			return c
		}
	}
	return Classification{Category: CategoryConnectivity}
}

// CategoryOf is shorthand for Classify(err).Category.
func CategoryOf(err error) Category {
	return Classify(err).Category
}

// IsSessionExpired reports whether the error means the session is gone.
func IsSessionExpired(err error) bool {
	return CategoryOf(err) == CategorySessionExpired
}

// IsNotFound reports whether the error indicates a resource not found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Wrap wraps an error with additional context.
// It returns a new error that formats as "context: err".
// If err is nil, Wrap returns nil.
// If context is empty, returns the original error.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
// If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(format, args...)
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Cause returns the underlying cause of the error by repeatedly unwrapping it.
// For errors.Join, returns the first leaf found in breadth-first order.
// If err is nil, Cause returns nil.
func Cause(err error) error {
	if err == nil {
		return nil
	}
	all := UnwrapAll(err)
	for i := len(all) - 1; i >= 0; i-- {
		candidate := all[i]
		hasNested := false
		if unwrapper, ok := candidate.(interface{ Unwrap() []error }); ok {
			hasNested = len(unwrapper.Unwrap()) > 0
		} else {
			hasNested = errors.Unwrap(candidate) != nil
		}
		if !hasNested {
			return candidate
		}
	}
	return err
}

// UnwrapAll returns all errors in the error chain, from outermost to innermost.
// For errors created with errors.Join, this flattens the entire error graph.
// If err is nil, returns nil slice.
func UnwrapAll(err error) []error {
	if err == nil {
		return nil
	}

	var result []error
	seen := make(map[error]bool) // prevent infinite loops
	queue := []error{err}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if seen[current] {
			continue
		}
		seen[current] = true
		result = append(result, current)

		if unwrapper, ok := current.(interface{ Unwrap() []error }); ok {
			queue = append(queue, unwrapper.Unwrap()...)
		} else if nested := errors.Unwrap(current); nested != nil {
			queue = append(queue, nested)
		}
	}

	return result
}
