// Package shared contains the error vocabulary of the portal and a few
// request-scoped helpers shared by all layers.
//
// # Error Types
//
// Failures coming back from the main API or from local validation are
// represented by a closed set of types:
//
//   - RefreshAuthError: the access token was rejected and refreshing failed
//   - APIError: a well-formed error envelope (code, message, description)
//   - ValidationError: per-field validation failures
//   - NonError: a value that was raised as a failure but is not an error
//
// Plain errors (transport failures, unparseable bodies) carry no type and
// fall into the connectivity category.
//
// # Normalization and Classification
//
// Ensure must run before classification. It converts any failure value into
// an error:
//
//	err := shared.Ensure(recovered)
//
// Classify maps an error onto exactly one Category:
//
//	switch c := shared.Classify(err); c.Category {
//	case shared.CategorySessionExpired:
//	    // redirect to login
//	case shared.CategoryAPI:
//	    // c.Code, c.Message, c.Description
//	case shared.CategoryValidation:
//	    // ask the user to check the inputs
//	default:
//	    // connectivity
//	}
//
// # Category Priority Table
//
//	Priority | Category               | Matches
//	---------|------------------------|------------------------------------
//	1        | CategorySessionExpired | RefreshAuthError, ErrSessionExpired
//	2        | CategoryAPI            | APIError
//	3        | CategoryValidation     | ValidationError, ErrValidation
//	4        | CategoryConnectivity   | everything else (fallback)
//
// Classification is a pure function: classifying the same value twice
// yields the same result.
//
// # Error Wrapping and Context
//
//	if err := store.Get(ctx, id); err != nil {
//	    return shared.Wrapf(err, "load session %s", id)
//	}
//
// Get all errors in the chain (supports both fmt.Errorf %w and errors.Join):
//
//	allErrors := shared.UnwrapAll(err)
//
// # Error Message Style Guide
//
// - Use lowercase messages: "session not found" not "Session not found"
// - Avoid punctuation: "invalid email format" not "Invalid email format."
// - Keep messages composable: they will often be wrapped with additional context
//
// User-facing texts (toasts) are not produced here; see package dispatch.
package shared
