package shared_test

import (
	"errors"
	"fmt"

	"medportal/internal/shared"
)

// Example_wrap demonstrates how to add context to errors while preserving the original error.
func Example_wrap() {
	originalErr := shared.ErrNotFound

	err := shared.Wrap(originalErr, "failed to load session")

	fmt.Println(err.Error())
	fmt.Println("Contains original error:", errors.Is(err, shared.ErrNotFound))

	// Output:
	// failed to load session: not found
	// Contains original error: true
}

// Example_classify demonstrates how failures from the main API are classified.
func Example_classify() {
	apiErr := &shared.APIError{Code: 500, Message: "Internal", Description: "Server failed to process request"}
	err := shared.Wrap(apiErr, "GET /api/doctors/me")

	c := shared.Classify(err)
	fmt.Println("Category:", c.Category)
	fmt.Println("Message:", c.Message)
	fmt.Println("Description:", c.Description)

	// Output:
	// Category: ApiError
	// Message: Internal
	// Description: Server failed to process request
}

// Example_classifyRefresh shows that a failed refresh wins over the API error it carries.
func Example_classifyRefresh() {
	err := &shared.RefreshAuthError{Err: &shared.APIError{Code: 401, Message: "Unauthorized"}}

	fmt.Println(shared.Classify(err).Category)
	fmt.Println(errors.Is(err, shared.ErrSessionExpired))

	// Output:
	// SessionExpired
	// true
}

// Example_ensure demonstrates normalization of values that are not errors.
func Example_ensure() {
	fmt.Println(shared.Ensure("boom"))
	fmt.Println(shared.Ensure(42))
	fmt.Println(shared.Classify(shared.Ensure(42)).Category)

	// Output:
	// boom
	// non-error value: 42
	// ConnectivityError
}
