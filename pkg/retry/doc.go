// Package retry runs an operation with exponential backoff and jitter.
//
// It is used where the portal talks to something that may be briefly
// unavailable: token refresh against the main API and opening the session
// store at start-up. Only errors accepted by the IsRetryableFunc are
// retried; everything else is returned on the first failure unchanged, so
// callers can still classify it.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return db.PingContext(ctx)
//	}, nil)
//
// With a value and a custom predicate:
//
//	tokens, err := retry.DoValue(ctx, cfg, func(ctx context.Context) (upstream.Tokens, error) {
//	    return api.Refresh(ctx, refreshToken)
//	}, func(err error) bool {
//	    return shared.CategoryOf(err) == shared.CategoryConnectivity
//	})
//
// When attempts or MaxElapsedTime run out, Do returns *ExhaustedError
// wrapping the last error.
package retry
