package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// Config defines retry configuration.
type Config struct {
	// MaxAttempts is the maximum number of attempts, the first one included.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps a single delay.
	MaxDelay time.Duration
	// MaxElapsedTime caps the total time spent waiting (0 = no limit).
	MaxElapsedTime time.Duration
	// Multiplier is the exponential backoff factor.
	Multiplier float64
	// Jitter spreads delays by up to ±25%.
	Jitter bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, nextDelay time.Duration)

	rand  *rand.Rand
	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// DefaultConfig returns three attempts starting at 100ms with jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

func (c *Config) normalize() error {
	if c.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if c.InitialDelay <= 0 {
		return errors.New("retry: InitialDelay must be positive")
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.InitialDelay > c.MaxDelay {
		return errors.New("retry: InitialDelay cannot exceed MaxDelay")
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.Multiplier < 1 {
		return errors.New("retry: Multiplier must be >= 1")
	}
	if c.MaxElapsedTime < 0 {
		return errors.New("retry: MaxElapsedTime cannot be negative")
	}
	if c.rand == nil {
		c.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.after == nil {
		c.after = time.After
	}
	return nil
}

// IsRetryableFunc decides whether an error is worth another attempt.
type IsRetryableFunc func(err error) bool

// ExhaustedError is returned when the attempt or time budget runs out.
type ExhaustedError struct {
	LastError error
	Attempts  int
	Elapsed   time.Duration
	Reason    string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s after %s (%d attempts): %v", e.Reason, e.Elapsed, e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// DefaultRetryable reports transient network failures: timeouts, resets,
// refused connections and unexpected EOFs. Cancellation is never retried.
func DefaultRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EHOSTUNREACH,
		syscall.EPIPE, syscall.ETIMEDOUT,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// budget is exhausted. Non-retryable errors are returned unchanged.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error, isRetryable IsRetryableFunc) error {
	if err := cfg.normalize(); err != nil {
		return err
	}
	if isRetryable == nil {
		isRetryable = DefaultRetryable
	}

	start := cfg.now()
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		delay := cfg.jitter(cfg.backoff(attempt))
		elapsed := cfg.now().Sub(start)
		if cfg.MaxElapsedTime > 0 && elapsed+delay > cfg.MaxElapsedTime {
			return &ExhaustedError{LastError: lastErr, Attempts: attempt, Elapsed: elapsed, Reason: "max elapsed time exceeded"}
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cfg.after(delay):
		}
	}
	return &ExhaustedError{
		LastError: lastErr,
		Attempts:  cfg.MaxAttempts,
		Elapsed:   cfg.now().Sub(start),
		Reason:    "max attempts exceeded",
	}
}

// DoValue is Do for functions returning a value.
func DoValue[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error), isRetryable IsRetryableFunc) (T, error) {
	var out T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, isRetryable)
	return out, err
}

// backoff returns the delay after the given attempt.
func (c Config) backoff(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(d) * c.Multiplier)
		if next <= d || next > c.MaxDelay {
			return c.MaxDelay
		}
		d = next
	}
	return d
}

func (c Config) jitter(d time.Duration) time.Duration {
	if !c.Jitter || d <= 0 {
		return d
	}
	spread := d / 4
	if spread <= 0 {
		return d
	}
	d = d - spread + time.Duration(c.rand.Int63n(int64(2*spread)))
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}
