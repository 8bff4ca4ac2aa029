package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestContext creates a context with timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// GenerateUUID generates a new UUID for testing
func GenerateUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewRandom()
	require.NoError(t, err)
	return id
}

// AssertEventually asserts that a condition is met within a timeout
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, tick time.Duration, msgAndArgs ...interface{}) {
	t.Helper()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			require.FailNow(t, "condition not met within timeout", msgAndArgs...)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// AssertTimeWithin asserts that a time is within an expected range
func AssertTimeWithin(t *testing.T, actual, expected time.Time, delta time.Duration) {
	t.Helper()
	diff := actual.Sub(expected)
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, delta,
		"expected time %v to be within %v of %v, but difference was %v",
		actual, delta, expected, diff)
}

// Ptr returns a pointer to the given value (useful for optional fields)
func Ptr[T any](v T) *T {
	return &v
}

// MustParse parses a string into the given type or fails the test
func MustParse[T any](t *testing.T, parser func(string) (T, error), value string) T {
	t.Helper()
	result, err := parser(value)
	require.NoError(t, err, "failed to parse %s", value)
	return result
}
