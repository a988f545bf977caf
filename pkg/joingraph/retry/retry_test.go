package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Config{
	MaxAttempts:    4,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
	BackoffFactor:  2,
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryPermanent},
		{"rate limited", &HTTPError{StatusCode: 429}, CategoryTransient},
		{"overloaded", &HTTPError{StatusCode: 529}, CategoryTransient},
		{"server error", &HTTPError{StatusCode: 500}, CategoryTransient},
		{"unauthorized", &HTTPError{StatusCode: 401}, CategoryPermanent},
		{"bad request", &HTTPError{StatusCode: 400}, CategoryPermanent},
		{"malformed", &MalformedOutputError{Message: "empty"}, CategoryMalformed},
		{"timeout", &TimeoutError{Operation: "tool"}, CategoryTransient},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"explicit", Transient(errors.New("x"), "op"), CategoryTransient},
		{"unknown", errors.New("boom"), CategoryPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fast, "op", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{StatusCode: 503}
		}
		return "ok", nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fast, "op", func(context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 401}
	})

	require.Error(t, res.Err)
	assert.Equal(t, 1, calls)

	var catErr *CategorizedError
	require.ErrorAs(t, res.Err, &catErr)
	assert.Equal(t, CategoryPermanent, catErr.Category)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	res := Do(context.Background(), fast, "op", func(context.Context) (int, error) {
		return 0, &TimeoutError{Operation: "op", Duration: "1s"}
	})

	assert.Equal(t, 4, res.Attempts)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, res.Err, &timeoutErr)
}

func TestDo_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Do(ctx, fast, "op", func(context.Context) (int, error) {
		t.Fatal("fn must not run on a cancelled context")
		return 0, nil
	})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, res.Attempts)
}

func TestDo_CustomRetryable(t *testing.T) {
	calls := 0
	cfg := fast
	cfg.Retryable = func(error) bool { return true }

	res := Do(context.Background(), cfg, "op", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("anything")
	})
	require.Error(t, res.Err)
	assert.Equal(t, 4, calls)
}

func TestWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, base, withJitter(base, 0))
	for i := 0; i < 20; i++ {
		d := withJitter(base, 0.5)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
