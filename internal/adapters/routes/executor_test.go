package routes

import (
	"context"
	"errors"
	"field-route-planner/internal/domain"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func fixedJitter(d time.Duration) func(time.Duration) time.Duration {
	return func(time.Duration) time.Duration { return d }
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxJitter:   200 * time.Millisecond,
		QuotaDelay:  5 * time.Second,
		Timeout:     2 * time.Second,
	}
}

func getRequest(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestExecutorRetriesTimeoutsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	policy := testPolicy()
	policy.Timeout = 50 * time.Millisecond
	rec := &sleepRecorder{}
	exec := NewExecutor(policy, WithSleep(rec.sleep), WithJitter(fixedJitter(7*time.Millisecond)))

	body, err := exec.Do(context.Background(), getRequest(srv.URL))
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(body))
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, []time.Duration{107 * time.Millisecond, 207 * time.Millisecond}, rec.delays)
}

func TestExecutorTerminalStatuses(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, domain.ProviderInvalidRequest},
		{http.StatusForbidden, domain.ProviderRequestDenied},
		{http.StatusNotFound, domain.ProviderZeroResults},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":{"code":1,"message":"nope","status":"X"}}`))
			}))
			defer srv.Close()

			rec := &sleepRecorder{}
			exec := NewExecutor(testPolicy(), WithSleep(rec.sleep))

			_, err := exec.Do(context.Background(), getRequest(srv.URL))

			var pe *domain.ProviderError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, tc.code, pe.Code)
			require.Equal(t, tc.status, pe.StatusCode)
			require.Equal(t, "nope", pe.Message)
			require.False(t, pe.Retryable)
			require.EqualValues(t, 1, calls.Load())
			require.Empty(t, rec.delays)
		})
	}
}

func TestExecutorQuotaUsesFixedDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	exec := NewExecutor(testPolicy(), WithSleep(rec.sleep), WithJitter(fixedJitter(50*time.Millisecond)))

	_, err := exec.Do(context.Background(), getRequest(srv.URL))
	require.NoError(t, err)
	require.Equal(t, []time.Duration{5 * time.Second}, rec.delays)
}

func TestExecutorExhaustsAttemptsOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if calls.Load() == 3 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	exec := NewExecutor(testPolicy(), WithSleep(rec.sleep), WithJitter(fixedJitter(0)))

	_, err := exec.Do(context.Background(), getRequest(srv.URL))

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.ProviderTimeout, pe.Code)
	require.True(t, pe.Retryable)
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
}

func TestExecutorNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	rec := &sleepRecorder{}
	exec := NewExecutor(testPolicy(), WithSleep(rec.sleep))

	_, err := exec.Do(context.Background(), getRequest(url))

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.ProviderNetworkError, pe.Code)
	require.Len(t, rec.delays, 2)
}

func TestExecutorStopsWhenContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(testPolicy(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := exec.Do(ctx, getRequest(srv.URL))
	require.True(t, errors.Is(err, context.Canceled))
}

func TestExecutorMakeRequestFailureIsTerminal(t *testing.T) {
	exec := NewExecutor(testPolicy())

	_, err := exec.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return nil, errors.New("boom")
	})

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.ProviderInvalidRequest, pe.Code)
	require.False(t, pe.Retryable)
}
