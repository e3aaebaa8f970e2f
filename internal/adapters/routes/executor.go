package routes

import (
	"context"
	"encoding/json"
	"errors"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/platform/metrics"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RetryPolicy controls how the Executor retries provider calls.
type RetryPolicy struct {
	MaxAttempts int
	// BaseDelay is doubled on every retry: BaseDelay * 2^(attempt-1).
	BaseDelay time.Duration
	// MaxJitter bounds the random delay added to each backoff.
	MaxJitter time.Duration
	// QuotaDelay replaces the exponential backoff after a 429.
	QuotaDelay time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxJitter:   200 * time.Millisecond,
		QuotaDelay:  5 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// Executor issues HTTP requests to the routing provider with a per-attempt
// timeout, classified errors and exponential backoff with jitter.
// It is safe for concurrent use.
type Executor struct {
	client  *http.Client
	policy  RetryPolicy
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(max time.Duration) time.Duration
}

type ExecutorOption func(*Executor)

func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithRateLimit caps attempts at rps requests per second.
func WithRateLimit(rps float64, burst int) ExecutorOption {
	return func(e *Executor) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

func WithJitter(fn func(max time.Duration) time.Duration) ExecutorOption {
	return func(e *Executor) { e.jitter = fn }
}

func NewExecutor(policy RetryPolicy, opts ...ExecutorOption) *Executor {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.Timeout <= 0 {
		policy.Timeout = def.Timeout
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = def.BaseDelay
	}

	e := &Executor{
		client: &http.Client{},
		policy: policy,
		sleep:  sleepCtx,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Do sends the request built by makeReq until it succeeds, fails terminally
// or runs out of attempts, and returns the response body. makeReq is called
// once per attempt with the attempt's context.
func (e *Executor) Do(
	ctx context.Context,
	makeReq func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("wait for rate limiter: %w", err)
			}
		}

		start := time.Now()
		body, err := e.attempt(ctx, makeReq)
		metrics.ProviderLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.ProviderAttempts.WithLabelValues("ok").Inc()
			return body, nil
		}
		lastErr = err

		var pe *domain.ProviderError
		if !errors.As(err, &pe) {
			return nil, err
		}
		metrics.ProviderAttempts.WithLabelValues(pe.Code).Inc()

		if !pe.Retryable || attempt == e.policy.MaxAttempts {
			return nil, err
		}

		delay := e.backoff(attempt, pe)
		log.Warn().
			Int("attempt", attempt).
			Int("max_attempts", e.policy.MaxAttempts).
			Str("code", pe.Code).
			Dur("retry_in", delay).
			Msg("routing provider call failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (e *Executor) attempt(
	ctx context.Context,
	makeReq func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.policy.Timeout)
	defer cancel()

	req, err := makeReq(attemptCtx)
	if err != nil {
		return nil, &domain.ProviderError{
			Code:    domain.ProviderInvalidRequest,
			Message: fmt.Sprintf("make request: %v", err),
			Err:     err,
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, attemptCtx, err)
	}

	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, body)
	}

	return body, nil
}

func (e *Executor) backoff(attempt int, pe *domain.ProviderError) time.Duration {
	if pe.Code == domain.ProviderQuotaExceeded {
		return e.policy.QuotaDelay
	}
	d := e.policy.BaseDelay << (attempt - 1)
	if e.policy.MaxJitter > 0 {
		d += e.jitter(e.policy.MaxJitter)
	}
	return d
}

// classifyTransport maps a failed round trip. Cancellation of the caller's
// context is returned as is; everything else is retryable.
func classifyTransport(parent, attemptCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &domain.ProviderError{
			Code:      domain.ProviderTimeout,
			Message:   "request timed out",
			Retryable: true,
			Err:       err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.ProviderError{
			Code:      domain.ProviderTimeout,
			Message:   netErr.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	return &domain.ProviderError{
		Code:      domain.ProviderNetworkError,
		Message:   err.Error(),
		Retryable: true,
		Err:       err,
	}
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func statusError(status int, body []byte) *domain.ProviderError {
	msg := strings.TrimSpace(string(body))
	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}

	pe := &domain.ProviderError{StatusCode: status, Message: msg}
	switch {
	case status == http.StatusBadRequest:
		pe.Code = domain.ProviderInvalidRequest
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		pe.Code = domain.ProviderRequestDenied
	case status == http.StatusNotFound:
		pe.Code = domain.ProviderZeroResults
	case status == http.StatusTooManyRequests:
		pe.Code = domain.ProviderQuotaExceeded
		pe.Retryable = true
	case status == http.StatusGatewayTimeout:
		pe.Code = domain.ProviderTimeout
		pe.Retryable = true
	case status >= 500:
		pe.Code = domain.ProviderAPIError
		pe.Retryable = true
	default:
		pe.Code = domain.ProviderAPIError
	}

	return pe
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
