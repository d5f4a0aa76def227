package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/i474232898/weather-gateway/internal/breaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

// DefaultBackoff is used by every provider unless overridden.
var DefaultBackoff = BackoffConfig{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")

	// errClientInput marks failures caused by the request itself. They say
	// nothing about the provider's health.
	errClientInput   = errors.New("client input error")
	errMissingAPIKey = fmt.Errorf("%w: api key is not configured", errClientInput)
)

// IsQualifyingFailure is the breaker classifier shared by all providers:
// transport errors, timeouts, 429 and 5xx count against the provider, while
// client input errors and caller cancellation do not.
func IsQualifyingFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, errClientInput):
		return false
	default:
		return true
	}
}

// newBreaker fetches the provider's breaker from the registry, classifying
// failures with IsQualifyingFailure.
func newBreaker(reg *breaker.Registry, name string) *breaker.CircuitBreaker {
	return reg.Get(name, breaker.WithClassifier(IsQualifyingFailure))
}

// doRequestWithResilience executes the HTTP request with retries, exponential
// backoff and a circuit breaker. Each attempt goes through the breaker once;
// breaker rejections and client input errors are returned without retrying.
// On success the caller owns the response body.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *breaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", errClientInput, err)
		}

		var resp *http.Response
		err = cb.Execute(ctx, func(ctx context.Context) error {
			r, err := cfg.Client.Do(req.WithContext(ctx))
			if err != nil {
				return err
			}
			if err := checkStatus(r); err != nil {
				drainAndClose(r)
				return err
			}
			resp = r
			return nil
		})
		if err == nil {
			return resp, nil
		}

		if breaker.IsRejection(err) || !IsQualifyingFailure(err) {
			return nil, err
		}
		if attempt >= cfg.Backoff.MaxRetries {
			return nil, err
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

func checkStatus(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return errRateLimited
	case code >= 500:
		return fmt.Errorf("%w: %d", errServerError, code)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: unexpected status %d", errClientInput, code)
	}
	return nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// decodeBody decodes a JSON response and closes its body.
func decodeBody[T any](provider string, resp *http.Response) (T, error) {
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%s: decode: %w", provider, err)
	}
	return out, nil
}
