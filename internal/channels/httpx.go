package channels

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// HTTPOptions tunes the provider HTTP clients.
type HTTPOptions struct {
	Timeout    time.Duration
	MaxRetries int
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

func (o HTTPOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	t := o.Timeout
	if t <= 0 {
		t = 15 * time.Second
	}
	return &http.Client{Timeout: t}
}

func (o HTTPOptions) retries() int {
	if o.MaxRetries < 0 {
		return 0
	}
	return o.MaxRetries
}

// retryableStatus reports whether a send may be repeated without risking a
// duplicate delivery: the provider told us it did not accept the request.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// retryAfter honors a Retry-After header in seconds, capped at max.
func retryAfter(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

// jitter spreads base by +/-20%.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	v := low + rand.Float64()*(2*delta)
	return time.Duration(v * float64(time.Second))
}

// initialBackoff is the first retry delay; it doubles per attempt.
var initialBackoff = 500 * time.Millisecond

// do executes the request built by newReq, retrying while the provider
// answers with a retryable status. It returns the body of a 2xx response.
// Non-2xx responses come back as *DispatchError carrying the provider body
// decoded by describe.
func do(ctx context.Context, ch domain.Channel, opts HTTPOptions, newReq func(context.Context) (*http.Request, error), describe func([]byte) string) ([]byte, error) {
	httpClient := opts.client()
	maxRetries := opts.retries()
	backoff := initialBackoff

	for attempt := 0; ; attempt++ {
		req, err := newReq(ctx)
		if err != nil {
			return nil, &DispatchError{Channel: ch, Err: err}
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, &DispatchError{Channel: ch, Err: err}
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &DispatchError{Channel: ch, StatusCode: resp.StatusCode, Err: readErr}
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return raw, nil
		}

		derr := &DispatchError{Channel: ch, StatusCode: resp.StatusCode, Err: errors.New(describe(raw))}
		if !retryableStatus(resp.StatusCode) || attempt >= maxRetries {
			return nil, derr
		}

		sleepFor := jitter(retryAfter(resp, backoff, 10*time.Second))
		log.Warn().
			Str("channel", string(ch)).
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries).
			Dur("sleep", sleepFor).
			Int("status", resp.StatusCode).
			Msg("provider request retrying")

		select {
		case <-ctx.Done():
			return nil, &DispatchError{Channel: ch, StatusCode: resp.StatusCode, Err: ctx.Err()}
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
}

// truncate keeps provider error bodies readable in logs and responses. It
// clips at n runes and replaces invalid UTF-8.
func truncate(s string, n int) string {
	s = strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD"))
	if s == "" {
		return "<empty body>"
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
