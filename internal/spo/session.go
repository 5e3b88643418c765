package spo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// defaultUserAgent identifies this client to the SharePoint APIs.
const defaultUserAgent = "sharepoint-go/0.1"

// Session is a generic access layer over one SharePoint-style HTTP API.
// It reacquires the bearer from its token cache before every request,
// retries retryable failures with exponential backoff, and invalidates the
// token and retries exactly once on an authorization failure.
//
// The Graph API and the legacy REST API each get their own Session because
// they use different bearer tokens and different pagination cursor fields.
type Session struct {
	httpClient  *http.Client
	token       *TokenCache
	scrollField string
	userAgent   string
	limiter     *rate.Limiter
	logger      *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewSession creates a Session bound to the given token cache.
// scrollField is the JSON field carrying the next-page cursor
// ("@odata.nextLink" for Graph, "odata.nextLink" for the REST API).
// limiter may be nil to disable client-side request pacing.
func NewSession(httpClient *http.Client, token *TokenCache, scrollField string, limiter *rate.Limiter, logger *slog.Logger) *Session {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		httpClient:  httpClient,
		token:       token,
		scrollField: scrollField,
		userAgent:   defaultUserAgent,
		limiter:     limiter,
		logger:      logger,
		sleepFunc:   timeSleep,
	}
}

// Fetch issues a single GET and decodes the JSON response body into out.
// Absent resources surface as an error satisfying errors.Is(err, ErrNotFound).
func (s *Session) Fetch(ctx context.Context, url string, out any) error {
	resp, err := s.do(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("spo: decoding response from %s: %w", url, err)
	}

	return nil
}

// Scroll follows cursor pagination starting at url and yields one batch of
// raw records per page, until the page carries no next cursor.
//
// A NotFound on the first page terminates the sequence instead of failing:
// scroll-shaped endpoints treat a missing resource as an empty listing.
// A NotFound on a later page is not expected and propagates.
func (s *Session) Scroll(ctx context.Context, url string) iter.Seq2[[]json.RawMessage, error] {
	return func(yield func([]json.RawMessage, error) bool) {
		first := true

		for url != "" {
			var page map[string]json.RawMessage

			if err := s.Fetch(ctx, url, &page); err != nil {
				if first && isNotFound(err) {
					s.logger.Debug("scroll target absent, yielding empty sequence",
						slog.String("url", url),
					)

					return
				}

				yield(nil, err)

				return
			}

			first = false

			var value []json.RawMessage
			if raw, ok := page["value"]; ok {
				if err := json.Unmarshal(raw, &value); err != nil {
					yield(nil, fmt.Errorf("spo: decoding page value from %s: %w", url, err))

					return
				}
			}

			if !yield(value, nil) {
				return
			}

			url = ""
			if raw, ok := page[s.scrollField]; ok {
				if err := json.Unmarshal(raw, &url); err != nil {
					yield(nil, fmt.Errorf("spo: decoding %s cursor: %w", s.scrollField, err))

					return
				}
			}
		}
	}
}

// Pipe streams the response body for url into w without buffering the whole
// payload. Returns the number of bytes written.
func (s *Session) Pipe(ctx context.Context, url string, w io.Writer) (int64, error) {
	resp, err := s.do(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		s.logger.Error("streaming content failed",
			slog.Int64("bytes_before_error", n),
			slog.String("error", err.Error()),
		)

		return n, fmt.Errorf("spo: streaming content: %w", err)
	}

	return n, nil
}

// do executes a GET against url with retry. Retryable statuses (429/5xx) and
// network errors back off exponentially up to maxRetries; a 401 invalidates
// the cached token and is retried exactly once.
func (s *Session) do(ctx context.Context, url string) (*http.Response, error) {
	var (
		attempt    int
		retried401 bool
	)

	for {
		resp, err := s.doOnce(ctx, url)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("spo: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := s.calcBackoff(attempt)
				s.logger.Warn("retrying after network error",
					slog.String("url", url),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := s.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("spo: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("spo: GET %s failed after %d retries: %w", url, maxRetries, err)
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		// Stale or revoked bearer: drop the cached token and retry once.
		if resp.StatusCode == http.StatusUnauthorized && !retried401 {
			s.logger.Warn("unauthorized response, invalidating cached token",
				slog.String("url", url),
			)

			s.token.Invalidate()

			retried401 = true

			continue
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := s.retryBackoff(resp, attempt)
			s.logger.Warn("retrying after HTTP error",
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := s.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("spo: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single GET (no retry), reacquiring the bearer first.
func (s *Session) doOnce(ctx context.Context, url string) (*http.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("spo: rate limiter: %w", err)
		}
	}

	tok, err := s.token.Get(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("spo: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	return s.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (s *Session) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return s.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (s *Session) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// isNotFound reports whether err represents an absent resource.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Session.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
