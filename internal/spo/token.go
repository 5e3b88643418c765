package spo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Operator-facing remediation messages, keyed by the token endpoint's status.
// The field names match the configuration keys the operator filled in.
const (
	msgBadTokenRequest = "Failed to authorize to Sharepoint API. Please verify that the provided Tenant Id, Tenant Name and Client ID are valid."
	msgBadTokenSecret  = "Failed to authorize to Sharepoint API. Please verify that the provided Secret Value is valid."
)

// acsResource is the well-known SharePoint Online principal ID used to scope
// legacy ACS access tokens.
const acsResource = "00000003-0000-0ff1-ce00-000000000000"

// FetchFunc acquires a fresh bearer token and reports how long it is valid.
// Implementations exist per credential kind (Graph client-credentials, legacy
// REST); TokenCache owns all expiry bookkeeping on top of it.
type FetchFunc func(ctx context.Context) (bearer string, expiresIn time.Duration, err error)

// TokenCache caches one bearer credential and its expiry. Get returns the
// cached bearer while it is still valid and refreshes it otherwise; expired
// concurrent callers trigger exactly one upstream fetch.
type TokenCache struct {
	fetch  FetchFunc
	logger *slog.Logger

	// nowFunc is called for expiry checks. Defaults to time.Now.
	// Tests override this to avoid real waits.
	nowFunc func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	bearer    string
	expiresAt time.Time
}

// NewTokenCache creates a token cache over the given fetch function.
// A nil fetch is permitted: Get then fails with ErrFetchUnimplemented, the
// seam for credential kinds that have not been wired up yet.
func NewTokenCache(fetch FetchFunc, logger *slog.Logger) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenCache{
		fetch:   fetch,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Get returns a valid bearer token, refreshing it first if the cached one
// is absent or past its expiry. Fetch failures are reported as
// *TokenFetchError with an operator-actionable message.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.bearer != "" && c.nowFunc().Before(c.expiresAt) {
		bearer := c.bearer
		c.mu.Unlock()

		return bearer, nil
	}
	c.mu.Unlock()

	// Single-flight the refresh: concurrent expirations share one fetch.
	bearer, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	return bearer.(string), nil
}

// Invalidate drops the cached bearer so the next Get performs a fresh fetch.
// Called by Session after an authorization failure.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bearer = ""
	c.expiresAt = time.Time{}
}

// refresh fetches a new token and records its expiry.
func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	if c.fetch == nil {
		return "", ErrFetchUnimplemented
	}

	bearer, expiresIn, err := c.fetch(ctx)
	if err != nil {
		return "", mapTokenFetchError(err)
	}

	c.mu.Lock()
	c.bearer = bearer
	c.expiresAt = c.nowFunc().Add(expiresIn)
	c.mu.Unlock()

	c.logger.Debug("bearer token refreshed",
		slog.Duration("expires_in", expiresIn),
	)

	return bearer, nil
}

// mapTokenFetchError converts a fetch failure into a *TokenFetchError whose
// message names the configuration fields the operator should re-check.
// Statuses other than 400 and 401 pass the upstream message through unchanged.
func mapTokenFetchError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &TokenFetchError{Message: err.Error()}
	}

	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		return &TokenFetchError{StatusCode: apiErr.StatusCode, Message: msgBadTokenRequest}
	case http.StatusUnauthorized:
		return &TokenFetchError{StatusCode: apiErr.StatusCode, Message: msgBadTokenSecret}
	default:
		return &TokenFetchError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
}

// NewGraphToken creates a token cache backed by the OAuth2 client-credentials
// flow against the Microsoft identity platform, scoped to the Graph API.
func NewGraphToken(httpClient *http.Client, tenantID, clientID, clientSecret string, logger *slog.Logger) *TokenCache {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	return NewTokenCache(graphFetch(cfg, httpClient), logger)
}

// graphFetch adapts a client-credentials config to a FetchFunc, translating
// oauth2 retrieval failures into *APIError so the cache can map them onto
// operator messages.
func graphFetch(cfg *clientcredentials.Config, httpClient *http.Client) FetchFunc {
	return func(ctx context.Context) (string, time.Duration, error) {
		// The oauth2 package takes its transport from the context.
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}

		tok, err := cfg.Token(ctx)
		if err != nil {
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) {
				return "", 0, &APIError{
					StatusCode: rerr.Response.StatusCode,
					Message:    strings.TrimSpace(string(rerr.Body)),
					Err:        classifyStatus(rerr.Response.StatusCode),
				}
			}

			return "", 0, fmt.Errorf("spo: graph token request: %w", err)
		}

		return tok.AccessToken, time.Until(tok.Expiry), nil
	}
}

// acsTokenResponse mirrors the ACS token endpoint JSON. expires_in arrives
// as a string of seconds.
type acsTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// NewRestToken creates a token cache backed by the legacy ACS form-encoded
// flow used by the tenant-scoped SharePoint REST API.
func NewRestToken(httpClient *http.Client, tenantID, tenantName, clientID, clientSecret string, logger *slog.Logger) *TokenCache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	tokenURL := fmt.Sprintf("https://accounts.accesscontrol.windows.net/%s/tokens/OAuth/2", tenantID)

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"resource":      {fmt.Sprintf("%s/%s.sharepoint.com@%s", acsResource, tenantName, tenantID)},
		"client_id":     {fmt.Sprintf("%s@%s", clientID, tenantID)},
		"client_secret": {clientSecret},
	}

	fetch := func(ctx context.Context) (string, time.Duration, error) {
		return fetchACSToken(ctx, httpClient, tokenURL, form)
	}

	return NewTokenCache(fetch, logger)
}

// fetchACSToken posts the client-credentials form to the ACS endpoint and
// decodes the bearer and its lifetime.
func fetchACSToken(ctx context.Context, httpClient *http.Client, tokenURL string, form url.Values) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("spo: creating rest token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("spo: rest token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)

		return "", 0, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	var tr acsTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("spo: decoding rest token response: %w", err)
	}

	seconds, err := strconv.Atoi(tr.ExpiresIn)
	if err != nil {
		return "", 0, fmt.Errorf("spo: rest token expires_in %q: %w", tr.ExpiresIn, err)
	}

	return tr.AccessToken, time.Duration(seconds) * time.Second, nil
}
