// Package directory implements the client for the organizational directory
// and completion service: scope membership, display profiles, and defense
// pass counts. The core treats it as read-only reference data; every call
// sits behind a circuit breaker so directory outages degrade leaderboard
// scoping instead of failing session writes.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sensai-hub/active-learning-core/internal/domain/leaderboard"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/pkg/circuitbreaker"
	"github.com/sensai-hub/active-learning-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the directory client.
type ClientConfig struct {
	// BaseURL is the directory service base URL.
	BaseURL string

	// APIKey is the bearer token for authentication.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// MaxRetries bounds retry attempts per logical call.
	MaxRetries int

	// BreakerConfig for fault tolerance.
	BreakerConfig circuitbreaker.Config

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request-level debug logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:       baseURL,
		Timeout:       10 * time.Second,
		MaxRetries:    3,
		BreakerConfig: circuitbreaker.DefaultConfig("directory"),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the directory service client. It implements
// leaderboard.Directory and quest.CompletionLookup.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
}

// NewClient creates a new directory client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  config.Logger,
		breaker: circuitbreaker.New(config.BreakerConfig),
		retrier: retry.New(
			retry.WithMaxAttempts(config.MaxRetries+1),
			retry.WithRetryIf(isTransient),
		),
	}
}

// leaderboardWindows is every window a scope membership keys cache rows by.
var leaderboardWindows = []leaderboard.Window{
	leaderboard.WindowWeekly,
	leaderboard.WindowMonthly,
	leaderboard.WindowAllTime,
}

// ══════════════════════════════════════════════════════════════════════════════
// DIRECTORY OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// MembersOf returns the user IDs belonging to a scope. The global scope is
// not enumerable through the directory; callers rank global standings from
// the set of users with recorded activity instead.
func (c *Client) MembersOf(ctx context.Context, scope leaderboard.ScopeType, scopeID string) ([]string, error) {
	if scopeID == "" || scope == leaderboard.ScopeGlobal {
		return nil, nil
	}

	path := fmt.Sprintf("/api/v1/scopes/%s/%s/members",
		url.PathEscape(string(scope)), url.PathEscape(scopeID))

	var response APIResponse[MembersDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return nil, fmt.Errorf("directory: %s", response.Error)
	}

	return response.Data.UserIDs, nil
}

// ScopesOf returns the cache keys a user's metric changes touch: one key per
// scope membership per window, plus the global board.
func (c *Client) ScopesOf(ctx context.Context, userID string) ([]leaderboard.Key, error) {
	path := fmt.Sprintf("/api/v1/users/%s/scopes", url.PathEscape(userID))

	var response APIResponse[UserScopesDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return nil, fmt.Errorf("directory: %s", response.Error)
	}

	var keys []leaderboard.Key
	for _, window := range leaderboardWindows {
		global, err := leaderboard.NewKey(leaderboard.ScopeGlobal, "", window)
		if err != nil {
			return nil, err
		}
		keys = append(keys, global)

		for _, s := range response.Data.Scopes {
			key, err := leaderboard.NewKey(leaderboard.ScopeType(s.ScopeType), s.ScopeID, window)
			if err != nil {
				// Unknown scope types from a newer directory version are
				// skipped rather than failing the whole resolution.
				continue
			}
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// ProfilesOf returns display names for the given users. Missing users are
// omitted from the result.
func (c *Client) ProfilesOf(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}

	path := "/api/v1/profiles?ids=" + url.QueryEscape(strings.Join(userIDs, ","))

	var response APIResponse[[]ProfileDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return nil, fmt.Errorf("directory: %s", response.Error)
	}

	names := make(map[string]string, len(response.Data))
	for _, p := range response.Data {
		names[p.UserID] = p.DisplayName
	}
	return names, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION SERVICE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// PassCountsOf returns defense-point pass and peer review counts for a user
// within the window.
func (c *Client) PassCountsOf(ctx context.Context, userID string, window shared.TimeWindow) (int, int, error) {
	params := url.Values{}
	params.Set("from", window.Start.UTC().Format(time.RFC3339))
	params.Set("to", window.End.UTC().Format(time.RFC3339))

	path := fmt.Sprintf("/api/v1/users/%s/pass-counts?%s",
		url.PathEscape(userID), params.Encode())

	var response APIResponse[PassCountsDTO]
	if err := c.doRequest(ctx, http.MethodGet, path, &response); err != nil {
		return 0, 0, shared.WrapError("quest", "PassCountsOf", shared.ErrServiceUnavailable,
			"completion service unavailable", err)
	}
	if !response.Success {
		return 0, 0, fmt.Errorf("completion service: %s", response.Error)
	}

	return response.Data.DPPasses, response.Data.PeerReviews, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST MACHINERY
// ══════════════════════════════════════════════════════════════════════════════

// doRequest executes one logical call: breaker outside, retries inside, so a
// request that exhausts its retries counts as a single breaker failure.
func (c *Client) doRequest(ctx context.Context, method, path string, result interface{}) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, method, path, result)
		})
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return shared.ErrDirectoryUnavailable
		}
		return err
	}
	return nil
}

func (c *Client) doSingleRequest(ctx context.Context, method, path string, result interface{}) error {
	fullURL := c.config.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.logger.Debug("directory request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIErrorDTO
		if jerr := json.Unmarshal(respBody, &apiErr); jerr == nil && apiErr.Message != "" {
			if apiErr.Retryable() {
				return retry.Retryable(&apiErr)
			}
			return retry.Permanent(&apiErr)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.Retryable(fmt.Errorf("directory: status %d", resp.StatusCode))
		}
		return retry.Permanent(fmt.Errorf("directory: status %d", resp.StatusCode))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
	}

	return nil
}

// isTransient decides retryability for errors without an explicit marker.
func isTransient(err error) bool {
	if retry.IsPermanent(err) {
		return false
	}
	if retry.IsRetryable(err) {
		return true
	}
	msg := err.Error()
	for _, hint := range []string{"timeout", "connection refused", "temporary", "reset", "EOF"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// IsHealthy checks if the directory service is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var response APIResponse[map[string]interface{}]
	err := c.doSingleRequest(ctx, http.MethodGet, "/health", &response)
	return err == nil && response.Success
}
