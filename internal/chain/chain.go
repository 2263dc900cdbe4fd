// Package chain adapts the external on-chain profile store. The adapter is
// read-only: it answers existence probes and fetches profile objects, and
// treats every transport failure as "unknown", never as "does not exist".
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"linkpulse/internal/errs"
)

// Link is a single entry on a profile page.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Profile is the subset of the on-chain profile object the analytics
// service consumes.
type Profile struct {
	ID           string `json:"id"`
	ViewCount    uint64 `json:"viewCount"`
	Links        []Link `json:"links"`
	Verified     bool   `json:"verified"`
	Owner        string `json:"owner"`
	WalrusSiteID string `json:"walrusSiteId"`
}

// Adapter answers profile probes against the on-chain store.
type Adapter interface {
	// ProfileExists reports whether the profile is present on-chain. A
	// transport or upstream failure is returned as an Unavailable error;
	// callers must treat it as unknown.
	ProfileExists(ctx context.Context, profileID string) (bool, error)
	// GetProfile fetches the profile object, or NotFound.
	GetProfile(ctx context.Context, profileID string) (*Profile, error)
}

const existenceCacheSize = 4096

// Client is the HTTP implementation of Adapter. Existence answers, both
// found and not found, are memoized in an expiring LRU so hot profiles do
// not hit the chain RPC on every probe. Transport failures are not memoized.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	known      *expirable.LRU[string, bool]
}

// NewClient creates a chain adapter for the given RPC base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		known:      expirable.NewLRU[string, bool](existenceCacheSize, nil, 5*time.Minute),
	}
}

func (c *Client) ProfileExists(ctx context.Context, profileID string) (bool, error) {
	if exists, ok := c.known.Get(profileID); ok {
		return exists, nil
	}

	_, err := c.GetProfile(ctx, profileID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			c.known.Add(profileID, false)
			return false, nil
		}
		return false, err
	}

	c.known.Add(profileID, true)
	return true, nil
}

func (c *Client) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	endpoint := fmt.Sprintf("%s/profiles/%s", c.baseURL, url.PathEscape(profileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.Internal("failed to build chain request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Chain RPC call failed", slog.String("profile_id", profileID), slog.Any("error", err))
		return nil, errs.Unavailable("chain adapter unreachable", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errs.NotFound("profile not found: " + profileID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("Chain RPC returned error status",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return nil, errs.Unavailable(fmt.Sprintf("chain adapter returned %d", resp.StatusCode), nil)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, errs.Unavailable("failed to decode chain response", err)
	}
	if profile.ID == "" {
		profile.ID = profileID
	}
	return &profile, nil
}

// Unconfigured is the adapter used when no chain RPC URL is set. Every
// profile is treated as existing so ingest and subscriptions never block
// on a dependency the operator has not wired up.
type Unconfigured struct{}

func (Unconfigured) ProfileExists(ctx context.Context, profileID string) (bool, error) {
	return true, nil
}

func (Unconfigured) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	return nil, errs.Unavailable("chain adapter not configured", nil)
}
