// Package catalog implements the marketplace's catalog domain: a client for
// the third-party catalog service, a local item repository, and the job
// handlers that keep the two in sync.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/curioshelf/curio/config"
	"github.com/curioshelf/curio/errors"
)

// Item is a collectible listing as the catalog service reports it.
type Item struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	PriceCents int64     `json:"price_cents"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Client reads from the third-party catalog service.
type Client interface {
	// GetItem fetches a single item. Returns an error wrapping
	// errors.ErrNotFound when the service has no such item.
	GetItem(ctx context.Context, id string) (*Item, error)

	// ListCategory returns every item in a category.
	ListCategory(ctx context.Context, category string) ([]Item, error)

	// UserCollection returns the items in a user's collection.
	UserCollection(ctx context.Context, userID string) ([]Item, error)

	// Search returns up to limit items matching the query.
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}

// HTTPClient is the production Client over the catalog service's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a catalog service client from configuration.
func NewClient(cfg config.CatalogConfig) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) GetItem(ctx context.Context, id string) (*Item, error) {
	var item Item
	if err := c.getJSON(ctx, "/items/"+url.PathEscape(id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *HTTPClient) ListCategory(ctx context.Context, category string) ([]Item, error) {
	var items []Item
	query := url.Values{"category": {category}}
	if err := c.getJSON(ctx, "/items", query, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *HTTPClient) UserCollection(ctx context.Context, userID string) ([]Item, error) {
	var items []Item
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/collection", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *HTTPClient) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	var items []Item
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if err := c.getJSON(ctx, "/search", params, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build catalog request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "catalog request failed: GET %s", path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(errors.ErrNotFound, "catalog: GET %s", path)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Client errors will not succeed on retry; handlers treat
		// ErrInvalidRequest as permanent
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Wrapf(errors.ErrInvalidRequest, "catalog rejected request: GET %s: %s: %s",
			path, resp.Status, string(body))
	default:
		return errors.Newf("catalog unavailable: GET %s: %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode catalog response: GET %s", path)
	}
	return nil
}

// CacheKey names the warmup cache entry for an item.
func CacheKey(itemID string) string {
	return fmt.Sprintf("item:%s", itemID)
}

// CollectionCacheKey names the warmup cache entry for a user's collection.
func CollectionCacheKey(userID string) string {
	return fmt.Sprintf("collection:%s", userID)
}

// SearchCacheKey names the warmup cache entry for a search query.
func SearchCacheKey(query string) string {
	return fmt.Sprintf("search:%s", query)
}
