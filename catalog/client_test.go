package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioshelf/curio/config"
	"github.com/curioshelf/curio/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.CatalogConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		TimeoutSeconds: 5,
	})
}

func TestHTTPClientGetItem(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/items/itm_1", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"itm_1","name":"1952 Topps Mantle","category":"cards","price_cents":1250000}`))
		})

		item, err := client.GetItem(context.Background(), "itm_1")
		require.NoError(t, err)
		assert.Equal(t, "itm_1", item.ID)
		assert.Equal(t, "1952 Topps Mantle", item.Name)
		assert.Equal(t, int64(1250000), item.PriceCents)
	})

	t.Run("not found", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := client.GetItem(context.Background(), "itm_missing")
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("client error is marked invalid", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		})

		_, err := client.GetItem(context.Background(), "itm_1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})

	t.Run("server error is retryable", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := client.GetItem(context.Background(), "itm_1")
		require.Error(t, err)
		assert.False(t, errors.Is(err, errors.ErrInvalidRequest))
		assert.False(t, errors.IsNotFoundError(err))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(time.Second)
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.GetItem(ctx, "itm_1")
		require.Error(t, err)
	})
}

func TestHTTPClientListCategory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		assert.Equal(t, "cards", r.URL.Query().Get("category"))
		w.Write([]byte(`[{"id":"itm_1"},{"id":"itm_2"}]`))
	})

	items, err := client.ListCategory(context.Background(), "cards")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestHTTPClientUserCollection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/usr_9/collection", r.URL.Path)
		w.Write([]byte(`[{"id":"itm_3"}]`))
	})

	items, err := client.UserCollection(context.Background(), "usr_9")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "itm_3", items[0].ID)
}

func TestHTTPClientSearch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "mantle", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Write([]byte(`[{"id":"itm_1"}]`))
	})

	items, err := client.Search(context.Background(), "mantle", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
