package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/curioshelf/curio/cache"
	"github.com/curioshelf/curio/errors"
	"github.com/curioshelf/curio/queue"
)

// NewHandlers builds the full set of catalog job handlers. The returned
// slice registers one handler per job type.
func NewHandlers(client Client, repo *Repository, warmCache cache.Cache, store queue.Store) []queue.Handler {
	return []queue.Handler{
		&ItemSyncHandler{client: client, repo: repo},
		&BulkSyncHandler{client: client, repo: repo, store: store},
		&CacheWarmupHandler{client: client, repo: repo, cache: warmCache, store: store},
		&CollectionSyncHandler{client: client, repo: repo, cache: warmCache, store: store},
		&SearchPrefetchHandler{client: client, cache: warmCache, store: store},
	}
}

// decodePayload unmarshals a job payload, marking malformed payloads
// permanent: a payload that fails to decode today fails tomorrow too.
func decodePayload(job *queue.Job, out any) error {
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return queue.Permanent(errors.Wrapf(err, "invalid %s payload", job.Type))
	}
	return nil
}

// asJobError maps catalog client failures onto retry semantics: requests the
// service rejected outright are permanent, everything else retries.
func asJobError(err error) error {
	if errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
		return queue.Permanent(err)
	}
	return err
}

// ItemSyncPayload selects the item for a catalog_item_sync job.
type ItemSyncPayload struct {
	ItemID string `json:"item_id"`
}

// ItemSyncHandler mirrors a single catalog item into the local repository.
type ItemSyncHandler struct {
	client Client
	repo   *Repository
}

func (h *ItemSyncHandler) Type() queue.JobType { return queue.TypeCatalogItemSync }

func (h *ItemSyncHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload ItemSyncPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if payload.ItemID == "" {
		return nil, queue.Permanent(errors.New("item_id is required"))
	}

	item, err := h.client.GetItem(ctx, payload.ItemID)
	if err != nil {
		return nil, asJobError(err)
	}
	if err := h.repo.UpsertItem(item); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"item_id":   item.ID,
		"synced_at": time.Now().UTC(),
	})
}

// BulkSyncPayload selects the category for a catalog_bulk_sync job.
type BulkSyncPayload struct {
	Category string `json:"category"`
}

// BulkSyncHandler mirrors a whole catalog category, reporting progress as
// it works through the listing.
type BulkSyncHandler struct {
	client Client
	repo   *Repository
	store  queue.Store
}

func (h *BulkSyncHandler) Type() queue.JobType { return queue.TypeCatalogBulkSync }

func (h *BulkSyncHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload BulkSyncPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if payload.Category == "" {
		return nil, queue.Permanent(errors.New("category is required"))
	}

	items, err := h.client.ListCategory(ctx, payload.Category)
	if err != nil {
		return nil, asJobError(err)
	}

	progress := queue.NewProgressReporter(h.store, job)
	defer progress.Flush()

	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.repo.UpsertItem(&items[i]); err != nil {
			return nil, err
		}
		progress.Report(i+1, len(items))
	}

	return json.Marshal(map[string]any{
		"category": payload.Category,
		"synced":   len(items),
	})
}

// CacheWarmupPayload lists the items a cache_warmup job loads ahead of demand.
type CacheWarmupPayload struct {
	ItemIDs    []string `json:"item_ids"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

// CacheWarmupHandler pre-loads item entries into the warmup cache, reading
// from the local mirror and falling back to the catalog service for items
// not yet synced.
type CacheWarmupHandler struct {
	client Client
	repo   *Repository
	cache  cache.Cache
	store  queue.Store
}

func (h *CacheWarmupHandler) Type() queue.JobType { return queue.TypeCacheWarmup }

func (h *CacheWarmupHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload CacheWarmupPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if len(payload.ItemIDs) == 0 {
		return nil, queue.Permanent(errors.New("item_ids is required"))
	}

	ttl := time.Duration(payload.TTLSeconds) * time.Second
	progress := queue.NewProgressReporter(h.store, job)
	defer progress.Flush()

	warmed, missing := 0, 0
	for i, id := range payload.ItemIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, err := h.repo.GetItem(id)
		if errors.IsNotFoundError(err) {
			item, err = h.client.GetItem(ctx, id)
			if errors.Is(err, errors.ErrNotFound) {
				// Unknown items are skipped, not fatal: warmup is best effort
				// over a possibly stale id list
				missing++
				progress.Report(i+1, len(payload.ItemIDs))
				continue
			}
		}
		if err != nil {
			return nil, asJobError(err)
		}

		data, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		if err := h.cache.Set(ctx, CacheKey(id), string(data), ttl); err != nil {
			return nil, err
		}

		warmed++
		progress.Report(i+1, len(payload.ItemIDs))
	}

	return json.Marshal(map[string]any{
		"warmed":  warmed,
		"missing": missing,
	})
}

// CollectionSyncPayload selects the user for a user_collection_sync job.
type CollectionSyncPayload struct {
	UserID string `json:"user_id"`
}

// CollectionSyncHandler mirrors a user's collection items and caches the
// collection listing for the web tier.
type CollectionSyncHandler struct {
	client Client
	repo   *Repository
	cache  cache.Cache
	store  queue.Store
}

func (h *CollectionSyncHandler) Type() queue.JobType { return queue.TypeUserCollectionSync }

func (h *CollectionSyncHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload CollectionSyncPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if payload.UserID == "" {
		return nil, queue.Permanent(errors.New("user_id is required"))
	}

	items, err := h.client.UserCollection(ctx, payload.UserID)
	if err != nil {
		return nil, asJobError(err)
	}

	progress := queue.NewProgressReporter(h.store, job)
	defer progress.Flush()

	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.repo.UpsertItem(&items[i]); err != nil {
			return nil, err
		}
		progress.Report(i+1, len(items))
	}

	listing, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	if err := h.cache.Set(ctx, CollectionCacheKey(payload.UserID), string(listing), 0); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"user_id": payload.UserID,
		"items":   len(items),
	})
}

// SearchPrefetchPayload lists the queries a search_prefetch job warms.
type SearchPrefetchPayload struct {
	Queries []string `json:"queries"`
	Limit   int      `json:"limit,omitempty"`
}

const defaultSearchLimit = 50

// SearchPrefetchHandler runs popular searches ahead of demand and caches
// their results.
type SearchPrefetchHandler struct {
	client Client
	cache  cache.Cache
	store  queue.Store
}

func (h *SearchPrefetchHandler) Type() queue.JobType { return queue.TypeSearchPrefetch }

func (h *SearchPrefetchHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload SearchPrefetchPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}
	if len(payload.Queries) == 0 {
		return nil, queue.Permanent(errors.New("queries is required"))
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	progress := queue.NewProgressReporter(h.store, job)
	defer progress.Flush()

	for i, q := range payload.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results, err := h.client.Search(ctx, q, limit)
		if err != nil {
			return nil, asJobError(err)
		}

		data, err := json.Marshal(results)
		if err != nil {
			return nil, err
		}
		if err := h.cache.Set(ctx, SearchCacheKey(q), string(data), 0); err != nil {
			return nil, err
		}

		progress.Report(i+1, len(payload.Queries))
	}

	return json.Marshal(map[string]any{
		"prefetched": len(payload.Queries),
	})
}
