package catalog

import (
	"database/sql"
	"time"

	"github.com/curioshelf/curio/errors"
)

// Repository persists the local catalog mirror that sync jobs maintain.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertItem inserts or refreshes a mirrored item.
func (r *Repository) UpsertItem(item *Item) error {
	query := `
		INSERT INTO catalog_items (id, name, category, price_cents, updated_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			price_cents = excluded.price_cents,
			updated_at = excluded.updated_at,
			synced_at = excluded.synced_at
	`

	_, err := r.db.Exec(query,
		item.ID,
		item.Name,
		item.Category,
		item.PriceCents,
		item.UpdatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to upsert catalog item")
		err = errors.WithDetailf(err, "Item ID: %s", item.ID)
		return err
	}

	return nil
}

// GetItem returns a mirrored item by ID.
func (r *Repository) GetItem(id string) (*Item, error) {
	query := `
		SELECT id, name, category, price_cents, updated_at
		FROM catalog_items
		WHERE id = ?
	`

	var item Item
	err := r.db.QueryRow(query, id).Scan(
		&item.ID,
		&item.Name,
		&item.Category,
		&item.PriceCents,
		&item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "catalog item %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get catalog item")
	}

	return &item, nil
}

// CountItems returns the number of mirrored items.
func (r *Repository) CountItems() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM catalog_items`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count catalog items")
	}
	return count, nil
}
