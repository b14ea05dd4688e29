package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"matching-engine/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetItemByID retrieves an item by ID
func (s *Store) GetItemByID(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	err := s.db.GetContext(ctx, &item, "SELECT * FROM items WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItemsByIDs retrieves multiple items by ID
func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) ([]models.Item, error) {
	if len(ids) == 0 {
		return []models.Item{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM items WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.Item
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}

// CreateItem persists a new item
func (s *Store) CreateItem(ctx context.Context, item *models.Item) error {
	query := `
		INSERT INTO items (id, owner_id, category_id, title, description, estimated_value,
			condition, district, city, governorate, country, status,
			desired_category_id, desired_description)
		VALUES (:id, :owner_id, :category_id, :title, :description, :estimated_value,
			:condition, :district, :city, :governorate, :country, :status,
			:desired_category_id, :desired_description)`

	_, err := s.db.NamedExecContext(ctx, query, item)
	return err
}

// UpdateItemStatus updates an item status unconditionally
func (s *Store) UpdateItemStatus(ctx context.Context, itemID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE items SET status = $1, updated_at = NOW() WHERE id = $2",
		status, itemID)
	return err
}

// TransitionItemStatus moves an item from one status to another and
// reports whether the transition happened. A false result means the
// item was not in the expected status (or does not exist).
func (s *Store) TransitionItemStatus(ctx context.Context, itemID, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE items SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, itemID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetItemStatuses returns the current status of each item
func (s *Store) GetItemStatuses(ctx context.Context, ids []string) (map[string]string, error) {
	items, err := s.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]string, len(items))
	for i := range items {
		statuses[items[i].ID] = items[i].Status
	}
	return statuses, nil
}

// GetCategories retrieves the whole category taxonomy
func (s *Store) GetCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	err := s.db.SelectContext(ctx, &categories, "SELECT * FROM categories ORDER BY id")
	return categories, err
}

// CandidateFilter bounds a candidate index query. Geography fields are
// used only to order results, never to exclude them.
type CandidateFilter struct {
	CategoryIDs []string
	PriceMin    int64
	PriceMax    int64
	Conditions  []string
	Governorate string
	City        string
	District    string
	Limit       int
}

// FindItemCandidates returns active items matching the filter, ordered
// by geographic proximity to the filter's location hint, newest first
// within a tier. The result is capped at filter.Limit+1 so the caller
// can detect truncation.
func (s *Store) FindItemCandidates(ctx context.Context, f CandidateFilter) ([]models.Item, error) {
	if len(f.CategoryIDs) == 0 {
		return []models.Item{}, nil
	}

	query := `
		SELECT * FROM items
		WHERE status = ? AND category_id IN (?)`
	args := []interface{}{models.ItemStatusActive, f.CategoryIDs}

	if f.PriceMin > 0 {
		query += " AND estimated_value >= ?"
		args = append(args, f.PriceMin)
	}
	if f.PriceMax > 0 {
		query += " AND estimated_value <= ?"
		args = append(args, f.PriceMax)
	}
	if len(f.Conditions) > 0 {
		query += " AND condition IN (?)"
		args = append(args, f.Conditions)
	}

	query += `
		ORDER BY (governorate = ?) DESC, (city = ?) DESC, (district = ?) DESC, created_at DESC
		LIMIT ?`
	args = append(args, f.Governorate, f.City, f.District, f.Limit+1)

	query, flatArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.Item
	err = s.db.SelectContext(ctx, &items, query, flatArgs...)
	return items, err
}

// FindDemandCandidates returns outstanding demand requests whose
// category and price band are compatible with the given item.
func (s *Store) FindDemandCandidates(ctx context.Context, categoryIDs []string, value int64, limit int) ([]models.DemandRequest, error) {
	if len(categoryIDs) == 0 {
		return []models.DemandRequest{}, nil
	}

	query := `
		SELECT * FROM demand_requests
		WHERE category_id IN (?)
		  AND (price_min = 0 OR price_min <= ?)
		  AND (price_max = 0 OR price_max >= ?)
		ORDER BY created_at DESC
		LIMIT ?`

	query, args, err := sqlx.In(query, categoryIDs, value, value, limit+1)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var requests []models.DemandRequest
	err = s.db.SelectContext(ctx, &requests, query, args...)
	return requests, err
}

// GetBarterPool returns active items carrying barter preferences, the
// node set for the want/offer graph. Bounded like every candidate query.
func (s *Store) GetBarterPool(ctx context.Context, limit int) ([]models.Item, error) {
	var items []models.Item
	err := s.db.SelectContext(ctx, &items, `
		SELECT * FROM items
		WHERE status = $1 AND (desired_category_id <> '' OR desired_description <> '')
		ORDER BY created_at DESC
		LIMIT $2`,
		models.ItemStatusActive, limit)
	return items, err
}

// GetOfferByID retrieves a barter offer by ID
func (s *Store) GetOfferByID(ctx context.Context, id string) (*models.BarterOffer, error) {
	var offer models.BarterOffer
	err := s.db.GetContext(ctx, &offer, "SELECT * FROM barter_offers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("offer %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// GetOfferItemIDs retrieves the item IDs bundled into an offer
func (s *Store) GetOfferItemIDs(ctx context.Context, offerID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT item_id FROM barter_offer_items WHERE offer_id = $1 ORDER BY item_id", offerID)
	return ids, err
}

// ExpireOffers transitions pending offers past their deadline and
// returns how many were expired.
func (s *Store) ExpireOffers(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE barter_offers SET status = $1 WHERE status = $2 AND expires_at <= $3",
		models.OfferStatusExpired, models.OfferStatusPending, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
