package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"matching-engine/internal/models"
)

// InsertMatch persists a match. (source_id, target_id, kind) is unique,
// so replaying the same triggering event is a no-op. Reports whether a
// new row was created.
func (s *Store) InsertMatch(ctx context.Context, m *models.Match) (bool, error) {
	m.Reason = strings.TrimSpace(m.Reason)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (id, source_id, target_id, source_owner_id, target_owner_id, kind, score, tier, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_id, target_id, kind) DO NOTHING`,
		m.ID, m.SourceID, m.TargetID, m.SourceOwnerID, m.TargetOwnerID, m.Kind, m.Score, m.Tier, m.Reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetMatchesForItem retrieves matches where the item is either side,
// restricted to the requesting user's own items.
func (s *Store) GetMatchesForItem(ctx context.Context, itemID, userID string) ([]models.Match, error) {
	var matches []models.Match
	err := s.db.SelectContext(ctx, &matches, `
		SELECT * FROM matches
		WHERE (source_id = $1 AND source_owner_id = $2)
		   OR (target_id = $1 AND target_owner_id = $2)
		ORDER BY score DESC, created_at ASC`,
		itemID, userID)
	return matches, err
}

// GetMatchesForUser retrieves all matches touching the user
func (s *Store) GetMatchesForUser(ctx context.Context, userID string) ([]models.Match, error) {
	var matches []models.Match
	err := s.db.SelectContext(ctx, &matches, `
		SELECT * FROM matches
		WHERE source_owner_id = $1 OR target_owner_id = $1
		ORDER BY score DESC, created_at ASC`,
		userID)
	return matches, err
}

// DeleteMatchesForItem removes matches referencing a deleted item
func (s *Store) DeleteMatchesForItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM matches WHERE source_id = $1 OR target_id = $1", itemID)
	return err
}

// CreateChain persists a chain and its participants in one transaction.
// The signature is unique; re-discovering an already-persisted chain
// reports created=false and writes nothing.
func (s *Store) CreateChain(ctx context.Context, chain *models.BarterChain, participants []models.ChainParticipant) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO barter_chains (id, signature, match_score, algorithm_version, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signature) DO NOTHING`,
		chain.ID, chain.Signature, chain.MatchScore, chain.AlgorithmVersion, chain.Status, chain.ExpiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	for i := range participants {
		p := &participants[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chain_participants (id, chain_id, user_id, giving_item_id, receiving_item_id, position, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.ChainID, p.UserID, p.GivingItemID, p.ReceivingItemID, p.Position, p.Status)
		if err != nil {
			return false, fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	return true, tx.Commit()
}

// GetChainByID retrieves a chain with its participants in position order
func (s *Store) GetChainByID(ctx context.Context, id string) (*models.BarterChain, error) {
	var chain models.BarterChain
	err := s.db.GetContext(ctx, &chain, "SELECT * FROM barter_chains WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chain %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &chain.Participants,
		"SELECT * FROM chain_participants WHERE chain_id = $1 ORDER BY position", id)
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

// UpdateChainStatus moves a chain from one status to another and
// reports whether the transition happened.
func (s *Store) UpdateChainStatus(ctx context.Context, chainID, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE barter_chains SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, chainID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetParticipantStatus records one participant's accept/reject answer
func (s *Store) SetParticipantStatus(ctx context.Context, chainID, userID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chain_participants SET status = $1
		WHERE chain_id = $2 AND user_id = $3 AND status = $4`,
		status, chainID, userID, models.ParticipantStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetPendingChainsForItem retrieves PENDING chains that reference the
// item on either leg.
func (s *Store) GetPendingChainsForItem(ctx context.Context, itemID string) ([]models.BarterChain, error) {
	var chains []models.BarterChain
	err := s.db.SelectContext(ctx, &chains, `
		SELECT c.* FROM barter_chains c
		JOIN chain_participants p ON p.chain_id = c.id
		WHERE c.status = $1 AND (p.giving_item_id = $2 OR p.receiving_item_id = $2)
		GROUP BY c.id`,
		models.ChainStatusPending, itemID)
	return chains, err
}

// ExpireChains transitions pending chains past their deadline and
// returns their IDs so the caller can free the participant items.
func (s *Store) ExpireChains(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE barter_chains SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= $3
		RETURNING id`,
		models.ChainStatusExpired, models.ChainStatusPending, now)
	return ids, err
}

// GetChainItemIDs returns the giving item of every participant
func (s *Store) GetChainItemIDs(ctx context.Context, chainID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT giving_item_id FROM chain_participants WHERE chain_id = $1 ORDER BY position", chainID)
	return ids, err
}

// GetMatchingStats aggregates persisted match/chain counts
func (s *Store) GetMatchingStats(ctx context.Context) (*models.MatchingStats, error) {
	stats := &models.MatchingStats{
		MatchesByKind:  make(map[string]int64),
		ChainsByStatus: make(map[string]int64),
	}

	type kindCount struct {
		Kind  string `db:"kind"`
		Count int64  `db:"count"`
	}
	var kinds []kindCount
	if err := s.db.SelectContext(ctx, &kinds,
		"SELECT kind, COUNT(*) AS count FROM matches GROUP BY kind"); err != nil {
		return nil, err
	}
	for _, k := range kinds {
		stats.MatchesByKind[k.Kind] = k.Count
		stats.TotalMatches += k.Count
	}

	type statusCount struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	var statuses []statusCount
	if err := s.db.SelectContext(ctx, &statuses,
		"SELECT status, COUNT(*) AS count FROM barter_chains GROUP BY status"); err != nil {
		return nil, err
	}
	for _, st := range statuses {
		stats.ChainsByStatus[st.Status] = st.Count
	}

	if err := s.db.GetContext(ctx, &stats.ActiveItems,
		"SELECT COUNT(*) FROM items WHERE status = $1", models.ItemStatusActive); err != nil {
		return nil, err
	}
	if err := s.db.GetContext(ctx, &stats.PendingOffers,
		"SELECT COUNT(*) FROM barter_offers WHERE status = $1", models.OfferStatusPending); err != nil {
		return nil, err
	}
	return stats, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
