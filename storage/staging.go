package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"estate-crawler/models"
	"estate-crawler/utils"
)

// upsertStagingSQL merges a re-observed card: non-null incoming fields win,
// null fields keep what is stored, last_seen_at always advances.
const upsertStagingSQL = `
	INSERT INTO stg_mb_listings (
		pk, source, source_page_url, card_index, title, price_inr, bhk,
		bathrooms, area_sqft, city, image_url, card_text, first_seen_at, last_seen_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
	ON CONFLICT (pk) DO UPDATE SET
		title        = COALESCE(EXCLUDED.title,     stg_mb_listings.title),
		price_inr    = COALESCE(EXCLUDED.price_inr, stg_mb_listings.price_inr),
		bhk          = COALESCE(EXCLUDED.bhk,       stg_mb_listings.bhk),
		bathrooms    = COALESCE(EXCLUDED.bathrooms, stg_mb_listings.bathrooms),
		area_sqft    = COALESCE(EXCLUDED.area_sqft, stg_mb_listings.area_sqft),
		city         = COALESCE(EXCLUDED.city,      stg_mb_listings.city),
		image_url    = COALESCE(EXCLUDED.image_url, stg_mb_listings.image_url),
		card_text    = COALESCE(NULLIF(EXCLUDED.card_text, ''), stg_mb_listings.card_text),
		last_seen_at = EXCLUDED.last_seen_at
	RETURNING (xmax = 0) AS inserted
`

// StagingSink upserts extracted cards into stg_mb_listings.
type StagingSink struct {
	db     *sql.DB
	logger *utils.Logger
	now    func() time.Time
}

// NewStagingSink wraps an open database handle.
func NewStagingSink(db *sql.DB, logger *utils.Logger) *StagingSink {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &StagingSink{db: db, logger: logger, now: time.Now}
}

// UpsertListings writes the whole batch in one transaction and returns how
// many rows were newly inserted. Any error rolls the batch back.
func (s *StagingSink) UpsertListings(ctx context.Context, cards []models.ListingCard) (int, error) {
	if len(cards) == 0 {
		return 0, nil
	}

	now := s.now().UTC()
	inserted := 0

	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertStagingSQL)
		if err != nil {
			return fmt.Errorf("staging: prepare upsert: %w", err)
		}
		defer stmt.Close()

		for i := range cards {
			c := &cards[i]
			var isNew bool
			err := stmt.QueryRowContext(ctx,
				c.PK(), c.Source, c.SourcePageURL, c.CardIndex, c.Title, c.PriceINR, c.BHK,
				c.Bathrooms, c.AreaSqft, c.City, c.ImageURL, c.CardText, now,
			).Scan(&isNew)
			if err != nil {
				return fmt.Errorf("staging: upsert %s card %d: %w", c.SourcePageURL, c.CardIndex, err)
			}
			if isNew {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("[staging] DB upsert error, batch of %d rolled back: %v", len(cards), err)
		return 0, err
	}
	return inserted, nil
}
