package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"estate-crawler/models"
)

const upsertODSSQL = `
	INSERT INTO ods_listings (
		source_id, source, source_page_url, card_index, title, price_inr, bhk,
		bathrooms, area_sqft, city, image_url, card_text, first_seen_at, last_seen_at,
		price_per_sqft, price_per_bhk, processed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	ON CONFLICT (source_id) DO UPDATE SET
		source          = EXCLUDED.source,
		source_page_url = EXCLUDED.source_page_url,
		card_index      = EXCLUDED.card_index,
		title           = EXCLUDED.title,
		price_inr       = EXCLUDED.price_inr,
		bhk             = EXCLUDED.bhk,
		bathrooms       = EXCLUDED.bathrooms,
		area_sqft       = EXCLUDED.area_sqft,
		city            = EXCLUDED.city,
		image_url       = EXCLUDED.image_url,
		card_text       = EXCLUDED.card_text,
		first_seen_at   = EXCLUDED.first_seen_at,
		last_seen_at    = EXCLUDED.last_seen_at,
		price_per_sqft  = EXCLUDED.price_per_sqft,
		price_per_bhk   = EXCLUDED.price_per_bhk,
		processed_at    = EXCLUDED.processed_at
`

// ODSStore is the cleaning stage's view of the database: it reads staging,
// owns ods_listings and appends to etl_runs.
type ODSStore struct {
	db *sql.DB
}

// NewODSStore wraps an open database handle.
func NewODSStore(db *sql.DB) *ODSStore {
	return &ODSStore{db: db}
}

// LoadStaging reads every staging row in one snapshot, column by column.
func (s *ODSStore) LoadStaging(ctx context.Context) ([]models.StagingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM stg_mb_listings ORDER BY first_seen_at, pk`)
	if err != nil {
		return nil, fmt.Errorf("ods: load staging: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("ods: staging columns: %w", err)
	}

	var out []models.StagingRecord
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("ods: scan staging row: %w", err)
		}
		rec := make(models.StagingRecord, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertCleaned writes one batch of cleaned rows in a single transaction.
func (s *ODSStore) UpsertCleaned(ctx context.Context, batch []models.CleanedListing) error {
	if len(batch) == 0 {
		return nil
	}
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertODSSQL)
		if err != nil {
			return fmt.Errorf("ods: prepare upsert: %w", err)
		}
		defer stmt.Close()

		for i := range batch {
			l := &batch[i]
			if _, err := stmt.ExecContext(ctx,
				l.SourceID, l.Source, l.SourcePageURL, l.CardIndex, l.Title, l.PriceINR, l.BHK,
				l.Bathrooms, l.AreaSqft, l.City, l.ImageURL, l.CardText, l.FirstSeenAt, l.LastSeenAt,
				l.PricePerSqft, l.PricePerBHK, l.ProcessedAt,
			); err != nil {
				return fmt.Errorf("ods: upsert %s: %w", l.SourceID, err)
			}
		}
		return nil
	})
}

// MarkProcessed copies processed_at from ods_listings back onto the
// matching staging rows.
func (s *ODSStore) MarkProcessed(ctx context.Context, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE stg_mb_listings AS s
		SET processed_at = o.processed_at
		FROM ods_listings AS o
		WHERE o.source_id = s.pk AND s.pk = ANY($1)
	`, pq.Array(sourceIDs))
	if err != nil {
		return fmt.Errorf("ods: mark processed: %w", err)
	}
	return nil
}

// CountPresent returns how many of sourceIDs exist in ods_listings.
func (s *ODSStore) CountPresent(ctx context.Context, sourceIDs []string) (int, error) {
	if len(sourceIDs) == 0 {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ods_listings WHERE source_id = ANY($1)`, pq.Array(sourceIDs),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ods: count present: %w", err)
	}
	return n, nil
}

// InsertRun appends one etl_runs audit record.
func (s *ODSStore) InsertRun(ctx context.Context, run models.EtlRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO etl_runs (start_ts, end_ts, rows_in, rows_out, notes) VALUES ($1,$2,$3,$4,$5)`,
		run.StartTS, run.EndTS, run.RowsIn, run.RowsOut, run.Notes,
	)
	if err != nil {
		return fmt.Errorf("ods: insert etl run: %w", err)
	}
	return nil
}

// FetchCleaned retrieves all cleaned listings, used by the insight report.
func (s *ODSStore) FetchCleaned(ctx context.Context) ([]*models.CleanedListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, source, title, price_inr, bhk, bathrooms, area_sqft, city,
		       price_per_sqft, price_per_bhk, processed_at
		FROM ods_listings
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("ods: fetch cleaned: %w", err)
	}
	defer rows.Close()

	var listings []*models.CleanedListing
	for rows.Next() {
		l := &models.CleanedListing{}
		var (
			source, title, city sql.NullString
			baths, ppsf, ppbhk  sql.NullFloat64
		)
		if err := rows.Scan(
			&l.SourceID, &source, &title, &l.PriceINR, &l.BHK, &baths, &l.AreaSqft, &city,
			&ppsf, &ppbhk, &l.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("ods: scan row: %w", err)
		}
		l.Source = nullString(source)
		l.Title = nullString(title)
		l.City = nullString(city)
		l.Bathrooms = nullFloat(baths)
		l.PricePerSqft = nullFloat(ppsf)
		l.PricePerBHK = nullFloat(ppbhk)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
