package storage

import (
	"context"
	"fmt"

	"estate-crawler/models"
)

// CardSink is the interface any backend persisting extracted cards must
// satisfy. UpsertListings returns the number of newly created records.
type CardSink interface {
	UpsertListings(ctx context.Context, cards []models.ListingCard) (int, error)
}

// teeSink writes to a primary sink and then to each mirror.
type teeSink struct {
	primary CardSink
	mirrors []CardSink
}

// Tee returns a CardSink that writes every batch to primary and then to the
// mirrors. The inserted count is the primary's; any error stops the batch.
func Tee(primary CardSink, mirrors ...CardSink) CardSink {
	if len(mirrors) == 0 {
		return primary
	}
	return &teeSink{primary: primary, mirrors: mirrors}
}

func (t *teeSink) UpsertListings(ctx context.Context, cards []models.ListingCard) (int, error) {
	n, err := t.primary.UpsertListings(ctx, cards)
	if err != nil {
		return 0, err
	}
	for _, m := range t.mirrors {
		if _, err := m.UpsertListings(ctx, cards); err != nil {
			return n, fmt.Errorf("storage: mirror sink: %w", err)
		}
	}
	return n, nil
}
