package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"estate-crawler/metrics"
	"estate-crawler/models"
	"estate-crawler/utils"
)

// ETLStore is the persistence the ETL stage needs. storage.ODSStore
// satisfies it.
type ETLStore interface {
	LoadStaging(ctx context.Context) ([]models.StagingRecord, error)
	UpsertCleaned(ctx context.Context, batch []models.CleanedListing) error
	CountPresent(ctx context.Context, sourceIDs []string) (int, error)
	MarkProcessed(ctx context.Context, sourceIDs []string) error
	InsertRun(ctx context.Context, run models.EtlRun) error
}

// ETL moves the staging snapshot into ods_listings in batches.
type ETL struct {
	store     ETLStore
	cleaner   *Cleaner
	batchSize int
	logger    *utils.Logger
	metrics   *metrics.Metrics
	runID     string
	now       func() time.Time
}

// NewETL wires an ETL run. A batchSize below 1 falls back to 1000; m may
// be nil.
func NewETL(store ETLStore, cleaner *Cleaner, batchSize int, logger *utils.Logger, m *metrics.Metrics) *ETL {
	if batchSize < 1 {
		batchSize = 1000
	}
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &ETL{
		store:     store,
		cleaner:   cleaner,
		batchSize: batchSize,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// WithRunID tags the etl_runs notes with an identifier shared with the
// crawl audit files.
func (e *ETL) WithRunID(id string) *ETL {
	e.runID = id
	return e
}

// Run processes every staging row present at the start of the run. Rows
// inserted into staging while it runs are left for the next run.
func (e *ETL) Run(ctx context.Context) (models.EtlRun, error) {
	start := e.now().UTC()

	records, err := e.store.LoadStaging(ctx)
	if err != nil {
		return models.EtlRun{}, fmt.Errorf("etl: load staging: %w", err)
	}

	if len(records) == 0 {
		run := models.EtlRun{StartTS: start, EndTS: e.now().UTC(), Notes: e.notes("no rows")}
		if err := e.store.InsertRun(ctx, run); err != nil {
			return run, fmt.Errorf("etl: record run: %w", err)
		}
		e.logger.Info("[etl] No staging rows to process")
		e.metrics.ObserveETL(0, 0)
		return run, nil
	}

	sourceIDs := snapshotIDs(records)
	e.logger.Info("[etl] Processing %d staging rows in batches of %d", len(records), e.batchSize)

	for lo := 0; lo < len(records); lo += e.batchSize {
		if err := ctx.Err(); err != nil {
			return models.EtlRun{}, err
		}
		hi := min(lo+e.batchSize, len(records))

		cleaned := e.cleaner.CleanBatch(records[lo:hi], e.now())
		if len(cleaned) == 0 {
			e.logger.Debug("[etl] Batch %d-%d had no valid rows", lo, hi)
			continue
		}
		if err := e.store.UpsertCleaned(ctx, cleaned); err != nil {
			return models.EtlRun{}, fmt.Errorf("etl: upsert batch %d-%d: %w", lo, hi, err)
		}
		e.logger.Info("[etl] Upserted batch %d-%d (%d rows)", lo, hi, len(cleaned))
	}

	end := e.now().UTC()

	rowsOut, err := e.store.CountPresent(ctx, sourceIDs)
	if err != nil {
		return models.EtlRun{}, fmt.Errorf("etl: count loaded rows: %w", err)
	}
	if err := e.store.MarkProcessed(ctx, sourceIDs); err != nil {
		return models.EtlRun{}, fmt.Errorf("etl: mark processed: %w", err)
	}

	run := models.EtlRun{
		StartTS: start,
		EndTS:   end,
		RowsIn:  len(sourceIDs),
		RowsOut: rowsOut,
		Notes:   e.notes(fmt.Sprintf("Processed snapshot of %d staging rows", len(sourceIDs))),
	}
	if err := e.store.InsertRun(ctx, run); err != nil {
		return run, fmt.Errorf("etl: record run: %w", err)
	}

	e.metrics.ObserveETL(run.RowsIn, run.RowsOut)
	e.logger.Info("[etl] Done: rows_in=%d rows_out=%d in %s", run.RowsIn, run.RowsOut, end.Sub(start).Round(time.Millisecond))
	return run, nil
}

func (e *ETL) notes(msg string) string {
	if e.runID == "" {
		return msg
	}
	return fmt.Sprintf("%s (run %s)", msg, e.runID)
}

// snapshotIDs returns the pk of every record in the snapshot.
func snapshotIDs(records []models.StagingRecord) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		pk := toString(NormalizeColumns(rec)["pk"])
		if pk == nil || strings.TrimSpace(*pk) == "" {
			continue
		}
		ids = append(ids, strings.TrimSpace(*pk))
	}
	return ids
}
