package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"estate-crawler/models"
)

func newODSMock(t *testing.T) (*ODSStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewODSStore(db), mock
}

func TestLoadStagingKeepsColumns(t *testing.T) {
	store, mock := newODSMock(t)
	seen := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"pk", "price_inr", "area_sqft", "city", "first_seen_at"}).
		AddRow("abc", int64(5000000), 950.5, "pune", seen).
		AddRow("def", nil, nil, nil, seen)
	mock.ExpectQuery("SELECT \\* FROM stg_mb_listings").WillReturnRows(rows)

	recs, err := store.LoadStaging(context.Background())
	if err != nil {
		t.Fatalf("LoadStaging: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records: got %d, want 2", len(recs))
	}
	if recs[0]["pk"] != "abc" || recs[0]["price_inr"] != int64(5000000) {
		t.Errorf("first record: got %v", recs[0])
	}
	if v, ok := recs[1]["price_inr"]; !ok || v != nil {
		t.Errorf("null column should be present as nil, got %v (present=%v)", v, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertCleanedSingleTransaction(t *testing.T) {
	store, mock := newODSMock(t)
	now := time.Now().UTC()
	batch := []models.CleanedListing{
		{SourceID: "a", PriceINR: 1000000, BHK: 2, AreaSqft: 500, ProcessedAt: now},
		{SourceID: "b", PriceINR: 2000000, BHK: 3, AreaSqft: 900, ProcessedAt: now},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO ods_listings")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	if err := store.UpsertCleaned(context.Background(), batch); err != nil {
		t.Fatalf("UpsertCleaned: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertCleanedRollsBack(t *testing.T) {
	store, mock := newODSMock(t)
	batch := []models.CleanedListing{{SourceID: "a"}, {SourceID: "b"}}
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO ods_listings")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(boom)
	mock.ExpectRollback()

	if err := store.UpsertCleaned(context.Background(), batch); !errors.Is(err, boom) {
		t.Fatalf("expected error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMarkProcessedAndCount(t *testing.T) {
	store, mock := newODSMock(t)
	ids := []string{"a", "b"}

	mock.ExpectExec("UPDATE stg_mb_listings").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ods_listings").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	if err := store.MarkProcessed(context.Background(), ids); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	n, err := store.CountPresent(context.Background(), ids)
	if err != nil || n != 2 {
		t.Fatalf("CountPresent: got %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertRun(t *testing.T) {
	store, mock := newODSMock(t)
	run := models.EtlRun{
		StartTS: time.Now().UTC(),
		EndTS:   time.Now().UTC(),
		RowsIn:  0,
		RowsOut: 0,
		Notes:   "no rows",
	}

	mock.ExpectExec("INSERT INTO etl_runs").
		WithArgs(run.StartTS, run.EndTS, 0, 0, "no rows").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.InsertRun(context.Background(), run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFetchCleaned(t *testing.T) {
	store, mock := newODSMock(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"source_id", "source", "title", "price_inr", "bhk", "bathrooms", "area_sqft", "city",
		"price_per_sqft", "price_per_bhk", "processed_at",
	}).
		AddRow("a", "magicbricks", "Flat A", int64(1000000), int64(2), 2.0, 500.0, "Pune", 2000.0, 500000.0, now).
		AddRow("b", nil, nil, int64(3000000), int64(3), nil, 1000.0, nil, 3000.0, 1000000.0, now)
	mock.ExpectQuery("SELECT source_id").WillReturnRows(rows)

	got, err := store.FetchCleaned(context.Background())
	if err != nil {
		t.Fatalf("FetchCleaned: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows: got %d", len(got))
	}
	if got[0].City == nil || *got[0].City != "Pune" || got[0].PriceINR != 1000000 {
		t.Errorf("first row: %+v", got[0])
	}
	if got[1].City != nil || got[1].Bathrooms != nil || got[1].Title != nil {
		t.Errorf("null columns should map to nil: %+v", got[1])
	}
}

func TestUpsertODSOverwritesEveryColumn(t *testing.T) {
	got := setClause(t, upsertODSSQL)

	cols := []string{
		"source", "source_page_url", "card_index", "title", "price_inr", "bhk",
		"bathrooms", "area_sqft", "city", "image_url", "card_text", "first_seen_at",
		"last_seen_at", "price_per_sqft", "price_per_bhk", "processed_at",
	}
	for _, col := range cols {
		if want := "EXCLUDED." + col; got[col] != want {
			t.Errorf("%s: got %q, want %q", col, got[col], want)
		}
	}
	if len(got) != len(cols) {
		t.Errorf("unexpected assignments: %v", got)
	}
	if !strings.Contains(upsertODSSQL, "ON CONFLICT (source_id)") {
		t.Error("ods upsert must conflict on source_id")
	}
}
