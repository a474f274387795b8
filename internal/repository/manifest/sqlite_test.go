package manifest

import (
	"context"
	"testing"

	domain "github.com/quantbolt/nsedata/internal/manifest"
	"github.com/quantbolt/nsedata/internal/platform/sqlite"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecord_And_ListByRun(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)
	ctx := context.Background()

	fetches := []*domain.Fetch{
		{Year: 2024, Symbol: "NIFTY", Instrument: "FUTIDX", Expiry: "25-Jan-2024",
			StartDate: "26-11-2023", EndDate: "26-01-2024",
			Status: domain.StatusOK, Path: "nse_data/2024/NIFTY/FUTIDX/a.csv", Bytes: 1024},
		{Year: 2024, Symbol: "NIFTY", Instrument: "FUTIDX", Expiry: "29-Feb-2024",
			StartDate: "31-12-2023", EndDate: "01-03-2024",
			Status: domain.StatusFailed, Error: "chain endpoint returned HTTP 500"},
		{Year: 2023, Symbol: "NIFTY", Instrument: "FUTIDX", Expiry: "28-Dec-2023",
			StartDate: "29-10-2023", EndDate: "29-12-2023",
			Status: domain.StatusOK, Path: "nse_data/2023/NIFTY/FUTIDX/b.csv", Bytes: 2048},
	}
	for _, f := range fetches {
		if err := repo.Record(ctx, f); err != nil {
			t.Fatalf("record: %v", err)
		}
		if f.ID == 0 {
			t.Error("expected ID assigned after record")
		}
	}

	got, err := repo.ListByRun(ctx, 2024, "NIFTY", "FUTIDX")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 fetches for 2024, got %d", len(got))
	}
	if got[0].Expiry != "25-Jan-2024" || got[1].Expiry != "29-Feb-2024" {
		t.Errorf("expected insertion order, got %v, %v", got[0].Expiry, got[1].Expiry)
	}
	if got[0].Status != domain.StatusOK || got[0].Bytes != 1024 {
		t.Errorf("unexpected first fetch: %+v", got[0])
	}
	if got[1].Status != domain.StatusFailed || got[1].Error == "" {
		t.Errorf("expected failed fetch with error, got %+v", got[1])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("expected created_at populated")
	}
}

func TestListByRun_Empty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db.DB)

	got, err := repo.ListByRun(context.Background(), 2019, "BANKNIFTY", "OPTIDX")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no fetches, got %d", len(got))
	}
}
