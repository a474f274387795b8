package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/quantbolt/nsedata/internal/manifest"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Record(ctx context.Context, f *domain.Fetch) error {
	const query = `INSERT INTO fetches
		(year, symbol, instrument, expiry, start_date, end_date, status, path, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		f.Year, f.Symbol, f.Instrument, f.Expiry,
		f.StartDate, f.EndDate,
		string(f.Status), f.Path, f.Bytes, f.Error,
	)
	if err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}

	f.ID, _ = res.LastInsertId()
	f.CreatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) ListByRun(ctx context.Context, year int, symbol, instrument string) ([]domain.Fetch, error) {
	const query = `SELECT id, year, symbol, instrument, expiry, start_date, end_date,
		status, path, bytes, error, created_at
		FROM fetches
		WHERE year = ? AND symbol = ? AND instrument = ?
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, year, symbol, instrument)
	if err != nil {
		return nil, fmt.Errorf("list fetches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fetches []domain.Fetch
	for rows.Next() {
		var f domain.Fetch
		var status, createdStr string
		var path, errMsg sql.NullString

		if err := rows.Scan(
			&f.ID, &f.Year, &f.Symbol, &f.Instrument, &f.Expiry,
			&f.StartDate, &f.EndDate, &status, &path, &f.Bytes, &errMsg, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}

		f.Status = domain.Status(status)
		if path.Valid {
			f.Path = path.String
		}
		if errMsg.Valid {
			f.Error = errMsg.String
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		fetches = append(fetches, f)
	}

	return fetches, rows.Err()
}
