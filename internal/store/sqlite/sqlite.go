package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"comexlens/internal/model"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) UpsertRecords(ctx context.Context, ncm string, flow model.Flow, records []model.DirectionalRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trade_records (
			ncm, flow, year, fob, kg, statistic, freight, insurance, cif, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ncm, flow, year)
		DO UPDATE SET
			fob = excluded.fob,
			kg = excluded.kg,
			statistic = excluded.statistic,
			freight = excluded.freight,
			insurance = excluded.insurance,
			cif = excluded.cif,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, record := range records {
		year, convErr := strconv.Atoi(record.Year)
		if convErr != nil {
			err = fmt.Errorf("sqlite: bad year label %q: %w", record.Year, convErr)
			_ = tx.Rollback()
			return err
		}
		_, err = stmt.ExecContext(
			ctx,
			ncm,
			string(flow),
			year,
			record.FOB,
			record.KG,
			record.Statistic,
			record.Freight,
			record.Insurance,
			record.CIF,
			now,
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, ncm string, flow model.Flow, fromYear, toYear int) ([]model.DirectionalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT year, fob, kg, statistic, freight, insurance, cif
		FROM trade_records
		WHERE ncm = ? AND flow = ? AND year BETWEEN ? AND ?
		ORDER BY year
	`, ncm, string(flow), fromYear, toYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]model.DirectionalRecord, 0)
	for rows.Next() {
		var year int
		var record model.DirectionalRecord
		if err := rows.Scan(&year, &record.FOB, &record.KG, &record.Statistic,
			&record.Freight, &record.Insurance, &record.CIF); err != nil {
			return nil, err
		}
		record.Year = strconv.Itoa(year)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListYears(ctx context.Context, ncm string, flow model.Flow) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT year FROM trade_records
		WHERE ncm = ? AND flow = ?
		ORDER BY year
	`, ncm, string(flow))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	years := make([]int, 0)
	for rows.Next() {
		var year int
		if err := rows.Scan(&year); err != nil {
			return nil, err
		}
		years = append(years, year)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return years, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS trade_records (
			ncm TEXT NOT NULL,
			flow TEXT NOT NULL,
			year INTEGER NOT NULL,
			fob REAL NOT NULL,
			kg REAL NOT NULL,
			statistic REAL NOT NULL,
			freight REAL NOT NULL,
			insurance REAL NOT NULL,
			cif REAL NOT NULL,
			fetched_at TEXT NOT NULL,
			PRIMARY KEY (ncm, flow, year)
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}
