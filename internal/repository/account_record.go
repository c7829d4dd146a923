package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/josh-kwaku/simsync/internal/domain"
)

const accountRecordOrder = `ORDER BY total_point DESC, user_id`

type AccountRecordRepository struct {
	db *sql.DB
}

func NewAccountRecordRepository(db *sql.DB) *AccountRecordRepository {
	return &AccountRecordRepository{db: db}
}

// Upsert writes the full record under its user_id. Writing the same record
// twice leaves a single row.
func (r *AccountRecordRepository) Upsert(ctx context.Context, rec *domain.AccountRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Upsert: marshal: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO account_records (user_id, msisdn, total_point, has_error, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			msisdn = EXCLUDED.msisdn,
			total_point = EXCLUDED.total_point,
			has_error = EXCLUDED.has_error,
			payload = EXCLUDED.payload,
			updated_at = now()`,
		rec.UserID, rec.MSISDN, rec.TotalPoint, rec.HasError, payload,
	)
	if isDuplicateKey(err) {
		return fmt.Errorf("Upsert: %s: %w", rec.MSISDN, domain.ErrAccountExists)
	}
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

// Insert adds a new account, enforcing the account limit and msisdn
// uniqueness in one transaction. The table lock serializes concurrent
// inserts so the count check holds.
func (r *AccountRecordRepository) Insert(ctx context.Context, rec *domain.AccountRecord, limit int) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Insert: marshal: %w", err)
	}

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE account_records IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		var count int
		var duplicate bool
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(BOOL_OR(msisdn = $1 OR user_id = $2), FALSE) FROM account_records`,
			rec.MSISDN, rec.UserID,
		).Scan(&count, &duplicate)
		if err != nil {
			return err
		}
		if duplicate {
			return domain.ErrAccountExists
		}
		if limit > 0 && count >= limit {
			return domain.ErrAccountLimitReached
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO account_records (user_id, msisdn, total_point, has_error, payload)
			VALUES ($1, $2, $3, $4, $5)`,
			rec.UserID, rec.MSISDN, rec.TotalPoint, rec.HasError, payload,
		)
		return err
	})
	if isDuplicateKey(err) {
		return fmt.Errorf("Insert: %s: %w", rec.MSISDN, domain.ErrAccountExists)
	}
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

func (r *AccountRecordRepository) GetPage(ctx context.Context, page, size int) ([]domain.AccountRecord, error) {
	if page < 1 {
		page = 1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM account_records `+accountRecordOrder+` LIMIT $1 OFFSET $2`,
		size, (page-1)*size,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPage: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("GetPage: %w", err)
	}
	return recs, nil
}

func (r *AccountRecordRepository) GetAll(ctx context.Context) ([]domain.AccountRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM account_records `+accountRecordOrder)
	if err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	return recs, nil
}

func (r *AccountRecordRepository) GetByKey(ctx context.Context, userID domain.UserID) (*domain.AccountRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT payload FROM account_records WHERE user_id = $1`, userID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByKey: %w", err)
	}
	return rec, nil
}

func (r *AccountRecordRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM account_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// DeleteByKey is a no-op for unknown keys.
func (r *AccountRecordRepository) DeleteByKey(ctx context.Context, userID domain.UserID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM account_records WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("DeleteByKey: %w", err)
	}
	return nil
}

func (r *AccountRecordRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM account_records`); err != nil {
		return fmt.Errorf("DeleteAll: %w", err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanRecord(s scanner) (*domain.AccountRecord, error) {
	var payload []byte
	if err := s.Scan(&payload); err != nil {
		return nil, err
	}
	var rec domain.AccountRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]domain.AccountRecord, error) {
	defer rows.Close()

	recs := []domain.AccountRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return recs, nil
}
