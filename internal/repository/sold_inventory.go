package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/josh-kwaku/simsync/internal/domain"
)

type SoldInventoryRepository struct {
	db *sql.DB
}

func NewSoldInventoryRepository(db *sql.DB) *SoldInventoryRepository {
	return &SoldInventoryRepository{db: db}
}

func (r *SoldInventoryRepository) Upsert(ctx context.Context, rec *domain.SoldRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Upsert: marshal: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sold_inventory (user_id, msisdn, total_point, sold_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			msisdn = EXCLUDED.msisdn,
			total_point = EXCLUDED.total_point,
			sold_at = EXCLUDED.sold_at,
			payload = EXCLUDED.payload,
			updated_at = now()`,
		rec.UserID, rec.MSISDN, rec.TotalPoint, rec.SoldAt, payload,
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (r *SoldInventoryRepository) GetAll(ctx context.Context) ([]domain.SoldRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM sold_inventory ORDER BY sold_at DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("GetAll: %w", err)
	}
	defer rows.Close()

	recs := []domain.SoldRecord{}
	for rows.Next() {
		rec, err := scanSoldRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("GetAll: scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetAll: rows: %w", err)
	}
	return recs, nil
}

func (r *SoldInventoryRepository) GetByKey(ctx context.Context, userID domain.UserID) (*domain.SoldRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT payload FROM sold_inventory WHERE user_id = $1`, userID)
	rec, err := scanSoldRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByKey: %w", err)
	}
	return rec, nil
}

func (r *SoldInventoryRepository) DeleteByKey(ctx context.Context, userID domain.UserID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sold_inventory WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("DeleteByKey: %w", err)
	}
	return nil
}

func scanSoldRecord(s scanner) (*domain.SoldRecord, error) {
	var payload []byte
	if err := s.Scan(&payload); err != nil {
		return nil, err
	}
	var rec domain.SoldRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &rec, nil
}
