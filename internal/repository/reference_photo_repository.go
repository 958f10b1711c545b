package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/WeddingAI/internal/models"
)

type ReferencePhotoRepository struct {
	db *sql.DB
}

func NewReferencePhotoRepository(db *sql.DB) *ReferencePhotoRepository {
	return &ReferencePhotoRepository{db: db}
}

// Activate stores photo as the active reference for its user and role,
// deactivating the previous one in the same transaction.
func (r *ReferencePhotoRepository) Activate(ctx context.Context, photo *models.ReferencePhoto) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reference tx: %w", err)
	}
	defer tx.Rollback()

	const deactivate = `
UPDATE reference_photos SET is_active = FALSE
WHERE user_id = ? AND role = ? AND is_active = TRUE`
	if _, err := tx.ExecContext(ctx, deactivate, photo.UserID, photo.Role); err != nil {
		return fmt.Errorf("deactivate reference photo: %w", err)
	}

	const insert = `
INSERT INTO reference_photos (id, user_id, role, original_url, storage_key, face_detected, face_count, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?, TRUE)`
	if _, err := tx.ExecContext(ctx, insert, photo.ID, photo.UserID, photo.Role, photo.OriginalURL, nullableString(photo.StorageKey), photo.FaceDetected, photo.FaceCount); err != nil {
		return fmt.Errorf("insert reference photo: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reference tx: %w", err)
	}
	photo.IsActive = true
	return nil
}

func (r *ReferencePhotoRepository) FindActive(ctx context.Context, userID string, role models.Role) (*models.ReferencePhoto, error) {
	const query = `
SELECT id, user_id, role, original_url, COALESCE(storage_key, ''), face_detected, face_count, is_active, created_at
FROM reference_photos WHERE user_id = ? AND role = ? AND is_active = TRUE`
	photo, err := scanReferencePhoto(r.db.QueryRowContext(ctx, query, userID, role))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active reference photo: %w", err)
	}
	return photo, nil
}

func (r *ReferencePhotoRepository) ListActive(ctx context.Context, userID string) ([]models.ReferencePhoto, error) {
	const query = `
SELECT id, user_id, role, original_url, COALESCE(storage_key, ''), face_detected, face_count, is_active, created_at
FROM reference_photos WHERE user_id = ? AND is_active = TRUE ORDER BY role`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list reference photos: %w", err)
	}
	defer rows.Close()

	var photos []models.ReferencePhoto
	for rows.Next() {
		photo, err := scanReferencePhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reference photo: %w", err)
		}
		photos = append(photos, *photo)
	}
	return photos, rows.Err()
}

func scanReferencePhoto(s scanner) (*models.ReferencePhoto, error) {
	var p models.ReferencePhoto
	if err := s.Scan(&p.ID, &p.UserID, &p.Role, &p.OriginalURL, &p.StorageKey, &p.FaceDetected, &p.FaceCount, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
