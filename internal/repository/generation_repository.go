package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/digkill/WeddingAI/internal/models"
)

// GenerationRepository is the append-only store of generation attempts.
type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Insert(ctx context.Context, g *models.Generation) error {
	if g.Status == models.GenerationFailed && g.CreditsUsed != 0 {
		return fmt.Errorf("failed generation %s cannot use credits", g.ID)
	}
	urls := g.GeneratedURLs
	if urls == nil {
		urls = []string{}
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("marshal generated urls: %w", err)
	}
	const query = `
INSERT INTO generations (id, user_id, album_id, job_id, original_url, style, role, model_id, generated_urls, status, credits_used, cost, provider_job_id, error_message, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		g.ID, g.UserID, nullableString(g.AlbumID), nullableString(g.JobID), g.OriginalURL, g.Style, g.Role, g.ModelID,
		encoded, g.Status, g.CreditsUsed, g.Cost, nullableString(g.ProviderJobID), nullableString(truncate(g.ErrorMessage, 512)), g.CompletedAt,
	); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// List returns attempts for a user, optionally narrowed to a job or album,
// newest first.
func (r *GenerationRepository) List(ctx context.Context, f models.GenerationFilter) ([]models.Generation, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{f.UserID}
	)
	if f.JobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, f.JobID)
	}
	if f.AlbumID != "" {
		where = append(where, "album_id = ?")
		args = append(args, f.AlbumID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)

	query := `
SELECT id, user_id, COALESCE(album_id, ''), COALESCE(job_id, ''), original_url, style, role, model_id, generated_urls,
       status, credits_used, cost, COALESCE(provider_job_id, ''), COALESCE(error_message, ''), created_at, completed_at
FROM generations WHERE ` + strings.Join(where, " AND ") + `
ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		var (
			g           models.Generation
			urls        []byte
			completedAt sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.AlbumID, &g.JobID, &g.OriginalURL, &g.Style, &g.Role, &g.ModelID, &urls,
			&g.Status, &g.CreditsUsed, &g.Cost, &g.ProviderJobID, &g.ErrorMessage, &g.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		if err := json.Unmarshal(urls, &g.GeneratedURLs); err != nil {
			return nil, fmt.Errorf("decode generated urls: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			g.CompletedAt = &t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
