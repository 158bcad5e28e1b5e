package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/medpost/internal/models"
)

type ContentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Insert stores a new record, assigning its id and timestamps.
func (r *ContentRepository) Insert(ctx context.Context, c *models.GeneratedContent) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = r.now()
	c.ExpiresAt = c.CreatedAt.Add(models.Retention(c.ContentType))

	var details any
	if len(c.PromptDetails) > 0 {
		details = string(c.PromptDetails)
	}
	const query = `
INSERT INTO generated_content (id, user_id, content_type, content_text, content_url, prompt_details, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, c.ID, c.UserID, c.ContentType, c.ContentText, c.ContentURL, details, c.CreatedAt, c.ExpiresAt); err != nil {
		return fmt.Errorf("insert generated content: %w", err)
	}
	return nil
}

// ListByUser returns the user's unexpired records, newest first.
func (r *ContentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.GeneratedContent, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, user_id, content_type, content_text, content_url, prompt_details, created_at, expires_at
FROM generated_content
WHERE user_id = ? AND expires_at > ?
ORDER BY created_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, r.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list generated content: %w", err)
	}
	defer rows.Close()

	var out []models.GeneratedContent
	for rows.Next() {
		var (
			c             models.GeneratedContent
			contentType   string
			text, url     sql.NullString
			promptDetails []byte
		)
		if err := rows.Scan(&c.ID, &c.UserID, &contentType, &text, &url, &promptDetails, &c.CreatedAt, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan generated content: %w", err)
		}
		if c.ContentType, err = models.ParseCapability(contentType); err != nil {
			return nil, fmt.Errorf("generated content %s: %w", c.ID, err)
		}
		if text.Valid {
			c.ContentText = &text.String
		}
		if url.Valid {
			c.ContentURL = &url.String
		}
		if len(promptDetails) > 0 {
			c.PromptDetails = promptDetails
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteForUser removes a record owned by userID. Records of other users are
// reported as ErrNotFound.
func (r *ContentRepository) DeleteForUser(ctx context.Context, userID, id string) error {
	const query = `DELETE FROM generated_content WHERE id = ? AND user_id = ?`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete generated content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("content rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired deletes records whose retention ended before now.
func (r *ContentRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM generated_content WHERE expires_at <= ?`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired content: %w", err)
	}
	return res.RowsAffected()
}
