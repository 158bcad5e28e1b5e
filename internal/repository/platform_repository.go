package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digkill/medpost/internal/models"
)

const platformConfigID = 1

// PlatformRepository stores the singleton platform configuration row.
type PlatformRepository struct {
	db *sql.DB
}

func NewPlatformRepository(db *sql.DB) *PlatformRepository {
	return &PlatformRepository{db: db}
}

// Get returns the configuration, or an empty one when the row is missing.
func (r *PlatformRepository) Get(ctx context.Context) (*models.PlatformConfig, error) {
	const query = `SELECT settings, updated_at FROM platform_config WHERE id = ?`
	var (
		raw []byte
		cfg models.PlatformConfig
	)
	if err := r.db.QueryRowContext(ctx, query, platformConfigID).Scan(&raw, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.PlatformConfig{PriceIDs: map[models.Plan]string{}}, nil
		}
		return nil, fmt.Errorf("get platform config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode platform config: %w", err)
	}
	if cfg.PriceIDs == nil {
		cfg.PriceIDs = map[models.Plan]string{}
	}
	return &cfg, nil
}

// Save upserts the configuration and returns the stored copy.
func (r *PlatformRepository) Save(ctx context.Context, cfg *models.PlatformConfig) (*models.PlatformConfig, error) {
	raw, err := json.Marshal(struct {
		StripePublishableKey string                 `json:"stripe_publishable_key"`
		StripeSecretKey      string                 `json:"stripe_secret_key"`
		PriceIDs             map[models.Plan]string `json:"price_ids"`
	}{cfg.StripePublishableKey, cfg.StripeSecretKey, cfg.PriceIDs})
	if err != nil {
		return nil, fmt.Errorf("encode platform config: %w", err)
	}
	const query = `
INSERT INTO platform_config (id, settings) VALUES (?, ?)
ON DUPLICATE KEY UPDATE settings = VALUES(settings), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, platformConfigID, raw); err != nil {
		return nil, fmt.Errorf("save platform config: %w", err)
	}
	return r.Get(ctx)
}
