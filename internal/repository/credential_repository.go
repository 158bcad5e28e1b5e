package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/medpost/internal/models"
)

// CredentialRepository reads API keys from model_credentials. A row carries a
// model_name, a platform, or both.
type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) KeyForModel(ctx context.Context, modelName string) (string, error) {
	const query = `SELECT api_key FROM model_credentials WHERE model_name = ? LIMIT 1`
	return r.key(ctx, query, modelName)
}

// KeyForPlatform prefers a platform-wide row over one attached to a model.
func (r *CredentialRepository) KeyForPlatform(ctx context.Context, platform string) (string, error) {
	const query = `
SELECT api_key FROM model_credentials
WHERE platform = ? AND api_key <> ''
ORDER BY model_name IS NULL DESC, id ASC
LIMIT 1`
	return r.key(ctx, query, platform)
}

func (r *CredentialRepository) key(ctx context.Context, query, arg string) (string, error) {
	var key string
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read api key: %w", err)
	}
	return key, nil
}

func (r *CredentialRepository) List(ctx context.Context) ([]models.Credential, error) {
	const query = `SELECT COALESCE(model_name, ''), COALESCE(platform, ''), api_key FROM model_credentials`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ModelName, &c.Platform, &c.APIKey); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
