package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/digkill/medpost/internal/models"
)

// CredentialStore reads stored API keys. Both lookups return "" with a nil
// error when nothing is stored.
type CredentialStore interface {
	KeyForModel(ctx context.Context, modelName string) (string, error)
	KeyForPlatform(ctx context.Context, platform string) (string, error)
	List(ctx context.Context) ([]models.Credential, error)
}

// CredentialResolver resolves the key for a model: a key stored for the model
// id wins over a key stored for the model's platform.
type CredentialResolver struct {
	store CredentialStore
}

func NewCredentialResolver(store CredentialStore) *CredentialResolver {
	return &CredentialResolver{store: store}
}

func (r *CredentialResolver) Resolve(ctx context.Context, model models.ModelDescriptor) (string, error) {
	key, err := r.store.KeyForModel(ctx, model.ID)
	if err != nil {
		return "", fmt.Errorf("lookup key for model %s: %w", model.ID, err)
	}
	if key = strings.TrimSpace(key); key != "" {
		return key, nil
	}
	if model.Platform != "" {
		key, err = r.store.KeyForPlatform(ctx, model.Platform)
		if err != nil {
			return "", fmt.Errorf("lookup key for platform %s: %w", model.Platform, err)
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}
	return "", &CredentialError{Model: model.ID, Platform: model.Platform}
}

// Configured returns the ids among candidates whose key would resolve.
func (r *CredentialResolver) Configured(ctx context.Context, candidates []models.ModelDescriptor) (map[string]bool, error) {
	creds, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	byModel := make(map[string]bool)
	byPlatform := make(map[string]bool)
	for _, c := range creds {
		if strings.TrimSpace(c.APIKey) == "" {
			continue
		}
		if c.ModelName != "" {
			byModel[c.ModelName] = true
		}
		if c.Platform != "" {
			byPlatform[c.Platform] = true
		}
	}
	out := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		out[m.ID] = byModel[m.ID] || (m.Platform != "" && byPlatform[m.Platform])
	}
	return out, nil
}
