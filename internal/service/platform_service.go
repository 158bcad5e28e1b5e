package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/pipeline"
)

type PlatformStore interface {
	Get(ctx context.Context) (*models.PlatformConfig, error)
	Save(ctx context.Context, cfg *models.PlatformConfig) (*models.PlatformConfig, error)
}

// PlatformService guards the singleton platform configuration. Only
// super-admins may read or change it.
type PlatformService struct {
	store PlatformStore
}

func NewPlatformService(store PlatformStore) *PlatformService {
	return &PlatformService{store: store}
}

func (s *PlatformService) Get(ctx context.Context, actor *models.Profile) (*models.PlatformConfig, error) {
	if !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	return s.store.Get(ctx)
}

type UpdatePlatformInput struct {
	StripePublishableKey *string           `json:"stripe_publishable_key"`
	StripeSecretKey      *string           `json:"stripe_secret_key"`
	PriceIDs             map[string]string `json:"price_ids"`
}

func (s *PlatformService) Update(ctx context.Context, actor *models.Profile, input UpdatePlatformInput) (*models.PlatformConfig, error) {
	if !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	cfg, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.PriceIDs == nil {
		cfg.PriceIDs = map[models.Plan]string{}
	}
	if input.StripePublishableKey != nil {
		cfg.StripePublishableKey = strings.TrimSpace(*input.StripePublishableKey)
	}
	if input.StripeSecretKey != nil {
		cfg.StripeSecretKey = strings.TrimSpace(*input.StripeSecretKey)
	}
	for raw, priceID := range input.PriceIDs {
		plan, err := models.ParsePlan(raw)
		if err != nil {
			return nil, &pipeline.ValidationError{Field: "price_ids", Message: err.Error()}
		}
		if plan == models.PlanBasic {
			return nil, &pipeline.ValidationError{Field: "price_ids", Message: fmt.Sprintf("the %s plan is free", plan)}
		}
		if priceID = strings.TrimSpace(priceID); priceID == "" {
			delete(cfg.PriceIDs, plan)
			continue
		}
		cfg.PriceIDs[plan] = priceID
	}
	return s.store.Save(ctx, cfg)
}
