package service

import (
	"context"
	"log/slog"

	"github.com/digkill/medpost/internal/catalog"
	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/provider"
)

// ModelView is a catalog entry annotated for one user.
type ModelView struct {
	models.ModelDescriptor
	// Allowed reports whether the user's plan reaches the model's tier.
	Allowed bool `json:"allowed"`
	// Configured reports whether an API key would resolve for the model.
	Configured bool `json:"configured"`
	// Unlocked reports whether the plan offers the capability at all.
	Unlocked bool `json:"unlocked"`
}

type CatalogService struct {
	creds *provider.CredentialResolver
	log   *slog.Logger
}

func NewCatalogService(creds *provider.CredentialResolver, log *slog.Logger) *CatalogService {
	return &CatalogService{creds: creds, log: log}
}

// Models lists every model of capability in catalog order. A failed
// credential lookup marks all models unconfigured instead of failing.
func (s *CatalogService) Models(ctx context.Context, plan models.Plan, capability models.Capability) []ModelView {
	list := catalog.List(capability)
	configured, err := s.creds.Configured(ctx, list)
	if err != nil {
		s.log.Warn("credential presence unknown", "capability", capability, "err", err)
		configured = map[string]bool{}
	}
	unlocked := catalog.CapabilityUnlocked(plan, capability)
	out := make([]ModelView, 0, len(list))
	for _, m := range list {
		out = append(out, ModelView{
			ModelDescriptor: m,
			Allowed:         catalog.IsAllowed(plan, m.Tier),
			Configured:      configured[m.ID],
			Unlocked:        unlocked,
		})
	}
	return out
}
