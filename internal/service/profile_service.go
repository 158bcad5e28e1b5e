package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/repository"
)

type ProfileStore interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	Ensure(ctx context.Context, id, email string, defaults models.Credits) (*models.Profile, bool, error)
	UpdateDetails(ctx context.Context, id string, d repository.ProfileDetails) error
}

type ProfileService struct {
	profiles ProfileStore
	defaults models.Credits
}

// NewProfileService provisions new users on the basic plan with defaults.
func NewProfileService(profiles ProfileStore, defaults models.Credits) *ProfileService {
	return &ProfileService{profiles: profiles, defaults: defaults}
}

// Current returns the profile of the signed-in user, creating it on first
// sight. An empty userID yields the anonymous basic profile.
func (s *ProfileService) Current(ctx context.Context, userID, email string) (*models.Profile, error) {
	if userID == "" {
		return models.AnonymousProfile(), nil
	}
	p, _, err := s.profiles.Ensure(ctx, userID, email, s.defaults)
	if err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	return p, nil
}

func (s *ProfileService) UpdateDetails(ctx context.Context, userID string, d repository.ProfileDetails) (*models.Profile, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	d.FullName = strings.TrimSpace(d.FullName)
	d.Username = strings.TrimSpace(d.Username)
	d.Specialty = strings.TrimSpace(d.Specialty)
	if err := s.profiles.UpdateDetails(ctx, userID, d); err != nil {
		return nil, err
	}
	p, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}
