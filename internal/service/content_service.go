package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/digkill/medpost/internal/models"
)

type ContentService struct {
	contents ContentStore
	log      *slog.Logger
}

func NewContentService(contents ContentStore, log *slog.Logger) *ContentService {
	return &ContentService{contents: contents, log: log}
}

// List returns the user's history, newest first.
func (s *ContentService) List(ctx context.Context, userID string, limit int) ([]models.GeneratedContent, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	items, err := s.contents.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.GeneratedContent{}
	}
	return items, nil
}

func (s *ContentService) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	return s.contents.DeleteForUser(ctx, userID, id)
}

// RunJanitor purges expired records every interval until ctx is done.
func (s *ContentService) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.purge(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *ContentService) purge(ctx context.Context) {
	n, err := s.contents.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("purge expired content", "err", err)
		}
		return
	}
	if n > 0 {
		s.log.Info("expired content purged", "count", n)
	}
}
