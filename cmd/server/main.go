package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/medpost/internal/alert"
	"github.com/digkill/medpost/internal/api"
	"github.com/digkill/medpost/internal/auth"
	"github.com/digkill/medpost/internal/config"
	"github.com/digkill/medpost/internal/database"
	"github.com/digkill/medpost/internal/kie"
	"github.com/digkill/medpost/internal/ledger"
	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/provider"
	"github.com/digkill/medpost/internal/repository"
	"github.com/digkill/medpost/internal/service"
	"github.com/digkill/medpost/internal/session"
	"github.com/digkill/medpost/internal/storage"
	"github.com/digkill/medpost/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		log.Fatalf("auth verifier: %v", err)
	}

	profileRepo := repository.NewProfileRepository(db)
	contentRepo := repository.NewContentRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	platformRepo := repository.NewPlatformRepository(db)

	locker, sessions := coordination(ctx, cfg, logr)
	creds := provider.NewCredentialResolver(credentialRepo)
	registry, err := providers(cfg, creds, logr)
	if err != nil {
		log.Fatalf("providers: %v", err)
	}

	credits := ledger.New(profileRepo, locker, logr, ledger.Config{
		PersistAttempts: cfg.PersistAttempts,
		PersistBackoff:  cfg.PersistBackoff,
	})

	generationService := service.NewGenerationService(logr, credits, registry, sessions, contentRepo, notifier(cfg, logr), service.GenerationConfig{
		RecordAttempts: cfg.PersistAttempts,
		RecordBackoff:  cfg.PersistBackoff,
	})
	contentService := service.NewContentService(contentRepo, logr)

	server := api.NewServer(api.Config{
		Addr:          cfg.ListenAddr,
		CORSOrigins:   cfg.CORSOrigins,
		PaidPerMinute: cfg.PaidPerMinute,
		WriteTimeout:  cfg.HTTPWriteTimeout,
	}, logr, verifier, api.Services{
		Profiles:   service.NewProfileService(profileRepo, models.Credits{Text: cfg.DefaultTextCredit}),
		Generation: generationService,
		Content:    contentService,
		Platform:   service.NewPlatformService(platformRepo),
		Catalog:    service.NewCatalogService(creds, logr),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return contentService.RunJanitor(gctx, cfg.JanitorInterval) })
	if err := g.Wait(); err != nil {
		logr.Error("server stopped", "err", err)
	}
}

// coordination picks the credit locker and session store: Redis when
// configured so several instances share them, in-process otherwise.
func coordination(ctx context.Context, cfg config.Config, logr *slog.Logger) (ledger.Locker, session.Store) {
	if !cfg.RedisEnabled() {
		logr.Info("redis not configured, using in-process locks and sessions")
		return ledger.NewKeyedMutex(), session.NewMemoryStore()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	return ledger.NewRedisLocker(rdb, cfg.LockTTL), session.NewRedisStore(rdb, cfg.SessionTTL, cfg.LockTTL)
}

func providers(cfg config.Config, creds *provider.CredentialResolver, logr *slog.Logger) (*provider.Registry, error) {
	var backend provider.MediaBackend = provider.PlaceholderBackend{ImageDelay: cfg.PlaceholderImageDelay, VideoDelay: cfg.PlaceholderVideoDelay}
	if cfg.MediaBackend == config.MediaBackendKIE {
		client := kie.NewClient(kie.Config{
			BaseURL:      cfg.KIEBaseURL,
			Timeout:      cfg.ProviderTimeout,
			PollAttempts: cfg.KIEPollAttempts,
			PollInterval: cfg.KIEPollInterval,
		}, logr)
		backend = provider.NewKIEBackend(client, cfg.KIEModelOverride)
	}

	var mirror provider.Mirror
	if cfg.MirrorEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		mirror = uploader
	}

	return &provider.Registry{
		Text: provider.NewTextAdapter(provider.TextConfig{
			GeminiBaseURL:    cfg.GeminiBaseURL,
			OpenAIBaseURL:    cfg.OpenAIBaseURL,
			AnthropicBaseURL: cfg.AnthropicBaseURL,
			Timeout:          cfg.ProviderTimeout,
		}, creds, logr),
		Research: provider.NewResearchAdapter(provider.ResearchConfig{
			BaseURL:       cfg.PerplexityBaseURL,
			UpstreamModel: cfg.ResearchModel,
			ProxyURL:      cfg.ResearchProxyURL,
			ProxyToken:    cfg.ResearchProxyKey,
			Timeout:       cfg.ProviderTimeout,
		}, creds, logr),
		Image: provider.NewMediaAdapter(models.CapabilityImage, creds, backend, mirror, logr),
		Video: provider.NewMediaAdapter(models.CapabilityVideo, creds, backend, mirror, logr),
	}, nil
}

func notifier(cfg config.Config, logr *slog.Logger) alert.Notifier {
	if !cfg.AlertsEnabled() {
		return alert.Nop{}
	}
	tg, err := alert.NewTelegram(cfg.AlertTelegramToken, cfg.AlertTelegramChatID, logr)
	if err != nil {
		logr.Warn("telegram alerts disabled", "err", err)
		return alert.Nop{}
	}
	return tg
}
