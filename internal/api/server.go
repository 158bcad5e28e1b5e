package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/digkill/medpost/internal/auth"
	"github.com/digkill/medpost/internal/service"
)

type Config struct {
	Addr        string
	CORSOrigins []string
	// PaidPerMinute limits paid generation requests per user.
	PaidPerMinute int
	WriteTimeout  time.Duration
}

type Services struct {
	Profiles   *service.ProfileService
	Generation *service.GenerationService
	Content    *service.ContentService
	Platform   *service.PlatformService
	Catalog    *service.CatalogService
}

type Server struct {
	cfg    Config
	log    *slog.Logger
	svc    Services
	router *chi.Mux
}

func NewServer(cfg Config, log *slog.Logger, verifier *auth.Verifier, svc Services) *Server {
	if cfg.PaidPerMinute <= 0 {
		cfg.PaidPerMinute = 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestSize(1 << 20))

	s := &Server{cfg: cfg, log: log, svc: svc, router: r}

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Optional(verifier, log, s.denyToken))

		r.Get("/me", s.handleMe)
		r.Put("/me", s.handleUpdateMe)
		r.Get("/models/{capability}", s.handleModels)
		r.Post("/auth/events", s.handleAuthEvent)

		r.Route("/generator", func(r chi.Router) {
			r.Get("/", s.handleSession)
			r.Put("/info", s.handleUpdateInfo)
			r.Post("/theme", s.handleSelectTheme)
			r.Put("/models", s.handleSelectModels)
			r.Post("/back", s.handleBack)
			r.Post("/reset", s.handleReset)
			r.Group(func(paid chi.Router) {
				paid.Use(s.paidLimiter())
				paid.Post("/suggestions", s.handleSuggest)
				paid.Post("/analysis", s.handleAnalyze)
				paid.Post("/text", s.handleGenerateText)
				paid.Post("/media/{type}", s.handleGenerateMedia)
			})
		})

		r.Route("/content", func(r chi.Router) {
			r.Get("/", s.handleListContent)
			r.Delete("/{id}", s.handleDeleteContent)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Middleware(verifier, log, s.denyToken))
			r.Get("/platform-config", s.handleGetPlatform)
			r.Put("/platform-config", s.handleUpdatePlatform)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http api listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// paidLimiter keys by user, falling back to the client IP.
func (s *Server) paidLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.cfg.PaidPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.FromContext(r.Context()); claims != nil {
				return "user:" + claims.Subject, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			s.writeFailure(w, http.StatusTooManyRequests, service.Failure{Kind: kindRateLimited, Message: "too many generation requests, try again shortly"})
		}),
	)
}

func (s *Server) denyToken(w http.ResponseWriter, r *http.Request) {
	s.writeFailure(w, http.StatusUnauthorized, service.Failure{Kind: service.KindUnauthenticated, Message: "invalid or missing bearer token"})
}

const (
	kindRateLimited service.FailureKind = "rate_limited"
	kindBadRequest  service.FailureKind = "bad_request"
)

var statusByKind = map[service.FailureKind]int{
	service.KindValidation:          http.StatusUnprocessableEntity,
	service.KindInsufficientCredits: http.StatusPaymentRequired,
	service.KindCredentialMissing:   http.StatusFailedDependency,
	service.KindProviderError:       http.StatusBadGateway,
	service.KindProviderTimeout:     http.StatusGatewayTimeout,
	service.KindInProgress:          http.StatusConflict,
	service.KindForbidden:           http.StatusForbidden,
	service.KindNotFound:            http.StatusNotFound,
	service.KindUnauthenticated:     http.StatusUnauthorized,
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	f := service.Classify(err)
	status, ok := statusByKind[f.Kind]
	if !ok {
		status = http.StatusInternalServerError
		s.log.Error("api handler error", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	s.writeFailure(w, status, f)
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, f service.Failure) {
	s.writeJSON(w, status, map[string]service.Failure{"error": f})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeFailure(w, http.StatusBadRequest, service.Failure{Kind: kindBadRequest, Message: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
