package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/medpost/internal/alert"
	"github.com/digkill/medpost/internal/catalog"
	"github.com/digkill/medpost/internal/ledger"
	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/pipeline"
	"github.com/digkill/medpost/internal/provider"
	"github.com/digkill/medpost/internal/research"
	"github.com/digkill/medpost/internal/session"
)

// ContentStore persists generated content records.
type ContentStore interface {
	Insert(ctx context.Context, c *models.GeneratedContent) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.GeneratedContent, error)
	DeleteForUser(ctx context.Context, userID, id string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Warning is a secondary problem on an otherwise successful action.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const WarningPersistence = "persistence"

// Outcome is the result of a successful action.
type Outcome struct {
	Session  pipeline.Session `json:"session"`
	Warnings []Warning        `json:"warnings,omitempty"`
}

type GenerationConfig struct {
	RecordAttempts int
	RecordBackoff  time.Duration
}

// GenerationService runs the paid pipeline steps. Every step validates
// locally, checks the balance, calls the provider, then debits, records and
// advances the session, in that order.
type GenerationService struct {
	log       *slog.Logger
	ledger    *ledger.Ledger
	providers *provider.Registry
	sessions  session.Store
	contents  ContentStore
	alerts    alert.Notifier
	cfg       GenerationConfig
}

func NewGenerationService(log *slog.Logger, l *ledger.Ledger, providers *provider.Registry, sessions session.Store, contents ContentStore, alerts alert.Notifier, cfg GenerationConfig) *GenerationService {
	if cfg.RecordAttempts <= 0 {
		cfg.RecordAttempts = 3
	}
	if cfg.RecordBackoff <= 0 {
		cfg.RecordBackoff = 200 * time.Millisecond
	}
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &GenerationService{
		log:       log,
		ledger:    l,
		providers: providers,
		sessions:  sessions,
		contents:  contents,
		alerts:    alerts,
		cfg:       cfg,
	}
}

// Session returns the user's session, or a fresh one.
func (s *GenerationService) Session(ctx context.Context, profile *models.Profile) (pipeline.Session, error) {
	if profile == nil || profile.ID == "" {
		return pipeline.Session{}, ErrUnauthenticated
	}
	return s.load(ctx, profile, false)
}

// load reads the session. A progress flag without a live busy marker was left
// by a step that never finished and is cleared. held means the caller owns the
// marker, so any flag found is stale.
func (s *GenerationService) load(ctx context.Context, profile *models.Profile, held bool) (pipeline.Session, error) {
	sess, ok, err := s.sessions.Load(ctx, profile.ID)
	if err != nil {
		return pipeline.Session{}, err
	}
	if !ok {
		return pipeline.New(profile.Specialty), nil
	}
	if !sess.InProgress {
		return sess, nil
	}
	stale := held
	if !held {
		busy, err := s.sessions.Busy(ctx, profile.ID)
		if err != nil {
			return pipeline.Session{}, err
		}
		stale = !busy
	}
	if stale {
		sess.InProgress = false
		sess.ProgressLabel = ""
	}
	return sess, nil
}

// Apply runs a free transition such as editing info, choosing a theme or a
// model, or going back.
func (s *GenerationService) Apply(ctx context.Context, profile *models.Profile, event pipeline.Event) (pipeline.Session, error) {
	if profile == nil || profile.ID == "" {
		return pipeline.Session{}, ErrUnauthenticated
	}
	release, err := s.acquire(ctx, profile.ID)
	if err != nil {
		return pipeline.Session{}, err
	}
	defer release()

	epoch, err := s.sessions.Epoch(ctx, profile.ID)
	if err != nil {
		return pipeline.Session{}, err
	}
	sess, err := s.load(ctx, profile, true)
	if err != nil {
		return pipeline.Session{}, err
	}
	next, err := pipeline.Apply(sess, event)
	if err != nil {
		return sess, err
	}
	saved, err := s.sessions.SaveAt(ctx, profile.ID, epoch, next)
	if err != nil {
		return sess, err
	}
	if !saved {
		return pipeline.New(profile.Specialty), nil
	}
	return next, nil
}

// SelectModels applies a model choice under the profile's current plan.
func (s *GenerationService) SelectModels(ctx context.Context, profile *models.Profile, cfg pipeline.GenerationConfig) (pipeline.Session, error) {
	if profile == nil {
		return pipeline.Session{}, ErrUnauthenticated
	}
	return s.Apply(ctx, profile, pipeline.SelectModels{Config: cfg, Plan: profile.Plan})
}

// Reset discards the session, for an explicit restart or a sign-out. It does
// not wait for a running step; that step's result is dropped instead.
func (s *GenerationService) Reset(ctx context.Context, profile *models.Profile) (pipeline.Session, error) {
	if profile == nil || profile.ID == "" {
		return pipeline.Session{}, ErrUnauthenticated
	}
	if err := s.sessions.Delete(ctx, profile.ID); err != nil {
		return pipeline.Session{}, err
	}
	return pipeline.New(profile.Specialty), nil
}

// paidStep is one prepared provider call.
type paidStep struct {
	label   string
	model   models.ModelDescriptor
	adapter provider.Adapter
	request provider.Request
	// finish turns the provider result into a session event and, optionally,
	// a history record.
	finish func(res provider.Result) (pipeline.Event, *models.GeneratedContent)
}

// SuggestServices asks for topic ideas for the profile's specialty and
// fills the services field.
func (s *GenerationService) SuggestServices(ctx context.Context, profile *models.Profile) (Outcome, error) {
	return s.run(ctx, profile, func(sess pipeline.Session) (*paidStep, error) {
		if err := pipeline.CanSuggest(sess); err != nil {
			return nil, err
		}
		model := catalog.Suggestion()
		return &paidStep{
			label:   pipeline.LabelSuggesting,
			model:   model,
			adapter: s.providers.Text,
			request: provider.Request{Prompt: pipeline.SuggestionPrompt(sess.Info.Specialty)},
			finish: func(res provider.Result) (pipeline.Event, *models.GeneratedContent) {
				return pipeline.SuggestedServices{Services: provider.CleanSuggestions(res.Text)}, nil
			},
		}, nil
	})
}

// AnalyzeMarket rates the user's topics and moves to theme selection.
func (s *GenerationService) AnalyzeMarket(ctx context.Context, profile *models.Profile) (Outcome, error) {
	return s.run(ctx, profile, func(sess pipeline.Session) (*paidStep, error) {
		if err := pipeline.CanAnalyze(sess); err != nil {
			return nil, err
		}
		return &paidStep{
			label:   pipeline.LabelAnalyzing,
			model:   catalog.Research(),
			adapter: s.providers.Research,
			request: provider.Request{Themes: sess.Info.Services},
			finish: func(res provider.Result) (pipeline.Event, *models.GeneratedContent) {
				parsed := research.Parse(res.Text)
				if parsed.Dropped > 0 {
					s.log.Info("research lines without name and rating", "user", profile.ID, "dropped", parsed.Dropped, "themes", len(parsed.Themes))
				}
				if research.Placeholder(parsed.Themes) {
					s.log.Warn("no themes extracted from research answer", "user", profile.ID)
				}
				return pipeline.AnalysisCompleted{Analysis: pipeline.MarketAnalysis{Report: parsed.Report, Themes: parsed.Themes}}, nil
			},
		}, nil
	})
}

// GenerateText writes the post for the selected theme and moves to media.
func (s *GenerationService) GenerateText(ctx context.Context, profile *models.Profile) (Outcome, error) {
	return s.run(ctx, profile, func(sess pipeline.Session) (*paidStep, error) {
		if err := pipeline.CanGenerateText(sess); err != nil {
			return nil, err
		}
		model, err := selectedModel(profile, models.CapabilityText, sess.Config.TextModel)
		if err != nil {
			return nil, err
		}
		prompt := pipeline.TextPrompt(sess.Info, sess.SelectedTheme)
		details := promptDetails{ProfessionalInfo: sess.Info, GenerationConfig: sess.Config, SelectedTheme: sess.SelectedTheme}
		return &paidStep{
			label:   pipeline.LabelText,
			model:   model,
			adapter: s.providers.Text,
			request: provider.Request{Prompt: prompt},
			finish: func(res provider.Result) (pipeline.Event, *models.GeneratedContent) {
				text := res.Text
				return pipeline.TextGenerated{Text: text}, &models.GeneratedContent{
					UserID:        profile.ID,
					ContentType:   models.CapabilityText,
					ContentText:   &text,
					PromptDetails: details.raw(),
				}
			},
		}, nil
	})
}

// GenerateMedia renders an image or video for the generated post. It may be
// repeated and never changes the stage.
func (s *GenerationService) GenerateMedia(ctx context.Context, profile *models.Profile, capability models.Capability) (Outcome, error) {
	return s.run(ctx, profile, func(sess pipeline.Session) (*paidStep, error) {
		if err := pipeline.CanGenerateMedia(sess, capability); err != nil {
			return nil, err
		}
		model, err := selectedModel(profile, capability, sess.Config.Model(capability))
		if err != nil {
			return nil, err
		}
		adapter, err := s.providers.For(capability)
		if err != nil {
			return nil, err
		}
		prompt := pipeline.MediaPrompt(sess.Output.Text, capability)
		details := promptDetails{ProfessionalInfo: sess.Info, GenerationConfig: sess.Config, MediaPrompt: prompt}
		text := sess.Output.Text
		return &paidStep{
			label:   pipeline.MediaLabel(capability),
			model:   model,
			adapter: adapter,
			request: provider.Request{Prompt: prompt},
			finish: func(res provider.Result) (pipeline.Event, *models.GeneratedContent) {
				url := res.URL
				return pipeline.MediaGenerated{Capability: capability, URL: url}, &models.GeneratedContent{
					UserID:        profile.ID,
					ContentType:   capability,
					ContentText:   &text,
					ContentURL:    &url,
					PromptDetails: details.raw(),
				}
			},
		}, nil
	})
}

func (s *GenerationService) run(ctx context.Context, profile *models.Profile, prepare func(pipeline.Session) (*paidStep, error)) (Outcome, error) {
	if profile == nil || profile.ID == "" {
		return Outcome{}, ErrUnauthenticated
	}
	release, err := s.acquire(ctx, profile.ID)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	epoch, err := s.sessions.Epoch(ctx, profile.ID)
	if err != nil {
		return Outcome{}, err
	}
	sess, err := s.load(ctx, profile, true)
	if err != nil {
		return Outcome{}, err
	}
	step, err := prepare(sess)
	if err != nil {
		return Outcome{}, err
	}
	if step.adapter == nil {
		return Outcome{}, fmt.Errorf("no adapter configured for %s", step.model.ID)
	}

	busy := sess
	busy.InProgress = true
	busy.ProgressLabel = step.label
	saved, err := s.sessions.SaveAt(ctx, profile.ID, epoch, busy)
	if err != nil {
		return Outcome{}, err
	}
	if !saved {
		// Reset landed before the step started; nothing is charged.
		return Outcome{Session: pipeline.New(profile.Specialty)}, nil
	}

	var result provider.Result
	receipt, err := s.ledger.Charge(ctx, profile.ID, step.model.Capability, step.model.CreditCost, func(ctx context.Context) error {
		res, err := step.adapter.Generate(ctx, step.model, step.request)
		if err != nil {
			return err
		}
		if strings.TrimSpace(res.Text) == "" && res.URL == "" {
			return &provider.Error{Kind: provider.KindProviderError, Provider: step.model.Provider, Model: step.model.ID, Message: "empty result"}
		}
		result = res
		return nil
	})
	if err != nil {
		s.restore(profile.ID, epoch, sess)
		s.log.Warn("paid step failed", "user", profile.ID, "model", step.model.ID, "err", err)
		return Outcome{}, err
	}

	event, record := step.finish(result)
	next, err := pipeline.Apply(sess, event)
	if err != nil {
		s.restore(profile.ID, epoch, sess)
		return Outcome{}, fmt.Errorf("apply %T: %w", event, err)
	}

	var warnings []Warning
	if receipt.Warning != nil {
		warnings = append(warnings, s.warn(ctx, profile.ID, "credit debit not recorded", receipt.Warning))
	}
	if record != nil {
		if err := s.saveRecord(ctx, record); err != nil {
			warnings = append(warnings, s.warn(ctx, profile.ID, "content record not saved", err))
		}
	}

	saved, err = s.sessions.SaveAt(context.WithoutCancel(ctx), profile.ID, epoch, next)
	switch {
	case err != nil:
		s.log.Error("save session", "user", profile.ID, "err", err)
		warnings = append(warnings, Warning{Kind: WarningPersistence, Message: "session state not saved"})
	case !saved:
		s.log.Info("session reset during paid step, result not applied", "user", profile.ID, "model", step.model.ID)
		next = pipeline.New(profile.Specialty)
	}

	s.log.Info("paid step completed", "user", profile.ID, "model", step.model.ID, "capability", step.model.Capability, "charged", receipt.Charged)
	return Outcome{Session: next, Warnings: warnings}, nil
}

func (s *GenerationService) acquire(ctx context.Context, userID string) (func(), error) {
	release, err := s.sessions.Acquire(ctx, userID)
	if errors.Is(err, session.ErrBusy) {
		return nil, ErrOperationInProgress
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

// restore puts back the pre-step session, clearing the busy flag. A session
// reset in the meantime stays reset.
func (s *GenerationService) restore(userID string, epoch int64, sess pipeline.Session) {
	if _, err := s.sessions.SaveAt(context.Background(), userID, epoch, sess); err != nil {
		s.log.Error("restore session", "user", userID, "err", err)
	}
}

// saveRecord retries transient failures. The content was already paid for,
// so a cancelled request must not skip it.
func (s *GenerationService) saveRecord(ctx context.Context, record *models.GeneratedContent) error {
	ctx = context.WithoutCancel(ctx)
	delay := s.cfg.RecordBackoff
	var err error
	for attempt := 0; attempt < s.cfg.RecordAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		if err = s.contents.Insert(ctx, record); err == nil {
			return nil
		}
		s.log.Debug("content insert failed", "user", record.UserID, "attempt", attempt+1, "err", err)
	}
	return err
}

func (s *GenerationService) warn(ctx context.Context, userID, title string, err error) Warning {
	s.log.Warn(title, "user", userID, "err", err)
	s.alerts.Notify(context.WithoutCancel(ctx), alert.Alert{Title: title, UserID: userID, Detail: err.Error()})
	return Warning{Kind: WarningPersistence, Message: title}
}

// selectedModel re-checks the chosen model against the current plan, which
// may have changed since it was selected.
func selectedModel(profile *models.Profile, capability models.Capability, id string) (models.ModelDescriptor, error) {
	field := string(capability) + "Model"
	model, ok := catalog.LookupFor(capability, id)
	if !ok {
		return models.ModelDescriptor{}, &pipeline.ValidationError{Field: field, Message: fmt.Sprintf("unknown %s model %q", capability, id)}
	}
	if !catalog.CapabilityUnlocked(profile.Plan, capability) || !catalog.IsAllowed(profile.Plan, model.Tier) {
		return models.ModelDescriptor{}, &pipeline.ValidationError{Field: field, Message: fmt.Sprintf("model %s is not available on the %s plan", model.Name, profile.Plan)}
	}
	return model, nil
}

type promptDetails struct {
	ProfessionalInfo pipeline.ProfessionalInfo `json:"professionalInfo"`
	GenerationConfig pipeline.GenerationConfig `json:"generationConfig"`
	SelectedTheme    string                    `json:"selectedTheme,omitempty"`
	MediaPrompt      string                    `json:"mediaPrompt,omitempty"`
}

func (d promptDetails) raw() json.RawMessage {
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return b
}
