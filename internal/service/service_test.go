package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/digkill/medpost/internal/catalog"
	"github.com/digkill/medpost/internal/ledger"
	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/pipeline"
	"github.com/digkill/medpost/internal/provider"
	"github.com/digkill/medpost/internal/repository"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want FailureKind
	}{
		{&pipeline.ValidationError{Field: "services", Message: "required"}, KindValidation},
		{fmt.Errorf("charge: %w", ledger.ErrInsufficientCredits), KindInsufficientCredits},
		{&provider.CredentialError{Model: "gpt-4o", Platform: "openai"}, KindCredentialMissing},
		{&provider.Error{Kind: provider.KindProviderError, Message: "bad"}, KindProviderError},
		{&provider.Error{Kind: provider.KindProviderTimeout}, KindProviderTimeout},
		{context.DeadlineExceeded, KindProviderTimeout},
		{ErrOperationInProgress, KindInProgress},
		{ErrForbidden, KindForbidden},
		{repository.ErrNotFound, KindNotFound},
		{ErrUnauthenticated, KindUnauthenticated},
		{errors.New("sql: connection refused"), KindInternal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got.Kind != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got.Kind, tc.want)
		}
	}
	if got := Classify(errors.New("dsn user:secret@tcp")); got.Message != "internal error" {
		t.Fatalf("internal message leaked: %q", got.Message)
	}
	if got := Classify(&pipeline.ValidationError{Field: "theme", Message: "select a theme"}); got.Message != "select a theme" {
		t.Fatalf("validation message = %q", got.Message)
	}
}

type memPlatform struct {
	cfg   models.PlatformConfig
	saves int
}

func (m *memPlatform) Get(context.Context) (*models.PlatformConfig, error) {
	c := m.cfg
	c.PriceIDs = make(map[models.Plan]string, len(m.cfg.PriceIDs))
	for k, v := range m.cfg.PriceIDs {
		c.PriceIDs[k] = v
	}
	return &c, nil
}

func (m *memPlatform) Save(ctx context.Context, cfg *models.PlatformConfig) (*models.PlatformConfig, error) {
	m.saves++
	m.cfg = *cfg
	return m.Get(ctx)
}

func strPtr(s string) *string { return &s }

func TestPlatformRequiresSuperAdmin(t *testing.T) {
	store := &memPlatform{}
	svc := NewPlatformService(store)
	user := &models.Profile{ID: "u1", Role: models.RoleUser}

	if _, err := svc.Get(context.Background(), user); !errors.Is(err, ErrForbidden) {
		t.Fatalf("get err = %v", err)
	}
	if _, err := svc.Update(context.Background(), user, UpdatePlatformInput{StripeSecretKey: strPtr("sk")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("update err = %v", err)
	}
	if _, err := svc.Get(context.Background(), models.AnonymousProfile()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous err = %v", err)
	}
	if store.saves != 0 {
		t.Fatal("forbidden update saved")
	}
}

func TestPlatformUpdate(t *testing.T) {
	store := &memPlatform{cfg: models.PlatformConfig{StripePublishableKey: "pk_old", PriceIDs: map[models.Plan]string{models.PlanUltra: "price_u"}}}
	svc := NewPlatformService(store)
	admin := &models.Profile{ID: "a1", Role: models.RoleSuperAdmin}

	got, err := svc.Update(context.Background(), admin, UpdatePlatformInput{
		StripeSecretKey: strPtr(" sk_live "),
		PriceIDs:        map[string]string{"premium": "price_p", "ultra": ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.StripePublishableKey != "pk_old" || got.StripeSecretKey != "sk_live" {
		t.Fatalf("keys = %+v", got)
	}
	if got.PriceIDs[models.PlanPremium] != "price_p" {
		t.Fatalf("price ids = %v", got.PriceIDs)
	}
	if _, ok := got.PriceIDs[models.PlanUltra]; ok {
		t.Fatal("empty price id not removed")
	}

	for _, plan := range []string{"basic", "gold"} {
		_, err := svc.Update(context.Background(), admin, UpdatePlatformInput{PriceIDs: map[string]string{plan: "x"}})
		var ve *pipeline.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("plan %s err = %v", plan, err)
		}
	}
}

type fakeCredentials struct {
	list []models.Credential
	err  error
}

func (f fakeCredentials) KeyForModel(context.Context, string) (string, error)    { return "", f.err }
func (f fakeCredentials) KeyForPlatform(context.Context, string) (string, error) { return "", f.err }
func (f fakeCredentials) List(context.Context) ([]models.Credential, error)      { return f.list, f.err }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCatalogModels(t *testing.T) {
	creds := fakeCredentials{list: []models.Credential{
		{Platform: catalog.PlatformOpenAI, APIKey: "sk"},
		{ModelName: "claude-opus", Platform: catalog.PlatformAnthropic, APIKey: "ak"},
	}}
	svc := NewCatalogService(provider.NewCredentialResolver(creds), quietLogger())

	views := svc.Models(context.Background(), models.PlanPremium, models.CapabilityText)
	if len(views) != len(catalog.List(models.CapabilityText)) {
		t.Fatalf("got %d views", len(views))
	}
	byID := map[string]ModelView{}
	for _, v := range views {
		byID[v.ID] = v
	}
	if !byID["gpt-4o"].Configured || !byID["gpt-4o"].Allowed {
		t.Fatalf("gpt-4o = %+v", byID["gpt-4o"])
	}
	if !byID["claude-opus"].Configured || byID["claude-opus"].Allowed {
		t.Fatalf("claude-opus = %+v", byID["claude-opus"])
	}
	if byID["gemini-flash"].Configured {
		t.Fatal("gemini-flash has no key")
	}

	video := svc.Models(context.Background(), models.PlanPremium, models.CapabilityVideo)
	for _, v := range video {
		if v.Unlocked || v.Allowed {
			t.Fatalf("video on premium = %+v", v)
		}
	}
}

func TestCatalogModelsWithoutCredentialStore(t *testing.T) {
	svc := NewCatalogService(provider.NewCredentialResolver(fakeCredentials{err: errors.New("down")}), quietLogger())
	for _, v := range svc.Models(context.Background(), models.PlanUltra, models.CapabilityImage) {
		if v.Configured || !v.Allowed {
			t.Fatalf("view = %+v", v)
		}
	}
}

type memProfiles struct {
	profiles map[string]*models.Profile
}

func (m *memProfiles) FindByID(_ context.Context, id string) (*models.Profile, error) {
	return m.profiles[id], nil
}

func (m *memProfiles) Ensure(_ context.Context, id, email string, defaults models.Credits) (*models.Profile, bool, error) {
	if p, ok := m.profiles[id]; ok {
		return p, false, nil
	}
	p := &models.Profile{ID: id, Email: email, Plan: models.PlanBasic, Role: models.RoleUser, Credits: defaults}
	m.profiles[id] = p
	return p, true, nil
}

func (m *memProfiles) UpdateDetails(_ context.Context, id string, d repository.ProfileDetails) error {
	p, ok := m.profiles[id]
	if !ok {
		return nil
	}
	p.FullName, p.Specialty = d.FullName, d.Specialty
	return nil
}

func TestProfileCurrent(t *testing.T) {
	store := &memProfiles{profiles: map[string]*models.Profile{}}
	svc := NewProfileService(store, models.Credits{Text: 10})

	anon, err := svc.Current(context.Background(), "", "")
	if err != nil || anon.Plan != models.PlanBasic || anon.ID != "" {
		t.Fatalf("anonymous = %+v err=%v", anon, err)
	}

	p, err := svc.Current(context.Background(), "u1", "a@b.c")
	if err != nil {
		t.Fatal(err)
	}
	if p.Credits != (models.Credits{Text: 10}) || p.Plan != models.PlanBasic || p.Role != models.RoleUser {
		t.Fatalf("provisioned = %+v", p)
	}

	updated, err := svc.UpdateDetails(context.Background(), "u1", repository.ProfileDetails{FullName: "  Ana  ", Specialty: "Pediatria"})
	if err != nil || updated.FullName != "Ana" || updated.Specialty != "Pediatria" {
		t.Fatalf("updated = %+v err=%v", updated, err)
	}
	if _, err := svc.UpdateDetails(context.Background(), "missing", repository.ProfileDetails{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

type countingPurge struct {
	memContents
	purges chan struct{}
}

func (c *countingPurge) PurgeExpired(context.Context, time.Time) (int64, error) {
	select {
	case c.purges <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestContentServiceHistory(t *testing.T) {
	store := &memContents{}
	svc := NewContentService(store, quietLogger())
	ctx := context.Background()

	items, err := svc.List(ctx, "u1", 10)
	if err != nil || items == nil || len(items) != 0 {
		t.Fatalf("empty history = %v err=%v", items, err)
	}
	_ = store.Insert(ctx, &models.GeneratedContent{ID: "a", UserID: "u1"})
	_ = store.Insert(ctx, &models.GeneratedContent{ID: "b", UserID: "u2"})

	if err := svc.Delete(ctx, "u1", "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete of another user's record err = %v", err)
	}
	if err := svc.Delete(ctx, "u1", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.List(ctx, "", 10); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous list err = %v", err)
	}
}

func TestJanitorPurgesUntilCancelled(t *testing.T) {
	store := &countingPurge{purges: make(chan struct{}, 8)}
	svc := NewContentService(store, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunJanitor(ctx, time.Millisecond) }()

	for i := 0; i < 2; i++ {
		select {
		case <-store.purges:
		case <-time.After(time.Second):
			t.Fatal("janitor did not purge")
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
