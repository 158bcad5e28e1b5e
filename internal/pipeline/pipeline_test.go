package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/research"
)

func mustApply(t *testing.T, s Session, e Event) Session {
	t.Helper()
	next, err := Apply(s, e)
	if err != nil {
		t.Fatalf("apply %T: %v", e, err)
	}
	return next
}

func wantValidation(t *testing.T, err error, field string) {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Field != field {
		t.Fatalf("field = %q, want %q", ve.Field, field)
	}
}

func analysed(t *testing.T) Session {
	t.Helper()
	s := New("Dermatologia")
	s = mustApply(t, s, UpdateInfo{Info: ProfessionalInfo{Specialty: "Dermatologia", Services: "acne care"}})
	return mustApply(t, s, AnalysisCompleted{Analysis: MarketAnalysis{
		Report: "Demand is high.",
		Themes: []research.Theme{{Name: "Skincare tips", Rating: 4}, {Name: "Diet myths", Rating: 5}},
	}})
}

func atMedia(t *testing.T) Session {
	t.Helper()
	s := analysed(t)
	s = mustApply(t, s, SelectTheme{Theme: "Diet myths"})
	s = mustApply(t, s, ConfirmTheme{})
	s = mustApply(t, s, SelectModels{Plan: models.PlanUltra, Config: GenerationConfig{TextModel: "gpt-4o", ImageModel: "sdxl", VideoModel: "runway"}})
	return mustApply(t, s, TextGenerated{Text: "Mitos sobre dieta"})
}

func TestNewDefaults(t *testing.T) {
	s := New("Cardiologia")
	if s.Stage != StageBrainstorm || s.Info.Profession != "Médico" || s.Info.Specialty != "Cardiologia" {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestAnalysisRequiresServices(t *testing.T) {
	_, err := Apply(New("Dermatologia"), AnalysisCompleted{Analysis: MarketAnalysis{Themes: []research.Theme{{Name: "x"}}}})
	wantValidation(t, err, "services")
	wantValidation(t, CanAnalyze(New("Dermatologia")), "services")
}

func TestAnalysisAdvances(t *testing.T) {
	s := analysed(t)
	if s.Stage != StageMarketAnalysis {
		t.Fatalf("stage = %v", s.Stage)
	}
	if s.Analysis == nil || len(s.Analysis.Themes) != 2 || s.Analysis.Report != "Demand is high." {
		t.Fatalf("analysis = %+v", s.Analysis)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := analysed(t)
	before := s.Analysis.Themes[0].Name
	next := mustApply(t, s, SelectTheme{Theme: "Skincare tips"})
	next.Analysis.Themes[0].Name = "changed"
	if s.Analysis.Themes[0].Name != before || s.SelectedTheme != "" {
		t.Fatal("input session was mutated")
	}
}

func TestThemeSelection(t *testing.T) {
	s := analysed(t)

	_, err := Apply(s, ConfirmTheme{})
	wantValidation(t, err, "selectedTheme")

	_, err = Apply(s, SelectTheme{Theme: "Unknown"})
	wantValidation(t, err, "selectedTheme")

	s = mustApply(t, s, SelectTheme{Theme: "Skincare tips"})
	s = mustApply(t, s, ConfirmTheme{})
	if s.Stage != StageTextGeneration || s.SelectedTheme != "Skincare tips" {
		t.Fatalf("session = %+v", s)
	}
}

func TestPlaceholderThemeCannotBeSelected(t *testing.T) {
	s := New("Dermatologia")
	s = mustApply(t, s, UpdateInfo{Info: ProfessionalInfo{Specialty: "Dermatologia", Services: "x"}})
	parsed := research.Parse("garbage")
	s = mustApply(t, s, AnalysisCompleted{Analysis: MarketAnalysis{Report: parsed.Report, Themes: parsed.Themes}})
	_, err := Apply(s, SelectTheme{Theme: research.PlaceholderTheme})
	wantValidation(t, err, "selectedTheme")
}

func TestSelectModelsEnforcesTier(t *testing.T) {
	s := New("x")
	_, err := Apply(s, SelectModels{Plan: models.PlanBasic, Config: GenerationConfig{TextModel: "claude-opus"}})
	wantValidation(t, err, "textModel")

	_, err = Apply(s, SelectModels{Plan: models.PlanPlus, Config: GenerationConfig{ImageModel: "sdxl"}})
	wantValidation(t, err, "imageModel")

	_, err = Apply(s, SelectModels{Plan: models.PlanPremium, Config: GenerationConfig{VideoModel: "runway"}})
	wantValidation(t, err, "videoModel")

	_, err = Apply(s, SelectModels{Plan: models.PlanUltra, Config: GenerationConfig{TextModel: "sonar"}})
	wantValidation(t, err, "textModel")

	s = mustApply(t, s, SelectModels{Plan: models.PlanPremium, Config: GenerationConfig{TextModel: "gpt-4o", ImageModel: "sdxl"}})
	s = mustApply(t, s, SelectModels{Plan: models.PlanPremium, Config: GenerationConfig{ImageModel: "dall-e-2"}})
	if s.Config.TextModel != "gpt-4o" || s.Config.ImageModel != "dall-e-2" {
		t.Fatalf("config = %+v", s.Config)
	}
}

func TestTextGenerationGates(t *testing.T) {
	s := analysed(t)
	s = mustApply(t, s, SelectTheme{Theme: "Diet myths"})
	s = mustApply(t, s, ConfirmTheme{})
	wantValidation(t, CanGenerateText(s), "textModel")

	s = mustApply(t, s, SelectModels{Plan: models.PlanBasic, Config: GenerationConfig{TextModel: "gemini-flash"}})
	if err := CanGenerateText(s); err != nil {
		t.Fatal(err)
	}
	s = mustApply(t, s, TextGenerated{Text: "post"})
	if s.Stage != StageMediaGeneration || s.Output.Text != "post" {
		t.Fatalf("session = %+v", s)
	}
}

func TestMediaIsRepeatableAndTerminal(t *testing.T) {
	s := atMedia(t)
	s = mustApply(t, s, MediaGenerated{Capability: models.CapabilityImage, URL: "https://a/1.png"})
	s = mustApply(t, s, MediaGenerated{Capability: models.CapabilityImage, URL: "https://a/2.png"})
	s = mustApply(t, s, MediaGenerated{Capability: models.CapabilityVideo, URL: "https://a/1.mp4"})
	if s.Stage != StageMediaGeneration || s.Output.ImageURL != "https://a/2.png" || s.Output.VideoURL != "https://a/1.mp4" {
		t.Fatalf("session = %+v", s)
	}
}

func TestMediaRequiresText(t *testing.T) {
	s := analysed(t)
	wantValidation(t, CanGenerateMedia(s, models.CapabilityImage), "stage")
	wantValidation(t, CanGenerateMedia(atMedia(t), models.CapabilityText), "type")
}

func TestBackPreservesOutputs(t *testing.T) {
	s := atMedia(t)
	for want := StageTextGeneration; want >= StageBrainstorm; want-- {
		s = mustApply(t, s, Back{})
		if s.Stage != want {
			t.Fatalf("stage = %v, want %v", s.Stage, want)
		}
	}
	s = mustApply(t, s, Back{})
	if s.Stage != StageBrainstorm {
		t.Fatalf("back from first stage moved to %v", s.Stage)
	}
	if s.Output.Text != "Mitos sobre dieta" || s.SelectedTheme != "Diet myths" || s.Analysis == nil || s.Config.TextModel != "gpt-4o" {
		t.Fatalf("outputs lost: %+v", s)
	}
}

func TestNewAnalysisKeepsKnownTheme(t *testing.T) {
	s := analysed(t)
	s = mustApply(t, s, SelectTheme{Theme: "Diet myths"})
	s = mustApply(t, s, Back{})

	again := mustApply(t, s, AnalysisCompleted{Analysis: MarketAnalysis{Themes: []research.Theme{{Name: "Diet myths", Rating: 3}}}})
	if again.SelectedTheme != "Diet myths" {
		t.Fatalf("selected theme dropped: %q", again.SelectedTheme)
	}
	other := mustApply(t, s, AnalysisCompleted{Analysis: MarketAnalysis{Themes: []research.Theme{{Name: "Other", Rating: 3}}}})
	if other.SelectedTheme != "" {
		t.Fatalf("stale theme kept: %q", other.SelectedTheme)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	s := mustApply(t, atMedia(t), Reset{Specialty: "Pediatria"})
	want := New("Pediatria")
	if s.Stage != want.Stage || s.Info != want.Info || s.Analysis != nil || s.Output != (GeneratedOutput{}) || s.Config != (GenerationConfig{}) {
		t.Fatalf("session = %+v", s)
	}
}

func TestSuggestionNeedsSpecialty(t *testing.T) {
	_, err := Apply(New(""), SuggestedServices{Services: "a"})
	wantValidation(t, err, "specialty")

	s := mustApply(t, New("Dermatologia"), SuggestedServices{Services: "Acne\nMelasma"})
	if s.Info.Services != "Acne\nMelasma" || s.Stage != StageBrainstorm {
		t.Fatalf("session = %+v", s)
	}
}

func TestUpdateInfoOnlyWhileBrainstorming(t *testing.T) {
	_, err := Apply(analysed(t), UpdateInfo{Info: ProfessionalInfo{Services: "x"}})
	wantValidation(t, err, "stage")

	s := mustApply(t, New("x"), UpdateInfo{Info: ProfessionalInfo{Specialty: "y"}})
	if s.Info.Profession != DefaultProfession {
		t.Fatalf("profession = %q", s.Info.Profession)
	}
}

func TestPrompts(t *testing.T) {
	got := TextPrompt(ProfessionalInfo{Profession: "Médico", Specialty: "Dermatologia"}, "Acne")
	want := `Como um(a) Médico especialista em Dermatologia, crie um post para rede social sobre o seguinte tema: "Acne".`
	if got != want {
		t.Fatalf("text prompt = %q", got)
	}

	long := strings.Repeat("é", 250)
	media := MediaPrompt(long, models.CapabilityVideo)
	if !strings.HasPrefix(media, "Baseado no seguinte texto, crie uma vídeo visualmente atraente: \"") {
		t.Fatalf("media prompt = %q", media)
	}
	if strings.Count(media, "é") != 200 {
		t.Fatalf("excerpt not cut at 200 runes: %d", strings.Count(media, "é"))
	}
	if !strings.HasSuffix(media, "...\"") {
		t.Fatalf("media prompt = %q", media)
	}
}

func TestUnknownStage(t *testing.T) {
	if _, err := Apply(Session{}, Back{}); err == nil {
		t.Fatal("zero session accepted")
	}
}
