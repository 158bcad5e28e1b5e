package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/digkill/medpost/internal/catalog"
	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/research"
)

// Event is a user action or a completed paid step.
type Event interface {
	apply(s Session) (Session, error)
}

// Apply returns the session that results from e. On error the input session
// is the valid state and the returned session must be ignored.
func Apply(s Session, e Event) (Session, error) {
	if !s.Stage.Valid() {
		return s, fmt.Errorf("session in unknown stage %d", int(s.Stage))
	}
	return e.apply(s.Clone())
}

// UpdateInfo replaces the professional info edited on the first stage.
type UpdateInfo struct {
	Info ProfessionalInfo
}

func (e UpdateInfo) apply(s Session) (Session, error) {
	if s.Stage != StageBrainstorm {
		return s, invalid("stage", "professional info can only be edited while brainstorming")
	}
	info := e.Info
	if strings.TrimSpace(info.Profession) == "" {
		info.Profession = DefaultProfession
	}
	s.Info = info
	return s, nil
}

// SuggestedServices fills the topic list from a suggestion answer.
type SuggestedServices struct {
	Services string
}

func (e SuggestedServices) apply(s Session) (Session, error) {
	if err := CanSuggest(s); err != nil {
		return s, err
	}
	s.Info.Services = e.Services
	return s, nil
}

// AnalysisCompleted stores the parsed research and moves to theme selection.
type AnalysisCompleted struct {
	Analysis MarketAnalysis
}

func (e AnalysisCompleted) apply(s Session) (Session, error) {
	if err := CanAnalyze(s); err != nil {
		return s, err
	}
	if len(e.Analysis.Themes) == 0 {
		return s, fmt.Errorf("analysis without themes")
	}
	a := e.Analysis
	a.Themes = slices.Clone(e.Analysis.Themes)
	s.Analysis = &a
	if !hasTheme(a.Themes, s.SelectedTheme) {
		s.SelectedTheme = ""
	}
	s.Stage = StageMarketAnalysis
	return s, nil
}

// SelectTheme picks one of the analysed themes without leaving the stage.
type SelectTheme struct {
	Theme string
}

func (e SelectTheme) apply(s Session) (Session, error) {
	if s.Stage != StageMarketAnalysis || s.Analysis == nil {
		return s, invalid("stage", "run the market analysis before choosing a theme")
	}
	theme := strings.TrimSpace(e.Theme)
	if theme == "" {
		return s, invalid("selectedTheme", "choose a theme to continue")
	}
	if research.Placeholder(s.Analysis.Themes) {
		return s, invalid("selectedTheme", "no themes were extracted, run the analysis again")
	}
	if !hasTheme(s.Analysis.Themes, theme) {
		return s, invalid("selectedTheme", fmt.Sprintf("theme %q is not part of the analysis", theme))
	}
	s.SelectedTheme = theme
	return s, nil
}

// ConfirmTheme advances from theme selection to text generation.
type ConfirmTheme struct{}

func (ConfirmTheme) apply(s Session) (Session, error) {
	if s.Stage != StageMarketAnalysis {
		return s, invalid("stage", "no theme selection in progress")
	}
	if s.SelectedTheme == "" {
		return s, invalid("selectedTheme", "choose a theme to continue")
	}
	s.Stage = StageTextGeneration
	return s, nil
}

// SelectModels updates the model choices. Empty ids leave a choice unchanged.
// Every id must exist for its capability, be reachable under Plan and belong
// to a capability the plan unlocks.
type SelectModels struct {
	Config GenerationConfig
	Plan   models.Plan
}

func (e SelectModels) apply(s Session) (Session, error) {
	choices := []struct {
		capability models.Capability
		id         string
		dst        *string
	}{
		{models.CapabilityText, e.Config.TextModel, &s.Config.TextModel},
		{models.CapabilityImage, e.Config.ImageModel, &s.Config.ImageModel},
		{models.CapabilityVideo, e.Config.VideoModel, &s.Config.VideoModel},
	}
	for _, c := range choices {
		if c.id == "" {
			continue
		}
		field := string(c.capability) + "Model"
		m, ok := catalog.LookupFor(c.capability, c.id)
		if !ok {
			return s, invalid(field, fmt.Sprintf("unknown %s model %q", c.capability, c.id))
		}
		if !catalog.CapabilityUnlocked(e.Plan, c.capability) {
			return s, invalid(field, fmt.Sprintf("%s generation is not available on the %s plan", c.capability, e.Plan))
		}
		if !catalog.IsAllowed(e.Plan, m.Tier) {
			return s, invalid(field, fmt.Sprintf("model %s requires the %s plan", m.Name, m.Tier))
		}
		*c.dst = m.ID
	}
	return s, nil
}

// TextGenerated stores the post and moves to media generation.
type TextGenerated struct {
	Text string
}

func (e TextGenerated) apply(s Session) (Session, error) {
	if err := CanGenerateText(s); err != nil {
		return s, err
	}
	if strings.TrimSpace(e.Text) == "" {
		return s, fmt.Errorf("empty generated text")
	}
	s.Output.Text = e.Text
	s.Stage = StageMediaGeneration
	return s, nil
}

// MediaGenerated records an image or video URL. The stage does not change.
type MediaGenerated struct {
	Capability models.Capability
	URL        string
}

func (e MediaGenerated) apply(s Session) (Session, error) {
	if err := CanGenerateMedia(s, e.Capability); err != nil {
		return s, err
	}
	if e.URL == "" {
		return s, fmt.Errorf("empty media url")
	}
	if e.Capability == models.CapabilityImage {
		s.Output.ImageURL = e.URL
	} else {
		s.Output.VideoURL = e.URL
	}
	return s, nil
}

// Back moves one stage back keeping every computed output. It is a no-op on
// the first stage.
type Back struct{}

func (Back) apply(s Session) (Session, error) {
	if s.Stage > StageBrainstorm {
		s.Stage--
	}
	return s, nil
}

// Reset discards the session, as on logout.
type Reset struct {
	Specialty string
}

func (e Reset) apply(Session) (Session, error) {
	return New(e.Specialty), nil
}

// CanSuggest reports whether a topic suggestion may be requested.
func CanSuggest(s Session) error {
	if s.Stage != StageBrainstorm {
		return invalid("stage", "suggestions are only available while brainstorming")
	}
	if strings.TrimSpace(s.Info.Specialty) == "" {
		return invalid("specialty", "fill in your specialty first")
	}
	return nil
}

// CanAnalyze reports whether the market analysis may run.
func CanAnalyze(s Session) error {
	if s.Stage != StageBrainstorm {
		return invalid("stage", "market analysis starts from the brainstorm stage")
	}
	if strings.TrimSpace(s.Info.Services) == "" {
		return invalid("services", "fill in the topics for your content")
	}
	return nil
}

// CanGenerateText reports whether the post may be generated.
func CanGenerateText(s Session) error {
	if s.Stage != StageTextGeneration {
		return invalid("stage", "choose a theme before generating text")
	}
	if s.SelectedTheme == "" {
		return invalid("selectedTheme", "choose a theme to continue")
	}
	if s.Config.TextModel == "" {
		return invalid("textModel", "choose a model to generate the text")
	}
	return nil
}

// CanGenerateMedia reports whether media of the given capability may be
// generated.
func CanGenerateMedia(s Session, capability models.Capability) error {
	if capability != models.CapabilityImage && capability != models.CapabilityVideo {
		return invalid("type", fmt.Sprintf("unsupported media type %q", capability))
	}
	if s.Stage != StageMediaGeneration || s.Output.Text == "" {
		return invalid("stage", "generate the text before any media")
	}
	if s.Config.Model(capability) == "" {
		return invalid(string(capability)+"Model", fmt.Sprintf("choose a %s model", capability))
	}
	return nil
}

func hasTheme(themes []research.Theme, name string) bool {
	if name == "" {
		return false
	}
	for _, t := range themes {
		if t.Name == name {
			return true
		}
	}
	return false
}
