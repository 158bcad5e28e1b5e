// Package pipeline holds the per-user generation session and its stage
// transitions. Transitions are pure: they take a session and an event and
// return the next session or a validation error, never touching the network.
package pipeline

import (
	"fmt"

	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/research"
)

type Stage int

const (
	StageBrainstorm Stage = iota + 1
	StageMarketAnalysis
	StageTextGeneration
	StageMediaGeneration
)

func (s Stage) String() string {
	switch s {
	case StageBrainstorm:
		return "brainstorm"
	case StageMarketAnalysis:
		return "market_analysis"
	case StageTextGeneration:
		return "text_generation"
	case StageMediaGeneration:
		return "media_generation"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) Valid() bool {
	return s >= StageBrainstorm && s <= StageMediaGeneration
}

// DefaultProfession is the profession a new session starts with.
const DefaultProfession = "Médico"

type ProfessionalInfo struct {
	Profession string `json:"profession"`
	Specialty  string `json:"specialty"`
	// Services is the newline-delimited list of desired topics.
	Services string `json:"services"`
}

type MarketAnalysis struct {
	Report string           `json:"report"`
	Themes []research.Theme `json:"themes"`
}

type GenerationConfig struct {
	TextModel  string `json:"textModel"`
	ImageModel string `json:"imageModel"`
	VideoModel string `json:"videoModel"`
}

// Model returns the model id selected for capability.
func (c GenerationConfig) Model(capability models.Capability) string {
	switch capability {
	case models.CapabilityText:
		return c.TextModel
	case models.CapabilityImage:
		return c.ImageModel
	case models.CapabilityVideo:
		return c.VideoModel
	}
	return ""
}

type GeneratedOutput struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
	VideoURL string `json:"videoUrl"`
}

// Session is the state of one user's walk through the four stages.
type Session struct {
	Stage         Stage            `json:"stage"`
	Info          ProfessionalInfo `json:"professionalInfo"`
	Analysis      *MarketAnalysis  `json:"marketAnalysis,omitempty"`
	SelectedTheme string           `json:"selectedTheme"`
	Config        GenerationConfig `json:"generationConfig"`
	Output        GeneratedOutput  `json:"generatedContent"`

	// InProgress is set while a paid action runs; ProgressLabel says which.
	InProgress    bool   `json:"inProgress"`
	ProgressLabel string `json:"progressLabel,omitempty"`
}

// New returns a session at the first stage for a user with the given
// specialty.
func New(specialty string) Session {
	return Session{
		Stage: StageBrainstorm,
		Info:  ProfessionalInfo{Profession: DefaultProfession, Specialty: specialty},
	}
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	if s.Analysis != nil {
		a := *s.Analysis
		a.Themes = append([]research.Theme(nil), s.Analysis.Themes...)
		s.Analysis = &a
	}
	return s
}

// ValidationError is a local precondition failure. No provider is called and
// nothing is charged when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
