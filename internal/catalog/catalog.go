// Package catalog holds the static registry of generation models and the tier
// gate that decides which of them a plan may use.
package catalog

import "github.com/digkill/medpost/internal/models"

const (
	PlatformGoogle     = "google"
	PlatformOpenAI     = "openai"
	PlatformAnthropic  = "anthropic"
	PlatformPerplexity = "perplexity"
	PlatformKIE        = "kie"
)

var textModels = []models.ModelDescriptor{
	{ID: "gemini-flash", Name: "Gemini Flash", Provider: "Google", Platform: PlatformGoogle, Capability: models.CapabilityText, Tier: models.PlanBasic, CreditCost: 1},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: "OpenAI", Platform: PlatformOpenAI, Capability: models.CapabilityText, Tier: models.PlanBasic, CreditCost: 1},
	{ID: "claude-haiku", Name: "Claude 3 Haiku", Provider: "Anthropic", Platform: PlatformAnthropic, Capability: models.CapabilityText, Tier: models.PlanPlus, CreditCost: 2},
	{ID: "gemini-pro", Name: "Gemini Pro", Provider: "Google", Platform: PlatformGoogle, Capability: models.CapabilityText, Tier: models.PlanPlus, CreditCost: 3},
	{ID: "claude-sonnet", Name: "Claude 3 Sonnet", Provider: "Anthropic", Platform: PlatformAnthropic, Capability: models.CapabilityText, Tier: models.PlanPremium, CreditCost: 5},
	{ID: "gpt-4o", Name: "GPT-4o", Provider: "OpenAI", Platform: PlatformOpenAI, Capability: models.CapabilityText, Tier: models.PlanPremium, CreditCost: 8},
	{ID: "claude-opus", Name: "Claude 3 Opus", Provider: "Anthropic", Platform: PlatformAnthropic, Capability: models.CapabilityText, Tier: models.PlanUltra, CreditCost: 15},
}

var imageModels = []models.ModelDescriptor{
	{ID: "dall-e-2", Name: "DALL-E 2", Provider: "OpenAI", Platform: PlatformKIE, Capability: models.CapabilityImage, Tier: models.PlanPremium, CreditCost: 5},
	{ID: "sdxl", Name: "Stability AI SDXL", Provider: "Stability", Platform: PlatformKIE, Capability: models.CapabilityImage, Tier: models.PlanPremium, CreditCost: 4},
	{ID: "dall-e-3", Name: "DALL-E 3", Provider: "OpenAI", Platform: PlatformKIE, Capability: models.CapabilityImage, Tier: models.PlanUltra, CreditCost: 10},
	{ID: "midjourney", Name: "Midjourney", Provider: "Midjourney", Platform: PlatformKIE, Capability: models.CapabilityImage, Tier: models.PlanUltra, CreditCost: 12},
}

var videoModels = []models.ModelDescriptor{
	{ID: "runway", Name: "Runway Gen-2", Provider: "Runway", Platform: PlatformKIE, Capability: models.CapabilityVideo, Tier: models.PlanUltra, CreditCost: 25},
	{ID: "pika", Name: "Pika Labs", Provider: "Pika", Platform: PlatformKIE, Capability: models.CapabilityVideo, Tier: models.PlanUltra, CreditCost: 20},
}

// research is charged against the text pool but is not user-selectable.
var research = models.ModelDescriptor{
	ID: "sonar", Name: "Perplexity Sonar", Provider: "Perplexity", Platform: PlatformPerplexity,
	Capability: models.CapabilityText, Tier: models.PlanBasic, CreditCost: 5,
}

const suggestionModelID = "gemini-flash"

var index = func() map[string]models.ModelDescriptor {
	idx := make(map[string]models.ModelDescriptor)
	for _, group := range [][]models.ModelDescriptor{textModels, imageModels, videoModels} {
		for _, m := range group {
			idx[m.ID] = m
		}
	}
	idx[research.ID] = research
	return idx
}()

// List returns the models of a capability in declaration order.
func List(capability models.Capability) []models.ModelDescriptor {
	var src []models.ModelDescriptor
	switch capability {
	case models.CapabilityText:
		src = textModels
	case models.CapabilityImage:
		src = imageModels
	case models.CapabilityVideo:
		src = videoModels
	default:
		return nil
	}
	out := make([]models.ModelDescriptor, len(src))
	copy(out, src)
	return out
}

// Available returns the subsequence of List(capability) the plan may use.
func Available(capability models.Capability, plan models.Plan) []models.ModelDescriptor {
	all := List(capability)
	out := all[:0]
	for _, m := range all {
		if IsAllowed(plan, m.Tier) {
			out = append(out, m)
		}
	}
	return out
}

// Lookup finds a descriptor by id, including the research model.
func Lookup(id string) (models.ModelDescriptor, bool) {
	m, ok := index[id]
	return m, ok
}

// LookupFor finds a selectable descriptor of the given capability.
func LookupFor(capability models.Capability, id string) (models.ModelDescriptor, bool) {
	m, ok := index[id]
	if !ok || m.Capability != capability || m.ID == research.ID {
		return models.ModelDescriptor{}, false
	}
	return m, true
}

// Research is the descriptor used for market research calls.
func Research() models.ModelDescriptor {
	return research
}

// Suggestion is the descriptor used to suggest topics from a specialty.
func Suggestion() models.ModelDescriptor {
	return index[suggestionModelID]
}

// All returns every descriptor, research included, in declaration order.
func All() []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, 0, len(index))
	out = append(out, textModels...)
	out = append(out, imageModels...)
	out = append(out, videoModels...)
	return append(out, research)
}
