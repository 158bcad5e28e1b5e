package pipeline

import (
	"fmt"

	"github.com/digkill/medpost/internal/models"
)

// Progress labels shown while a paid action runs.
const (
	LabelSuggesting = "Sugerindo temas..."
	LabelAnalyzing  = "Analisando mercado com Perplexity..."
	LabelText       = "Gerando texto com IA..."
	LabelImage      = "Gerando imagem..."
	LabelVideo      = "Gerando vídeo..."
)

const mediaExcerptRunes = 200

func TextPrompt(info ProfessionalInfo, theme string) string {
	return fmt.Sprintf("Como um(a) %s especialista em %s, crie um post para rede social sobre o seguinte tema: \"%s\".",
		info.Profession, info.Specialty, theme)
}

// MediaPrompt builds the image or video prompt from the start of the post.
func MediaPrompt(text string, capability models.Capability) string {
	noun := "imagem"
	if capability == models.CapabilityVideo {
		noun = "vídeo"
	}
	excerpt := []rune(text)
	if len(excerpt) > mediaExcerptRunes {
		excerpt = excerpt[:mediaExcerptRunes]
	}
	return fmt.Sprintf("Baseado no seguinte texto, crie uma %s visualmente atraente: \"%s...\"", noun, string(excerpt))
}

func SuggestionPrompt(specialty string) string {
	return fmt.Sprintf("Me dê 5 ideias de temas para minha especialidade, sou %s. Retorne apenas os temas, um por linha.", specialty)
}

// MediaLabel returns the progress label for a media capability.
func MediaLabel(capability models.Capability) string {
	if capability == models.CapabilityVideo {
		return LabelVideo
	}
	return LabelImage
}
