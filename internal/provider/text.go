package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/medpost/internal/catalog"
	"github.com/digkill/medpost/internal/models"
)

// TextModelMapVersion identifies the revision of textModelIDs. Bump it when an
// upstream identifier changes.
const TextModelMapVersion = "2024-06"

// textModelIDs maps catalog ids to the identifiers the upstream APIs expect.
var textModelIDs = map[string]string{
	"gemini-flash":  "gemini-1.5-flash",
	"gemini-pro":    "gemini-1.5-pro",
	"gpt-4o-mini":   "gpt-4o-mini",
	"gpt-4o":        "gpt-4o",
	"claude-haiku":  "claude-3-haiku-20240307",
	"claude-sonnet": "claude-3-sonnet-20240229",
	"claude-opus":   "claude-3-opus-20240229",
}

// UpstreamTextModel returns the concrete upstream id for a catalog text model.
func UpstreamTextModel(id string) (string, bool) {
	v, ok := textModelIDs[id]
	return v, ok
}

type TextConfig struct {
	GeminiBaseURL    string
	OpenAIBaseURL    string
	AnthropicBaseURL string
	Timeout          time.Duration
	MaxTokens        int
}

// TextAdapter completes prompts with Gemini, OpenAI or Anthropic models.
type TextAdapter struct {
	cfg        TextConfig
	creds      *CredentialResolver
	httpClient *http.Client
	log        *slog.Logger
}

func NewTextAdapter(cfg TextConfig, creds *CredentialResolver, log *slog.Logger) *TextAdapter {
	if cfg.GeminiBaseURL == "" {
		cfg.GeminiBaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com"
	}
	if cfg.AnthropicBaseURL == "" {
		cfg.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &TextAdapter{cfg: cfg, creds: creds, httpClient: newHTTPClient(cfg.Timeout), log: log}
}

func (a *TextAdapter) Generate(ctx context.Context, model models.ModelDescriptor, req Request) (Result, error) {
	upstream, ok := UpstreamTextModel(model.ID)
	if !ok {
		return Result{}, &Error{Kind: KindProviderError, Provider: model.Provider, Model: model.ID, Message: "no upstream model mapping"}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, fmt.Errorf("prompt cannot be empty")
	}

	key, err := a.creds.Resolve(ctx, model)
	if err != nil {
		return Result{}, err
	}

	a.log.Debug("text completion", "model", model.ID, "upstream", upstream)

	var text string
	switch model.Platform {
	case catalog.PlatformGoogle:
		text, err = a.gemini(ctx, key, upstream, req.Prompt)
	case catalog.PlatformOpenAI:
		text, err = a.openAI(ctx, key, upstream, req.Prompt)
	case catalog.PlatformAnthropic:
		text, err = a.anthropic(ctx, key, upstream, req.Prompt)
	default:
		return Result{}, &Error{Kind: KindProviderError, Provider: model.Provider, Model: model.ID, Message: "unsupported text platform " + model.Platform}
	}
	if err != nil {
		return Result{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, &Error{Kind: KindProviderError, Provider: model.Provider, Model: model.ID, Message: "empty completion"}
	}
	return Result{Text: text}, nil
}

func (a *TextAdapter) gemini(ctx context.Context, key, upstream, prompt string) (string, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Parts []part `json:"parts"`
	}
	payload := map[string]any{
		"contents": []content{{Parts: []part{{Text: prompt}}}},
	}
	var resp struct {
		Candidates []struct {
			Content content `json:"content"`
		} `json:"candidates"`
	}
	ep := endpoint{
		provider: "google",
		model:    upstream,
		url:      joinURL(a.cfg.GeminiBaseURL, "/v1beta/models/"+url.PathEscape(upstream)+":generateContent"),
		headers:  map[string]string{"x-goog-api-key": key},
	}
	if err := postJSON(ctx, a.httpClient, ep, payload, &resp); err != nil {
		return "", err
	}
	var b strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

func (a *TextAdapter) openAI(ctx context.Context, key, upstream, prompt string) (string, error) {
	return chatCompletion(ctx, a.httpClient, endpoint{
		provider: "openai",
		model:    upstream,
		url:      joinURL(a.cfg.OpenAIBaseURL, "/v1/chat/completions"),
		headers:  map[string]string{"Authorization": "Bearer " + key},
	}, prompt)
}

func (a *TextAdapter) anthropic(ctx context.Context, key, upstream, prompt string) (string, error) {
	payload := map[string]any{
		"model":      upstream,
		"max_tokens": a.cfg.MaxTokens,
		"messages":   []chatMessage{{Role: "user", Content: prompt}},
	}
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	ep := endpoint{
		provider: "anthropic",
		model:    upstream,
		url:      joinURL(a.cfg.AnthropicBaseURL, "/v1/messages"),
		headers: map[string]string{
			"x-api-key":         key,
			"anthropic-version": "2023-06-01",
		},
	}
	if err := postJSON(ctx, a.httpClient, ep, payload, &resp); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletion calls an OpenAI compatible /chat/completions endpoint.
func chatCompletion(ctx context.Context, client *http.Client, ep endpoint, prompt string) (string, error) {
	payload := map[string]any{
		"model":    ep.model,
		"messages": []chatMessage{{Role: "user", Content: prompt}},
	}
	var resp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, client, ep, payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// CleanSuggestions strips list markers from a one-topic-per-line answer.
func CleanSuggestions(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
