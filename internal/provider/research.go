package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/medpost/internal/models"
)

type ResearchConfig struct {
	// BaseURL of the Perplexity compatible chat completions API.
	BaseURL string
	// UpstreamModel is the research model id sent upstream.
	UpstreamModel string
	// ProxyURL, when set, receives {"themes": ...} and answers
	// {"content": ...} or {"error": ...} instead of calling BaseURL.
	ProxyURL   string
	ProxyToken string
	Timeout    time.Duration
}

// ResearchAdapter asks the research provider how relevant each topic is and
// returns the raw answer. Parsing is left to the caller.
type ResearchAdapter struct {
	cfg        ResearchConfig
	creds      *CredentialResolver
	httpClient *http.Client
	log        *slog.Logger
}

func NewResearchAdapter(cfg ResearchConfig, creds *CredentialResolver, log *slog.Logger) *ResearchAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.UpstreamModel == "" {
		cfg.UpstreamModel = "sonar"
	}
	return &ResearchAdapter{cfg: cfg, creds: creds, httpClient: newHTTPClient(cfg.Timeout), log: log}
}

func (a *ResearchAdapter) Generate(ctx context.Context, model models.ModelDescriptor, req Request) (Result, error) {
	themes := strings.TrimSpace(req.Themes)
	if themes == "" {
		return Result{}, fmt.Errorf("themes cannot be empty")
	}

	var (
		content string
		err     error
	)
	if a.cfg.ProxyURL != "" {
		// The proxy holds the research key; none is looked up here.
		content, err = a.viaProxy(ctx, model, themes)
	} else {
		content, err = a.direct(ctx, model, themes)
	}
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(content) == "" {
		return Result{}, &Error{Kind: KindProviderError, Provider: model.Platform, Model: model.ID, Message: "empty research answer"}
	}
	a.log.Debug("market research answered", "model", model.ID, "chars", len(content))
	return Result{Text: content}, nil
}

func (a *ResearchAdapter) direct(ctx context.Context, model models.ModelDescriptor, themes string) (string, error) {
	key, err := a.creds.Resolve(ctx, model)
	if err != nil {
		return "", err
	}
	return chatCompletion(ctx, a.httpClient, endpoint{
		provider: model.Platform,
		model:    a.cfg.UpstreamModel,
		url:      joinURL(a.cfg.BaseURL, "/chat/completions"),
		headers:  map[string]string{"Authorization": "Bearer " + key},
	}, ResearchPrompt(themes))
}

func (a *ResearchAdapter) viaProxy(ctx context.Context, model models.ModelDescriptor, themes string) (string, error) {
	ep := endpoint{provider: "research-proxy", model: model.ID, url: a.cfg.ProxyURL}
	if a.cfg.ProxyToken != "" {
		ep.headers = map[string]string{"Authorization": "Bearer " + a.cfg.ProxyToken}
	}
	var resp struct {
		Content string `json:"content"`
		Error   string `json:"error"`
	}
	if err := postJSON(ctx, a.httpClient, ep, map[string]string{"themes": themes}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &Error{Kind: KindProviderError, Provider: model.Platform, Model: model.ID, Message: resp.Error}
	}
	return resp.Content, nil
}

// ResearchPrompt asks for the two labelled sections the research parser reads.
func ResearchPrompt(themes string) string {
	var b strings.Builder
	b.WriteString("Você é um analista de marketing digital para profissionais de saúde no Brasil. ")
	b.WriteString("Avalie o potencial de engajamento em redes sociais dos seguintes temas:\n")
	for _, line := range strings.Split(themes, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nResponda exatamente neste formato:\n")
	b.WriteString("Relatório de Mercado: <um parágrafo sobre demanda, concorrência e tendências>\n")
	b.WriteString("Avaliação dos temas:\n")
	b.WriteString("1. <tema> (N/5)\n")
	b.WriteString("Liste os temas do mais relevante para o menos relevante, com N entre 0 e 5.")
	return b.String()
}
