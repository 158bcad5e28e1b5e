package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digkill/medpost/internal/catalog"
	"github.com/digkill/medpost/internal/kie"
	"github.com/digkill/medpost/internal/models"
)

type fakeCreds struct {
	byModel    map[string]string
	byPlatform map[string]string
	err        error
}

func (f fakeCreds) KeyForModel(_ context.Context, name string) (string, error) {
	return f.byModel[name], f.err
}

func (f fakeCreds) KeyForPlatform(_ context.Context, platform string) (string, error) {
	return f.byPlatform[platform], f.err
}

func (f fakeCreds) List(context.Context) ([]models.Credential, error) {
	var out []models.Credential
	for m, k := range f.byModel {
		out = append(out, models.Credential{ModelName: m, APIKey: k})
	}
	for p, k := range f.byPlatform {
		out = append(out, models.Credential{Platform: p, APIKey: k})
	}
	return out, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustModel(t *testing.T, id string) models.ModelDescriptor {
	t.Helper()
	m, ok := catalog.Lookup(id)
	if !ok {
		t.Fatalf("unknown model %s", id)
	}
	return m
}

func TestResolveModelKeyWinsOverPlatform(t *testing.T) {
	r := NewCredentialResolver(fakeCreds{
		byModel:    map[string]string{"gpt-4o": "model-key"},
		byPlatform: map[string]string{"openai": "platform-key"},
	})
	key, err := r.Resolve(context.Background(), mustModel(t, "gpt-4o"))
	if err != nil || key != "model-key" {
		t.Fatalf("key=%q err=%v", key, err)
	}
	key, err = r.Resolve(context.Background(), mustModel(t, "gpt-4o-mini"))
	if err != nil || key != "platform-key" {
		t.Fatalf("fallback key=%q err=%v", key, err)
	}
}

func TestResolveMissingIsDistinguishable(t *testing.T) {
	r := NewCredentialResolver(fakeCreds{byModel: map[string]string{"sonar": "  "}})
	_, err := r.Resolve(context.Background(), catalog.Research())
	if !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("err = %v", err)
	}
	var pe *Error
	if errors.As(err, &pe) {
		t.Fatal("missing credential must not look like a provider error")
	}
}

func TestResolveStoreFailureIsNotMissing(t *testing.T) {
	r := NewCredentialResolver(fakeCreds{err: errors.New("db down")})
	_, err := r.Resolve(context.Background(), mustModel(t, "gpt-4o"))
	if err == nil || errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("err = %v", err)
	}
}

func TestConfigured(t *testing.T) {
	r := NewCredentialResolver(fakeCreds{
		byModel:    map[string]string{"claude-opus": "k"},
		byPlatform: map[string]string{"google": "g"},
	})
	got, err := r.Configured(context.Background(), catalog.List(models.CapabilityText))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"gemini-flash": true, "gemini-pro": true, "claude-opus": true,
		"gpt-4o": false, "claude-haiku": false,
	}
	for id, w := range want {
		if got[id] != w {
			t.Errorf("%s configured = %v, want %v", id, got[id], w)
		}
	}
}

func TestTextModelMapCoversCatalog(t *testing.T) {
	for _, m := range catalog.List(models.CapabilityText) {
		if _, ok := UpstreamTextModel(m.ID); !ok {
			t.Errorf("text model %s has no upstream mapping", m.ID)
		}
	}
}

func TestTextAdapterPlatforms(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization") + r.Header.Get("x-api-key") + r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "generateContent"):
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"olá "},{"text":"mundo"}]}}]}`)
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"post gpt"}}]}`)
		case strings.HasSuffix(r.URL.Path, "/messages"):
			_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"post claude"}]}`)
		}
	}))
	defer srv.Close()

	creds := NewCredentialResolver(fakeCreds{byPlatform: map[string]string{"google": "g", "openai": "o", "anthropic": "a"}})
	a := NewTextAdapter(TextConfig{GeminiBaseURL: srv.URL, OpenAIBaseURL: srv.URL, AnthropicBaseURL: srv.URL}, creds, discardLogger())

	cases := []struct {
		model, path, auth, text, upstream string
	}{
		{"gemini-flash", "/v1beta/models/gemini-1.5-flash:generateContent", "g", "olá mundo", ""},
		{"gpt-4o", "/v1/chat/completions", "Bearer o", "post gpt", "gpt-4o"},
		{"claude-sonnet", "/v1/messages", "a", "post claude", "claude-3-sonnet-20240229"},
	}
	for _, tc := range cases {
		res, err := a.Generate(context.Background(), mustModel(t, tc.model), Request{Prompt: "escreva"})
		if err != nil {
			t.Fatalf("%s: %v", tc.model, err)
		}
		if res.Text != tc.text || gotPath != tc.path || gotAuth != tc.auth {
			t.Errorf("%s: text=%q path=%q auth=%q", tc.model, res.Text, gotPath, gotAuth)
		}
		if tc.upstream != "" && gotBody["model"] != tc.upstream {
			t.Errorf("%s: upstream model %v", tc.model, gotBody["model"])
		}
	}
}

func TestTextAdapterUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	creds := NewCredentialResolver(fakeCreds{byPlatform: map[string]string{"openai": "o"}})
	a := NewTextAdapter(TextConfig{OpenAIBaseURL: srv.URL}, creds, discardLogger())
	_, err := a.Generate(context.Background(), mustModel(t, "gpt-4o-mini"), Request{Prompt: "x"})
	var pe *Error
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusTooManyRequests || pe.Message != "rate limited" {
		t.Fatalf("err = %#v", err)
	}
	if IsTimeout(err) {
		t.Fatal("429 is not a timeout")
	}
}

func TestTextAdapterTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	creds := NewCredentialResolver(fakeCreds{byPlatform: map[string]string{"anthropic": "a"}})
	a := NewTextAdapter(TextConfig{AnthropicBaseURL: srv.URL, Timeout: 30 * time.Millisecond}, creds, discardLogger())
	_, err := a.Generate(context.Background(), mustModel(t, "claude-haiku"), Request{Prompt: "x"})
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestTextAdapterMissingKeyMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	defer srv.Close()

	a := NewTextAdapter(TextConfig{OpenAIBaseURL: srv.URL}, NewCredentialResolver(fakeCreds{}), discardLogger())
	_, err := a.Generate(context.Background(), mustModel(t, "gpt-4o"), Request{Prompt: "x"})
	if !errors.Is(err, ErrCredentialMissing) || calls.Load() != 0 {
		t.Fatalf("err=%v calls=%d", err, calls.Load())
	}
}

func TestResearchAdapterDirect(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer pplx" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Messages []chatMessage `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		prompt = body.Messages[0].Content
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"Relatório de Mercado: ok Avaliação dos temas:\n1. Acne (5/5)"}}]}`)
	}))
	defer srv.Close()

	creds := NewCredentialResolver(fakeCreds{byPlatform: map[string]string{"perplexity": "pplx"}})
	a := NewResearchAdapter(ResearchConfig{BaseURL: srv.URL}, creds, discardLogger())
	res, err := a.Generate(context.Background(), catalog.Research(), Request{Themes: "acne\n\nmelasma"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "Acne (5/5)") {
		t.Fatalf("text = %q", res.Text)
	}
	if !strings.Contains(prompt, "- acne\n- melasma\n") || !strings.Contains(prompt, "Avaliação dos temas:") {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestResearchAdapterProxyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["themes"] != "acne" {
			t.Errorf("themes = %q", body["themes"])
		}
		_, _ = io.WriteString(w, `{"error":"quota exceeded"}`)
	}))
	defer srv.Close()

	creds := NewCredentialResolver(fakeCreds{byPlatform: map[string]string{"perplexity": "pplx"}})
	a := NewResearchAdapter(ResearchConfig{ProxyURL: srv.URL}, creds, discardLogger())
	_, err := a.Generate(context.Background(), catalog.Research(), Request{Themes: "acne"})
	var pe *Error
	if !errors.As(err, &pe) || pe.Message != "quota exceeded" {
		t.Fatalf("err = %v", err)
	}
}

func TestResearchAdapterProxyNeedsNoLocalKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer proxy-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"content":"Relatório de Mercado: ok Avaliação dos temas:\n1. Acne (4/5)"}`)
	}))
	defer srv.Close()

	a := NewResearchAdapter(ResearchConfig{ProxyURL: srv.URL, ProxyToken: "proxy-token"}, NewCredentialResolver(fakeCreds{}), discardLogger())
	res, err := a.Generate(context.Background(), catalog.Research(), Request{Themes: "acne"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "Acne (4/5)") {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestResearchAdapterNeedsPlatformKey(t *testing.T) {
	a := NewResearchAdapter(ResearchConfig{BaseURL: "http://127.0.0.1:0"}, NewCredentialResolver(fakeCreds{}), discardLogger())
	_, err := a.Generate(context.Background(), catalog.Research(), Request{Themes: "acne"})
	if !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("err = %v", err)
	}
}

type stubMirror struct {
	err error
}

func (m stubMirror) Mirror(_ context.Context, src string, c models.Capability) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "https://cdn.example/" + string(c), nil
}

func TestMediaAdapterPlaceholder(t *testing.T) {
	creds := NewCredentialResolver(fakeCreds{byModel: map[string]string{"sdxl": "k"}})
	a := NewMediaAdapter(models.CapabilityImage, creds, PlaceholderBackend{}, nil, discardLogger())
	res, err := a.Generate(context.Background(), mustModel(t, "sdxl"), Request{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.URL, "https://placehold.co/1080x1080/") {
		t.Fatalf("url = %q", res.URL)
	}

	_, err = a.Generate(context.Background(), mustModel(t, "dall-e-3"), Request{Prompt: "p"})
	if !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("dall-e-3 without key: %v", err)
	}
	_, err = a.Generate(context.Background(), mustModel(t, "runway"), Request{Prompt: "p"})
	if err == nil {
		t.Fatal("video model accepted by image adapter")
	}
}

func TestMediaAdapterMirror(t *testing.T) {
	creds := NewCredentialResolver(fakeCreds{byPlatform: map[string]string{"kie": "k"}})
	ok := NewMediaAdapter(models.CapabilityVideo, creds, PlaceholderBackend{}, stubMirror{}, discardLogger())
	res, err := ok.Generate(context.Background(), mustModel(t, "pika"), Request{Prompt: "p"})
	if err != nil || res.URL != "https://cdn.example/video" {
		t.Fatalf("url=%q err=%v", res.URL, err)
	}

	failing := NewMediaAdapter(models.CapabilityVideo, creds, PlaceholderBackend{}, stubMirror{err: errors.New("s3 down")}, discardLogger())
	res, err = failing.Generate(context.Background(), mustModel(t, "pika"), Request{Prompt: "p"})
	if err != nil || !strings.HasPrefix(res.URL, "https://placehold.co/1080x1920/") {
		t.Fatalf("mirror failure should keep provider url: url=%q err=%v", res.URL, err)
	}
}

func TestKIEBackend(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer kie-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/jobs/createTask":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["model"] != "runway/gen4-turbo" {
				t.Errorf("model = %v", body["model"])
			}
			_, _ = io.WriteString(w, `{"code":200,"data":{"taskId":"t1"}}`)
		case "/api/v1/jobs/recordInfo":
			if polls.Add(1) < 2 {
				_, _ = io.WriteString(w, `{"code":200,"data":{"state":"generating"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"code":200,"data":{"state":"success","resultJson":"{\"resultUrls\":[\"https://files.kie/v.mp4\"]}"}}`)
		}
	}))
	defer srv.Close()

	client := kie.NewClient(kie.Config{BaseURL: srv.URL, PollInterval: time.Millisecond}, discardLogger())
	creds := NewCredentialResolver(fakeCreds{byPlatform: map[string]string{"kie": "kie-key"}})
	a := NewMediaAdapter(models.CapabilityVideo, creds, NewKIEBackend(client, nil), nil, discardLogger())

	res, err := a.Generate(context.Background(), mustModel(t, "runway"), Request{Prompt: "p"})
	if err != nil || res.URL != "https://files.kie/v.mp4" {
		t.Fatalf("url=%q err=%v", res.URL, err)
	}
}

func TestKIEBackendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/jobs/createTask":
			_, _ = io.WriteString(w, `{"code":200,"data":{"taskId":"t1"}}`)
		case "/api/v1/jobs/recordInfo":
			if r.URL.Query().Get("taskId") != "t1" {
				t.Errorf("taskId = %q", r.URL.Query().Get("taskId"))
			}
			_, _ = io.WriteString(w, `{"code":200,"data":{"state":"queued"}}`)
		}
	}))
	defer srv.Close()

	client := kie.NewClient(kie.Config{BaseURL: srv.URL, PollAttempts: 3, PollInterval: time.Millisecond}, discardLogger())
	backend := NewKIEBackend(client, map[string]string{"sdxl": "custom/sdxl"})
	_, err := backend.Render(context.Background(), "k", mustModel(t, "sdxl"), "p")
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if backend.models["sdxl"] != "custom/sdxl" {
		t.Fatal("override ignored")
	}
}

func TestCleanSuggestions(t *testing.T) {
	got := CleanSuggestions("- Acne\n* Melasma\n\n  Rosácea  \n")
	if got != "Acne\nMelasma\nRosácea" {
		t.Fatalf("got %q", got)
	}
}

func TestRegistryFor(t *testing.T) {
	r := &Registry{Text: &TextAdapter{}}
	if _, err := r.For(models.CapabilityText); err != nil {
		t.Fatal(err)
	}
	if _, err := r.For(models.CapabilityVideo); err == nil {
		t.Fatal("expected error for unregistered capability")
	}
}
