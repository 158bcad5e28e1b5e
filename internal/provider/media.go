package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/medpost/internal/kie"
	"github.com/digkill/medpost/internal/models"
)

// MediaBackend renders a prompt to a media URL once the key is known.
type MediaBackend interface {
	Render(ctx context.Context, apiKey string, model models.ModelDescriptor, prompt string) (string, error)
}

// Mirror copies provider media somewhere durable and returns the new URL.
type Mirror interface {
	Mirror(ctx context.Context, sourceURL string, capability models.Capability) (string, error)
}

// MediaAdapter serves the image and video capabilities.
type MediaAdapter struct {
	capability models.Capability
	creds      *CredentialResolver
	backend    MediaBackend
	mirror     Mirror
	log        *slog.Logger
}

func NewMediaAdapter(capability models.Capability, creds *CredentialResolver, backend MediaBackend, mirror Mirror, log *slog.Logger) *MediaAdapter {
	return &MediaAdapter{capability: capability, creds: creds, backend: backend, mirror: mirror, log: log}
}

func (a *MediaAdapter) Generate(ctx context.Context, model models.ModelDescriptor, req Request) (Result, error) {
	if model.Capability != a.capability {
		return Result{}, fmt.Errorf("model %s is not a %s model", model.ID, a.capability)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, fmt.Errorf("prompt cannot be empty")
	}

	key, err := a.creds.Resolve(ctx, model)
	if err != nil {
		return Result{}, err
	}

	a.log.Info("media generation started", "capability", a.capability, "model", model.ID)
	mediaURL, err := a.backend.Render(ctx, key, model, req.Prompt)
	if err != nil {
		return Result{}, err
	}
	if mediaURL == "" {
		return Result{}, &Error{Kind: KindProviderError, Provider: model.Provider, Model: model.ID, Message: "no media url returned"}
	}

	if a.mirror != nil {
		mirrored, err := a.mirror.Mirror(ctx, mediaURL, a.capability)
		if err != nil {
			a.log.Warn("media mirror failed, keeping provider url", "model", model.ID, "err", err)
		} else {
			mediaURL = mirrored
		}
	}
	return Result{URL: mediaURL}, nil
}

// PlaceholderBackend simulates generation with a fixed latency and a
// placeholder image URL.
type PlaceholderBackend struct {
	ImageDelay time.Duration
	VideoDelay time.Duration
}

func (b PlaceholderBackend) Render(ctx context.Context, _ string, model models.ModelDescriptor, _ string) (string, error) {
	delay, size, label := b.ImageDelay, "1080x1080/8b5cf6/ffffff", "Imagem Gerada"
	if model.Capability == models.CapabilityVideo {
		delay, size, label = b.VideoDelay, "1080x1920/6366f1/ffffff", "Vídeo Gerado"
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", wrapTransport(model.Provider, model.ID, ctx.Err())
		case <-time.After(delay):
		}
	}
	text := url.QueryEscape(label + "\npor " + model.Name)
	return "https://placehold.co/" + size + "?text=" + text, nil
}

// DefaultKIEModels maps catalog media ids to KIE model names.
var DefaultKIEModels = map[string]string{
	"dall-e-2":   "gpt-image-1",
	"sdxl":       "flux-2/pro-text-to-image",
	"dall-e-3":   "nano-banana-pro",
	"midjourney": "midjourney/v7-text-to-image",
	"runway":     "runway/gen4-turbo",
	"pika":       "kling/v2-1-standard",
}

// KIEBackend generates media through the KIE jobs API.
type KIEBackend struct {
	client *kie.Client
	models map[string]string
}

func NewKIEBackend(client *kie.Client, overrides map[string]string) *KIEBackend {
	m := make(map[string]string, len(DefaultKIEModels)+len(overrides))
	for k, v := range DefaultKIEModels {
		m[k] = v
	}
	for k, v := range overrides {
		m[k] = v
	}
	return &KIEBackend{client: client, models: m}
}

func (b *KIEBackend) Render(ctx context.Context, apiKey string, model models.ModelDescriptor, prompt string) (string, error) {
	name, ok := b.models[model.ID]
	if !ok {
		return "", &Error{Kind: KindProviderError, Provider: "kie", Model: model.ID, Message: "no KIE model mapping"}
	}
	opts := kie.TaskOptions{Model: name, Prompt: prompt, AspectRatio: "1:1", Resolution: "1K"}
	if model.Capability == models.CapabilityVideo {
		opts.AspectRatio = "9:16"
		opts.Resolution = "720p"
		opts.Duration = 5
	}
	asset, err := b.client.Generate(ctx, apiKey, opts)
	if err != nil {
		return "", classifyKIE(model, err)
	}
	return asset.URL, nil
}

func classifyKIE(model models.ModelDescriptor, err error) error {
	var statusErr *kie.StatusError
	var failed *kie.TaskFailedError
	switch {
	case errors.Is(err, kie.ErrTaskTimeout):
		return &Error{Kind: KindProviderTimeout, Provider: "kie", Model: model.ID, Err: err}
	case errors.As(err, &statusErr):
		return &Error{Kind: KindProviderError, Provider: "kie", Model: model.ID, StatusCode: statusErr.Status, Message: statusErr.Msg, Err: err}
	case errors.As(err, &failed):
		return &Error{Kind: KindProviderError, Provider: "kie", Model: model.ID, Message: failed.Msg, Err: err}
	default:
		return wrapTransport("kie", model.ID, err)
	}
}
