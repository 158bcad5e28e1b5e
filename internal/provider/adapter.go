// Package provider adapts external AI services (text completion, market
// research, image and video generation) to one request/result shape.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/digkill/medpost/internal/models"
)

type Request struct {
	Prompt string
	// Themes is the newline-delimited topic list used by market research.
	Themes string
}

type Result struct {
	Text string
	URL  string
}

type Adapter interface {
	Generate(ctx context.Context, model models.ModelDescriptor, req Request) (Result, error)
}

// Registry routes a model to the adapter of its capability. Research is held
// apart because its descriptor shares the text capability.
type Registry struct {
	Text     Adapter
	Research Adapter
	Image    Adapter
	Video    Adapter
}

func (r *Registry) For(capability models.Capability) (Adapter, error) {
	var a Adapter
	switch capability {
	case models.CapabilityText:
		a = r.Text
	case models.CapabilityImage:
		a = r.Image
	case models.CapabilityVideo:
		a = r.Video
	}
	if a == nil {
		return nil, fmt.Errorf("no adapter for capability %q", capability)
	}
	return a, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
