package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type endpoint struct {
	provider string
	model    string
	url      string
	headers  map[string]string
}

// postJSON sends payload and decodes a 2xx response into out. Non-2xx answers
// become provider errors carrying the upstream message when one is present.
func postJSON(ctx context.Context, client *http.Client, ep endpoint, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range ep.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return wrapTransport(ep.provider, ep.model, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransport(ep.provider, ep.model, err)
	}

	if resp.StatusCode >= 300 {
		kind := KindProviderError
		if resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout {
			kind = KindProviderTimeout
		}
		return &Error{
			Kind:       kind,
			Provider:   ep.provider,
			Model:      ep.model,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(rawBody),
		}
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return &Error{
			Kind:     KindProviderError,
			Provider: ep.provider,
			Model:    ep.model,
			Message:  fmt.Sprintf("decode response: %v (body=%s)", err, truncateBody(rawBody)),
		}
	}
	return nil
}

// upstreamMessage pulls a human readable message out of the common error
// envelopes ({"error":{"message"}} and {"error":"..."}).
func upstreamMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}
	return truncateBody(body)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
