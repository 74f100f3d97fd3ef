package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/casematch/internal/feature"
)

// maxResponseBytes caps an upstream enrichment payload.
const maxResponseBytes = 1 << 20

// HTTPSource fetches enrichment from the feature store's REST API:
//
//	GET {base}/v1/lawyers/{id}/enrichment
//
// A 404 means the store has no data for the lawyer and is not an error.
type HTTPSource struct {
	base   string
	client *http.Client
}

type enrichmentPayload struct {
	Profile    *feature.Profile `json:"profile"`
	Confidence float64          `json:"confidence"`
}

// NewHTTPSource creates a source for the feature store at baseURL. A nil
// client uses one with an instrumented transport; per-call deadlines come
// from the Loader.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPSource{base: strings.TrimRight(baseURL, "/"), client: client}
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, lawyerID string) feature.Enrichment {
	endpoint := s.base + "/v1/lawyers/" + url.PathEscape(lawyerID) + "/enrichment"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return feature.Enrichment{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return feature.Enrichment{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return feature.Enrichment{}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return feature.Enrichment{Err: fmt.Errorf("feature store returned status %d", resp.StatusCode)}
	}

	var payload enrichmentPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return feature.Enrichment{Err: fmt.Errorf("decode enrichment: %w", err)}
	}
	return feature.Enrichment{Data: payload.Profile, Confidence: payload.Confidence}
}
