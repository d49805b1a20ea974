// Package openai implements the built-in chat/embedding provider. It fronts
// the OpenAI REST API with a fixed sub-path and model allow-list and a static
// per-token pricing table.
package openai

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vqhuy/metergate/internal/provider"
	"github.com/vqhuy/metergate/pkg/headerfilter"
)

const catalogPath = "v1/models"

var allowedPaths = map[string]bool{
	"v1/chat/completions": true,
	"v1/embeddings":       true,
	catalogPath:           true,
}

// price per single token, USD.
type price struct {
	input  float64
	output float64
}

var pricing = map[string]price{
	"gpt-4o":                 {input: 0.0000025, output: 0.00001},
	"gpt-4o-mini":            {input: 0.00000015, output: 0.0000006},
	"gpt-4":                  {input: 0.00003, output: 0.00006},
	"gpt-3.5-turbo":          {input: 0.0000005, output: 0.0000015},
	"text-embedding-3-small": {input: 0.00000002},
	"text-embedding-3-large": {input: 0.00000013},
}

type OpenAIProvider struct {
	apiKey  string
	baseURL string
}

func New(apiKey string) *OpenAIProvider {
	return NewWithBaseURL(apiKey, "https://api.openai.com")
}

func NewWithBaseURL(apiKey, baseURL string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) CatalogPath() string {
	return catalogPath
}

func (p *OpenAIProvider) Validate(method, subPath string, body []byte) ([]byte, *provider.RequestError) {
	if !allowedPaths[subPath] {
		return nil, &provider.RequestError{
			Kind:    provider.KindInvalidPath,
			Status:  http.StatusBadRequest,
			Message: "unsupported path: /" + subPath,
		}
	}

	if method != http.MethodPost {
		return nil, nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &provider.RequestError{
			Kind:    provider.KindInvalidBody,
			Status:  http.StatusBadRequest,
			Message: "request body is not valid JSON",
		}
	}

	var model string
	if raw, ok := payload["model"]; ok {
		_ = json.Unmarshal(raw, &model)
	}
	if _, ok := pricing[model]; !ok {
		return nil, &provider.RequestError{
			Kind:    provider.KindInvalidModel,
			Status:  http.StatusBadRequest,
			Message: "model not allowed: " + model,
		}
	}

	var stream bool
	if raw, ok := payload["stream"]; ok {
		_ = json.Unmarshal(raw, &stream)
	}
	if stream {
		return nil, &provider.RequestError{
			Kind:    provider.KindStreamingUnsupported,
			Status:  http.StatusBadRequest,
			Message: "streaming responses cannot be metered; set stream to false",
		}
	}

	// Re-serialize so the upstream receives exactly the validated shape.
	validated, err := json.Marshal(payload)
	if err != nil {
		return nil, &provider.RequestError{
			Kind:    provider.KindInvalidBody,
			Status:  http.StatusBadRequest,
			Message: "request body could not be re-encoded",
		}
	}
	return validated, nil
}

func (p *OpenAIProvider) BuildRequest(r *http.Request, subPath string, body []byte) (*provider.ForwardableRequest, error) {
	url := p.baseURL + "/" + subPath
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	header := headerfilter.Filter(r.Header, headerfilter.RequestDenyList)
	header.Set("Authorization", "Bearer "+p.apiKey)
	if len(body) > 0 {
		header.Set("Content-Type", "application/json")
	}

	return &provider.ForwardableRequest{
		Method: r.Method,
		URL:    url,
		Header: header,
		Body:   body,
	}, nil
}

func (p *OpenAIProvider) Cost(res *provider.Result) (float64, error) {
	rate, ok := pricing[res.Model()]
	if !ok {
		return 0, nil
	}
	usage, err := res.Usage()
	if err != nil {
		return 0, err
	}
	return float64(usage.PromptTokens)*rate.input + float64(usage.CompletionTokens)*rate.output, nil
}

func (p *OpenAIProvider) ModelCatalog() json.RawMessage {
	return json.RawMessage(modelCatalog)
}

// Served verbatim for GET v1/models; listing models has no cost and no
// metering need, so the upstream is never contacted.
const modelCatalog = `{
  "object": "list",
  "data": [
    {"id": "gpt-4o", "object": "model", "owned_by": "openai"},
    {"id": "gpt-4o-mini", "object": "model", "owned_by": "openai"},
    {"id": "gpt-4", "object": "model", "owned_by": "openai"},
    {"id": "gpt-3.5-turbo", "object": "model", "owned_by": "openai"},
    {"id": "text-embedding-3-small", "object": "model", "owned_by": "openai"},
    {"id": "text-embedding-3-large", "object": "model", "owned_by": "openai"}
  ]
}`
