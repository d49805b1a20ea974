package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error kinds rendered to callers as {"code": kind, "message": ...}.
const (
	KindMissingProvider      = "missing_provider"
	KindUnknownProvider      = "unknown_provider"
	KindMissingToken         = "missing_token"
	KindInvalidToken         = "invalid_token"
	KindQuotaExceeded        = "quota_exceeded"
	KindRateLimited          = "rate_limited"
	KindInvalidBody          = "invalid_body"
	KindInvalidModel         = "invalid_model"
	KindInvalidPath          = "invalid_path"
	KindStreamingUnsupported = "streaming_unsupported"
	KindStoreError           = "store_error"
	KindUpstreamError        = "upstream_error"
	KindTimeout              = "timeout"
)

// RequestError is a dispatch or validation failure that maps directly to an
// HTTP response. Validation returns it as a value instead of panicking so the
// dispatcher can match on the kind.
type RequestError struct {
	Kind    string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ForwardableRequest is the fully shaped outbound request a provider builds
// from an inbound one. It is passed unmodified to the HTTP client.
type ForwardableRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// TokenUsage holds the token counters reported by an upstream response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Result is the parsed upstream JSON response. Top-level fields are kept as
// raw JSON so they round-trip byte-for-byte into the caller-visible body.
type Result struct {
	Fields map[string]json.RawMessage
}

func ParseResult(body []byte) (*Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("parse upstream response: %w", err)
	}
	return &Result{Fields: fields}, nil
}

// Model returns the model name declared in the result, or "".
func (r *Result) Model() string {
	raw, ok := r.Fields["model"]
	if !ok {
		return ""
	}
	var model string
	if err := json.Unmarshal(raw, &model); err != nil {
		return ""
	}
	return model
}

// Usage extracts the token counters from the result. An absent or malformed
// usage object is an error so cost computation can surface it non-fatally.
func (r *Result) Usage() (TokenUsage, error) {
	raw, ok := r.Fields["usage"]
	if !ok {
		return TokenUsage{}, fmt.Errorf("upstream response has no usage counters")
	}
	var u TokenUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return TokenUsage{}, fmt.Errorf("malformed usage counters: %w", err)
	}
	return u, nil
}

// Envelope is the caller-visible response body: the upstream JSON object with
// metering fields added. It is constructed once, after metering, rather than
// accreted field-by-field.
type Envelope struct {
	Upstream     map[string]json.RawMessage
	Cost         float64
	CostError    string
	TotalCost    float64
	RequestCount int
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Upstream)+4)
	for k, v := range e.Upstream {
		out[k] = v
	}
	var err error
	if out["cost"], err = json.Marshal(e.Cost); err != nil {
		return nil, err
	}
	if out["totalCost"], err = json.Marshal(e.TotalCost); err != nil {
		return nil, err
	}
	if out["requestCount"], err = json.Marshal(e.RequestCount); err != nil {
		return nil, err
	}
	if e.CostError != "" {
		if out["costError"], err = json.Marshal(e.CostError); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// Provider is one upstream LLM vendor: it validates inbound bodies, shapes
// the forwardable request, and prices responses.
type Provider interface {
	Name() string

	// Validate checks the sub-path and body against the provider's
	// allow-lists and returns the re-serialized, validated body. The
	// returned bytes are what gets forwarded upstream.
	Validate(method, subPath string, body []byte) ([]byte, *RequestError)

	// BuildRequest shapes the outbound request: rewrites the path, passes
	// the query string through, and replaces any caller-supplied
	// Authorization header with the provider's own credential.
	BuildRequest(r *http.Request, subPath string, body []byte) (*ForwardableRequest, error)

	// Cost prices a parsed upstream result. Pure: same result, same cost.
	// An unknown model costs 0; missing usage counters are an error.
	Cost(res *Result) (float64, error)

	// CatalogPath is the sub-path served from the embedded model catalog
	// without contacting the upstream.
	CatalogPath() string
	ModelCatalog() json.RawMessage
}

// Registry is the immutable provider set, built once at startup.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
