package openai

import (
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vqhuy/metergate/internal/provider"
)

func TestValidate_UnsupportedPath(t *testing.T) {
	p := New("sk-test")
	_, reqErr := p.Validate("POST", "v1/images/generations", []byte(`{"model":"gpt-4o"}`))
	if reqErr == nil {
		t.Fatal("Expected error for unsupported path")
	}
	if reqErr.Kind != provider.KindInvalidPath {
		t.Errorf("Expected invalid_path, got %s", reqErr.Kind)
	}
	if reqErr.Status != 400 {
		t.Errorf("Expected status 400, got %d", reqErr.Status)
	}
}

func TestValidate_InvalidJSON(t *testing.T) {
	p := New("sk-test")
	_, reqErr := p.Validate("POST", "v1/chat/completions", []byte(`{not json`))
	if reqErr == nil || reqErr.Kind != provider.KindInvalidBody {
		t.Fatalf("Expected invalid_body, got %v", reqErr)
	}
}

func TestValidate_ModelNotAllowed(t *testing.T) {
	p := New("sk-test")
	for _, body := range []string{
		`{"model":"gpt-9000","messages":[]}`,
		`{"messages":[]}`,
	} {
		_, reqErr := p.Validate("POST", "v1/chat/completions", []byte(body))
		if reqErr == nil || reqErr.Kind != provider.KindInvalidModel {
			t.Errorf("Body %s: expected invalid_model, got %v", body, reqErr)
		}
	}
}

func TestValidate_StreamingRejected(t *testing.T) {
	p := New("sk-test")
	_, reqErr := p.Validate("POST", "v1/chat/completions", []byte(`{"model":"gpt-4o","stream":true}`))
	if reqErr == nil || reqErr.Kind != provider.KindStreamingUnsupported {
		t.Fatalf("Expected streaming_unsupported, got %v", reqErr)
	}
}

func TestValidate_OK(t *testing.T) {
	p := New("sk-test")
	body, reqErr := p.Validate("POST", "v1/chat/completions",
		[]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stream":false}`))
	if reqErr != nil {
		t.Fatalf("Unexpected error: %v", reqErr)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("Validated body is not JSON: %v", err)
	}
	if string(payload["model"]) != `"gpt-4o"` {
		t.Errorf("Expected model preserved, got %s", payload["model"])
	}
	if string(payload["messages"]) != `[{"role":"user","content":"hi"}]` {
		t.Errorf("Expected messages preserved byte-for-byte, got %s", payload["messages"])
	}
}

func TestBuildRequest(t *testing.T) {
	p := New("sk-provider-key")
	r := httptest.NewRequest("POST", "/openai/v1/chat/completions?debug=1", strings.NewReader(""))
	r.Header.Set("Authorization", "Bearer caller-token")
	r.Header.Set("Content-Length", "42")
	r.Header.Set("X-Custom", "a")

	fwd, err := p.BuildRequest(r, "v1/chat/completions", []byte(`{"model":"gpt-4o"}`))
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}

	if fwd.URL != "https://api.openai.com/v1/chat/completions?debug=1" {
		t.Errorf("Unexpected URL: %s", fwd.URL)
	}
	if fwd.Method != "POST" {
		t.Errorf("Expected POST, got %s", fwd.Method)
	}
	if got := fwd.Header.Get("Authorization"); got != "Bearer sk-provider-key" {
		t.Errorf("Expected provider credential, got %s", got)
	}
	if fwd.Header.Get("Content-Length") != "" {
		t.Errorf("Expected Content-Length stripped")
	}
	if fwd.Header.Get("X-Custom") != "a" {
		t.Errorf("Expected X-Custom forwarded")
	}
}

func TestCost_KnownModel(t *testing.T) {
	p := New("sk-test")
	res, err := provider.ParseResult([]byte(`{"model":"gpt-4","usage":{"prompt_tokens":1000,"completion_tokens":500}}`))
	if err != nil {
		t.Fatalf("ParseResult failed: %v", err)
	}

	cost, err := p.Cost(res)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	want := 1000*0.00003 + 500*0.00006
	if math.Abs(cost-want) > 1e-12 {
		t.Errorf("Expected cost %v, got %v", want, cost)
	}
}

func TestCost_Idempotent(t *testing.T) {
	p := New("sk-test")
	res, _ := provider.ParseResult([]byte(`{"model":"gpt-4o-mini","usage":{"prompt_tokens":123,"completion_tokens":456}}`))

	first, err := p.Cost(res)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	second, err := p.Cost(res)
	if err != nil {
		t.Fatalf("Cost failed on second call: %v", err)
	}
	if first != second {
		t.Errorf("Cost is not idempotent: %v != %v", first, second)
	}
}

func TestCost_UnknownModelIsFree(t *testing.T) {
	p := New("sk-test")
	res, _ := provider.ParseResult([]byte(`{"model":"mystery","usage":{"prompt_tokens":10,"completion_tokens":10}}`))

	cost, err := p.Cost(res)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if cost != 0 {
		t.Errorf("Expected 0 for unknown model, got %v", cost)
	}
}

func TestCost_MissingUsage(t *testing.T) {
	p := New("sk-test")
	res, _ := provider.ParseResult([]byte(`{"model":"gpt-4o","choices":[]}`))

	if _, err := p.Cost(res); err == nil {
		t.Fatal("Expected error for missing usage counters")
	}
}

func TestModelCatalog(t *testing.T) {
	p := New("sk-test")
	var catalog struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(p.ModelCatalog(), &catalog); err != nil {
		t.Fatalf("Catalog is not valid JSON: %v", err)
	}
	if catalog.Object != "list" {
		t.Errorf("Expected object list, got %s", catalog.Object)
	}
	if len(catalog.Data) == 0 {
		t.Error("Expected at least one model in catalog")
	}
	for _, m := range catalog.Data {
		if _, ok := pricing[m.ID]; !ok {
			t.Errorf("Catalog model %s has no pricing rule", m.ID)
		}
	}
}
