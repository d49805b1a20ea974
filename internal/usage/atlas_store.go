package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AtlasStore talks to a MongoDB Atlas Data API endpoint through its generic
// action contract: POST <base>/action/<find|findOne|insertOne|updateOne> with
// a JSON body naming the data source, database, and collection.
type AtlasStore struct {
	baseURL    string
	apiKey     string
	dataSource string
	database   string
	collection string
	client     *http.Client
}

type AtlasConfig struct {
	BaseURL    string
	APIKey     string
	DataSource string
	Database   string
	Collection string
	Timeout    time.Duration
}

func NewAtlasStore(cfg AtlasConfig) *AtlasStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AtlasStore{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		dataSource: cfg.DataSource,
		database:   cfg.Database,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type atlasRequest struct {
	DataSource string         `json:"dataSource"`
	Database   string         `json:"database"`
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter,omitempty"`
	Update     map[string]any `json:"update,omitempty"`
	Document   *Record        `json:"document,omitempty"`
	Skip       int64          `json:"skip,omitempty"`
	Limit      int64          `json:"limit,omitempty"`
	Sort       map[string]int `json:"sort,omitempty"`
}

type atlasResponse struct {
	Document  *Record   `json:"document"`
	Documents []*Record `json:"documents"`
	Error     string    `json:"error"`
}

func (s *AtlasStore) call(ctx context.Context, action string, req atlasRequest) (*atlasResponse, error) {
	req.DataSource = s.dataSource
	req.Database = s.database
	req.Collection = s.collection

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/action/"+action, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("usage store %s: %w", action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("usage store %s: read response: %w", action, err)
	}

	var out atlasResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("usage store %s: decode response: %w", action, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("usage store %s: %s", action, out.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("usage store %s: status %d: %s", action, resp.StatusCode, string(respBody))
	}
	return &out, nil
}

func (s *AtlasStore) Get(ctx context.Context, email, bucket string) (*Record, error) {
	out, err := s.call(ctx, "findOne", atlasRequest{
		Filter: map[string]any{"email": email, "bucket": bucket},
	})
	if err != nil {
		return nil, err
	}
	if out.Document == nil {
		return nil, ErrNotFound
	}
	return out.Document, nil
}

func (s *AtlasStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.call(ctx, "insertOne", atlasRequest{Document: rec})
	return err
}

func (s *AtlasStore) Update(ctx context.Context, rec *Record) error {
	_, err := s.call(ctx, "updateOne", atlasRequest{
		Filter: map[string]any{"email": rec.Email, "bucket": rec.Bucket},
		Update: map[string]any{"$set": map[string]any{
			"totalCost":    rec.TotalCost,
			"requestCount": rec.RequestCount,
			"lastUpdated":  rec.LastUpdated,
		}},
	})
	return err
}

func (s *AtlasStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	filter := map[string]any{}
	if opts.Email != "" {
		filter["email"] = opts.Email
	}
	if opts.Bucket != "" {
		filter["bucket"] = opts.Bucket
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	req := atlasRequest{Filter: filter, Skip: opts.Skip, Limit: limit}
	if opts.Sort != "" {
		field, direction := strings.TrimPrefix(opts.Sort, "-"), 1
		if strings.HasPrefix(opts.Sort, "-") {
			direction = -1
		}
		if !sortableFields[field] {
			return nil, fmt.Errorf("unsortable field: %s", field)
		}
		req.Sort = map[string]int{field: direction}
	}

	out, err := s.call(ctx, "find", req)
	if err != nil {
		return nil, err
	}
	return out.Documents, nil
}

var sortableFields = map[string]bool{
	"email":        true,
	"bucket":       true,
	"totalCost":    true,
	"requestCount": true,
	"lastUpdated":  true,
}
