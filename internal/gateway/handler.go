// Package gateway dispatches inbound requests through the metering pipeline:
// provider resolution, authentication, quota enforcement, body validation,
// upstream forwarding, cost computation, and usage persistence, in that
// fixed order.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vqhuy/metergate/internal/auth"
	"github.com/vqhuy/metergate/internal/provider"
	"github.com/vqhuy/metergate/internal/quota"
	"github.com/vqhuy/metergate/internal/usage"
	"github.com/vqhuy/metergate/pkg/ratelimit"
)

const (
	maxRequestBody  = 8 << 20
	maxResponseBody = 16 << 20
)

type Options struct {
	TokenSecret         string
	AllowedEmailDomains []string
	Granularity         usage.Granularity
	MeteringEnabled     bool
	UpstreamTimeout     time.Duration
	StoreTimeout        time.Duration
}

type Handler struct {
	registry *provider.Registry
	store    usage.Store
	quota    *quota.Enforcer
	limiter  *ratelimit.Limiter // nil when rate limiting is not configured
	tracer   trace.Tracer
	client   *http.Client
	// streamClient has no overall timeout: the pass-through mode relays
	// bodies of unbounded duration.
	streamClient *http.Client
	breakers     map[string]*gobreaker.CircuitBreaker
	opts         Options
}

func NewHandler(registry *provider.Registry, store usage.Store, enforcer *quota.Enforcer, limiter *ratelimit.Limiter, tracer trace.Tracer, opts Options) *Handler {
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = 120 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 15 * time.Second
	}
	if opts.Granularity == "" {
		opts.Granularity = usage.GranularityMonth
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, name := range registry.Names() {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[name] = gobreaker.NewCircuitBreaker(settings)
	}

	return &Handler{
		registry:     registry,
		store:        store,
		quota:        enforcer,
		limiter:      limiter,
		tracer:       tracer,
		client:       &http.Client{Timeout: opts.UpstreamTimeout},
		streamClient: &http.Client{},
		breakers:     breakers,
		opts:         opts,
	}
}

// Register mounts the gateway routes. Middleware must already be installed on
// the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.HandleInfo)
	r.Get("/usage", h.HandleUsage)
	r.Get("/token", h.HandleToken)
	r.HandleFunc("/{provider}", h.HandleProxy)
	r.HandleFunc("/{provider}/*", h.HandleProxy)
}

func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, ok := h.registry.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, provider.KindUnknownProvider, "unknown provider: "+name)
		return
	}
	subPath := chi.URLParam(r, "*")

	requestID := uuid.New().String()
	w.Header().Set("X-Request-ID", requestID)

	ctx, span := h.tracer.Start(r.Context(), "gateway.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("provider", name),
		attribute.String("path", subPath),
	)

	// Model listing is served from the embedded catalog: no auth, no
	// metering, no upstream call.
	if r.Method == http.MethodGet && subPath == p.CatalogPath() {
		writeRawJSON(w, http.StatusOK, p.ModelCatalog())
		return
	}

	ident, err := auth.Authenticate(r.Header.Get("Authorization"), h.opts.TokenSecret)
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		writeError(w, http.StatusUnauthorized, provider.KindMissingToken, "missing Authorization header with bearer token")
		return
	case errors.Is(err, auth.ErrNoEmailClaim):
		writeError(w, http.StatusUnauthorized, provider.KindInvalidToken, "token payload has no email claim")
		return
	case err != nil:
		writeError(w, http.StatusUnauthorized, provider.KindInvalidToken, "bearer token could not be verified")
		return
	}
	span.SetAttributes(attribute.String("email", ident.Email))

	if h.limiter != nil {
		allowed, limErr := h.limiter.Allow(ctx, ident.Email)
		if limErr != nil || !allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, provider.KindRateLimited, "request rate limit exceeded")
			return
		}
	}

	bucket := h.opts.Granularity.Bucket(time.Now().UTC())
	storeCtx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	snap, err := h.quota.Check(storeCtx, ident.Email, bucket)
	cancel()
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, provider.KindQuotaExceeded,
			fmt.Sprintf("spend quota exhausted for %s in %s", ident.Email, bucket))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, provider.KindStoreError, err.Error())
		return
	}

	if !h.opts.MeteringEnabled {
		h.forwardStreaming(ctx, w, r, p, subPath)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, provider.KindInvalidBody, "failed to read request body")
		return
	}

	validated, reqErr := p.Validate(r.Method, subPath, body)
	if reqErr != nil {
		writeError(w, reqErr.Status, reqErr.Kind, reqErr.Message)
		return
	}

	fwd, err := p.BuildRequest(r, subPath, validated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, provider.KindUpstreamError, err.Error())
		return
	}

	resp, respBody, err := h.forward(ctx, p.Name(), fwd)
	if err != nil {
		status, kind := classifyForwardError(err)
		log.Warnf("forward to %s failed: %v", p.Name(), err)
		writeError(w, status, kind, err.Error())
		return
	}

	result, parseErr := provider.ParseResult(respBody)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || parseErr != nil {
		// Upstream errors and unparseable bodies pass through verbatim,
		// with the upstream's own status code.
		relayUpstream(w, resp, respBody)
		return
	}

	// Cost computation failures are non-fatal: the response still goes out
	// and metering proceeds with whatever totals are known.
	var cost float64
	var costError string
	if c, costErr := p.Cost(result); costErr != nil {
		costError = costErr.Error()
	} else {
		cost = c
	}
	span.SetAttributes(
		attribute.String("model", result.Model()),
		attribute.Float64("cost", cost),
	)

	prevCost, prevCount := snap.Totals()
	env := &provider.Envelope{
		Upstream:     result.Fields,
		Cost:         cost,
		CostError:    costError,
		TotalCost:    prevCost + cost,
		RequestCount: prevCount + 1,
	}

	// Read-then-write with no transactional guard: two concurrent requests
	// for the same (email, bucket) can lose an increment. Accepted; quota
	// limits are soft.
	rec := &usage.Record{
		Email:        ident.Email,
		Bucket:       bucket,
		TotalCost:    env.TotalCost,
		RequestCount: env.RequestCount,
		LastUpdated:  time.Now().UTC(),
	}
	storeCtx, cancel = context.WithTimeout(ctx, h.opts.StoreTimeout)
	if snap.Record == nil {
		err = h.store.Insert(storeCtx, rec)
	} else {
		err = h.store.Update(storeCtx, rec)
	}
	cancel()
	if err != nil {
		log.Errorf("usage upsert failed for %s/%s: %v", ident.Email, bucket, err)
		writeError(w, http.StatusInternalServerError, provider.KindStoreError, err.Error())
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		writeError(w, http.StatusInternalServerError, provider.KindUpstreamError, "failed to encode response")
		return
	}

	relayHeaders(w, resp.Header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(payload)
}

type forwardResult struct {
	resp *http.Response
	body []byte
}

func (h *Handler) forward(ctx context.Context, providerName string, fwd *provider.ForwardableRequest) (*http.Response, []byte, error) {
	cb := h.breakers[providerName]
	res, err := cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, fwd.Method, fwd.URL, bytes.NewReader(fwd.Body))
		if err != nil {
			return nil, err
		}
		req.Header = fwd.Header

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, err
		}
		return &forwardResult{resp: resp, body: body}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	fr := res.(*forwardResult)
	return fr.resp, fr.body, nil
}

// forwardStreaming is the unmetered path: the upstream body is piped to the
// caller without buffering, no cost is computed, and no usage is written.
func (h *Handler) forwardStreaming(ctx context.Context, w http.ResponseWriter, r *http.Request, p provider.Provider, subPath string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, provider.KindInvalidBody, "failed to read request body")
		return
	}

	fwd, err := p.BuildRequest(r, subPath, body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, provider.KindUpstreamError, err.Error())
		return
	}

	req, err := http.NewRequestWithContext(ctx, fwd.Method, fwd.URL, bytes.NewReader(fwd.Body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, provider.KindUpstreamError, err.Error())
		return
	}
	req.Header = fwd.Header

	resp, err := h.streamClient.Do(req)
	if err != nil {
		status, kind := classifyForwardError(err)
		writeError(w, status, kind, err.Error())
		return
	}
	defer resp.Body.Close()

	relayHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	_, _ = io.Copy(w, resp.Body)
}

func classifyForwardError(err error) (int, string) {
	var netErr net.Error
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable, provider.KindUpstreamError
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return http.StatusGatewayTimeout, provider.KindTimeout
	default:
		return http.StatusBadGateway, provider.KindUpstreamError
	}
}
