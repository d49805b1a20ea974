package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vqhuy/metergate/internal/auth"
	"github.com/vqhuy/metergate/internal/usage"
	"github.com/vqhuy/metergate/pkg/headerfilter"
)

// HandleInfo answers requests with no provider selector.
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "metered LLM gateway: POST /<provider>/v1/chat/completions with an Authorization bearer token",
		"providers": h.registry.Names(),
	})
}

// HandleUsage is the operator-facing listing of usage records. It bypasses
// authentication and quota: dashboard traffic, not end-user traffic.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := usage.ListOptions{
		Email:  q.Get("email"),
		Bucket: q.Get("month"),
		Sort:   q.Get("sort"),
	}

	if opts.Sort != "" && !usage.SortableField(opts.Sort) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsortable field: " + opts.Sort})
		return
	}
	for name, dst := range map[string]*int64{"skip": &opts.Skip, "limit": &opts.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name + " parameter"})
			return
		}
		*dst = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.StoreTimeout)
	defer cancel()
	records, err := h.store.List(ctx, opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []*usage.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleToken exchanges a third-party identity credential for a gateway
// bearer token, restricted to the configured email domains.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	credential := r.URL.Query().Get("credential")
	if credential == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "credential query parameter is required"})
		return
	}

	token, email, err := auth.Exchange(credential, h.opts.TokenSecret, h.opts.AllowedEmailDomains)
	switch {
	case errors.Is(err, auth.ErrDomainNotAllowed):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "email domain not allowed"})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "credential could not be parsed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token, "email": email})
}

// CORS attaches the fixed cross-origin headers to every response and answers
// preflight requests directly.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORS(w.Header())
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	setCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRawJSON(w http.ResponseWriter, status int, body json.RawMessage) {
	setCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"code": kind, "message": message})
}

// relayHeaders copies the upstream response headers, minus framing headers
// invalidated by re-serialization.
func relayHeaders(w http.ResponseWriter, upstream http.Header) {
	for name, values := range headerfilter.Filter(upstream, headerfilter.ResponseDenyList) {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	setCORS(w.Header())
}

// relayUpstream passes a provider failure through verbatim.
func relayUpstream(w http.ResponseWriter, resp *http.Response, body []byte) {
	relayHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}
