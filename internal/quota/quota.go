// Package quota rejects requests from identities whose accumulated spend in
// the current time bucket exceeds the configured ceiling.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/vqhuy/metergate/internal/usage"
)

var ErrQuotaExceeded = errors.New("quota exceeded")

// Snapshot is the usage state read during the quota check; the dispatcher
// reuses it when metering so the store is read only once per request.
type Snapshot struct {
	Bucket string
	Record *usage.Record // nil when the identity has no prior usage in Bucket
}

// Totals returns the accumulated cost and request count, zero when no record
// exists yet.
func (s *Snapshot) Totals() (float64, int) {
	if s.Record == nil {
		return 0, 0
	}
	return s.Record.TotalCost, s.Record.RequestCount
}

type Enforcer struct {
	store usage.Store
	limit float64
}

// New builds an enforcer with a fixed monetary limit per identity per bucket.
func New(store usage.Store, limit float64) *Enforcer {
	return &Enforcer{store: store, limit: limit}
}

func (e *Enforcer) Limit() float64 {
	return e.limit
}

// Check reads the usage record for (email, bucket) and fails with
// ErrQuotaExceeded when the recorded spend is already over the limit. A store
// read failure is returned as-is, distinct from a quota rejection.
func (e *Enforcer) Check(ctx context.Context, email, bucket string) (*Snapshot, error) {
	rec, err := e.store.Get(ctx, email, bucket)
	if errors.Is(err, usage.ErrNotFound) {
		return &Snapshot{Bucket: bucket}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage record: %w", err)
	}
	if rec.TotalCost > e.limit {
		return nil, fmt.Errorf("%w: %.4f over limit %.2f", ErrQuotaExceeded, rec.TotalCost, e.limit)
	}
	return &Snapshot{Bucket: bucket, Record: rec}, nil
}
