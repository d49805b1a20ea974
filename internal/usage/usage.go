// Package usage persists the per-identity spend accumulator the quota check
// reads and the metering step writes back.
package usage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("usage record not found")

// Record accumulates cost and request count for one (email, bucket) pair.
// Created on the first request in a bucket, mutated on every subsequent one,
// never deleted here.
type Record struct {
	Email        string    `json:"email"`
	Bucket       string    `json:"bucket"`
	TotalCost    float64   `json:"totalCost"`
	RequestCount int       `json:"requestCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Granularity selects the quota time window.
type Granularity string

const (
	GranularityMonth Granularity = "month"
	GranularityDay   Granularity = "day"
)

// Bucket derives the time-window key for t: YYYY-MM for monthly quotas,
// YYYY-MM-DD for daily ones.
func (g Granularity) Bucket(t time.Time) string {
	if g == GranularityDay {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01")
}

// ListOptions filters and pages the admin usage listing. Sort names a record
// field; a leading "-" sorts descending.
type ListOptions struct {
	Email  string
	Bucket string
	Sort   string
	Skip   int64
	Limit  int64
}

// DefaultListLimit caps unpaginated listings.
const DefaultListLimit = 1000

// SortableField reports whether the admin listing may sort by name; a
// leading "-" (descending) is ignored.
func SortableField(name string) bool {
	return sortableFields[strings.TrimPrefix(name, "-")]
}

// Store is the CRUD contract against the usage collection. The metering
// read-modify-write goes through Get and Insert/Update with no transactional
// guard; concurrent requests for the same (email, bucket) can lose an
// increment.
type Store interface {
	Get(ctx context.Context, email, bucket string) (*Record, error)
	Insert(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
}
