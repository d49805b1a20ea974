package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/vqhuy/metergate/internal/usage"
)

type mockStore struct {
	getFunc func(ctx context.Context, email, bucket string) (*usage.Record, error)
}

func (m *mockStore) Get(ctx context.Context, email, bucket string) (*usage.Record, error) {
	return m.getFunc(ctx, email, bucket)
}

func (m *mockStore) Insert(ctx context.Context, rec *usage.Record) error { return nil }
func (m *mockStore) Update(ctx context.Context, rec *usage.Record) error { return nil }
func (m *mockStore) List(ctx context.Context, opts usage.ListOptions) ([]*usage.Record, error) {
	return nil, nil
}

func TestCheck_NoPriorUsage(t *testing.T) {
	e := New(&mockStore{getFunc: func(ctx context.Context, email, bucket string) (*usage.Record, error) {
		return nil, usage.ErrNotFound
	}}, 1.00)

	snap, err := e.Check(context.Background(), "a@example.com", "2024-03")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if snap.Record != nil {
		t.Errorf("Expected nil record for no prior usage")
	}
	cost, count := snap.Totals()
	if cost != 0 || count != 0 {
		t.Errorf("Expected zero totals, got %v/%d", cost, count)
	}
}

func TestCheck_UnderLimit(t *testing.T) {
	e := New(&mockStore{getFunc: func(ctx context.Context, email, bucket string) (*usage.Record, error) {
		return &usage.Record{Email: email, Bucket: bucket, TotalCost: 0.30, RequestCount: 3}, nil
	}}, 1.00)

	snap, err := e.Check(context.Background(), "a@example.com", "2024-03")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	cost, count := snap.Totals()
	if cost != 0.30 || count != 3 {
		t.Errorf("Expected snapshot totals 0.30/3, got %v/%d", cost, count)
	}
}

func TestCheck_AtLimitStillAllowed(t *testing.T) {
	// Rejection requires recorded spend strictly over the limit.
	e := New(&mockStore{getFunc: func(ctx context.Context, email, bucket string) (*usage.Record, error) {
		return &usage.Record{TotalCost: 1.00}, nil
	}}, 1.00)

	if _, err := e.Check(context.Background(), "a@example.com", "2024-03"); err != nil {
		t.Errorf("Expected spend equal to limit to pass, got %v", err)
	}
}

func TestCheck_OverLimit(t *testing.T) {
	e := New(&mockStore{getFunc: func(ctx context.Context, email, bucket string) (*usage.Record, error) {
		return &usage.Record{TotalCost: 1.01}, nil
	}}, 1.00)

	_, err := e.Check(context.Background(), "a@example.com", "2024-03")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Expected ErrQuotaExceeded, got %v", err)
	}
}

func TestCheck_StoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	e := New(&mockStore{getFunc: func(ctx context.Context, email, bucket string) (*usage.Record, error) {
		return nil, storeErr
	}}, 1.00)

	_, err := e.Check(context.Background(), "a@example.com", "2024-03")
	if errors.Is(err, ErrQuotaExceeded) {
		t.Error("Store failure must not be reported as a quota rejection")
	}
	if !errors.Is(err, storeErr) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
}
