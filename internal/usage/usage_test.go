package usage

import (
	"testing"
	"time"
)

func TestGranularityBucket(t *testing.T) {
	at := time.Date(2024, time.March, 7, 23, 59, 0, 0, time.UTC)

	if got := GranularityMonth.Bucket(at); got != "2024-03" {
		t.Errorf("Expected 2024-03, got %s", got)
	}
	if got := GranularityDay.Bucket(at); got != "2024-03-07" {
		t.Errorf("Expected 2024-03-07, got %s", got)
	}
}

func TestGranularityBucket_DefaultsToMonth(t *testing.T) {
	at := time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)
	if got := Granularity("").Bucket(at); got != "2024-12" {
		t.Errorf("Expected 2024-12, got %s", got)
	}
}
