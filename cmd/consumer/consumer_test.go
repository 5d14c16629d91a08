package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/city-rides/internal/models"
	"github.com/example/city-rides/internal/storage"
)

// flakyApplier fails a fixed number of times before succeeding.
type flakyApplier struct {
	fail  int
	calls int
	final error
}

func (f *flakyApplier) UpdateTelemetry(_ context.Context, _ models.PositionPush) error {
	f.calls++
	if f.calls <= f.fail {
		if f.final != nil {
			return f.final
		}
		return errors.New("transient")
	}
	return nil
}

func samplePush() models.PositionPush {
	return models.PositionPush{RideID: "ride-1", DriverID: "driver-1", Lat: 43.25, Lng: 76.91, At: time.Now()}
}

func TestApplyWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &flakyApplier{fail: 2}
	start := time.Now()
	if err := applyWithRetry(context.Background(), f, samplePush(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("expected at least one backoff sleep")
	}
}

func TestApplyWithRetryExhausted(t *testing.T) {
	f := &flakyApplier{fail: 10}
	if err := applyWithRetry(context.Background(), f, samplePush(), 3, time.Millisecond); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
}

func TestApplyWithRetryStateGuardIsFinal(t *testing.T) {
	f := &flakyApplier{fail: 10, final: storage.ErrConflict}
	err := applyWithRetry(context.Background(), f, samplePush(), 3, time.Millisecond)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if f.calls != 1 {
		t.Fatalf("calls = %d, want no retry on a state guard", f.calls)
	}
}
