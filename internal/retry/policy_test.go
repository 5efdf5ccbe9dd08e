package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftfm/drift-core/internal/config"
)

var errFlaky = errors.New("flaky")

func TestOnceMakesSingleAttempt(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Once(), func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	calls := 0
	v, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestStopsAtMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitialInterval: time.Millisecond}
	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("err = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	errFatal := errors.New("fatal")
	p := Policy{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		Permanent:       func(err error) bool { return errors.Is(err, errFatal) },
	}
	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errFatal
	})
	if !errors.Is(err, errFatal) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{MaxAttempts: 4, InitialIntervalMS: 100, MaxIntervalMS: 900})
	if p.MaxAttempts != 4 || p.InitialInterval != 100*time.Millisecond || p.MaxInterval != 900*time.Millisecond {
		t.Fatalf("policy = %+v", p)
	}
}
