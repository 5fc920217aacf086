package shared

import (
	"context"
	"errors"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":    {nil, false},
		"busy":   {errors.New("sqlite: step: SQLITE_BUSY"), true},
		"locked": {errors.New("database is locked (5)"), true},
		"other":  {errors.New("no such table: chats"), false},
	}
	for name, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("%s: IsSQLiteConflictError = %v, want %v", name, got, tc.want)
		}
	}
}

func TestRetryOnConflictRecovers(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "insert chat", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	calls := 0
	locked := errors.New("SQLITE_BUSY")
	err := RetryOnConflict(context.Background(), "insert chat", func() error {
		calls++
		return locked
	})
	if !errors.Is(err, locked) {
		t.Fatalf("expected wrapped conflict error, got %v", err)
	}
	if calls != ConflictRetries {
		t.Errorf("expected %d calls, got %d", ConflictRetries, calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("constraint failed")
	err := RetryOnConflict(context.Background(), "insert chat", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single attempt with original error, got %v after %d calls", err, calls)
	}
}

func TestRetryOnConflictHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryOnConflict(ctx, "insert chat", func() error {
		return errors.New("database is locked")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
