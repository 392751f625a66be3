package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTime(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), Fixed(2, time.Millisecond, 0), func(ctx context.Context) error {
		attempts++
		return nil
	})

	if result.Err != nil || result.LastError != nil {
		t.Errorf("Err = %v, LastError = %v, want nil", result.Err, result.LastError)
	}
	if attempts != 1 || result.Attempts != 1 {
		t.Errorf("attempts = %d, result.Attempts = %d, want 1", attempts, result.Attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), Fixed(5, 5*time.Millisecond, 0), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDo_MaxRetriesExceeded(t *testing.T) {
	opErr := errors.New("backend returned 500")
	attempts := 0
	start := time.Now()

	result := Do(context.Background(), Fixed(2, 20*time.Millisecond, 0), func(ctx context.Context) error {
		attempts++
		return opErr
	})

	if !errors.Is(result.Err, ErrMaxRetriesExceeded) {
		t.Errorf("Err = %v, want ErrMaxRetriesExceeded", result.Err)
	}
	if !errors.Is(result.LastError, opErr) {
		t.Errorf("LastError = %v, want %v", result.LastError, opErr)
	}
	if attempts != 3 {
		t.Errorf("Operation called %d times, want 3", attempts)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("elapsed = %v, want at least two 20ms pauses", elapsed)
	}
}

func TestDo_ZeroRetriesIsSingleAttempt(t *testing.T) {
	for _, config := range []*Config{nil, Fixed(0, time.Second, 0), {MaxRetries: -3}} {
		attempts := 0
		result := Do(context.Background(), config, func(ctx context.Context) error {
			attempts++
			return errors.New("fail")
		})
		if attempts != 1 {
			t.Errorf("config %+v: attempts = %d, want 1", config, attempts)
		}
		if !errors.Is(result.Err, ErrMaxRetriesExceeded) {
			t.Errorf("config %+v: Err = %v", config, result.Err)
		}
	}
}

func TestDo_PermanentError(t *testing.T) {
	attempts := 0
	permErr := errors.New("backend URL is not configured")
	result := Do(context.Background(), Fixed(5, 10*time.Millisecond, 0), func(ctx context.Context) error {
		attempts++
		return Permanent(permErr)
	})

	if result.Err != permErr {
		t.Errorf("Err = %v, want the unwrapped %v", result.Err, permErr)
	}
	if attempts != 1 {
		t.Errorf("Operation called %d times, want 1", attempts)
	}
}

func TestDo_AttemptTimeoutDoesNotStopLoop(t *testing.T) {
	attempts := 0
	result := Do(context.Background(), Fixed(2, 5*time.Millisecond, 10*time.Millisecond), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if attempts != 3 {
		t.Errorf("Operation called %d times, want 3", attempts)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	result := Do(ctx, Fixed(10, 50*time.Millisecond, 0), func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	})

	if !errors.Is(result.Err, ErrContextCanceled) {
		t.Errorf("Err = %v, want ErrContextCanceled", result.Err)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestDoWithCallback(t *testing.T) {
	attempts := 0
	var seen []int
	result := DoWithCallback(context.Background(), Fixed(3, 5*time.Millisecond, 0), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("error")
		}
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
		if delay != 5*time.Millisecond {
			t.Errorf("delay = %v, want 5ms", delay)
		}
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("callback attempts = %v, want [1 2]", seen)
	}
}

func TestPermanent(t *testing.T) {
	err := errors.New("test error")

	var pe *PermanentError
	if !errors.As(Permanent(err), &pe) || !errors.Is(pe, err) {
		t.Error("Permanent should wrap the original error")
	}
	if Permanent(nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}
