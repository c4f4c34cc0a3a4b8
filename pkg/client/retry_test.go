package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/school-usage-client/internal/testutil"
	"github.com/Sternrassler/school-usage-client/pkg/tenant"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}

	if NoRetry().MaxAttempts != 1 {
		t.Errorf("NoRetry().MaxAttempts = %d, want 1", NoRetry().MaxAttempts)
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), fastRetry(3), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("retryWithBackoff() error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoff_TransientThenSuccess(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), fastRetry(3), func() error {
		attempts++
		if attempts < 3 {
			return &AuthError{ErrorClass: ErrorClassServer, Err: errors.New("503")}
		}
		return nil
	})

	if err != nil {
		t.Errorf("retryWithBackoff() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoff_NonRetriable(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), fastRetry(3), func() error {
		attempts++
		return &AuthError{ErrorClass: ErrorClassClient, Err: errors.New("401")}
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("non-retriable error should not report exhaustion")
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), fastRetry(3), func() error {
		attempts++
		return &AuthError{ErrorClass: ErrorClassNetwork, Err: errors.New("refused")}
	})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Error("exhausted error should still unwrap to *AuthError")
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry(5)
	cfg.InitialBackoff = time.Second

	attempts := 0
	err := retryWithBackoff(ctx, cfg, func() error {
		attempts++
		cancel()
		return &AuthError{ErrorClass: ErrorClassServer, Err: errors.New("500")}
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryingAuthenticator(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddTenant(testutil.MockTenant{Name: "Down", Phone: "1", Password: "pw", LoginStatus: http.StatusServiceUnavailable})
	mock.AddTenant(testutil.MockTenant{Name: "Denied", Phone: "2", Password: "pw", LoginStatus: http.StatusForbidden})

	c := newTestClient(t, mock.URL())
	auth := NewRetryingAuthenticator(c, fastRetry(3))

	_, err := auth.Authenticate(context.Background(), tenant.Account{Name: "Down", Phone: "1", Password: "pw"})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if mock.LoginCount() != 3 {
		t.Errorf("LoginCount = %d, want 3", mock.LoginCount())
	}

	mock.Reset()
	_, err = auth.Authenticate(context.Background(), tenant.Account{Name: "Denied", Phone: "2", Password: "pw"})
	if ClassOf(err) != ErrorClassClient {
		t.Errorf("ClassOf() = %q, want client", ClassOf(err))
	}
	if mock.LoginCount() != 1 {
		t.Errorf("LoginCount = %d, want 1 (4xx must not be retried)", mock.LoginCount())
	}
}

func TestRetryingAuthenticator_NoRetry(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddTenant(testutil.MockTenant{Name: "Down", Phone: "1", Password: "pw", LoginStatus: http.StatusInternalServerError})

	c := newTestClient(t, mock.URL())
	auth := NewRetryingAuthenticator(c, NoRetry())

	_, err := auth.Authenticate(context.Background(), tenant.Account{Name: "Down", Phone: "1", Password: "pw"})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
	if mock.LoginCount() != 1 {
		t.Errorf("LoginCount = %d, want 1", mock.LoginCount())
	}
}
