package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T, now time.Time) *Signer {
	t.Helper()
	s, err := NewSigner("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestSigner_IssueVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newTestSigner(t, now)

	token, err := s.Issue("cust-42")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if !strings.HasPrefix(token, "1700003600.") {
		t.Errorf("token = %q, want expiry prefix 1700003600.", token)
	}

	if err := s.Verify("cust-42", token); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestSigner_VerifyRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newTestSigner(t, now)

	token, err := s.Issue("cust-42")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other, err := NewSigner("another-secret-012345", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	other.now = s.now
	foreign, _ := other.Issue("cust-42")

	tests := []struct {
		name       string
		subscriber string
		token      string
		want       error
	}{
		{"wrong subscriber", "cust-7", token, ErrInvalidToken},
		{"empty token", "cust-42", "", ErrInvalidToken},
		{"no separator", "cust-42", "abc", ErrInvalidToken},
		{"bad expiry", "cust-42", "xyz." + strings.SplitN(token, ".", 2)[1], ErrInvalidToken},
		{"bad base64", "cust-42", "1700003600.!!!", ErrInvalidToken},
		{"other secret", "cust-42", foreign, ErrInvalidToken},
		{"tampered expiry", "cust-42", "1900000000." + strings.SplitN(token, ".", 2)[1], ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Verify(tt.subscriber, tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSigner_Expired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newTestSigner(t, now)

	token, err := s.Issue("cust-42")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	s.now = func() time.Time { return now.Add(2 * time.Hour) }

	if err := s.Verify("cust-42", token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() error = %v, want %v", err, ErrTokenExpired)
	}
}

func TestNewSigner_Errors(t *testing.T) {
	if _, err := NewSigner("", time.Hour); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("NewSigner(\"\") error = %v, want %v", err, ErrEmptySecret)
	}
	if _, err := NewSigner("secret", 0); err == nil {
		t.Error("NewSigner with zero ttl should fail")
	}
}

func TestSigner_IssueEmptySubscriber(t *testing.T) {
	s := newTestSigner(t, time.Now())
	if _, err := s.Issue(""); err == nil {
		t.Error("Issue(\"\") should fail")
	}
}

func TestSigner_TokenBoundToSubscriber(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newTestSigner(t, now)

	token, err := s.Issue("12")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	expiry, sig, _ := strings.Cut(token, ".")

	// Shift the subscriber's leading digit into the expiry.
	shifted := expiry + "1." + sig
	if err := s.Verify("2", shifted); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(2, shifted) = %v, want ErrInvalidToken", err)
	}
	if err := s.Verify("2", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(2, token) = %v, want ErrInvalidToken", err)
	}
	if err := s.Verify("12", token); err != nil {
		t.Errorf("Verify(12, token) failed: %v", err)
	}
}
