// Package auth issues and verifies subscriber session tokens using HMAC-SHA256.
//
// Token format: <expiry_unix>.<base64url(signature)>
// Signed message: expiry_unix NUL subscriber_id
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Errors
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
	ErrEmptySecret  = errors.New("token secret is required")
)

// Signer issues and verifies session tokens for a shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer. ttl is the lifetime of issued tokens.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %v", ttl)
	}
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue returns a token binding subscriberID until now+ttl.
func (s *Signer) Issue(subscriberID string) (string, error) {
	if subscriberID == "" {
		return "", fmt.Errorf("subscriber id is required")
	}
	expiry := s.now().Add(s.ttl).Unix()
	sig := s.sign(expiry, subscriberID)
	return strconv.FormatInt(expiry, 10) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks that token was issued for subscriberID and has not expired.
func (s *Signer) Verify(subscriberID, token string) error {
	if subscriberID == "" || token == "" {
		return ErrInvalidToken
	}

	expiryPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(expiryPart, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return ErrInvalidToken
	}

	if !hmac.Equal(sig, s.sign(expiry, subscriberID)) {
		return ErrInvalidToken
	}
	if s.now().Unix() >= expiry {
		return ErrTokenExpired
	}
	return nil
}

// sign computes the HMAC over expiry and subscriberID. The NUL separator
// keeps digits from moving between the two fields.
func (s *Signer) sign(expiry int64, subscriberID string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d\x00%s", expiry, subscriberID)
	return mac.Sum(nil)
}
