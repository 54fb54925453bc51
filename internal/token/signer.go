// Package token issues and redeems the signed, time-limited tokens that
// back email confirmation and password reset links.
package token

import (
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token has expired")
)

// Token purposes. Confirmation and reset tokens share the mechanism but
// carry distinct purpose claims, so one can never be redeemed as the
// other.
const (
	PurposeConfirm = "confirm-email"
	PurposeReset   = "reset-password"
)

// Signer produces and validates PASETO v4.local tokens binding an email
// address to a purpose. Tokens are tamper-evident: any mutation fails
// decryption.
type Signer struct {
	symmetricKey paseto.V4SymmetricKey
	ttl          time.Duration
	now          func() time.Time
}

// NewSigner creates a Signer from a 32-byte secret.
func NewSigner(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("signing secret must be exactly 32 bytes, got %d", len(secret))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &Signer{
		symmetricKey: key,
		ttl:          ttl,
		now:          time.Now,
	}, nil
}

// Issue creates a token for the given email and purpose, valid for the
// signer's TTL from now.
func (s *Signer) Issue(email, purpose string) (string, error) {
	now := s.now()

	t := paseto.NewToken()
	t.SetIssuedAt(now)
	t.SetExpiration(now.Add(s.ttl))
	t.SetString("email", email)
	t.SetString("purpose", purpose)

	return t.V4Encrypt(s.symmetricKey, nil), nil
}

// Redeem validates a token and returns the email it was issued for.
// Redemption fails with ErrInvalid on tampering or a purpose mismatch,
// and with ErrExpired once the TTL has elapsed. Expiry is enforced from
// the token's own issued-at claim, independent of the expiration claim.
func (s *Signer) Redeem(tokenStr, purpose string) (string, error) {
	parser := paseto.NewParserWithoutExpiryCheck()

	t, err := parser.ParseV4Local(s.symmetricKey, tokenStr, nil)
	if err != nil {
		return "", ErrInvalid
	}

	tokenPurpose, err := t.GetString("purpose")
	if err != nil || tokenPurpose != purpose {
		return "", ErrInvalid
	}

	email, err := t.GetString("email")
	if err != nil {
		return "", ErrInvalid
	}

	issuedAt, err := t.GetIssuedAt()
	if err != nil {
		return "", ErrInvalid
	}
	expiration, err := t.GetExpiration()
	if err != nil {
		return "", ErrInvalid
	}

	now := s.now()
	if now.After(issuedAt.Add(s.ttl)) || now.After(expiration) {
		return "", ErrExpired
	}

	return email, nil
}
