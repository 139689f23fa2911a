// Package token signs and verifies the credential printed in a ticket's QR code.
//
// A token is base64(payload) + "." + hex(HMAC-SHA256(secret, base64(payload))),
// where payload is {"s": serial, "iat": issuedAtMillis}. Gate devices holding
// the secret can reject forged tokens without asking the store; only the
// redemption state needs the store.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const separator = "."

var (
	// ErrMalformed means the token does not have exactly one separator.
	ErrMalformed = errors.New("malformed token")
	// ErrUndecodable means the payload is not base64-encoded JSON.
	ErrUndecodable = errors.New("undecodable token payload")
	// ErrBadPayload means the payload decoded but carries no serial.
	ErrBadPayload = errors.New("invalid token payload structure")
	// ErrBadSignature means the signature does not match the payload.
	ErrBadSignature = errors.New("invalid token signature")
	// ErrNoSecret is returned when a signer is built without a secret.
	ErrNoSecret = errors.New("token secret is required")
)

// Payload is the signed part of a token.
type Payload struct {
	Serial   string `json:"s"`
	IssuedAt int64  `json:"iat"`
}

// IssuedAtTime returns the issue instant.
func (p Payload) IssuedAtTime() time.Time {
	return time.UnixMilli(p.IssuedAt).UTC()
}

// Signer issues and checks tokens with a process-wide secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source used for iat.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner returns a Signer. The secret is copied so later changes to the
// caller's slice have no effect.
func NewSigner(secret []byte, opts ...Option) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	s := &Signer{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign returns a token binding serial to the current time.
func (s *Signer) Sign(serial string) (string, error) {
	raw, err := json.Marshal(Payload{Serial: serial, IssuedAt: s.now().UnixMilli()})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	return encoded + separator + s.mac(encoded), nil
}

// Verify reports whether tok carries a valid signature. Any malformed input
// is simply invalid.
func (s *Signer) Verify(tok string) bool {
	encoded, sig, ok := split(tok)
	if !ok {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.mac(encoded)))
}

// Open verifies tok and decodes its payload.
func (s *Signer) Open(tok string) (Payload, error) {
	if _, _, ok := split(tok); !ok {
		return Payload{}, ErrMalformed
	}
	if !s.Verify(tok) {
		return Payload{}, ErrBadSignature
	}
	return Decode(tok)
}

func (s *Signer) mac(encoded string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(encoded))
	return hex.EncodeToString(h.Sum(nil))
}

// Decode extracts the payload without checking the signature.
func Decode(tok string) (Payload, error) {
	encoded, _, ok := split(tok)
	if !ok {
		return Payload{}, ErrMalformed
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if strings.TrimSpace(p.Serial) == "" {
		return Payload{}, ErrBadPayload
	}
	return p, nil
}

func split(tok string) (encoded, sig string, ok bool) {
	if strings.Count(tok, separator) != 1 {
		return "", "", false
	}
	encoded, sig, _ = strings.Cut(tok, separator)
	return encoded, sig, true
}
