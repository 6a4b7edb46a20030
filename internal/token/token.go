// Package token signs and verifies SessionToken envelopes. Grounded on
// auth-service/internal/service/auth_service.go's GenerateToken/VerifyToken
// pair: jwt.NewWithClaims(jwt.SigningMethodHS256, ...) to sign,
// jwt.Parse with an explicit HMAC-method check to verify. This package
// generalizes that shape from a bare {sub, exp} claim set to the fixed
// {v, actorId, chatId, projectId, environmentId, composeId, domain, iat,
// exp} envelope spec.md §4.3 requires, and round-trips the claim body
// through gowebpki/jcs (same as internal/metadata) before signing. The
// signed payload is the Claims struct as encoded by the jwt library, so
// its key order follows the struct's field order.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gowebpki/jcs"
)

// SchemaVersion is the only claims schema this build issues or accepts.
const SchemaVersion = 1

// Claims is the signed envelope bound to every scoped file/session
// operation. The orchestrator never trusts a client-supplied compose or
// project id; it always reads them back out of a verified token.
type Claims struct {
	Version       int    `json:"v"`
	ActorID       string `json:"actorId"`
	ChatID        string `json:"chatId"`
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
	ComposeID     string `json:"composeId"`
	Domain        string `json:"domain"`
	IssuedAt      int64  `json:"iat"`
	ExpiresAt     int64  `json:"exp"`
}

// wireClaims adapts Claims to jwt.Claims. Expiry is enforced by Verify
// against the caller-supplied clock, not by the jwt-go library's own
// clock, so Valid is intentionally a no-op.
type wireClaims struct {
	Claims
}

func (wireClaims) Valid() error { return nil }

var (
	// ErrExpired is returned by Verify once now > iat+ttl.
	ErrExpired = errors.New("runtime token expired")
	// ErrInvalidSignature covers bad signatures and unexpected algorithms.
	ErrInvalidSignature = errors.New("runtime token has an invalid signature")
)

// Sign issues a token binding claims (with iat/exp overwritten) to
// secret, valid for ttlSec seconds from now.
func Sign(claims Claims, secret string, ttlSec int64, now time.Time) (string, error) {
	claims.Version = SchemaVersion
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = claims.IssuedAt + ttlSec

	canonicalClaims, err := canonicalize(claims)
	if err != nil {
		return "", fmt.Errorf("canonicalize claims: %w", err)
	}

	wc := wireClaims{Claims: canonicalClaims}
	jwtToken := jwt.NewWithClaims(jwt.SigningMethodHS256, wc)
	return jwtToken.SignedString([]byte(secret))
}

// Verify parses and validates tokenStr, rejecting bad signatures,
// unexpected signing algorithms, and expired tokens.
func Verify(tokenStr string, secret string, now time.Time) (*Claims, error) {
	var wc wireClaims
	parsed, err := jwt.ParseWithClaims(tokenStr, &wc, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidSignature, t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	if wc.Version != SchemaVersion {
		return nil, ErrInvalidSignature
	}
	if now.Unix() > wc.ExpiresAt {
		return nil, ErrExpired
	}
	claims := wc.Claims
	return &claims, nil
}

// canonicalize round-trips claims through RFC 8785 canonical JSON and
// decodes the result back into a Claims value. The canonical bytes are
// not what gets signed: Sign hands the returned struct to the jwt
// library, which encodes it in struct field order.
func canonicalize(c Claims) (Claims, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return Claims{}, err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return Claims{}, err
	}
	var out Claims
	if err := json.Unmarshal(canon, &out); err != nil {
		return Claims{}, err
	}
	return out, nil
}
