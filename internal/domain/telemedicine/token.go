package telemedicine

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JoinClaims are carried by a room token.
type JoinClaims struct {
	jwt.RegisteredClaims
	Room     string `json:"room"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

const tokenIssuer = "clinic-telemedicine"

// RoomSigner signs and checks room tokens with a shared HMAC key.
type RoomSigner struct {
	key []byte
	ttl time.Duration
}

func NewRoomSigner(key []byte, ttl time.Duration) *RoomSigner {
	return &RoomSigner{key: key, ttl: ttl}
}

func (r *RoomSigner) sign(claims JoinClaims, now time.Time) (string, time.Time, error) {
	if len(r.key) == 0 {
		return "", time.Time{}, fmt.Errorf("room signing key is not configured")
	}
	exp := now.Add(r.ttl)
	claims.Issuer = tokenIssuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign room token: %w", err)
	}
	return signed, exp, nil
}

func (r *RoomSigner) parse(token string, now time.Time) (*JoinClaims, error) {
	claims := &JoinClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return r.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid room token: %w", err)
	}
	return claims, nil
}
