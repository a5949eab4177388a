package auth

import (
	"context"
	"strconv"
	"time"
)

const revocationPrefix = "clinic:_revoked:"

// KV is the slice of the shared cache the revocation store needs. Redis backs
// it when several API instances must agree on revoked sessions.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Revoker decides whether an otherwise valid token may still be used.
type Revoker interface {
	IsRevoked(ctx context.Context, claims *Claims) (bool, error)
}

// RevocationStore tracks logged-out token IDs and per-user cutoffs. A user
// cutoff rejects every token issued at or before it, which is how
// deactivating a professional ends their open sessions. Entries expire with
// the token TTL since older tokens fail validation anyway.
type RevocationStore struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

func NewRevocationStore(kv KV, tokenTTL time.Duration) *RevocationStore {
	return &RevocationStore{kv: kv, ttl: tokenTTL, now: time.Now}
}

func jtiKey(jti string) string { return revocationPrefix + "jti:" + jti }

func userKey(tenantID, userID string) string {
	return revocationPrefix + "user:" + tenantID + ":" + userID
}

// RevokeToken rejects one token until it would have expired.
func (s *RevocationStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if jti == "" || ttl <= 0 {
		return nil
	}
	return s.kv.Set(ctx, jtiKey(jti), []byte("1"), ttl)
}

// RevokeUser rejects every token issued to userID in tenantID so far.
func (s *RevocationStore) RevokeUser(ctx context.Context, tenantID, userID string) error {
	cutoff := strconv.FormatInt(s.now().Unix(), 10)
	return s.kv.Set(ctx, userKey(tenantID, userID), []byte(cutoff), s.ttl)
}

func (s *RevocationStore) IsRevoked(ctx context.Context, claims *Claims) (bool, error) {
	if claims.ID != "" {
		_, found, err := s.kv.Get(ctx, jtiKey(claims.ID))
		if err != nil || found {
			return found, err
		}
	}
	raw, found, err := s.kv.Get(ctx, userKey(claims.TenantID, claims.Subject))
	if err != nil || !found {
		return false, err
	}
	cutoff, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return true, nil
	}
	if claims.IssuedAt == nil {
		return true, nil
	}
	return claims.IssuedAt.Unix() <= cutoff, nil
}
