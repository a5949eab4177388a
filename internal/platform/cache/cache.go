// Package cache is the read-through cache in front of the tenant schemas.
// Redis backs it in production; MemoryCache serves single-process runs and
// tests.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fisioclinic/clinic/internal/platform/db"
)

const keyPrefix = "clinic"

type Cache interface {
	// Get reports found=false on a miss; err is reserved for backend failures.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
}

// Key builds a key namespaced by the tenant found in ctx, e.g.
// "clinic:centro:slots:<professional>:2025-03-10".
func Key(ctx context.Context, parts ...string) string {
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "_"
	}
	return keyPrefix + ":" + tenant + ":" + strings.Join(parts, ":")
}

// GetOrLoad returns the cached value for key, or calls load, stores its
// result for ttl and returns it. Cache failures degrade to calling load.
func GetOrLoad[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := otel.Tracer("clinic/cache").Start(ctx, "cache.get_or_load",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	var out T
	if c == nil {
		return load(ctx)
	}

	if raw, found, err := c.Get(ctx, key); err == nil && found {
		if err := json.Unmarshal(raw, &out); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return out, nil
		}
	} else if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	out, err := load(ctx)
	if err != nil {
		return out, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return out, fmt.Errorf("encode cache value for %s: %w", key, err)
	}
	if err := c.Set(ctx, key, raw, ttl); err != nil {
		span.RecordError(err)
	}
	return out, nil
}

// Invalidate drops every key under the tenant-scoped prefix built from parts.
// A nil cache is a no-op.
func Invalidate(ctx context.Context, c Cache, parts ...string) error {
	if c == nil {
		return nil
	}
	return c.DeletePrefix(ctx, Key(ctx, parts...))
}
