package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	cacheOpTimeout       = 2 * time.Second
)

// replayedHeaders are the response headers worth restoring on a replay.
var replayedHeaders = []string{fiber.HeaderContentType, fiber.HeaderLocation, replayedHeader}

type storedResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// IdempotencyKey returns the Idempotency-Key header, used as the client
// request id when the body does not carry one.
func IdempotencyKey(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(idempotencyKeyHeader))
}

// responseCache is the Redis side of the HTTP idempotency layer.
type responseCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func (r responseCache) opContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.UserContext()), cacheOpTimeout)
}

// lookup returns the stored response, whether a request is in flight, or
// redis.Nil when the key is unseen.
func (r responseCache) lookup(ctx context.Context, key string) (*storedResponse, bool, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false, err
	}
	if raw == inProgressMarker {
		return nil, true, nil
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, false, err
	}
	return &stored, false, nil
}

func (r responseCache) reserve(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, key, inProgressMarker, r.ttl).Result()
}

func (r responseCache) release(c *fiber.Ctx, key string) {
	ctx, cancel := r.opContext(c)
	defer cancel()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Warn("idempotency release failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (r responseCache) save(c *fiber.Ctx, key string, stored storedResponse) error {
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	ctx, cancel := r.opContext(c)
	defer cancel()
	return r.client.Set(ctx, key, payload, r.ttl).Err()
}

func fingerprint(c *fiber.Ctx) string {
	sum := sha256.Sum256(c.Body())
	return hex.EncodeToString(sum[:])
}

func replay(c *fiber.Ctx, stored *storedResponse) error {
	for header, value := range stored.Headers {
		c.Set(header, value)
	}
	c.Set(replayedHeader, "true")
	return c.Status(stored.Status).SendString(stored.Body)
}

// Idempotency replays the stored response of an unsafe request whose
// Idempotency-Key was already seen in the caller's scope. Requests without
// the header, or a nil cache, pass through: the ledger still deduplicates
// on client_request_id. Reusing a key with a different body is rejected, and
// 5xx outcomes are not stored so the client can retry them.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	rc := responseCache{client: cache, ttl: ttl, logger: logger}
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		switch method {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := IdempotencyKey(c)
		if key == "" || cache == nil {
			return c.Next()
		}

		owner := c.IP()
		if p, ok := principalFrom(c); ok {
			owner = p.Scope.String()
		}
		cacheKey := idempotencyPrefix + owner + ":" + method + ":" + c.Path() + ":" + key
		sum := fingerprint(c)

		ctx, cancel := rc.opContext(c)
		defer cancel()

		stored, pending, err := rc.lookup(ctx, cacheKey)
		switch {
		case pending:
			return fiber.NewError(fiber.StatusConflict, "a request with this Idempotency-Key is still processing")
		case err == nil && stored.Fingerprint != sum:
			return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key was already used with a different payload")
		case err == nil:
			return replay(c, stored)
		case !errors.Is(err, redis.Nil):
			logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}

		reserved, err := rc.reserve(ctx, cacheKey)
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "a request with this Idempotency-Key is still processing")
		}

		if err := c.Next(); err != nil {
			// The error handler renders after this returns; let the client retry.
			rc.release(c, cacheKey)
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			rc.release(c, cacheKey)
			return nil
		}

		result := storedResponse{
			Fingerprint: sum,
			Status:      status,
			Body:        string(c.Response().Body()),
			Headers:     map[string]string{},
		}
		for _, header := range replayedHeaders {
			if v := c.GetRespHeader(header); v != "" {
				result.Headers[header] = v
			}
		}
		if err := rc.save(c, cacheKey, result); err != nil {
			// The ledger token still deduplicates a retry.
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			rc.release(c, cacheKey)
		}
		return nil
	}
}
