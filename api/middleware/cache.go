package middleware

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ResponseCache stores successful GET responses in Redis. Every key embeds a
// generation number; a passport write bumps the generation, which orphans all
// previously cached pages at once and lets them expire on their own.
type ResponseCache struct {
	Client redis.Cmdable
	TTL    time.Duration
	Prefix string
	Logger logrus.FieldLogger
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.body = append(cw.body, b...)
	return cw.ResponseWriter.Write(b)
}

func (rc *ResponseCache) enabled() bool {
	return rc != nil && rc.Client != nil
}

func (rc *ResponseCache) prefix() string {
	if rc.Prefix == "" {
		return "dpp:cache"
	}
	return rc.Prefix
}

func (rc *ResponseCache) ttl() time.Duration {
	if rc.TTL <= 0 {
		return 15 * time.Minute
	}
	return rc.TTL
}

func (rc *ResponseCache) logger() logrus.FieldLogger {
	if rc.Logger == nil {
		return logrus.StandardLogger()
	}
	return rc.Logger
}

func (rc *ResponseCache) generationKey() string {
	return rc.prefix() + ":generation"
}

func (rc *ResponseCache) generation(ctx context.Context) (int64, error) {
	gen, err := rc.Client.Get(ctx, rc.generationKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (rc *ResponseCache) key(gen int64, c echo.Context) string {
	r := c.Request()
	sum := sha1.Sum([]byte(r.Method + " " + r.URL.RequestURI()))
	return fmt.Sprintf("%s:%d:%x", rc.prefix(), gen, sum[:])
}

// Cache serves GET requests from Redis and stores 200 responses on a miss.
// Redis errors fall through to the handler.
func (rc *ResponseCache) Cache() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !rc.enabled() {
			return next
		}
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodGet {
				return next(c)
			}
			ctx := c.Request().Context()
			gen, err := rc.generation(ctx)
			if err != nil {
				rc.logger().WithError(err).Warn("response cache unavailable")
				return next(c)
			}
			key := rc.key(gen, c)

			if raw, err := rc.Client.Get(ctx, key).Bytes(); err == nil {
				var cached cachedResponse
				if json.Unmarshal(raw, &cached) == nil {
					c.Response().Header().Set("X-Cache", "HIT")
					return c.Blob(cached.Status, cached.ContentType, cached.Body)
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK {
				return nil
			}
			payload, err := json.Marshal(cachedResponse{
				Status:      cw.status,
				ContentType: c.Response().Header().Get(echo.HeaderContentType),
				Body:        cw.body,
			})
			if err != nil {
				return nil
			}
			if err := rc.Client.Set(context.WithoutCancel(ctx), key, payload, rc.ttl()).Err(); err != nil {
				rc.logger().WithError(err).Warn("response cache store failed")
			}
			return nil
		}
	}
}

// Invalidate bumps the cache generation after any successful write.
func (rc *ResponseCache) Invalidate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !rc.enabled() {
			return next
		}
		return func(c echo.Context) error {
			err := next(c)
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				return err
			}
			if err := rc.Bump(c.Request().Context()); err != nil {
				rc.logger().WithError(err).Error("response cache invalidation failed")
			}
			return nil
		}
	}
}

func (rc *ResponseCache) Bump(ctx context.Context) error {
	if !rc.enabled() {
		return nil
	}
	return rc.Client.Incr(context.WithoutCancel(ctx), rc.generationKey()).Err()
}
