package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/marketplace-auth/internal/config"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }
func (cw *captureWriter) Write(b []byte) (int, error) {
    if cw.limit <= 0 || cw.size < cw.limit {
        remain := cw.limit - cw.size
        if cw.limit <= 0 {
            cw.buf.Write(b)
        } else if remain > 0 {
            if int64(len(b)) <= remain {
                cw.buf.Write(b)
            } else {
                cw.buf.Write(b[:remain])
            }
        }
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

// profileCacheKey is shared by the GET and PUT of one profile: both
// routes have the same path pattern and the caller is the :user_id owner.
func profileCacheKey(cfg config.ProfileCacheConfig, c echo.Context) string {
    tail := strings.Join([]string{"route", c.Path(), "user", c.Param("user_id")}, ":")
    sum := sha1.Sum([]byte(tail))
    return fmt.Sprintf("%s:%x", cfg.Prefix, sum[:])
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
    hdrJSON, err := json.Marshal(header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdrJSON)+len(body))
    binary.BigEndian.PutUint32(out[0:4], uint32(status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
    copy(out[8:8+len(hdrJSON)], hdrJSON)
    copy(out[8+len(hdrJSON):], body)
    return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
    if len(bs) < 8 {
        return 0, nil, nil, false
    }
    status = int(binary.BigEndian.Uint32(bs[0:4]))
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return 0, nil, nil, false
    }
    hdr := make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
            return 0, nil, nil, false
        }
    }
    return status, hdr, bs[8+hlen:], true
}

// NewProfileCache caches successful profile reads in Redis, per user, and
// drops the entry after a successful update of the same profile.  Only
// 200 responses are stored, so a missing profile is always re-checked.
// With caching disabled or no Redis it passes requests through.
func NewProfileCache(cfg config.ProfileCacheConfig, rdb *redis.Client, log *slog.Logger) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    maxBody := int64(cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            ctx := c.Request().Context()
            key := profileCacheKey(cfg, c)

            switch c.Request().Method {
            case http.MethodGet:
            case http.MethodPut, http.MethodPatch:
                if err := next(c); err != nil {
                    return err
                }
                if c.Response().Status < 300 {
                    if err := rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
                        log.Warn("profile cache invalidation failed", "key", key, "err", err)
                    }
                }
                return nil
            default:
                return next(c)
            }

            if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
                if status, hdr, body, ok := decodePayload(bs); ok {
                    for k, vals := range hdr {
                        if strings.EqualFold(k, echo.HeaderContentLength) {
                            continue
                        }
                        for _, v := range vals {
                            c.Response().Header().Add(k, v)
                        }
                    }
                    c.Response().Header().Set("X-Cache", "HIT")
                    c.Response().WriteHeader(status)
                    _, _ = c.Response().Write(body)
                    return nil
                }
            } else if !errors.Is(err, redis.Nil) {
                log.Warn("profile cache read failed", "key", key, "err", err)
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
            c.Response().Writer = cw
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
                return nil
            }
            hdr := make(http.Header, len(c.Response().Header()))
            for k, vals := range c.Response().Header() {
                if strings.EqualFold(k, "X-Cache") {
                    continue
                }
                hdr[k] = append([]string(nil), vals...)
            }
            payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
            if err == nil {
                err = rdb.SetEx(context.WithoutCancel(ctx), key, payload, cfg.TTL).Err()
            }
            if err != nil {
                log.Warn("profile cache write failed", "key", key, "err", err)
            }
            return nil
        }
    }
}
