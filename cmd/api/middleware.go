package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	headerRequestID      = "X-Request-Id"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	// How long a request may hold its idempotency key before finishing.
	provisionalTTL = 60 * time.Second
	maxKeyLength   = 128
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	buf    *bytes.Buffer
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.buf != nil {
		r.buf.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

// requestLogger tags every request with an id and logs it on completion.
func requestLogger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(headerRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(headerRequestID, reqID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info("request",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", headerIdempotencyKey, headerRequestID},
		ExposedHeaders: []string{headerRequestID, headerReplayed},
		MaxAge:         300,
	})
}

type idempotencyEntry struct {
	InProgress bool      `json:"in_progress"`
	Code       int       `json:"code"`
	Body       []byte    `json:"body"`
	BodySHA256 string    `json:"body_sha256"`
	CreatedAt  time.Time `json:"created_at"`
}

// idempotency replays the stored response for a repeated POST carrying the
// same Idempotency-Key. Requests without the header pass through.
func idempotency(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeMessage(w, http.StatusBadRequest, "Idempotency-Key too long")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeMessage(w, http.StatusBadRequest, "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			bodyHash := hex.EncodeToString(sum[:])

			redisKey := "pledge:idem:" + r.Method + ":" + r.URL.Path + ":" + key
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			claimed, err := claim(ctx, rdb, redisKey, idempotencyEntry{
				InProgress: true,
				BodySHA256: bodyHash,
				CreatedAt:  time.Now().UTC(),
			})
			if err != nil {
				logger.Error("idempotency store unavailable", zap.Error(err))
				writeMessage(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}
			if !claimed {
				cur, err := load(ctx, rdb, redisKey)
				switch {
				case err != nil:
					logger.Warn("failed to load idempotency entry", zap.String("key", redisKey), zap.Error(err))
					writeMessage(w, http.StatusConflict, "request is already in progress")
				case cur.BodySHA256 != bodyHash:
					writeMessage(w, http.StatusConflict, "Idempotency-Key reused with a different body")
				case cur.InProgress:
					writeMessage(w, http.StatusConflict, "request is already in progress")
				default:
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(headerReplayed, "true")
					w.WriteHeader(cur.Code)
					_, _ = w.Write(cur.Body)
				}
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK, buf: &bytes.Buffer{}}
			next.ServeHTTP(rec, r)

			// the request context may be gone by now
			saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer saveCancel()
			if rec.status >= http.StatusInternalServerError {
				// let the client retry a server failure
				_ = rdb.Del(saveCtx, redisKey).Err()
				return
			}
			final := idempotencyEntry{
				Code:       rec.status,
				Body:       rec.buf.Bytes(),
				BodySHA256: bodyHash,
				CreatedAt:  time.Now().UTC(),
			}
			if err := save(saveCtx, rdb, redisKey, final, ttl); err != nil {
				logger.Warn("failed to store idempotent response", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}
}

func claim(ctx context.Context, rdb *redis.Client, key string, e idempotencyEntry) (bool, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	return rdb.SetNX(ctx, key, b, provisionalTTL).Result()
}

func load(ctx context.Context, rdb *redis.Client, key string) (idempotencyEntry, error) {
	var e idempotencyEntry
	b, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return e, errors.New("idempotency entry expired")
		}
		return e, err
	}
	err = json.Unmarshal(b, &e)
	return e, err
}

func save(ctx context.Context, rdb *redis.Client, key string, e idempotencyEntry, ttl time.Duration) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, ttl).Err()
}
