// Command gateway runs a small HTTP API protected by throttle: per-category
// rate limits, a response cache for the menu, and optional Redis-backed
// request stats.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/xianfeast/throttle"
	"github.com/xianfeast/throttle/cache"
	"github.com/xianfeast/throttle/internal/config"
	"github.com/xianfeast/throttle/middleware"
	"github.com/xianfeast/throttle/stats"
)

const menuCacheKey = "menu"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	limiter := throttle.NewLimiter(
		throttle.WithViolationThreshold(cfg.ViolationThreshold),
		throttle.WithViolationHorizon(cfg.ViolationHorizon),
		throttle.WithAutoBlockDuration(cfg.AutoBlockDuration),
		throttle.WithLogger(logger),
	)

	menuCache, err := cache.New(cfg.CacheCapacity, cfg.CacheTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid cache configuration")
	}

	recorder, memory := newRecorder(cfg, logger)

	var keyFn middleware.KeyFunc = middleware.ClientIP
	if len(cfg.TrustedProxies) > 0 {
		keyFn, err = middleware.TrustedProxyKeyFunc(cfg.TrustedProxies)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid trusted proxy configuration")
		}
	}

	limit := func(category string, rule throttle.Rule) func(http.Handler) http.Handler {
		return middleware.RateLimit(limiter, rule,
			middleware.WithKeyFunc(prefixed(category, keyFn)),
			middleware.WithLogger(logger),
			middleware.WithStats(recorder),
		)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Group(func(r chi.Router) {
		r.Use(limit("auth", cfg.Auth.Rule()))
		r.Post("/auth/login", loginHandler)
	})
	r.Group(func(r chi.Router) {
		r.Use(limit("browse", cfg.Browse.Rule()))
		r.Get("/menu", menuHandler(menuCache, logger))
	})
	r.Group(func(r chi.Router) {
		r.Use(limit("order", cfg.Order.Rule()))
		r.Post("/orders", createOrderHandler)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if memory != nil {
		r.Get("/admin/stats", statsHandler(memory, menuCache))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runCleanup(ctx, cfg.CleanupInterval, limiter, menuCache, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

// newRecorder picks the stats backend. The *stats.Memory return is non-nil
// only for the in-process backend, where /admin/stats can read it back.
func newRecorder(cfg config.Config, logger zerolog.Logger) (stats.Recorder, *stats.Memory) {
	if cfg.RedisStats {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		logger.Info().Str("addr", cfg.RedisAddr).Msg("recording stats to redis")
		return stats.NewRedis(rdb), nil
	}
	memory := stats.NewMemory(stats.WithTrackKeys(true))
	return memory, memory
}

// prefixed namespaces a key func per traffic category so each category
// gets its own counter pool.
func prefixed(category string, fn middleware.KeyFunc) middleware.KeyFunc {
	return func(r *http.Request) string {
		return category + ":" + fn(r)
	}
}

// runCleanup sweeps expired limiter and cache state on a fixed interval.
func runCleanup(ctx context.Context, interval time.Duration, limiter *throttle.Limiter, c *cache.Cache, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := limiter.Cleanup() + c.Cleanup()
			if removed > 0 {
				logger.Debug().Int("removed", removed).Msg("cleanup pass")
			}
		}
	}
}

func loginHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      uuid.NewString(),
		"request_id": middleware.GetRequestID(r.Context()),
	})
}

// menuHandler serves the menu, memoized through the cache so repeated
// browsing does not rebuild the payload on every hit.
func menuHandler(c *cache.Cache, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cached, ok := c.Get(menuCacheKey); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
		menu := buildMenu()
		c.Set(menuCacheKey, menu)
		logger.Debug().Msg("menu rebuilt")
		writeJSON(w, http.StatusOK, menu)
	}
}

func buildMenu() map[string]any {
	return map[string]any{
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"stalls": []map[string]any{
			{"name": "Noodle House", "items": []string{"dan dan noodles", "beef noodle soup"}},
			{"name": "Dumpling Bar", "items": []string{"pork dumplings", "chive pockets"}},
			{"name": "Tea Counter", "items": []string{"jasmine tea", "oolong"}},
		},
	}
}

func createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []string `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items required"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id": uuid.NewString(),
		"status":   "created",
		"items":    body.Items,
	})
}

func statsHandler(memory *stats.Memory, c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"requests": memory.Total(),
			"by_route": memory.ByRoute(),
			"cache":    c.Stats(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
