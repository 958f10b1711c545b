package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/config"
)

// ConnectRedis returns a client for the configured Redis, or nil when Redis
// is not configured or unreachable. Callers treat nil as "run without".
func ConnectRedis(cfg config.Config, log zerolog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Info().Msg("redis not configured, rate limiting and sweeper lock disabled")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connection failed, continuing without redis")
		_ = rdb.Close()
		return nil
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("redis connection established")
	return rdb
}
