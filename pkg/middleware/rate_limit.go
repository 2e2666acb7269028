package middleware

import (
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

type RateLimitConfig struct {
	RequestsPerPeriod int
	Period            time.Duration
	Store             limiter.Store
}

func NewMemoryStore() limiter.Store {
	return memory.NewStore()
}

func NewRedisStore(redisURL string) (limiter.Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	return limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "importer:ratelimit",
	})
}

func RateLimit(config RateLimitConfig) mux.MiddlewareFunc {
	if config.Period == 0 {
		config.Period = time.Second
	}
	if config.Store == nil {
		config.Store = NewMemoryStore()
	}
	instance := limiter.New(config.Store, limiter.Rate{
		Period: config.Period,
		Limit:  int64(config.RequestsPerPeriod),
	})
	return limiterhttp.NewMiddleware(instance).Handler
}
