package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/pkg/log"
)

// RateLimit 是按客户端 IP 的固定窗口限流中间件。
// 计数放在 Redis 里，多实例部署共享同一配额。
// Redis 异常时放行请求，限流是保护手段而不是单点。
func RateLimit(rdb *redis.Client, cfg config.RateLimitConfig) gin.HandlerFunc {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Hour
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:chat:%s", c.ClientIP())
		ctx := c.Request.Context()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warnf("[RateLimit] Redis 计数失败, 放行请求: %v", err)
			c.Next()
			return
		}
		// 窗口以第一次请求为起点
		if count == 1 {
			_ = rdb.Expire(ctx, key, window).Err()
		}

		if count > int64(cfg.QueriesPerHour) {
			ttl, _ := rdb.TTL(ctx, key).Result()
			c.Header("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "请求过于频繁，请稍后再试",
				"data":    nil,
			})
			return
		}

		c.Next()
	}
}
