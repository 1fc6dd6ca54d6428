// 包 middleware：标注服务入口中间件（限流、安全头、CSRF）
package middleware

import (
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"tz-rubeho/internal/logger"
)

// 文档注释：令牌桶限流（每秒）
// 约束：不做排队，超限直接返回 429；每秒整桶补满
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	mu       sync.Mutex
	now      func() time.Time
}

func NewTokenBucket(qps int) *TokenBucket {
	return &TokenBucket{capacity: qps, tokens: qps, lastSec: time.Now().Unix(), now: time.Now}
}

func (tb *TokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	nowSec := tb.now().Unix()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// RateLimit：按令牌桶拒绝超限请求
func RateLimit(tb *TokenBucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tb.allow() {
				logger.L().Warn("rate_limit_exceeded", "path", r.URL.Path, "ip", r.RemoteAddr)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitFromEnv：RATE_LIMIT_ENABLED=true 时启用，速率取 RATE_LIMIT_QPS（默认 50）
func RateLimitFromEnv() func(http.Handler) http.Handler {
	if os.Getenv("RATE_LIMIT_ENABLED") != "true" {
		return func(next http.Handler) http.Handler { return next }
	}
	qps := 50
	if s := os.Getenv("RATE_LIMIT_QPS"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			qps = n
		}
	}
	logger.L().Info("rate_limit_enabled", "qps", qps)
	return RateLimit(NewTokenBucket(qps))
}
