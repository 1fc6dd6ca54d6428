package utils

import (
	"os"
	"strconv"

	"tz-rubeho/internal/logger"

	"github.com/redis/go-redis/v9"
)

// RedisAddrFromEnv：REDIS_HOST 未设置时返回空串
func RedisAddrFromEnv() string {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	return host + ":" + port
}

// OpenRedisFromEnv：从环境变量打开 Redis 客户端，支持 REDIS_DB 选择
// 约束：REDIS_DB 解析失败时回退到 0；未配置地址时返回 nil
func OpenRedisFromEnv() *redis.Client {
	addr := RedisAddrFromEnv()
	if addr == "" {
		return nil
	}
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			db = n
		}
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS"), DB: db})
}
