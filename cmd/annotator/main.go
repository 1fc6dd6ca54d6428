// 标注服务入口：读取配置、选择会话存储、挂载路由与中间件并启动 HTTP(S) 服务
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tz-rubeho/internal/annotate"
	"tz-rubeho/internal/boundary"
	"tz-rubeho/internal/config"
	"tz-rubeho/internal/geo"
	"tz-rubeho/internal/locate"
	"tz-rubeho/internal/logger"
	"tz-rubeho/internal/metrics"
	"tz-rubeho/internal/middleware"
	"tz-rubeho/internal/migrate"
	"tz-rubeho/internal/session"
	"tz-rubeho/internal/store"
	"tz-rubeho/internal/utils"
	"tz-rubeho/internal/web"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	l.Debug("log_init_ok")

	s, err := config.Load("")
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}

	ttl := session.DefaultTTL
	if v := os.Getenv("SESSION_TTL_S"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			ttl = time.Duration(n) * time.Second
		}
	}
	var sessions session.Store = session.NewMemoryStore(ttl)
	if os.Getenv("SESSION_STORE") == "redis" {
		rc := utils.OpenRedisFromEnv()
		if rc == nil {
			l.Error("redis_not_configured", "hint", "set REDIS_HOST")
			os.Exit(1)
		}
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
			os.Exit(1)
		}
		l.Info("redis_ping_ok")
		sessions = session.NewRedisStore(rc, ttl)
	}
	l.Info("session_store", "kind", storeKind(sessions), "ttl", ttl.String())

	var archive web.Archiver
	if os.Getenv("ARCHIVE_ENABLED") == "true" {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
			os.Exit(1)
		}
		if err := migrate.EnsureSchema(context.Background(), db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		archive = store.AttachDB(db)
		l.Info("archive_enabled")
	}

	// 可选：加载 ward 边界，点击时返回所在 ward
	var locator web.Locator
	if os.Getenv("LOCATE_WARDS") == "true" {
		wards, err := boundary.Load(s.WardsPath)
		if err != nil {
			l.Error("wards_load_error", "path", s.WardsPath, "err", err)
			os.Exit(1)
		}
		maxKm := 5.0
		if v := os.Getenv("LOCATE_MAX_KM"); v != "" {
			if f, e := strconv.ParseFloat(v, 64); e == nil && f >= 0 {
				maxKm = f
			}
		}
		locator = locate.New(wards, geo.UTM{Zone: s.UTMZone, South: s.UTMSouth}, maxKm)
		l.Info("locator_ready", "wards", len(wards), "max_km", maxKm)
	}

	tlsEnable := os.Getenv("TLS_ENABLE") == "true"
	routes, err := web.BuildRoutes(web.Deps{
		Sessions:     sessions,
		View:         annotate.MapView{CenterLat: s.Map.CenterLat, CenterLon: s.Map.CenterLon, Zoom: s.Map.Zoom},
		Archive:      archive,
		Locator:      locator,
		SecureCookie: tlsEnable,
	})
	if err != nil {
		l.Error("routes_error", "err", err)
		os.Exit(1)
	}

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8501"
	}
	mux := http.NewServeMux()
	mux.Handle("/", middleware.CSRF(csrfKey(l), tlsEnable, trustedOrigins(addr))(routes))
	mux.Handle("/metrics", metrics.Handler())

	handler := middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.RateLimitFromEnv(),
		logger.AccessMiddleware(l),
	)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	if tlsEnable {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		if err := utils.EnsureSelfSignedCert(certPath, keyPath, "annotator.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		if err := srv.ListenAndServeTLS(certPath, keyPath); err != nil {
			l.Error("server_error", "err", err)
			os.Exit(1)
		}
		return
	}
	l.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}

// csrfKey：CSRF_KEY 为 64 位十六进制；未配置时随机生成（重启后旧表单失效）
func csrfKey(l *slog.Logger) []byte {
	if v := os.Getenv("CSRF_KEY"); v != "" {
		if b, err := hex.DecodeString(v); err == nil && len(b) == 32 {
			return b
		}
		l.Warn("csrf_key_invalid", "hint", "expect 64 hex chars")
	}
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}

func trustedOrigins(addr string) []string {
	port := addr[strings.LastIndex(addr, ":")+1:]
	out := []string{"localhost:" + port, "127.0.0.1:" + port}
	if v := os.Getenv("TRUSTED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

func storeKind(s session.Store) string {
	if _, ok := s.(*session.RedisStore); ok {
		return "redis"
	}
	return "memory"
}
