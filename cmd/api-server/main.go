// Package main API Server 入口
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"testforge/internal/agent"
	"testforge/internal/apiserver/auth"
	"testforge/internal/apiserver/server"
	"testforge/internal/assembler"
	"testforge/internal/config"
	"testforge/internal/genai"
	"testforge/internal/orchestrator"
	"testforge/internal/shared/budget"
	budgetredis "testforge/internal/shared/budget/redis"
	"testforge/internal/shared/gencache"
	gencacheredis "testforge/internal/shared/gencache/redis"
	"testforge/internal/shared/objstore"
	"testforge/internal/shared/relay"
	"testforge/internal/shared/storage"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换 YAML）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 持久化存储（DSN 前缀决定 PostgreSQL / SQLite）
	store, err := storage.NewPersistentStoreFromDSN(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	log.Println("Connected to database")

	// Redis：预算计数器 + 生成缓存；不可用时降级为进程内实现
	var counters budget.CounterStore = budget.NewMemoryCounter()
	var cache gencache.Store = gencache.NewMemoryStore()
	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		counters = budgetredis.NewCounter(redisClient)
		cache = gencacheredis.NewStore(redisClient)
		log.Println("Connected to Redis")
	} else {
		log.Println("Redis unavailable, using in-memory budget counter and cache")
	}
	gate := budget.NewGate(counters)

	// 对象存储镜像（可选）
	var mirror *objstore.Client
	if cfg.MinIO.Enabled {
		mirror, err = objstore.NewClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("Failed to init MinIO client: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mirror.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to ensure MinIO bucket: %v", err)
		}
		cancel()
		log.Println("Connected to MinIO")
	}

	// 生成服务与编排器
	modelClient, err := genai.NewOpenAIClient(cfg.GenAI)
	if err != nil {
		log.Fatalf("Failed to init model client: %v", err)
	}
	svc := genai.NewService(modelClient, gate, cache, cfg.GenAI, cfg.Pipeline.CacheTTL.Std())
	registry := agent.NewRegistry(svc)
	asm := assembler.New(store, cfg.Pipeline.ContextTokenCap)
	progressRelay := relay.New()

	orch := orchestrator.New(store, asm, registry, gate, progressRelay, mirrorOrNil(mirror))
	orch.Backoffs = cfg.Pipeline.Backoffs()

	// 认证
	authCfg := auth.Config{
		JWTSecret:       cfg.Auth.JWTSecret,
		AccessTokenTTL:  cfg.Auth.TokenTTL.Std(),
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
	if err := auth.EnsureAdminUser(store,
		os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD"),
		cfg.Pipeline.DefaultMonthlyTokenLimit); err != nil {
		log.Fatalf("Failed to ensure admin user: %v", err)
	}

	h := server.NewHandler(store, gate, progressRelay, orch, mirror,
		authCfg, cfg.Pipeline.DefaultMonthlyTokenLimit)
	svc.SetMetrics(h.Metrics())

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // WebSocket 长连接走顶层路由，不受此限制
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

// connectRedis 连接 Redis，失败时返回 nil 触发降级
func connectRedis(url string) *goredis.Client {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		log.Printf("Invalid Redis URL: %v", err)
		return nil
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Redis ping failed: %v", err)
		client.Close()
		return nil
	}
	return client
}

// mirrorOrNil 避免把带类型的 nil 指针塞进接口
func mirrorOrNil(c *objstore.Client) orchestrator.ArtifactMirror {
	if c == nil {
		return nil
	}
	return c
}
