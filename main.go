package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/als-computing/splash-server/handlers"
	"github.com/als-computing/splash-server/internal/compounds"
	"github.com/als-computing/splash-server/internal/config"
	"github.com/als-computing/splash-server/internal/database"
	"github.com/als-computing/splash-server/internal/oidc"
	"github.com/als-computing/splash-server/internal/pages"
	"github.com/als-computing/splash-server/internal/references"
	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/teams"
	"github.com/als-computing/splash-server/internal/tokens"
	"github.com/als-computing/splash-server/internal/users"
	"github.com/als-computing/splash-server/pkg/logger"
	"github.com/als-computing/splash-server/pkg/metrics"
	"github.com/als-computing/splash-server/pkg/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var startTime = time.Now()

// app holds what the router needs once startup has finished.
type app struct {
	cfg         *config.Config
	source      *database.Source
	redis       *redis.Client
	services    handlers.Services
	verifiers   oidc.Providers
	issuer      *tokens.Issuer
	revocations tokens.Revocations
}

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v in_memory=%v redis=%v oidc=%v", cfg.MongoDB.URI != "", cfg.MongoDB.InMemory, cfg.Redis.Host != "", cfg.Auth.OIDCClientID != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cfg)
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}
	defer func() { _ = a.source.Close(context.Background()) }()

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r := a.router()

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("Starting splash server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// setup connects the stores and builds every service.
func setup(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, issuer: tokens.NewIssuerFromConfig(cfg)}

	source, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	a.source = source

	if err := a.buildServices(ctx); err != nil {
		return nil, err
	}

	// Redis backs the revocation list and, optionally, the rate limiter.
	a.revocations = tokens.NewMemoryRevocations()
	if addr := cfg.RedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v; using in-process revocations", addr, err)
		} else {
			logger.Infof("Connected to Redis: %s", addr)
			a.redis = client
			a.revocations = tokens.NewRedisRevocations(client)
		}
	}

	a.verifiers = oidc.Providers{}
	if cfg.Auth.OIDCClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			a.verifiers["google"] = ver
		}
	}
	if len(a.verifiers) == 0 && cfg.Auth.AllowInsecure {
		logger.Warn("enabling insecure id token verifier (integration mode)")
		a.verifiers["google"] = oidc.NewInsecureVerifier()
	}
	return a, nil
}

func (a *app) buildServices(ctx context.Context) error {
	opts := []service.Option{service.WithLogger(logger.Named("service"))}
	col := a.source.Collection
	var err error
	if a.services.Teams, err = teams.NewService(ctx, col(teams.CollectionName), opts...); err != nil {
		return fmt.Errorf("teams: %w", err)
	}
	if a.services.Pages, err = pages.NewService(ctx, col(pages.CollectionName), col(pages.HistoryCollectionName), opts...); err != nil {
		return fmt.Errorf("pages: %w", err)
	}
	if a.services.References, err = references.NewService(ctx, col(references.CollectionName), opts...); err != nil {
		return fmt.Errorf("references: %w", err)
	}
	if a.services.Users, err = users.NewService(ctx, col(users.CollectionName), opts...); err != nil {
		return fmt.Errorf("users: %w", err)
	}
	if a.services.Compounds, err = compounds.NewService(ctx, col(compounds.CollectionName), opts...); err != nil {
		return fmt.Errorf("compounds: %w", err)
	}
	return nil
}

func (a *app) router() *gin.Engine {
	cfg := a.cfg
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "If-Match"},
		ExposeHeaders: []string{"Content-Length", "ETag", "Warning"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.Server.CORSOrigins) == 0 || (len(cfg.Server.CORSOrigins) == 1 && cfg.Server.CORSOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.Server.CORSOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", a.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterSwagger(r)

	auth := handlers.NewAuthHandler(a.verifiers, a.services.Users, a.issuer, a.revocations)
	auth.Settings = gin.H{"oidc_issuer": cfg.Auth.OIDCIssuer, "oidc_client_id": cfg.Auth.OIDCClientID}

	public := r.Group("/api/v1")
	protected := r.Group("/api/v1", middleware.AuthMiddleware(a.issuer, a.revocations, a.services.Users))
	if cfg.RateLimit.Enabled {
		// per-IP before sign-in, per-user after
		public.Use(a.rateLimiter())
		protected.Use(a.rateLimiter())
	}
	auth.RegisterPublic(public)
	auth.RegisterProtected(protected)
	handlers.RegisterResources(protected, a.services)
	return r
}

func (a *app) rateLimiter() gin.HandlerFunc {
	rl := a.cfg.RateLimit
	if rl.UseRedis && a.redis != nil {
		return middleware.RedisRateLimitMiddleware(a.redis, rl.RPS, rl.Burst, time.Duration(rl.WindowSeconds)*time.Second)
	}
	return middleware.RateLimitMiddleware(rl.RPS, rl.Burst)
}

// ready returns 200 only when the document store and, if configured, Redis answer.
func (a *app) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	deps := map[string]bool{"mongo": a.source.Ping(ctx) == nil, "redis": true, "oidc": len(a.verifiers) > 0}
	if a.cfg.RedisAddr() != "" {
		deps["redis"] = a.redis != nil && a.redis.Ping(ctx).Err() == nil
	}
	uptime := time.Since(startTime).String()
	if !deps["mongo"] || !deps["redis"] {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": uptime})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": uptime})
}
