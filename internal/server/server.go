package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/chat-gateway/internal/completion"
	"github.com/aman-churiwal/chat-gateway/internal/config"
	"github.com/aman-churiwal/chat-gateway/internal/handler"
	"github.com/aman-churiwal/chat-gateway/internal/healthcheck"
	"github.com/aman-churiwal/chat-gateway/internal/middleware"
	"github.com/aman-churiwal/chat-gateway/internal/period"
	"github.com/aman-churiwal/chat-gateway/internal/ratelimit"
	"github.com/aman-churiwal/chat-gateway/internal/repository"
	"github.com/aman-churiwal/chat-gateway/internal/service"
	"github.com/aman-churiwal/chat-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

const janitorInterval = time.Minute

type Server struct {
	router        *gin.Engine
	config        *config.Config
	redis         *storage.RedisClient
	db            *storage.Database
	limiter       *ratelimit.FailoverLimiter
	localLimiter  *ratelimit.LocalLimiter
	checker       *healthcheck.Checker
	chatHandler   *handler.ChatHandler
	systemHandler *handler.SystemHandler
	verifier      *service.TokenVerifier
	gate          *service.AdmissionGate
	httpServer    *http.Server
	stopJanitor   context.CancelFunc
}

// Options carries the collaborators that tests replace.
type Options struct {
	Clock     clock.PassiveClock
	Completer completion.Completer
}

// New wires the service. redis may be nil, in which case rate limiting is
// local to this instance.
func New(cfg *config.Config, redis *storage.RedisClient, db *storage.Database, opts Options) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	router := gin.New()

	limiter, local := ratelimit.NewLimiter(
		redis,
		cfg.RateLimit.Requests,
		cfg.RateLimit.Window,
		cfg.RateLimit.ReprobeInterval,
		opts.Clock,
	)

	usageRepo := repository.NewUsageRepository(db)
	quota := service.NewQuotaService(usageRepo, service.QuotaConfig{
		MaxTokensPerRequest: cfg.Quota.MaxTokensPerRequest,
		LockTimeout:         cfg.Quota.LockTimeout,
		MaxRetries:          cfg.Quota.MaxRetries,
		Clock:               period.NewClock(opts.Clock),
	})
	gate := service.NewAdmissionGate(limiter, quota)

	var upstream handler.UpstreamBreaker
	if opts.Completer == nil {
		client := completion.NewClient(completion.Config{
			APIKey:  cfg.Upstream.APIKey,
			BaseURL: cfg.Upstream.BaseURL,
			Model:   cfg.Upstream.Model,
			Timeout: cfg.Upstream.Timeout,
			CircuitBreaker: circuitbreaker.Config{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
			},
		})
		opts.Completer = client
		upstream = client
	}

	s := &Server{
		router:       router,
		config:       cfg,
		redis:        redis,
		db:           db,
		limiter:      limiter,
		localLimiter: local,
		verifier:     service.NewTokenVerifier(cfg.Auth.JWTSecret),
		gate:         gate,
		chatHandler: handler.NewChatHandler(gate, quota, limiter, opts.Completer, handler.ChatConfig{
			SystemPrompt: cfg.Upstream.SystemPrompt,
		}),
	}

	s.checker = healthcheck.NewChecker(&healthcheck.Config{
		Probes:   s.probes(),
		Interval: cfg.Server.HealthInterval,
	})
	s.systemHandler = handler.NewSystemHandler(s.checker, limiter, upstream)

	// Setup middleware
	s.setupMiddleware()

	// Setup routes
	s.setupRoutes()

	return s
}

func (s *Server) probes() []healthcheck.Probe {
	probes := []healthcheck.Probe{{
		Name:     "database",
		Check:    s.db.Ping,
		Critical: true,
	}}

	if s.redis != nil {
		probes = append(probes, healthcheck.Probe{
			Name:  "redis",
			Check: s.redis.Ping,
			// Skip the rest of the re-probe interval once Redis answers again.
			OnRecover: s.limiter.Reprobe,
		})
	}

	return probes
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigins))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.systemHandler.Health)
	s.router.GET("/health/breakers", s.systemHandler.CircuitBreakerStatus)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chat := s.router.Group("/api/chat")
	{
		chat.GET("/limits", s.chatHandler.Limits)
		chat.GET("/health", s.chatHandler.Health)

		authed := chat.Group("", middleware.RequireAuth(s.verifier))
		authed.GET("/usage", s.chatHandler.Usage)
		authed.POST("/completions", middleware.Admission(s.gate), s.chatHandler.Completions)
	}
}

// Start runs the background work: dependency probes and pruning of idle
// local rate limit windows.
func (s *Server) Start() {
	s.checker.Start()

	ctx, cancel := context.WithCancel(context.Background())
	s.stopJanitor = cancel
	go s.localLimiter.RunJanitor(ctx, janitorInterval)
}

func (s *Server) Run(addr string) error {
	s.Start()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.Upstream.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("environment", s.config.Server.Environment).
		Str("rate_limit_backend", s.limiter.Backend()).
		Msg("Starting chat gateway")

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server...")

	s.checker.Stop()
	if s.stopJanitor != nil {
		s.stopJanitor()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
