package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"taskmaster/internal/api/auth"
	"taskmaster/internal/api/middleware"
	"taskmaster/internal/config"
	"taskmaster/internal/model"
	"taskmaster/internal/pkg/mailqueue"
	"taskmaster/internal/pkg/metrics"
	"taskmaster/internal/pkg/notify"
	"taskmaster/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Server 组装 HTTP 服务的全部依赖。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db  *gorm.DB
	rdb *redis.Client

	tasks      TaskStore
	stats      StatsStore
	adminUsers AdminUserStore
	users      *dbUserStore

	authHandler *auth.Handler
	limiter     *ratelimit.Limiter
	engine      *gin.Engine
}

// NewServer 初始化数据库、Redis、邮件投递与路由。
//
// 参数:
//
//	cfg: 应用配置
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 就绪的服务实例
//	error: 依赖初始化失败返回错误
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	metrics.InitMetrics()

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	// 邮件投递方式：同步 SMTP 或经 Redis Stream 异步投递
	var mailer notify.Mailer
	if cfg.App.EnableMailQueue {
		producer := mailqueue.NewProducer(rdb, logger, cfg.App.MailQueueStream)
		mailer = mailqueue.NewQueueMailer(producer)
		logger.Info("mail delivery via queue", slog.String("stream", cfg.App.MailQueueStream))
	} else {
		mailer = notify.NewEmailNotifier(&cfg.Email, cfg.App.PublicURL, logger)
	}

	users := newDBUserStore(db)
	tasks := newDBTaskStore(db)

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		rdb:         rdb,
		tasks:       tasks,
		stats:       tasks,
		adminUsers:  users,
		users:       users,
		authHandler: auth.NewHandler(users, cfg, mailer, logger),
		limiter:     ratelimit.NewLimiter(rdb, "", cfg.App.RateLimit, cfg.App.RateBurst),
	}
	s.engine = s.buildEngine()
	return s, nil
}

// Engine 返回底层 gin 引擎，供 http.Server 和测试使用。
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Redis 返回共享的 Redis 客户端。
func (s *Server) Redis() *redis.Client {
	return s.rdb
}

// Close 释放数据库与 Redis 连接。
func (s *Server) Close() error {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			return sqlDB.Close()
		}
	}
	return nil
}

func (s *Server) buildEngine() *gin.Engine {
	if s.cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, _ any) {
		respondError(c, http.StatusInternalServerError, "Server error")
		c.Abort()
	}))
	r.Use(middleware.RequestLogger(s.logger))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.StaticFile("/", "web/index.html")
	r.Static("/assets", "web/assets")

	s.registerRoutes(r)

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "Route not found")
	})
	return r
}

func (s *Server) registerRoutes(r *gin.Engine) {
	requireAuth := middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.users)

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(s.limiter, s.logger))

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", s.authHandler.Register)
		authGroup.POST("/login", s.authHandler.Login)
		authGroup.GET("/verify-email/:token", s.authHandler.VerifyEmail)
		authGroup.POST("/resend-verification", s.authHandler.ResendVerification)
		authGroup.GET("/profile", requireAuth, s.authHandler.Profile)
		authGroup.PUT("/profile", requireAuth, s.authHandler.UpdateProfile)
	}

	taskGroup := api.Group("/tasks", requireAuth)
	{
		taskGroup.GET("", s.handleListTasks)
		taskGroup.POST("", s.handleCreateTask)
		taskGroup.GET("/:id", s.handleGetTask)
		taskGroup.PUT("/:id", s.handleUpdateTask)
		taskGroup.DELETE("/:id", s.handleDeleteTask)
	}

	adminGroup := api.Group("/admin", requireAuth, middleware.RequireRole(model.RoleAdmin))
	{
		adminGroup.GET("/users", s.handleListUsers)
		adminGroup.PUT("/users/:id/status", s.handleUserStatus)
		adminGroup.GET("/stats", s.handleStats)
	}
}

// handleHealthz 探活接口，检查 MySQL 与 Redis 连接。
func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "down"
	}
	redisStatus := "ok"
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		redisStatus = "down"
	}

	status := http.StatusOK
	overall := "ok"
	if dbStatus != "ok" || redisStatus != "ok" {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"mysql":  dbStatus,
		"redis":  redisStatus,
		"time":   time.Now().Format(time.RFC3339),
	})
}
