// Package main runs the Arts Technology Lab backend: REST API for accounts
// and activities plus the WebSocket live-activity layer, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arts-tech-lab/backend/config"
	"github.com/arts-tech-lab/backend/internal/activities"
	"github.com/arts-tech-lab/backend/internal/attendance"
	"github.com/arts-tech-lab/backend/internal/auth"
	"github.com/arts-tech-lab/backend/internal/middleware"
	"github.com/arts-tech-lab/backend/internal/models"
	"github.com/arts-tech-lab/backend/internal/realtime"
	"github.com/arts-tech-lab/backend/pkg/database"
	"github.com/arts-tech-lab/backend/pkg/redis"
	"github.com/arts-tech-lab/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is optional: without it the hub runs single-instance.
	var bridge *realtime.RedisPubSub
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		bridge = realtime.NewRedisPubSub(rdb.Client, logger)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	var hub *realtime.Hub
	if bridge != nil {
		hub = realtime.NewHub(logger, bridge, bridge)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	registry := realtime.NewRegistry()
	hub.SetHostResolver(registry.HostConnIDs)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Activities (persistence collaborator for the realtime layer)
	activityRepo := activities.NewRepository(pool)
	activityHandler := activities.NewHandler(activityRepo)

	// Attendance (session logs + peak participants)
	attendanceRepo := attendance.NewRepository(pool)
	attendanceHandler := attendance.NewHandler(attendanceRepo)

	router := realtime.NewRouter(registry, hub, activityRepo, logger)
	router.SetPresenceHandlers(realtime.PresenceHandlers{
		OnJoin: func(activityID string, userID uuid.UUID) {
			if err := attendanceRepo.LogJoin(context.Background(), activityID, userID); err != nil {
				logger.Warn("log join", zap.Error(err))
			}
		},
		OnLeave: func(activityID string, userID uuid.UUID) {
			if err := attendanceRepo.LogLeave(context.Background(), activityID, userID); err != nil {
				logger.Warn("log leave", zap.Error(err))
			}
		},
		OnAudience: func(activityID string, count int) {
			if err := attendanceRepo.UpdatePeak(context.Background(), activityID, count); err != nil {
				logger.Warn("update peak", zap.Error(err))
			}
		},
	})

	verify := func(token string) (uuid.UUID, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.Role, nil
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	engine.Use(middleware.Logger(logger))

	engine.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := engine.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public activity reads (anonymous visitors browse public activities).
	engine.GET("/activities", activityHandler.List)
	engine.GET("/activities/:id", activityHandler.GetByID)

	staffRoles := []string{
		string(models.RoleAdmin),
		string(models.RoleFaculty),
		string(models.RoleStaff),
		string(models.RoleAssistant),
	}

	api := engine.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", middleware.RequireRole(string(models.RoleAdmin)), authHandler.List)
		api.PATCH("/users/:id/role", middleware.RequireRole(string(models.RoleAdmin)), authHandler.UpdateRole)

		api.POST("/activities", middleware.RequireRole(staffRoles...), activityHandler.Create)
		api.PATCH("/activities/:id/live", middleware.RequireRole(staffRoles...), activityHandler.ToggleLive)
		api.GET("/activities/:id/attendance", middleware.RequireRole(staffRoles...), attendanceHandler.GetByActivity)
	}

	// WebSocket (token in query, optional: absent means anonymous).
	engine.GET("/ws", realtime.ServeWs(hub, router, logger, verify))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
