package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "portal-gateway/internal/handler/http"
	wsHandler "portal-gateway/internal/handler/websocket"
	"portal-gateway/internal/hub"
	gormpersistence "portal-gateway/internal/infra/persistence/gorm"
	"portal-gateway/internal/infra/portals"
	"portal-gateway/internal/infra/setup"
	redisstate "portal-gateway/internal/infra/state/redis"
	"portal-gateway/internal/middleware"
	"portal-gateway/internal/service"
	"portal-gateway/internal/tasks"
	"portal-gateway/internal/worker"
)

// hubDrainTimeout 关闭时等待 WebSocket 连接完成下线处理的上限
const hubDrainTimeout = 5 * time.Second

// App 结构体包含应用的所有组件和配置
type App struct {
	Config         *Config
	Log            *logrus.Logger
	DB             *gorm.DB
	RedisClient    *redis.Client
	AsynqClient    *asynq.Client
	AsynqInspector *asynq.Inspector
	AsynqServer    *worker.WorkerServer
	Hub            *hub.Hub
	HttpServer     *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
	cancel         context.CancelFunc
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	asynqInspector := asynq.NewInspector(redisClientOpt)

	portalsClient, err := portals.NewClient(cfg.PortalsAPIURL, cfg.PortalsAPIKey, cfg.PortalsAPITimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create portals client: %w", err)
	}
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	sessionStore := redisstate.NewRedisSessionStore(redisClient, cfg.KeyPrefix, cfg.UndeliveredQueueCap)
	eventBus := redisstate.NewRedisEventBus(redisClient)
	log.Info("Repositories initialized")

	// 5. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	broadcaster := service.NewBroadcaster(eventBus, sessionStore, userRepo)
	roomService := service.NewRoomService(
		userRepo, roomRepo, sessionStore, broadcaster, portalsClient,
		tasks.NewScheduler(asynqClient, asynqInspector),
		service.NewStreamConfig(cfg.ApertureWSURL, cfg.ApertureWSKey),
		service.RoomConfig{
			MaxMembers:             cfg.MaxRoomMembers,
			MinPortalMembers:       cfg.MinPortalMembers,
			DestroyPortalWhenEmpty: cfg.DestroyPortalWhenEmpty,
			EmptyRoomDelay:         cfg.EmptyRoomDestroyDelay,
		},
	)
	controlService := service.NewControlService(roomRepo, sessionStore, eventBus)
	sessionService := service.NewSessionService(sessionStore, roomService)
	log.Info("Services initialized")

	// 6. 初始化 Hub
	hubInstance := hub.NewHub(authService, roomService, controlService, broadcaster, sessionStore, eventBus)

	// 7. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, roomService, sessionService, log)

	// 8. 初始化 Gin Engine 和路由
	router := newRouter(cfg, log, redisClient, routeHandlers{
		rooms:      httpHandler.NewRoomHandler(roomService),
		controller: httpHandler.NewControllerHandler(roomService),
		internal:   httpHandler.NewInternalHandler(roomService),
		ws:         wsHandler.NewWebSocketHandler(hubInstance, cfg.CORSAllowedOrigin),
	})
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqInspector: asynqInspector,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Infof("Logger initialized (Level: %s, Format: %T)", logLevel.String(), log.Formatter)
	return log
}

// routeHandlers 路由用到的处理器
type routeHandlers struct {
	rooms      *httpHandler.RoomHandler
	controller *httpHandler.ControllerHandler
	internal   *httpHandler.InternalHandler
	ws         *wsHandler.WebSocketHandler
}

func newRouter(cfg *Config, log *logrus.Logger, redisClient *redis.Client, h routeHandlers) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	// 认证在连接建立后通过 identify 帧完成
	router.GET("/ws", h.ws.HandleConnection)

	api := router.Group("/api", middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	h.rooms.Register(api.Group("/rooms", middleware.Auth(cfg.JWTSecret)))
	h.controller.Register(api.Group("/controller", middleware.Auth(cfg.JWTSecret)))

	h.internal.Register(router.Group("/internal", middleware.Internal(cfg.PortalsAPIKey)))
	return router
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Log.Info("Starting application background routines...")
	if err := a.Hub.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	if err := a.registerPeriodicTasks(); err != nil {
		a.Log.WithError(err).Error("Could not register periodic tasks")
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
	return nil
}

// registerPeriodicTasks 注册周期性的会话清理任务。
// 每个进程都会注册，Unique 保证同一周期只入队一次。
func (a *App) registerPeriodicTasks() error {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{Location: time.UTC})

	task, err := tasks.NewSessionSweepTask(a.Config.SessionStaleAfter)
	if err != nil {
		return err
	}
	schedule := a.Config.SessionSweepSchedule
	entryID, err := scheduler.Register(schedule, task, asynq.Queue(tasks.QueueDefault), asynq.MaxRetry(0), asynq.Unique(time.Minute))
	if err != nil {
		return fmt.Errorf("register session sweep: %w", err)
	}
	a.Log.Infof("Periodic session sweep registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	a.scheduler = scheduler
	a.Log.Info("Asynq scheduler started")
	return nil
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止接受新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 关闭所有 WebSocket 连接，等待下线处理写完共享状态
	if a.Hub != nil {
		hubCtx, hubCancel := context.WithTimeout(context.Background(), hubDrainTimeout)
		if err := a.Hub.Shutdown(hubCtx); err != nil {
			a.Log.Warnf("WebSocket clients did not drain before timeout: %v", err)
		}
		hubCancel()
	}
	if a.cancel != nil {
		a.cancel()
	}

	// 3. 停止调度器和 Worker
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 4. 关闭 Asynq Client 和 Inspector
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.AsynqInspector != nil {
		if err := a.AsynqInspector.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq inspector: %v", err)
		}
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	// 6. 关闭数据库连接池
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware 允许配置的来源跨域访问 API
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
