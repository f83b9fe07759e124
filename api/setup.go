package api

import (
	"time"

	"backend/api/handlers/admin"
	analyticshandler "backend/api/handlers/analytics"
	"backend/api/handlers/notifications"
	reviewhandler "backend/api/handlers/review"
	"backend/api/handlers/workflows"
	"backend/internal/analytics"
	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/identity"
	"backend/internal/infra"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/notification"
	"backend/internal/review"
	"backend/internal/scheduler"
	"backend/internal/worker"
	"backend/internal/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 组装全部依赖并返回路由与后台任务服务
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server) {
	rdb := infra.GetRedis()

	jwtService := auth.NewJWTService(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		time.Duration(cfg.JWT.ExpireMinutes)*time.Minute,
		rdb,
	)

	policy, err := review.NewPolicyProvider(&cfg.Review)
	if err != nil {
		logger.Fatal("评审策略不合法", zap.Error(err))
	}

	resolver := identity.NewResolver(db)

	// WebSocket 集线器：离线消息落 Redis，断线重连后补发
	hubOpts := []notification.HubOption{}
	if rdb != nil {
		hubOpts = append(hubOpts, notification.WithOfflineStore(
			notification.NewRedisOfflineStore(rdb, 100, 24*time.Hour),
		))
	}
	hub := notification.NewWebSocketHub(hubOpts...)

	var emailCfg *notification.EmailConfig
	if cfg.Notification.Email.Enabled {
		emailCfg = &notification.EmailConfig{
			SMTPHost: cfg.Notification.Email.SMTPHost,
			SMTPPort: cfg.Notification.Email.SMTPPort,
			Username: cfg.Notification.Email.Username,
			Password: cfg.Notification.Email.Password,
			From:     cfg.Notification.Email.From,
			FromName: cfg.Notification.Email.FromName,
		}
	}
	var webhookCfg *notification.WebhookConfig
	if cfg.Notification.Webhook.Enabled {
		webhookCfg = &notification.WebhookConfig{
			DefaultURL: cfg.Notification.Webhook.URL,
			Timeout:    time.Duration(cfg.Notification.Webhook.TimeoutSeconds) * time.Second,
			Headers:    cfg.Notification.Webhook.Headers,
		}
	}
	notifier := notification.NewMultiNotifier(emailCfg, webhookCfg, hub)

	dispatcher := notification.NewDispatcher(db, notifier,
		notification.WithEmailLookup(resolver),
		notification.WithChannels(cfg.Notification.Channels),
		notification.WithMaxAttempts(cfg.Notification.MaxAttempts),
	)

	// 事件扇出：通知分发 + 请求级 SSE 订阅
	bus := review.NewEventBus(&review.EventBusConfig{BufferSize: 8})
	sink := review.MultiSink{dispatcher, bus}

	store := review.NewStore(db, review.WithEventSink(sink))
	engine := workflow.NewEngine(db, store,
		workflow.WithRoleResolver(resolver),
		workflow.WithEngineSink(sink),
	)

	sweeperOpts := []scheduler.SweeperOption{scheduler.WithSweeperSink(sink)}
	if rdb != nil {
		sweeperOpts = append(sweeperOpts, scheduler.WithRedis(rdb))
	}
	sweeper := scheduler.NewSweeper(db, store, engine, policy, sweeperOpts...)

	queueClient := queue.NewClient(cfg.Redis)
	workerServer := worker.NewServer(cfg.Redis, cfg.Worker, policy.Snapshot(), sweeper, dispatcher, logger.Get())

	handlers := &Handlers{
		Review:        reviewhandler.NewHandler(store, engine, policy, bus),
		Workflows:     workflows.NewHandler(engine),
		Analytics:     analyticshandler.NewHandler(analytics.NewService(db)),
		Notifications: notifications.NewHandler(dispatcher, hub),
		Admin:         admin.NewHandler(policy, queueClient),
		JWT:           jwtService,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	RegisterRoutes(router, handlers)

	return router, workerServer
}
