package worker

import (
	"context"
	"fmt"

	"backend/internal/config"
	"backend/internal/review"
	"backend/internal/worker/handlers"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

func NewServer(
	cfg config.RedisConfig,
	workerCfg config.WorkerConfig,
	reviewCfg *review.ReviewConfiguration,
	sweeper handlers.SweepRunner,
	retrier handlers.NotificationRetrier,
	logger *zap.Logger,
) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	concurrency := workerCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"sweeps":        6, // 超时扫描优先级高
				"notifications": 3,
				"default":       1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	// 注册扫描处理器
	sweepHandler := handlers.NewSweepHandler(sweeper, logger)
	mux.HandleFunc(tasks.TypeTimeoutSweep, sweepHandler.HandleTimeoutSweep)
	mux.HandleFunc(tasks.TypeReminderSweep, sweepHandler.HandleReminderSweep)

	// 注册通知重试处理器
	notificationHandler := handlers.NewNotificationHandler(retrier, logger)
	mux.HandleFunc(tasks.TypeNotificationRetry, notificationHandler.HandleNotificationRetry)

	// 周期任务：扫描与重试按策略间隔调度
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	registerPeriodic := func(spec, taskType, queue string) {
		if _, err := scheduler.Register(spec, asynq.NewTask(taskType, nil), asynq.Queue(queue)); err != nil {
			logger.Error("注册周期任务失败", zap.String("type", taskType), zap.Error(err))
		}
	}
	registerPeriodic(fmt.Sprintf("@every %s", reviewCfg.SweepInterval()), tasks.TypeTimeoutSweep, "sweeps")
	registerPeriodic(fmt.Sprintf("@every %s", reviewCfg.NotificationInterval()), tasks.TypeReminderSweep, "sweeps")
	registerPeriodic("@every 5m", tasks.TypeNotificationRetry, "notifications")

	return &Server{
		server:    srv,
		scheduler: scheduler,
		mux:       mux,
		logger:    logger,
	}
}

// Run 启动 Worker 服务器（阻塞）
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
