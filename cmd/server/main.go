package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"giftcard/internal/config"
	"giftcard/internal/handler"
	"giftcard/internal/infrastructure/cache"
	"giftcard/internal/infrastructure/database"
	"giftcard/internal/infrastructure/lock"
	"giftcard/internal/infrastructure/logger"
	"giftcard/internal/infrastructure/mq"
	"giftcard/internal/job"
	"giftcard/internal/service"
	"giftcard/pkg/idgen"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if err := logger.InitLogger(&cfg.Log); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		log.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		log.Fatalf("初始化 MySQL 失败: %v", err)
	}

	// 初始化 Redis
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("初始化 Redis 失败: %v", err)
	}
	defer redisClient.Close()

	// 初始化 Kafka
	producer, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		log.Fatalf("初始化 Kafka 失败: %v", err)
	}
	publisher := mq.NewPublisher(producer)
	defer publisher.Close()

	opts, err := service.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("业务配置错误: %v", err)
	}
	cardService := service.NewCardService(
		db,
		lock.NewRedisLocker(redisClient),
		cache.NewIdempotencyStore(redisClient),
		service.NewTemplateService(db),
		opts,
	)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publisher, &cfg.Business)
	go outboxSender.Start(ctx)

	lockExpiryJob := job.NewLockExpiryJob(cardService, &cfg.Business)
	go lockExpiryJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(cardService))

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
