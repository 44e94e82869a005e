package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charging-platform/csms/internal/config"
	"github.com/charging-platform/csms/internal/engine"
	"github.com/charging-platform/csms/internal/logger"
	"github.com/charging-platform/csms/internal/message"
	"github.com/charging-platform/csms/internal/metrics"
	"github.com/charging-platform/csms/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Async:  cfg.Log.Async,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("Logger initialized")

	// 3. 初始化域存储门面（内存实现，持有 charger 聚合 / id-tag 表 / 数据传输模板）
	store := storage.NewMemoryStore()
	log.Info("Domain store facade initialized")

	// 3b. 跨进程连接归属与 local_auth_list 版本计数器镜像（多 Pod 部署时使用）
	redisMirror, err := storage.NewRedisStorage(cfg.Redis)
	if err != nil {
		log.Warnf("Redis connection-ownership mirror unavailable, continuing single-pod: %v", err)
		redisMirror = nil
	} else {
		log.Info("Redis connection-ownership mirror initialized")
	}

	// 4. 初始化 Kafka 生产者（发布域事件审计轨迹）
	producer, err := message.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.UpstreamTopic, cfg.PodID)
	if err != nil {
		log.Fatalf("Failed to initialize Kafka producer: %v", err)
	}
	log.Info("Kafka producer initialized")

	// 5. 初始化 Kafka 消费者（运营方指令入站）
	consumer, err := message.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.DownstreamTopic, cfg.PodID, cfg.Kafka.PartitionNum, log)
	if err != nil {
		log.Fatalf("Failed to initialize Kafka consumer: %v", err)
	}
	log.Infof("Kafka consumer initialized with brokers: %v, group: %s", cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup)

	// 6. 组装引擎：注册表 + 门面 + 日志水槽 + 处理器集 + 调度器 + 出站指令 API + WebSocket 传输
	eng := engine.New(cfg, store, producer, log)
	log.Info("Engine wired")

	// 7. 启动监控服务器
	metrics.RegisterMetrics()
	go startMetricsServer(cfg.GetMetricsAddr(), log)
	log.Infof("Metrics server starting on %s...", cfg.GetMetricsAddr())

	// 8. 启动 Kafka 消费者，驱动出站指令 API
	go func() {
		if err := consumer.Start(eng.HandleCommand); err != nil {
			log.Errorf("Kafka consumer failed: %v", err)
		}
	}()
	log.Info("Kafka consumer starting...")

	// 9. 启动引擎（WebSocket 升级入口 + 空闲连接清理）
	if err := eng.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	log.Info("Charging Station Management System started successfully")

	// 10. 监听并处理优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := eng.Shutdown(ctx); err != nil {
		log.Errorf("Error shutting down engine: %v", err)
	}
	log.Info("Engine shut down")

	if err := consumer.Close(); err != nil {
		log.Errorf("Error closing Kafka consumer: %v", err)
	}
	log.Info("Kafka consumer closed")

	if redisMirror != nil {
		if err := redisMirror.Close(); err != nil {
			log.Errorf("Error closing Redis mirror: %v", err)
		}
		log.Info("Redis mirror closed")
	}

	log.Info("Server gracefully stopped.")
}

func startMetricsServer(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Metrics server failed: %v", err)
	}
}
