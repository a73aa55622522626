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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charging-platform/ocpp-attack-lab/internal/attack"
	"github.com/charging-platform/ocpp-attack-lab/internal/cache"
	"github.com/charging-platform/ocpp-attack-lab/internal/config"
	"github.com/charging-platform/ocpp-attack-lab/internal/logger"
	"github.com/charging-platform/ocpp-attack-lab/internal/message"
	"github.com/charging-platform/ocpp-attack-lab/internal/metrics"
	"github.com/charging-platform/ocpp-attack-lab/internal/relay"
	"github.com/charging-platform/ocpp-attack-lab/internal/session"
	"github.com/charging-platform/ocpp-attack-lab/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: config.yaml in . or ./configs)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
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

	// 3. 初始化会话存储, 未启用Redis时用空实现
	var store storage.SessionStore = storage.NopStore{}
	if cfg.Redis.Enabled {
		redisStore, err := storage.NewRedisSessionStore(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to initialize Redis session store: %v", err)
		}
		store = redisStore
		log.Infof("Redis session store initialized at %s", cfg.Redis.Addr)
	} else {
		log.Info("Redis disabled, session records kept in memory only")
	}

	// 4. 初始化事件生产者, 未启用Kafka时事件只进日志
	var producer message.EventProducer = message.NopProducer{}
	if cfg.Kafka.Enabled {
		kafkaProducer, err := message.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka producer: %v", err)
		}
		producer = kafkaProducer
		log.Infof("Kafka producer initialized with brokers: %v, topic: %s", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		log.Info("Kafka disabled, events will not be published")
	}

	// 5. 初始化会话管理器
	sessions := session.NewManager(&cfg.Session, store, producer, log)
	sessions.Start()
	log.Infof("Session manager initialized, max sessions: %d", cfg.Session.MaxSessions)

	// 6. 初始化待应答缓存
	pending := cache.NewPendingCache(&cfg.Cache)
	pending.Start()
	log.Info("Pending manipulation cache initialized")

	// 7. 初始化攻击引擎, 篡改事件经由代理发布
	engine := attack.NewEngine(cfg.Attack, nil)
	log.Infof("Attack engine initialized, enabled: %v, strategy: %s", cfg.Attack.Enabled, cfg.Attack.Strategy)

	// 8. 初始化MITM代理
	proxy := relay.NewProxy(cfg, engine, sessions, pending, producer, log)
	if err := proxy.Start(); err != nil {
		log.Fatalf("Failed to start MITM relay: %v", err)
	}
	log.Infof("MITM relay listening on %s, upstream %s", proxy.Addr(), cfg.GetUpstreamAddr())

	// 9. 启动监控服务
	if cfg.Metrics.Enabled {
		metrics.RegisterMetrics()
		go startMetricsServer(cfg.Metrics.Addr, log)
	}

	log.Info("OCPP MITM proxy started successfully")

	// 10. 监听并处理优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down proxy...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. 关闭MITM代理, 双腿连接随之断开
	if err := proxy.Shutdown(ctx); err != nil {
		log.Errorf("Error shutting down MITM relay: %v", err)
	}
	log.Info("MITM relay shut down")

	// 2. 停止待应答缓存
	pending.Stop()
	log.Info("Pending manipulation cache stopped")

	// 3. 停止会话管理器
	sessions.Stop()
	log.Info("Session manager stopped")

	// 4. 关闭事件生产者
	if err := producer.Close(); err != nil {
		log.Errorf("Error closing event producer: %v", err)
	}
	log.Info("Event producer closed")

	// 5. 关闭会话存储
	if err := store.Close(); err != nil {
		log.Errorf("Error closing session store: %v", err)
	}
	log.Info("Session store closed")

	log.Info("Proxy gracefully stopped.")
}

// startMetricsServer 启动监控服务器
func startMetricsServer(addr string, log *logger.Logger) {
	http.Handle("/metrics", promhttp.Handler())
	log.Infof("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Metrics server failed: %v", err)
	}
}
