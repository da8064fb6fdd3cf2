package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/handlers"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/lock"
	"collabEngine/backend/internal/merge"
	"collabEngine/backend/internal/session"
	"collabEngine/backend/internal/telemetry"
	"collabEngine/backend/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"auth"`
	Collab struct {
		IdleAfterSeconds int  `mapstructure:"idleAfterSeconds"`
		MaxInflightOps   int  `mapstructure:"maxInflightOps"`
		MergeDefaultBias bool `mapstructure:"mergeDefaultBias"`
	} `mapstructure:"collab"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	// === redis（presence 镜像；连不上就不带镜像跑） ===
	var presence cache.PresenceCache
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("redis unavailable, presence mirror disabled: %v", err)
		} else {
			defer rdb.Close()
			presence = cache.NewRedisPresence(rdb)
		}
	}

	// === kafka telemetry（同样可降级为 Nop） ===
	var sink telemetry.Sink = telemetry.NopSink{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Printf("kafka unavailable, telemetry disabled: %v", err)
		} else {
			defer producer.Close()
			sink = telemetry.NewKafkaSink(producer, cfg.Kafka.Topic,
				collab.NewSemaphoreControl(100),
				telemetry.KafkaSinkOptions{
					QueueSize:   10_000,
					Workers:     4,
					MaxRetry:    3,
					BaseBackoff: 50 * time.Millisecond,
					MaxBackoff:  1 * time.Second,
				})
		}
	}

	// === 核心组件：显式构造、显式注入，不走全局单例 ===
	svc := collab.NewInMemoryService()
	locks := lock.NewManager()
	sessions := session.NewManager(time.Duration(cfg.Collab.IdleAfterSeconds) * time.Second)

	var mergeOpts []merge.Option
	if cfg.Collab.MergeDefaultBias {
		mergeOpts = append(mergeOpts, merge.WithDefaultBias())
	}
	resolver := merge.NewResolver(mergeOpts...)

	hub := ws.NewHub()
	svc.SetBroadcaster(hub)

	wsSem := collab.NewSemaphoreControl(cfg.Collab.MaxInflightOps)
	manager := ws.NewManager(hub, svc, sessions, locks, presence, sink, wsSem)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	docHandler := handlers.NewDocumentHandler(svc)
	mergeHandler := handlers.NewMergeHandler(svc, resolver)

	collabGroup := r.Group("/collab")
	// 鉴权交给外部 auth 服务（会从 Authorization 或 ?token= 提取 token，
	// 调用 /v1/auth/verify，把 userId/username 写入上下文）
	if cfg.Auth.Path != "" {
		collabGroup.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	}
	collabGroup.GET("/ws", manager.WebSocketConnect)

	collabGroup.GET("/documents/:documentID", docHandler.Get)
	collabGroup.GET("/documents/:documentID/history", docHandler.History)
	collabGroup.GET("/documents/:documentID/comments", docHandler.Comments)
	collabGroup.POST("/documents/:documentID/comments/:commentID/resolve", docHandler.ResolveComment)

	// 冲突解决器的带外入口
	collabGroup.POST("/documents/:documentID/conflicts", mergeHandler.Detect)
	collabGroup.GET("/conflicts", mergeHandler.List)
	collabGroup.POST("/conflicts/:conflictID/resolve", mergeHandler.Resolve)
	collabGroup.POST("/conflicts/purge", mergeHandler.Purge)
	collabGroup.POST("/merge/diff", mergeHandler.Diff)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
