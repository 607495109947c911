// Package main 是问答服务的入口点。
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

	"github.com/gin-gonic/gin"

	"pai-docs-chat/internal/config"
	"pai-docs-chat/internal/handler"
	"pai-docs-chat/internal/middleware"
	"pai-docs-chat/internal/pipeline"
	"pai-docs-chat/internal/repository"
	"pai-docs-chat/internal/service"
	"pai-docs-chat/pkg/database"
	"pai-docs-chat/pkg/embedding"
	"pai-docs-chat/pkg/es"
	"pai-docs-chat/pkg/kafka"
	"pai-docs-chat/pkg/llm"
	"pai-docs-chat/pkg/log"
	"pai-docs-chat/pkg/storage"
	"pai-docs-chat/pkg/tika"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if cfg.MinIO.Endpoint != "" {
		storage.InitMinIO(cfg.MinIO)
	}

	// 4. 初始化向量索引
	esClient, err := es.NewClient(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatal("es 初始化失败", err)
	}
	if err := esClient.EnsureIndex(context.Background()); err != nil {
		log.Fatal("创建向量索引失败", err)
	}

	// 5. 初始化 Repository 与远程客户端
	conversationRepo := repository.NewConversationRepository(database.DB)
	documentRepo := repository.NewDocumentRepository(database.DB)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 6. 初始化 Service (依赖注入)
	searchService := service.NewSearchService(embeddingClient, esClient)
	conversationService := service.NewConversationService(conversationRepo)
	chatService := service.NewChatService(searchService, llmClient, conversationRepo, cfg.RAG, cfg.LLM.Prompt)

	// 7. 初始化索引管线并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(
		tikaClient,
		embeddingClient,
		esClient,
		documentRepo,
		cfg.Index,
		cfg.Embedding,
	)
	if cfg.Kafka.Brokers != "" {
		kafka.InitProducer(cfg.Kafka)
		go kafka.StartConsumer(cfg.Kafka, processor)
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	chatHandler := handler.NewChatHandler(chatService, cfg.RAG)
	sessionHandler := handler.NewSessionHandler(conversationService)
	searchHandler := handler.NewSearchHandler(searchService, cfg.RAG)
	healthHandler := handler.NewHealthHandler(database.DB, esClient, cfg.LLM)

	r.GET("/health", healthHandler.Health)

	apiV1 := r.Group("/api/v1")
	{
		chat := apiV1.Group("/chat")
		chat.Use(middleware.RateLimit(database.RDB, cfg.RateLimit))
		{
			chat.POST("", chatHandler.Chat)
		}
		r.GET("/chat/stream", chatHandler.Stream)

		apiV1.GET("/sessions/:session_id/history", sessionHandler.GetHistory)
		apiV1.GET("/search", searchHandler.Search)
		apiV1.GET("/health", healthHandler.Health)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，开始优雅停机...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("服务停机失败", err)
	}
	log.Info("服务已退出")
}
