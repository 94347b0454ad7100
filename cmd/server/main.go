// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/handler"
	"docuchat-go/internal/middleware"
	"docuchat-go/internal/pipeline"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/service"
	"docuchat-go/internal/state"
	"docuchat-go/pkg/embedding"
	"docuchat-go/pkg/llm"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/tika"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化会话仓库并执行启动恢复扫描
	sessionRepo, err := repository.NewSessionRepository(cfg.Storage.HistoryDir)
	if err != nil {
		log.Fatal("会话历史目录初始化失败", err)
	}
	manager := state.NewManager(sessionRepo.LoadAll())

	// 4. 初始化外部协作方客户端
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 5. 初始化处理管道与 Service (依赖注入)
	processor := pipeline.NewProcessor(tikaClient, embeddingClient, cfg.Chunking)
	documentService := service.NewDocumentService(processor, sessionRepo, manager, cfg.Storage)
	sessionService := service.NewSessionService(sessionRepo, manager)
	chatService := service.NewChatService(embeddingClient, llmClient, sessionRepo, manager, cfg.Retrieval)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), middleware.CORS(), gin.Recovery())

	// 7. 注册路由
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "online"})
	})

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/upload", handler.NewDocumentHandler(documentService).Upload)
		apiV1.GET("/files", handler.NewDocumentHandler(documentService).ListFiles)
		apiV1.DELETE("/files/:fileId", handler.NewDocumentHandler(documentService).DeleteFile)
		apiV1.DELETE("/clear", handler.NewDocumentHandler(documentService).Clear)

		apiV1.POST("/ask", handler.NewChatHandler(chatService).Ask)

		sessions := apiV1.Group("/sessions")
		{
			sessions.GET("", handler.NewSessionHandler(sessionService).ListSessions)
			sessions.POST("/new", handler.NewSessionHandler(sessionService).NewSession)
			sessions.GET("/:sessionId", handler.NewSessionHandler(sessionService).GetSession)
			sessions.DELETE("/:sessionId", handler.NewSessionHandler(sessionService).DeleteSession)
		}
		apiV1.GET("/current-session", handler.NewSessionHandler(sessionService).CurrentSession)
	}

	// Chat 路由 (WebSocket 流式)
	r.GET("/ws/chat", handler.NewChatHandler(chatService).HandleWS)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
