// internal/api/router.go
package api

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Corphon/Voice2SOP/internal/config"
	"github.com/Corphon/Voice2SOP/internal/di"
	"github.com/Corphon/Voice2SOP/internal/services"
	"github.com/Corphon/Voice2SOP/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions 路由配置
type RouterOptions struct {
	StaticDir          string
	TemplatesDir       string
	RateLimitPerMinute int
	RateLimiter        *RateLimiter
}

// SetupRouter 从依赖注入容器获取服务并配置HTTP路由
func SetupRouter(rateLimiter *RateLimiter) (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	documentService, err := di.Resolve[*services.DocumentService](container, "documents")
	if err != nil {
		return nil, fmt.Errorf("文档服务未正确初始化: %w", err)
	}

	exportService, err := di.Resolve[*services.ExportService](container, "exports")
	if err != nil {
		return nil, fmt.Errorf("导出服务未正确初始化: %w", err)
	}

	llmService, err := di.Resolve[*services.LLMService](container, "llm")
	if err != nil {
		return nil, fmt.Errorf("LLM服务未正确初始化: %w", err)
	}

	configService, err := di.Resolve[*services.ConfigService](container, "config")
	if err != nil {
		return nil, fmt.Errorf("配置服务未正确初始化: %w", err)
	}

	statsService, err := di.Resolve[*services.StatsService](container, "stats")
	if err != nil {
		return nil, fmt.Errorf("统计服务未正确初始化: %w", err)
	}

	handler := NewHandler(
		documentService,
		exportService,
		llmService,
		configService,
		statsService,
		cfg.MaxAudioBytes,
	)

	return NewRouter(handler, RouterOptions{
		StaticDir:          cfg.StaticDir,
		TemplatesDir:       cfg.TemplatesDir,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimiter:        rateLimiter,
	}), nil
}

// NewRouter 注册全部路由。模板目录中没有 index.html 时不提供主页
func NewRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if opts.RateLimiter == nil {
		opts.RateLimiter = NewRateLimiter()
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		utils.GetLogger().Error("请求处理发生panic", map[string]interface{}{
			"path":  c.Request.URL.Path,
			"panic": fmt.Sprint(recovered),
		})
		handler.Response.InternalError(c, "服务器内部错误")
	}))
	r.Use(requestIDMiddleware())
	r.Use(loggingMiddleware())
	r.Use(corsMiddleware())

	// 静态文件服务
	if dirExists(opts.StaticDir) {
		r.Static("/static", opts.StaticDir)
	}

	// ===============================
	// 页面路由
	// ===============================
	if opts.TemplatesDir != "" && fileExists(filepath.Join(opts.TemplatesDir, "index.html")) {
		r.LoadHTMLGlob(filepath.Join(opts.TemplatesDir, "*.html"))
		r.GET("/", handler.IndexPage)
	}

	r.GET("/healthz", handler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 生成请求按IP限流
	generationLimit := RateLimitByIP(opts.RateLimiter, opts.RateLimitPerMinute, time.Minute)

	// WebSocket 流式生成
	r.GET("/ws/documents", generationLimit, handler.StreamDocument)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/options", handler.GetOptions)
		api.GET("/stats", handler.GetStats)

		// ===============================
		// 文档相关路由
		// ===============================
		documentsGroup := api.Group("/documents")
		{
			documentsGroup.POST("", generationLimit, handler.CreateDocument)
			documentsGroup.GET("/:id", handler.GetDocument)
			documentsGroup.GET("/:id/export", handler.ExportDocument)
		}

		// 无状态导出
		api.POST("/export", handler.ExportText)

		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings", sameOriginMiddleware())
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
		}

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		handler.Response.NotFound(c, "接口不存在", c.Request.URL.Path)
	})

	return r
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
