// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Corphon/Voice2SOP/internal/api"
	"github.com/Corphon/Voice2SOP/internal/app"
	"github.com/Corphon/Voice2SOP/internal/config"
	"github.com/Corphon/Voice2SOP/internal/di"
	"github.com/Corphon/Voice2SOP/internal/storage"
	"github.com/Corphon/Voice2SOP/internal/utils"
	"github.com/gin-gonic/gin"

	// 注册模型提供商
	_ "github.com/Corphon/Voice2SOP/internal/llm/providers/google"
	_ "github.com/Corphon/Voice2SOP/internal/llm/providers/openai"
)

func main() {
	log.Println("🚀 启动 Voice2SOP 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)

	// 3. 初始化日志
	if err := utils.InitLogger(baseConfig.LogDir, utils.ParseLogLevel(baseConfig.LogLevel)); err != nil {
		log.Printf("⚠️ 日志文件初始化失败，仅输出到控制台: %v", err)
	}
	defer utils.GetLogger().Close()

	// 4. 初始化配置系统
	if err := config.InitConfig(baseConfig); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}
	log.Println("✅ 配置系统初始化完成")

	// 5. 初始化所有服务（按依赖顺序）
	if err := app.InitServices(config.GetCurrentConfig()); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	log.Println("✅ 所有服务初始化完成")

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 6. 后台清理过期结果和限流记录
	if cache, err := di.Resolve[*storage.ResultCache](di.GetContainer(), "cache"); err == nil {
		cache.StartCleanup(ctx, time.Minute)
	}
	rateLimiter := api.NewRateLimiter()
	rateLimiter.StartCleanup(ctx, 5*time.Minute)

	if !baseConfig.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := api.SetupRouter(rateLimiter)
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	log.Println("✅ 路由设置完成")

	// 7. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 访问地址: http://localhost:%s", baseConfig.Port)

	setupGracefulShutdown(router, baseConfig.Port, baseConfig.RequestTimeout)
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"llm", "config", "documents", "exports"}
	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// 优雅关闭函数，等待进行中的生成请求完成
func setupGracefulShutdown(router *gin.Engine, port string, requestTimeout time.Duration) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ 启动服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), max(30*time.Second, requestTimeout))
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("❌ 服务器强制关闭: %v", err)
	}

	log.Println("✅ 服务器优雅关闭完成")
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
