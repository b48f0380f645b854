// internal/app/app.go
package app

import (
	"fmt"

	"github.com/Corphon/Voice2SOP/internal/config"
	"github.com/Corphon/Voice2SOP/internal/di"
	"github.com/Corphon/Voice2SOP/internal/services"
	"github.com/Corphon/Voice2SOP/internal/storage"
	"github.com/Corphon/Voice2SOP/internal/utils"
)

// InitServices 按依赖顺序创建所有服务并注册到全局容器
func InitServices(cfg *config.AppConfig) error {
	return RegisterServices(di.GetContainer(), cfg)
}

// RegisterServices 创建所有服务并注册到指定容器
func RegisterServices(container *di.Container, cfg *config.AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置未初始化")
	}

	// 1. 基础设施
	cache := storage.NewResultCache(cfg.ResultCacheSize, cfg.ResultTTL)
	container.Register("cache", cache)

	exporter, err := services.NewExporter(services.ExporterOptions{Charset: cfg.PDFCharset})
	if err != nil {
		return fmt.Errorf("创建导出器失败: %w", err)
	}
	container.Register("exporter", exporter)

	stats := services.NewStatsService()
	container.Register("stats", stats)

	// 2. 模型服务，未配置密钥时等待页面输入
	llmService := services.NewLLMService()
	if !llmService.IsReady() {
		utils.GetLogger().Warn("LLM服务未就绪", map[string]interface{}{
			"provider": llmService.GetProviderName(),
			"state":    llmService.GetReadyState(),
		})
	}
	container.Register("llm", llmService)

	// 3. 配置服务，设置变更立即通知模型服务
	configService := services.NewConfigService()
	configService.SubscribeToChanges(llmService)
	container.Register("config", configService)

	// 4. 业务服务
	documentService := services.NewDocumentService(llmService, cache, services.DocumentServiceOptions{
		MaxAudioBytes:  cfg.MaxAudioBytes,
		RequestTimeout: cfg.RequestTimeout,
	})
	documentService.Stats = stats
	container.Register("documents", documentService)

	exportService := services.NewExportService(exporter, cache)
	exportService.Stats = stats
	container.Register("exports", exportService)

	utils.GetLogger().Info("服务初始化完成", map[string]interface{}{
		"services": container.GetNames(),
		"provider": llmService.GetProviderName(),
	})
	return nil
}
