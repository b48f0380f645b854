// internal/services/config_service.go
package services

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/Voice2SOP/internal/config"
	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/llm"
	"github.com/Corphon/Voice2SOP/internal/utils"
)

// ConfigService 提供设置页面使用的配置管理功能
type ConfigService struct {
	// 配置变更事件订阅者
	subscribers []ConfigChangeSubscriber

	// 配置历史记录
	changeHistory []ConfigChangeRecord

	// 互斥锁保护内部状态
	mu sync.RWMutex

	// 写入配置的函数，默认为 config.UpdateLLMConfig
	update func(provider string, cfg map[string]string) error
	// 读取配置的函数，默认为 config.GetCurrentConfig
	current func() *config.AppConfig
}

// ConfigChangeSubscriber 配置变更订阅者接口
type ConfigChangeSubscriber interface {
	OnConfigChanged(provider string, llmConfig map[string]string)
}

// ConfigChangeRecord 配置变更记录，不包含密钥明文
type ConfigChangeRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	ChangedBy  string    `json:"changed_by"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	KeyChanged bool      `json:"key_changed"`
}

// LLMSettings 设置页面展示的内容
type LLMSettings struct {
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	BaseURL       string   `json:"base_url,omitempty"`
	APIKeyMasked  string   `json:"api_key_masked,omitempty"`
	KeyConfigured bool     `json:"key_configured"`
	Providers     []string `json:"providers"`
	Models        []string `json:"models"`
}

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	return &ConfigService{
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, 16),
		update:        config.UpdateLLMConfig,
		current:       config.GetCurrentConfig,
	}
}

// GetSettings 返回当前LLM设置，密钥只显示掩码
func (s *ConfigService) GetSettings() LLMSettings {
	cfg := s.current()
	key := cfg.LLMConfig["api_key"]

	return LLMSettings{
		Provider:      cfg.LLMProvider,
		Model:         extractDefaultModel(cfg.LLMConfig),
		BaseURL:       cfg.LLMConfig["base_url"],
		APIKeyMasked:  utils.MaskSecret(key),
		KeyConfigured: key != "",
		Providers:     llm.ListProviders(),
		Models:        llm.GetSupportedModelsForProvider(cfg.LLMProvider),
	}
}

// 设置页面可以修改的配置项。base_url 只能来自 LLM_BASE_URL 环境变量
var settableLLMKeys = []string{"api_key", "default_model"}

// UpdateLLMConfig 更新LLM提供商和配置；api_key 为空表示保留原密钥
func (s *ConfigService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return apperrors.NewValidationError("提供商不能为空", nil)
	}
	if !providerRegistered(provider) {
		return apperrors.NewValidationError(fmt.Sprintf("未知的提供商: %s", provider), nil)
	}

	cleaned := make(map[string]string, len(configMap)+1)
	for k, v := range configMap {
		if !slices.Contains(settableLLMKeys, k) {
			return apperrors.NewValidationError(fmt.Sprintf("不支持修改的配置项: %s", k), nil)
		}
		cleaned[k] = strings.TrimSpace(v)
	}

	// 确保有默认模型
	if cleaned["default_model"] == "" {
		if model, ok := providerDefaultModels[provider]; ok {
			cleaned["default_model"] = model
		} else {
			delete(cleaned, "default_model")
		}
	}

	if err := s.update(provider, cleaned); err != nil {
		return apperrors.NewProcessingError("保存配置失败", err)
	}

	s.recordChange(ConfigChangeRecord{
		Timestamp:  time.Now(),
		ChangedBy:  changedBy,
		Provider:   provider,
		Model:      cleaned["default_model"],
		KeyChanged: cleaned["api_key"] != "",
	})

	utils.GetLogger().Info("LLM配置已更新", map[string]interface{}{
		"provider":    provider,
		"model":       cleaned["default_model"],
		"key_changed": cleaned["api_key"] != "",
		"changed_by":  changedBy,
	})

	// 订阅者拿到的是合并后的完整配置
	s.notifySubscribers(provider, s.current().LLMConfig)
	return nil
}

// SubscribeToChanges 订阅配置变更事件
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, subscriber)
}

// notifySubscribers 同步通知所有订阅者，返回前新配置已生效
func (s *ConfigService) notifySubscribers(provider string, llmConfig map[string]string) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		subscriber.OnConfigChanged(provider, llmConfig)
	}
}

// GetChangeHistory 获取最近的配置变更记录
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	history := make([]ConfigChangeRecord, limit)
	startIdx := len(s.changeHistory) - limit
	copy(history, s.changeHistory[startIdx:])

	return history
}

// recordChange 记录配置变更
func (s *ConfigService) recordChange(record ConfigChangeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 限制历史记录数量，避免无限增长
	if len(s.changeHistory) >= 100 {
		s.changeHistory = s.changeHistory[1:]
	}

	s.changeHistory = append(s.changeHistory, record)
}
