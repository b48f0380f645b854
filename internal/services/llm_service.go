// internal/services/llm_service.go
package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Corphon/Voice2SOP/internal/config"
	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/llm"
	"github.com/Corphon/Voice2SOP/internal/utils"
)

var providerDefaultModels = map[string]string{
	"google": "gemini-2.5-flash",
	"openai": "gpt-4o-mini",
}

// LLMService 管理当前的模型提供者。
// 使用预先配置的密钥时复用同一个提供者实例，调用方自带密钥时按请求创建。
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	providerConfig     map[string]string
	isReady            bool
	readyState         string
	activeDefaultModel string
}

// NewLLMService 根据当前配置创建服务；缺少密钥时返回未就绪的服务而不是错误
func NewLLMService() *LLMService {
	cfg := config.GetCurrentConfig()
	service := &LLMService{
		providerName:   cfg.LLMProvider,
		providerConfig: cfg.LLMConfig,
		readyState:     "Uninitialized",
	}
	if service.providerName == "" {
		service.providerName = config.DefaultProvider
	}
	service.activeDefaultModel = extractDefaultModel(cfg.LLMConfig)

	// 失败原因记录在 readyState 中
	_ = service.UpdateProvider(service.providerName, cfg.LLMConfig)
	return service
}

// IsReady 服务端是否已持有可用的密钥
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 返回当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider 切换提供者；配置中没有密钥时服务进入等待调用方密钥的状态
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	copied := make(map[string]string, len(cfg))
	for k, v := range cfg {
		copied[k] = v
	}

	var provider llm.Provider
	var err error
	if copied["api_key"] != "" {
		provider, err = llm.GetProvider(providerName, copied)
	} else if !providerRegistered(providerName) {
		err = llm.ErrUnknownProvider
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	if err != nil {
		s.isReady = false
		s.provider = nil
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		return err
	}

	s.provider = provider
	s.providerName = providerName
	s.providerConfig = copied
	s.activeDefaultModel = extractDefaultModel(copied)
	s.isReady = provider != nil
	if s.isReady {
		s.readyState = "Ready"
	} else {
		s.readyState = "API key not configured"
	}
	return nil
}

// OnConfigChanged 设置保存后切换到新的提供者
func (s *LLMService) OnConfigChanged(provider string, llmConfig map[string]string) {
	if err := s.UpdateProvider(provider, llmConfig); err != nil {
		utils.GetLogger().Warn("切换LLM提供者失败", map[string]interface{}{
			"provider": provider,
			"error":    err.Error(),
		})
	}
}

// ProviderFor 返回处理一次请求的提供者以及实际使用的模型。
// credential 来自 config.ResolveAPIKey，与预先配置的密钥一致时复用共享实例。
func (s *LLMService) ProviderFor(credential config.Credential, requestedModel string) (llm.Provider, string, error) {
	s.providerMutex.RLock()
	shared := s.provider
	name := s.providerName
	base := s.providerConfig
	s.providerMutex.RUnlock()

	model := s.resolveModel(requestedModel)

	if shared != nil && credential.Key == base["api_key"] {
		return shared, model, nil
	}

	cfg := make(map[string]string, len(base)+1)
	for k, v := range base {
		cfg[k] = v
	}
	cfg["api_key"] = credential.Key

	provider, err := llm.GetProvider(name, cfg)
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, "", apperrors.NewUnauthorizedError("请先输入模型API密钥", err)
		}
		return nil, "", apperrors.NewUpstreamError("初始化模型提供者失败", err)
	}
	return provider, model, nil
}

// GetDefaultModel 获取当前配置的默认模型
func (s *LLMService) GetDefaultModel() string {
	return s.resolveModel("")
}

// resolveModel 根据请求和配置确定应使用的模型
func (s *LLMService) resolveModel(requestedModel string) string {
	if trimmed := strings.TrimSpace(requestedModel); trimmed != "" {
		return trimmed
	}

	s.providerMutex.RLock()
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}
	if model, exists := providerDefaultModels[providerName]; exists {
		return model
	}
	if models := llm.GetSupportedModelsForProvider(providerName); len(models) > 0 {
		return models[0]
	}
	return config.DefaultModel
}

func extractDefaultModel(cfg map[string]string) string {
	if cfg == nil {
		return ""
	}
	if model := strings.TrimSpace(cfg["default_model"]); model != "" {
		return model
	}
	if model := strings.TrimSpace(cfg["model"]); model != "" {
		return model
	}
	return ""
}

func providerRegistered(name string) bool {
	for _, p := range llm.ListProviders() {
		if p == name {
			return true
		}
	}
	return false
}
