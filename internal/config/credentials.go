// internal/config/credentials.go
package config

import (
	"strings"

	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
)

// CredentialSource 标识API密钥的来源
type CredentialSource int

const (
	SourceNone CredentialSource = iota
	// 环境变量或设置页面保存的密钥
	SourceSecretStore
	// 请求中由调用方提供的密钥
	SourceCallerInput
)

func (s CredentialSource) String() string {
	switch s {
	case SourceSecretStore:
		return "secret_store"
	case SourceCallerInput:
		return "caller_input"
	default:
		return "none"
	}
}

// Credential 是解析后的API密钥
type Credential struct {
	Key    string
	Source CredentialSource
}

// ResolveAPIKey 按优先级解析API密钥：先使用预先配置的密钥，再使用调用方输入
func ResolveAPIKey(callerKey string) (Credential, error) {
	cfg := GetCurrentConfig()
	return ResolveAPIKeyFrom(cfg.LLMConfig["api_key"], callerKey)
}

// ResolveAPIKeyFrom 在给定的预置密钥和调用方密钥之间按同样的优先级选择
func ResolveAPIKeyFrom(storedKey, callerKey string) (Credential, error) {
	if key := strings.TrimSpace(storedKey); key != "" {
		return Credential{Key: key, Source: SourceSecretStore}, nil
	}
	if key := strings.TrimSpace(callerKey); key != "" {
		return Credential{Key: key, Source: SourceCallerInput}, nil
	}
	return Credential{}, apperrors.NewUnauthorizedError("请先输入模型API密钥", nil)
}
