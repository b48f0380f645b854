// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"
	ErrorForbidden     = "FORBIDDEN"

	// 文档生成相关错误
	ErrorAudioMissing      = "AUDIO_MISSING"
	ErrorAudioTooLarge     = "AUDIO_TOO_LARGE"
	ErrorGenerationFailed  = "GENERATION_FAILED"
	ErrorResultNotFound    = "RESULT_NOT_FOUND"
	ErrorInvalidParameters = "INVALID_PARAMETERS"

	// LLM服务相关错误
	ErrorLLMConfigInvalid = "LLM_CONFIG_INVALID"
	ErrorAPIKeyMissing    = "API_KEY_MISSING"

	// 导出相关错误
	ErrorExportFailed = "EXPORT_FAILED"
)
