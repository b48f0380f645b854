// internal/api/response_helpers.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/utils"
	"github.com/gin-gonic/gin"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, message...)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(status, response)
}

// sanitizeErrorMessage 去掉可能泄露密钥的信息
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "api key", "secret", "token", "bearer"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 && details[0] != "" {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusNotFound, ErrorNotFound, message, details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// AppError 按错误类型选择状态码和错误代码。
// 模型调用失败只返回统一的提示，原始错误写入日志。
func (rh *ResponseHelper) AppError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	code := errorCodeFor(err)

	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	details := ""
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeUpstream, apperrors.ErrorTypeExport, apperrors.ErrorTypeError:
		utils.GetLogger().Error("请求处理失败", map[string]interface{}{
			"path":       c.FullPath(),
			"code":       code,
			"error":      err.Error(),
			"request_id": rh.getRequestID(c),
		})
	default:
		if appErr != nil && appErr.Err != nil {
			details = appErr.Err.Error()
		}
	}

	rh.Error(c, status, code, message, details)
}

// errorCodeFor 把 AppError 映射为接口错误代码
func errorCodeFor(err error) string {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeUnauthorized:
		return ErrorAPIKeyMissing
	case apperrors.ErrorTypeNotFound:
		return ErrorResultNotFound
	case apperrors.ErrorTypeValidation:
		return ErrorInvalidParameters
	case apperrors.ErrorTypeUpstream:
		return ErrorGenerationFailed
	case apperrors.ErrorTypeExport:
		return ErrorExportFailed
	default:
		return ErrorInternalError
	}
}

// DownloadResponse 下载响应（强制下载）
func (rh *ResponseHelper) DownloadResponse(c *gin.Context, artifact *models.ExportArtifact) {
	contentType := artifact.MIMEType
	if strings.HasPrefix(contentType, "text/") {
		contentType += "; charset=utf-8"
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.FileName))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, artifact.Data)
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
