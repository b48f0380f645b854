// internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Corphon/Voice2SOP/internal/config"
	"github.com/Corphon/Voice2SOP/internal/llm"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/services"
	"github.com/gin-gonic/gin"
)

// multipart 表单中除音频外其余字段的余量
const formOverheadBytes = 1 << 20

// Handler 处理API请求
type Handler struct {
	// 核心服务
	DocumentService *services.DocumentService // 文档生成服务
	ExportService   *services.ExportService   // 导出服务
	LLMService      *services.LLMService      // 模型服务
	ConfigService   *services.ConfigService   // 配置服务
	StatsService    *services.StatsService    // 统计服务
	Response        *ResponseHelper           // 响应助手

	maxAudioBytes int64
}

// ExportTextRequest 直接导出一段文本
type ExportTextRequest struct {
	Text   string `json:"text"`
	Format string `json:"format"`
}

// SaveSettingsRequest 设置页面提交的内容
type SaveSettingsRequest struct {
	LLMProvider string            `json:"llm_provider" binding:"required"`
	LLMConfig   map[string]string `json:"llm_config"`
}

// NewHandler 创建API处理器
func NewHandler(
	documentService *services.DocumentService,
	exportService *services.ExportService,
	llmService *services.LLMService,
	configService *services.ConfigService,
	statsService *services.StatsService,
	maxAudioBytes int64) *Handler {

	if maxAudioBytes <= 0 {
		maxAudioBytes = config.DefaultMaxAudioBytes
	}

	return &Handler{
		DocumentService: documentService,
		ExportService:   exportService,
		LLMService:      llmService,
		ConfigService:   configService,
		StatsService:    statsService,
		Response:        NewResponseHelper(),
		maxAudioBytes:   maxAudioBytes,
	}
}

// IndexPage 返回主页
func (h *Handler) IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"doc_types": models.DocTypes,
		"tones":     models.Tones,
	})
}

// Health 存活检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetOptions 返回页面需要的可选项
func (h *Handler) GetOptions(c *gin.Context) {
	data := map[string]interface{}{
		"doc_types":       models.DocTypes,
		"tones":           models.Tones,
		"formats":         []string{models.FormatText, models.FormatPDF},
		"sections":        []string{models.SectionChecklist, models.SectionDocument, models.SectionEmail},
		"providers":       llm.ListProviders(),
		"provider":        h.LLMService.GetProviderName(),
		"default_model":   h.LLMService.GetDefaultModel(),
		"key_configured":  h.LLMService.IsReady(),
		"max_audio_bytes": h.maxAudioBytes,
	}
	h.Response.Success(c, data)
}

// CreateDocument 接收录音并生成三部分文档
func (h *Handler) CreateDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxAudioBytes+formOverheadBytes)

	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorAudioTooLarge,
				fmt.Sprintf("音频不能超过 %d 字节", h.maxAudioBytes))
			return
		}
		h.Response.Error(c, http.StatusBadRequest, ErrorAudioMissing, "请先录制或上传音频", err.Error())
		return
	}
	defer file.Close()

	if header.Size > h.maxAudioBytes {
		h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorAudioTooLarge,
			fmt.Sprintf("音频不能超过 %d 字节", h.maxAudioBytes))
		return
	}

	audio, err := io.ReadAll(file)
	if err != nil {
		h.Response.BadRequest(c, "读取音频失败", err.Error())
		return
	}

	req := models.DocumentRequest{
		Audio:         audio,
		AudioMIMEType: audioMIMEType(header.Header.Get("Content-Type"), header.Filename),
		DocType:       c.PostForm("doc_type"),
		Tone:          c.PostForm("tone"),
		APIKey:        callerAPIKey(c, c.PostForm("api_key")),
		Model:         c.PostForm("model"),
	}

	result, err := h.DocumentService.Generate(c.Request.Context(), req)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	h.Response.Success(c, result, "文档生成成功")
}

// GetDocument 返回缓存中的生成结果
func (h *Handler) GetDocument(c *gin.Context) {
	result, err := h.DocumentService.GetResult(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// ExportDocument 下载生成结果中的某一部分
func (h *Handler) ExportDocument(c *gin.Context) {
	artifact, err := h.ExportService.Export(
		c.Param("id"),
		c.DefaultQuery("section", models.SectionDocument),
		c.DefaultQuery("format", models.FormatText),
	)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.DownloadResponse(c, artifact)
}

// ExportText 把调用方提供的文本导出为文件
func (h *Handler) ExportText(c *gin.Context) {
	var req ExportTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	artifact, err := h.ExportService.ExportText(req.Text, req.Format)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.DownloadResponse(c, artifact)
}

// GetSettings 返回LLM设置，密钥只显示掩码
func (h *Handler) GetSettings(c *gin.Context) {
	data := map[string]interface{}{
		"llm":     h.ConfigService.GetSettings(),
		"ready":   h.LLMService.IsReady(),
		"status":  h.LLMService.GetReadyState(),
		"history": h.ConfigService.GetChangeHistory(10),
	}
	h.Response.Success(c, data, "设置获取成功")
}

// SaveSettings 保存LLM设置，密钥加密写入配置文件
func (h *Handler) SaveSettings(c *gin.Context) {
	var req SaveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if err := h.ConfigService.UpdateLLMConfig(req.LLMProvider, req.LLMConfig, "web_ui"); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "保存LLM配置失败", err.Error())
		return
	}

	h.Response.Success(c, h.ConfigService.GetSettings(), "设置保存成功")
}

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	h.Response.Success(c, map[string]interface{}{
		"ready":         h.LLMService.IsReady(),
		"status":        h.LLMService.GetReadyState(),
		"provider":      h.LLMService.GetProviderName(),
		"default_model": h.LLMService.GetDefaultModel(),
	})
}

// GetLLMModels 获取指定LLM提供商支持的模型列表
func (h *Handler) GetLLMModels(c *gin.Context) {
	provider := c.Query("provider")
	if provider == "" {
		provider = h.LLMService.GetProviderName()
	}

	if !slices.Contains(llm.ListProviders(), provider) {
		h.Response.BadRequest(c, "不支持的LLM提供商: "+provider)
		return
	}

	supported := llm.GetSupportedModelsForProvider(provider)
	h.Response.Success(c, map[string]interface{}{
		"provider": provider,
		"models":   supported,
		"count":    len(supported),
	})
}

// GetStats 返回使用统计
func (h *Handler) GetStats(c *gin.Context) {
	h.Response.Success(c, h.StatsService.GetUsageStats())
}

// callerAPIKey 表单字段优先，其次是 X-API-Key 请求头
func callerAPIKey(c *gin.Context, formValue string) string {
	if key := strings.TrimSpace(formValue); key != "" {
		return key
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}

// audioMIMEType 上传未声明具体类型时按扩展名推断
func audioMIMEType(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	return declared
}
