// internal/services/document_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/Corphon/Voice2SOP/internal/config"
	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/llm"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/storage"
	"github.com/Corphon/Voice2SOP/internal/utils"
	"github.com/google/uuid"
)

// 浏览器录音控件未给出类型时按 WAV 处理
const defaultAudioMIMEType = "audio/wav"

// DocumentService 把一段录音转换为清单、正式文档和邮件三部分
type DocumentService struct {
	LLMService *LLMService
	Cache      *storage.ResultCache
	// 可选
	Stats *StatsService

	maxAudioBytes int64
	timeout       time.Duration
	resolveKey    func(callerKey string) (config.Credential, error)
}

// DocumentServiceOptions 文档服务的限制参数
type DocumentServiceOptions struct {
	MaxAudioBytes  int64
	RequestTimeout time.Duration
}

// NewDocumentService 创建文档服务
func NewDocumentService(llmService *LLMService, cache *storage.ResultCache, opts DocumentServiceOptions) *DocumentService {
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = config.DefaultMaxAudioBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = config.DefaultRequestTimeout
	}

	return &DocumentService{
		LLMService:    llmService,
		Cache:         cache,
		maxAudioBytes: opts.MaxAudioBytes,
		timeout:       opts.RequestTimeout,
		resolveKey:    config.ResolveAPIKey,
	}
}

// Generate 调用模型生成文档并缓存结果
func (s *DocumentService) Generate(ctx context.Context, req models.DocumentRequest) (*models.DocumentResult, error) {
	return s.generate(ctx, req, nil)
}

// GenerateStream 与 Generate 相同，但边生成边把文本片段交给 onChunk
func (s *DocumentService) GenerateStream(ctx context.Context, req models.DocumentRequest, onChunk func(string)) (*models.DocumentResult, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return s.generate(ctx, req, onChunk)
}

// GetResult 读取缓存中的生成结果
func (s *DocumentService) GetResult(id string) (*models.DocumentResult, error) {
	result, ok := s.Cache.Get(id)
	if !ok {
		return nil, apperrors.NewNotFoundError("结果不存在或已过期", nil)
	}
	return result, nil
}

func (s *DocumentService) generate(ctx context.Context, req models.DocumentRequest, onChunk func(string)) (*models.DocumentResult, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	credential, err := s.resolveKey(req.APIKey)
	if err != nil {
		return nil, err
	}

	provider, model, err := s.LLMService.ProviderFor(credential, req.Model)
	if err != nil {
		utils.GenerationErrors.WithLabelValues(apperrors.CodeOf(err)).Inc()
		return nil, err
	}
	providerName := s.LLMService.GetProviderName()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	completion := llm.CompletionRequest{
		Prompt: BuildPrompt(req.DocType, req.Tone),
		Audio:  &llm.AudioInput{Data: req.Audio, MIMEType: req.AudioMIMEType},
		Model:  model,
	}

	logger := utils.GetLogger()
	logger.Info("开始生成文档", map[string]interface{}{
		"provider":   providerName,
		"model":      model,
		"doc_type":   req.DocType,
		"audio_size": len(req.Audio),
		"key_source": credential.Source.String(),
	})

	start := time.Now()
	var raw string
	var tokens int
	if onChunk == nil {
		raw, tokens, err = complete(ctx, provider, completion)
	} else {
		raw, tokens, err = stream(ctx, provider, completion, onChunk)
	}
	utils.GenerationTime.WithLabelValues(providerName).Observe(time.Since(start).Seconds())

	if err != nil {
		appErr := classifyGenerationError(err)
		utils.GenerationErrors.WithLabelValues(apperrors.CodeOf(appErr)).Inc()
		logger.Error("模型调用失败", map[string]interface{}{
			"provider": providerName,
			"model":    model,
			"error":    err.Error(),
		})
		s.recordStats(0, false, true)
		return nil, appErr
	}
	if tokens > 0 {
		utils.GenerationTokens.WithLabelValues(providerName).Add(float64(tokens))
	}

	sections, structured := ParseSections(raw)
	if !structured {
		utils.SplitFallbacks.Inc()
		logger.Warn("模型回答缺少分节标记，使用原文", map[string]interface{}{"length": len(raw)})
	}

	result := &models.DocumentResult{
		ID:         uuid.NewString(),
		Sections:   sections,
		Structured: structured,
		DocType:    req.DocType,
		Tone:       req.Tone,
		Provider:   providerName,
		Model:      model,
		TokensUsed: tokens,
		CreatedAt:  time.Now(),
	}
	s.Cache.Put(result)
	s.recordStats(tokens, structured, false)

	logger.Info("文档生成完成", map[string]interface{}{
		"id":         result.ID,
		"structured": structured,
		"duration":   time.Since(start).String(),
	})
	return result, nil
}

func (s *DocumentService) recordStats(tokens int, structured, failed bool) {
	if s.Stats != nil {
		s.Stats.RecordGeneration(tokens, structured, failed)
	}
}

// validate 检查输入并补全默认值
func (s *DocumentService) validate(req models.DocumentRequest) (models.DocumentRequest, error) {
	if len(req.Audio) == 0 {
		return req, apperrors.NewValidationError("请先录制或上传音频", nil)
	}
	if int64(len(req.Audio)) > s.maxAudioBytes {
		return req, apperrors.NewValidationError(
			fmt.Sprintf("音频过大: %d 字节，上限 %d 字节", len(req.Audio), s.maxAudioBytes), nil)
	}

	mimeType, err := NormalizeAudioMIMEType(req.AudioMIMEType)
	if err != nil {
		return req, err
	}
	req.AudioMIMEType = mimeType

	if req.DocType, err = ValidateDocType(req.DocType); err != nil {
		return req, err
	}
	if req.Tone, err = ValidateTone(req.Tone); err != nil {
		return req, err
	}
	return req, nil
}

// NormalizeAudioMIMEType 去掉参数（如 codecs），只接受 audio/* 类型
func NormalizeAudioMIMEType(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return defaultAudioMIMEType, nil
	}

	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return "", apperrors.NewValidationError("无法识别的音频类型", err)
	}
	if !strings.HasPrefix(mediaType, "audio/") {
		return "", apperrors.NewValidationError(fmt.Sprintf("不支持的音频类型: %s", mediaType), nil)
	}
	return mediaType, nil
}

func complete(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) (string, int, error) {
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return "", 0, err
	}
	return resp.Text, resp.TokensUsed, nil
}

func stream(ctx context.Context, provider llm.Provider, req llm.CompletionRequest, onChunk func(string)) (string, int, error) {
	ch, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", 0, err
	}

	var full strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				// 提供者未发送完成消息，使用已收到的片段
				return full.String(), 0, nil
			}
			if chunk.Err != nil {
				return "", 0, chunk.Err
			}
			if chunk.Done {
				if chunk.Text != "" {
					return chunk.Text, chunk.TokensUsed, nil
				}
				return full.String(), chunk.TokensUsed, nil
			}
			full.WriteString(chunk.Text)
			onChunk(chunk.Text)
		}
	}
}

// classifyGenerationError 模型调用的任何失败（包括超时）都归为上游错误
func classifyGenerationError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewUpstreamError("模型响应超时，请稍后重试", err)
	}
	return apperrors.NewUpstreamError("文档生成失败，请稍后重试", err)
}
