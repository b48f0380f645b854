// internal/llm/providers/google/google.go
package google

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/Voice2SOP/internal/llm"
	"google.golang.org/genai"
)

func init() {
	llm.Register("google", func() llm.Provider {
		return &Provider{
			models: []string{
				"gemini-2.5-flash",
				"gemini-2.5-pro",
				"gemini-2.0-flash",
			},
		}
	})
}

type Provider struct {
	defaultModel string
	models       []string
	client       *genai.Client
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return llm.ErrMissingAPIKey
	}

	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := config["base_url"]; baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	// 客户端在初始化时创建，之后只读，可被并发请求共享
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return fmt.Errorf("创建gemini客户端失败: %w", err)
	}
	p.client = client
	return nil
}

func (p *Provider) GetName() string {
	return "google gemini"
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

func (p *Provider) getClient() (*genai.Client, error) {
	if p.client == nil {
		return nil, fmt.Errorf("google gemini提供商未初始化")
	}
	return p.client, nil
}

// buildContents 音频在前、提示词在后，与直接上传录音的用法一致
func buildContents(req llm.CompletionRequest) []*genai.Content {
	parts := make([]*genai.Part, 0, 2)
	if req.Audio != nil && len(req.Audio.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Audio.Data, req.Audio.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func buildConfig(req llm.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

func (p *Provider) modelFor(req llm.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	client, err := p.getClient()
	if err != nil {
		return nil, err
	}

	model := p.modelFor(req)
	resp, err := client.Models.GenerateContent(ctx, model, buildContents(req), buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("google gemini API错误: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, llm.ErrEmptyResponse
	}

	out := &llm.CompletionResponse{
		Text:         text,
		FinishReason: string(resp.Candidates[0].FinishReason),
		ModelName:    model,
		ProviderName: p.GetName(),
	}
	if usage := resp.UsageMetadata; usage != nil {
		out.TokensUsed = int(usage.TotalTokenCount)
		out.PromptTokens = int(usage.PromptTokenCount)
		out.OutputTokens = int(usage.CandidatesTokenCount)
	}
	return out, nil
}

// StreamCompletion 实现流式响应
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	client, err := p.getClient()
	if err != nil {
		return nil, err
	}

	model := p.modelFor(req)
	contents := buildContents(req)
	config := buildConfig(req)

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer close(respChan)

		var contentBuffer strings.Builder
		var finishReason string
		var tokens int

		send := func(r llm.StreamResponse) bool {
			select {
			case respChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				send(llm.StreamResponse{
					Text:      contentBuffer.String(),
					ModelName: model,
					Done:      true,
					Err:       fmt.Errorf("google gemini API错误: %w", err),
				})
				return
			}

			if resp.UsageMetadata != nil {
				tokens = int(resp.UsageMetadata.TotalTokenCount)
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				finishReason = string(resp.Candidates[0].FinishReason)
			}

			if text := resp.Text(); text != "" {
				contentBuffer.WriteString(text)
				if !send(llm.StreamResponse{Text: text, ModelName: model}) {
					return
				}
			}
		}

		final := llm.StreamResponse{
			Text:         contentBuffer.String(),
			FinishReason: finishReason,
			ModelName:    model,
			TokensUsed:   tokens,
			Done:         true,
		}
		if contentBuffer.Len() == 0 {
			final.Err = llm.ErrEmptyResponse
		}
		send(final)
	}()

	return respChan, nil
}

var _ llm.Provider = (*Provider)(nil)
