// internal/llm/providers/openai/openai.go
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/Corphon/Voice2SOP/internal/llm"
	goopenai "github.com/sashabaranov/go-openai"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			models: []string{
				"gpt-4o-mini",
				"gpt-4o",
				"gpt-4.1-mini",
			},
		}
	})
}

// Provider 先用 Whisper 转写音频，再把转写文本和提示词交给聊天模型
type Provider struct {
	client       *goopenai.Client
	defaultModel string
	models       []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return llm.ErrMissingAPIKey
	}

	clientConfig := goopenai.DefaultConfig(apiKey)
	if baseURL := config["base_url"]; baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	p.client = goopenai.NewClientWithConfig(clientConfig)

	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gpt-4o-mini"
	}
	return nil
}

func (p *Provider) GetName() string {
	return "openai"
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

// audioFileName Whisper 根据扩展名识别格式
func audioFileName(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = mimeType
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio.wav"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/flac":
		return "audio.flac"
	default:
		return "audio.webm"
	}
}

func (p *Provider) transcribe(ctx context.Context, audio *llm.AudioInput) (string, error) {
	resp, err := p.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    goopenai.Whisper1,
		FilePath: audioFileName(audio.MIMEType),
		Reader:   bytes.NewReader(audio.Data),
	})
	if err != nil {
		return "", fmt.Errorf("openai 转写失败: %w", err)
	}
	return resp.Text, nil
}

func (p *Provider) buildChatRequest(ctx context.Context, req llm.CompletionRequest) (goopenai.ChatCompletionRequest, error) {
	prompt := req.Prompt
	if req.Audio != nil && len(req.Audio.Data) > 0 {
		transcript, err := p.transcribe(ctx, req.Audio)
		if err != nil {
			return goopenai.ChatCompletionRequest{}, err
		}
		prompt = prompt + "\n\nTranscript:\n" + transcript
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	return goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, nil
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	chatReq, err := p.buildChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai API错误: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, llm.ErrEmptyResponse
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelName:    chatReq.Model,
		ProviderName: p.GetName(),
	}, nil
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	chatReq, err := p.buildChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai API错误: %w", err)
	}

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer stream.Close()
		defer close(respChan)

		var contentBuffer strings.Builder
		var finishReason string

		send := func(r llm.StreamResponse) bool {
			select {
			case respChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(llm.StreamResponse{
					Text:      contentBuffer.String(),
					ModelName: chatReq.Model,
					Done:      true,
					Err:       fmt.Errorf("openai API错误: %w", err),
				})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			if resp.Choices[0].FinishReason != "" {
				finishReason = string(resp.Choices[0].FinishReason)
			}
			if chunk := resp.Choices[0].Delta.Content; chunk != "" {
				contentBuffer.WriteString(chunk)
				if !send(llm.StreamResponse{Text: chunk, ModelName: chatReq.Model}) {
					return
				}
			}
		}

		final := llm.StreamResponse{
			Text:         contentBuffer.String(),
			FinishReason: finishReason,
			ModelName:    chatReq.Model,
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
