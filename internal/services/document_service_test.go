package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/Voice2SOP/internal/config"
	apperrors "github.com/Corphon/Voice2SOP/internal/errors"
	"github.com/Corphon/Voice2SOP/internal/llm"
	"github.com/Corphon/Voice2SOP/internal/llm/llmtest"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/storage"
	"github.com/stretchr/testify/require"
)

const structuredReply = "Sure.\n[SECTION 1: CHECKLIST]\n- open valve\n[SECTION 2: DOCUMENT]\nIntroduction\n[SECTION 3: EMAIL]\nHi team"

func newTestDocumentService(t *testing.T, name string, provider llm.Provider, storedKey string) *DocumentService {
	t.Helper()
	llm.Register(name, func() llm.Provider { return provider })

	llmService := &LLMService{}
	require.NoError(t, llmService.UpdateProvider(name, map[string]string{"api_key": storedKey}))

	svc := NewDocumentService(llmService, storage.NewResultCache(10, time.Minute), DocumentServiceOptions{
		MaxAudioBytes:  1024,
		RequestTimeout: time.Second,
	})
	svc.resolveKey = func(callerKey string) (config.Credential, error) {
		return config.ResolveAPIKeyFrom(storedKey, callerKey)
	}
	return svc
}

func audioRequest() models.DocumentRequest {
	return models.DocumentRequest{
		Audio:         []byte("RIFF....WAVE"),
		AudioMIMEType: "audio/webm;codecs=opus",
		DocType:       "Safety Protocol",
		Tone:          "Strict & Compliance-Focused",
	}
}

func TestGenerateWithStoredKey(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: structuredReply}
	svc := newTestDocumentService(t, "fake-doc-stored", fake, "stored-key")

	result, err := svc.Generate(context.Background(), audioRequest())
	assert.NoError(err)

	assert.NotEmpty(result.ID)
	assert.True(result.Structured)
	assert.Equal("- open valve", result.Sections.Checklist)
	assert.Equal("Introduction", result.Sections.Document)
	assert.Equal("Hi team", result.Sections.Email)
	assert.Equal("fake-1", result.Model)
	assert.Equal("fake-doc-stored", result.Provider)

	req := fake.LastRequest()
	assert.Contains(req.Prompt, "professional Safety Protocol")
	assert.Contains(req.Prompt, "The tone should be Strict & Compliance-Focused.")
	assert.Equal("audio/webm", req.Audio.MIMEType)
	assert.Equal([]byte("RIFF....WAVE"), req.Audio.Data)
	assert.Equal("stored-key", fake.APIKey())

	cached, err := svc.GetResult(result.ID)
	assert.NoError(err)
	assert.Equal(result, cached)
}

func TestGenerateUsesCallerKeyWhenNothingStored(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: structuredReply}
	svc := newTestDocumentService(t, "fake-doc-caller", fake, "")

	req := audioRequest()
	req.APIKey = "typed-key"
	_, err := svc.Generate(context.Background(), req)
	assert.NoError(err)
	assert.Equal("typed-key", fake.APIKey())
}

func TestGenerateWithoutKeyIsUnauthorized(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: structuredReply}
	svc := newTestDocumentService(t, "fake-doc-nokey", fake, "")

	_, err := svc.Generate(context.Background(), audioRequest())
	assert.True(apperrors.IsUnauthorizedError(err))
	assert.Equal(0, fake.Calls())
}

func TestGenerateProviderFailure(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Err: errors.New("quota exceeded")}
	svc := newTestDocumentService(t, "fake-doc-fail", fake, "k")
	svc.Stats = NewStatsService()

	_, err := svc.Generate(context.Background(), audioRequest())
	assert.True(apperrors.IsUpstreamError(err))
	assert.Equal(0, svc.Cache.Len())
	assert.Equal(1, svc.Stats.GetUsageStats().FailedRequests)
}

func TestGenerateUnstructuredReplyFallsBack(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: "just one blob of text"}
	svc := newTestDocumentService(t, "fake-doc-blob", fake, "k")

	result, err := svc.Generate(context.Background(), audioRequest())
	assert.NoError(err)
	assert.False(result.Structured)
	assert.Equal("just one blob of text", result.Sections.Checklist)
	assert.Equal("just one blob of text", result.Sections.Document)
	assert.Equal(EmailFallback, result.Sections.Email)
}

func TestGenerateValidation(t *testing.T) {
	fake := &llmtest.Provider{Reply: structuredReply}
	svc := newTestDocumentService(t, "fake-doc-validate", fake, "k")

	cases := map[string]func(r *models.DocumentRequest){
		"empty audio":  func(r *models.DocumentRequest) { r.Audio = nil },
		"too large":    func(r *models.DocumentRequest) { r.Audio = make([]byte, 2048) },
		"not audio":    func(r *models.DocumentRequest) { r.AudioMIMEType = "image/png" },
		"bad mime":     func(r *models.DocumentRequest) { r.AudioMIMEType = "audio/;;" },
		"unknown type": func(r *models.DocumentRequest) { r.DocType = "Poem" },
		"unknown tone": func(r *models.DocumentRequest) { r.Tone = "Sarcastic" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := audioRequest()
			mutate(&req)
			_, err := svc.Generate(context.Background(), req)
			require.True(t, apperrors.IsValidationError(err), "%v", err)
		})
	}
	require.Equal(t, 0, fake.Calls())
}

func TestGenerateDefaultsOptions(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: structuredReply}
	svc := newTestDocumentService(t, "fake-doc-defaults", fake, "k")

	req := audioRequest()
	req.DocType, req.Tone, req.AudioMIMEType = "", "", ""
	result, err := svc.Generate(context.Background(), req)
	assert.NoError(err)
	assert.Equal(models.DocTypes[0], result.DocType)
	assert.Equal(models.Tones[0], result.Tone)
	assert.Equal("audio/wav", fake.LastRequest().Audio.MIMEType)
}

func TestGenerateStreamForwardsChunks(t *testing.T) {
	assert := require.New(t)
	chunks := []string{"[SECTION 1: CHECKLIST] a ", "[SECTION 2: DOCUMENT] b ", "[SECTION 3: EMAIL] c"}
	fake := &llmtest.Provider{Chunks: chunks}
	svc := newTestDocumentService(t, "fake-doc-stream", fake, "k")

	var got []string
	result, err := svc.GenerateStream(context.Background(), audioRequest(), func(s string) {
		got = append(got, s)
	})
	assert.NoError(err)
	assert.Equal(chunks, got)
	assert.True(result.Structured)
	assert.Equal("a", result.Sections.Checklist)
	assert.Equal("b", result.Sections.Document)
	assert.Equal("c", result.Sections.Email)
}

type blockingProvider struct{ llmtest.Provider }

func (p *blockingProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGenerateTimeoutIsUpstreamFailure(t *testing.T) {
	assert := require.New(t)
	svc := newTestDocumentService(t, "fake-doc-slow", &blockingProvider{}, "k")
	svc.timeout = 20 * time.Millisecond

	_, err := svc.Generate(context.Background(), audioRequest())
	assert.True(apperrors.IsUpstreamError(err))
	assert.True(errors.Is(err, context.DeadlineExceeded))
}

func TestGetResultMissing(t *testing.T) {
	svc := newTestDocumentService(t, "fake-doc-missing", &llmtest.Provider{}, "k")
	_, err := svc.GetResult("nope")
	require.True(t, apperrors.IsNotFoundError(err))
}

func TestBuildPrompt(t *testing.T) {
	assert := require.New(t)
	prompt := BuildPrompt("Technical Tutorial", "Friendly & Encouraging")
	for _, marker := range []string{"[SECTION 1: CHECKLIST]", "[SECTION 2: DOCUMENT]", "[SECTION 3: EMAIL]"} {
		assert.Equal(1, strings.Count(prompt, marker))
	}
	assert.Contains(prompt, "professional Technical Tutorial")
}
