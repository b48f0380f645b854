package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/Voice2SOP/internal/config"
	"github.com/Corphon/Voice2SOP/internal/llm/llmtest"
	"github.com/Corphon/Voice2SOP/internal/models"
	"github.com/Corphon/Voice2SOP/internal/services"
	"github.com/Corphon/Voice2SOP/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	testProvider      = "fake-api"
	testMaxAudioBytes = 1024
	structuredReply   = "[SECTION 1: CHECKLIST]\n- step one\n[SECTION 2: DOCUMENT]\nDo the thing.\n[SECTION 3: EMAIL]\nHi team"
)

type testResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func newTestRouter(t *testing.T, storedKey string, fake *llmtest.Provider, rateLimit int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	llmtest.Register(testProvider, fake)
	require.NoError(t, config.InitConfig(&config.Config{
		ConfigFile:  filepath.Join(t.TempDir(), "config.yaml"),
		LLMProvider: testProvider,
		LLMAPIKey:   storedKey,
	}))

	llmService := services.NewLLMService()
	cache := storage.NewResultCache(16, time.Minute)
	exporter, err := services.NewExporter(services.ExporterOptions{})
	require.NoError(t, err)
	stats := services.NewStatsService()

	documents := services.NewDocumentService(llmService, cache, services.DocumentServiceOptions{
		MaxAudioBytes:  testMaxAudioBytes,
		RequestTimeout: 5 * time.Second,
	})
	documents.Stats = stats
	exports := services.NewExportService(exporter, cache)
	exports.Stats = stats

	configService := services.NewConfigService()
	configService.SubscribeToChanges(llmService)

	handler := NewHandler(documents, exports, llmService, configService, stats, testMaxAudioBytes)
	return NewRouter(handler, RouterOptions{RateLimitPerMinute: rateLimit})
}

// audioForm 构造带音频文件的 multipart 表单
func audioForm(t *testing.T, fields map[string]string, audio []byte, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}

	if audio != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="audio"; filename="clip.wav"`)
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func postAudio(t *testing.T, router *gin.Engine, fields map[string]string, audio []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := audioForm(t, fields, audio, "audio/wav")
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) testResponse {
	t.Helper()
	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateDocumentWithoutKey(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: structuredReply}
	router := newTestRouter(t, "", fake, 0)

	w := postAudio(t, router, map[string]string{"doc_type": models.DocTypes[0]}, []byte("RIFF"), nil)

	assert.Equal(http.StatusUnauthorized, w.Code)
	resp := decode(t, w)
	assert.False(resp.Success)
	assert.Equal(ErrorAPIKeyMissing, resp.Error.Code)
	assert.Zero(fake.Calls())
}

func TestCreateDocumentProviderFailure(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Err: errors.New("quota exceeded for key abc123")}
	router := newTestRouter(t, "stored-key", fake, 0)

	w := postAudio(t, router, nil, []byte("RIFF"), nil)

	assert.Equal(http.StatusBadGateway, w.Code)
	resp := decode(t, w)
	assert.Equal(ErrorGenerationFailed, resp.Error.Code)
	assert.Empty(resp.Error.Details)
	assert.NotContains(w.Body.String(), "abc123")
}

func TestCreateDocumentAndExport(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: structuredReply}
	router := newTestRouter(t, "", fake, 0)

	w := postAudio(t, router,
		map[string]string{"doc_type": models.DocTypes[1], "tone": models.Tones[2]},
		[]byte("RIFF"),
		map[string]string{"X-API-Key": "caller-key"})
	assert.Equal(http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(w.Header().Get(requestIDHeader))

	var result models.DocumentResult
	assert.NoError(json.Unmarshal(decode(t, w).Data, &result))
	assert.True(result.Structured)
	assert.Equal("- step one", result.Sections.Checklist)
	assert.Equal("Do the thing.", result.Sections.Document)
	assert.Equal("Hi team", result.Sections.Email)
	assert.Equal(models.DocTypes[1], result.DocType)
	assert.Equal("caller-key", fake.APIKey())
	assert.Contains(fake.LastRequest().Prompt, models.Tones[2])

	// 缓存中的结果
	w = get(router, "/api/documents/"+result.ID)
	assert.Equal(http.StatusOK, w.Code)

	// PDF 下载
	w = get(router, "/api/documents/"+result.ID+"/export?format=pdf")
	assert.Equal(http.StatusOK, w.Code)
	assert.Equal(models.PDFMIMEType, w.Header().Get("Content-Type"))
	assert.Contains(w.Header().Get("Content-Disposition"), models.PDFFileName)
	assert.True(bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	// 纯文本下载
	w = get(router, "/api/documents/"+result.ID+"/export?format=txt&section=email")
	assert.Equal(http.StatusOK, w.Code)
	assert.Equal("text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(w.Header().Get("Content-Disposition"), models.TextFileName)
	assert.Equal("Hi team", w.Body.String())
}

func TestCreateDocumentUnstructuredReply(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: "just some prose"}
	router := newTestRouter(t, "stored-key", fake, 0)

	w := postAudio(t, router, nil, []byte("RIFF"), nil)
	assert.Equal(http.StatusOK, w.Code)

	var result models.DocumentResult
	assert.NoError(json.Unmarshal(decode(t, w).Data, &result))
	assert.False(result.Structured)
	assert.Equal("just some prose", result.Sections.Checklist)
	assert.Equal("just some prose", result.Sections.Document)
	assert.Equal(services.EmailFallback, result.Sections.Email)
}

func TestCreateDocumentInvalidInput(t *testing.T) {
	fake := &llmtest.Provider{Reply: structuredReply}
	router := newTestRouter(t, "stored-key", fake, 0)

	t.Run("missing audio", func(t *testing.T) {
		w := postAudio(t, router, map[string]string{"tone": models.Tones[0]}, nil, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, ErrorAudioMissing, decode(t, w).Error.Code)
	})

	t.Run("too large", func(t *testing.T) {
		w := postAudio(t, router, nil, bytes.Repeat([]byte{1}, testMaxAudioBytes+1), nil)
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		require.Equal(t, ErrorAudioTooLarge, decode(t, w).Error.Code)
	})

	t.Run("unknown doc type", func(t *testing.T) {
		w := postAudio(t, router, map[string]string{"doc_type": "Poem"}, []byte("RIFF"), nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, ErrorInvalidParameters, decode(t, w).Error.Code)
	})

	t.Run("not audio", func(t *testing.T) {
		body, contentType := audioForm(t, nil, []byte("PNG"), "image/png")
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	require.Zero(t, fake.Calls())
}

func TestExportErrors(t *testing.T) {
	assert := require.New(t)
	router := newTestRouter(t, "stored-key", &llmtest.Provider{Reply: structuredReply}, 0)

	w := get(router, "/api/documents/missing")
	assert.Equal(http.StatusNotFound, w.Code)
	assert.Equal(ErrorResultNotFound, decode(t, w).Error.Code)

	w = get(router, "/api/documents/missing/export?format=pdf")
	assert.Equal(http.StatusNotFound, w.Code)

	w = get(router, "/api/documents/missing/export?format=docx")
	assert.Equal(http.StatusBadRequest, w.Code)
	assert.Equal(ErrorInvalidParameters, decode(t, w).Error.Code)

	w = get(router, "/api/nope")
	assert.Equal(http.StatusNotFound, w.Code)
	assert.Equal(ErrorNotFound, decode(t, w).Error.Code)
}

func TestExportText(t *testing.T) {
	assert := require.New(t)
	router := newTestRouter(t, "", &llmtest.Provider{}, 0)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/export", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := post(`{"text":"naïve ☃","format":"txt"}`)
	assert.Equal(http.StatusOK, w.Code)
	assert.Equal("naïve ☃", w.Body.String())

	w = post(`{"text":"","format":"pdf"}`)
	assert.Equal(http.StatusOK, w.Code)
	assert.True(bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = post(`not json`)
	assert.Equal(http.StatusBadRequest, w.Code)
	assert.Equal(ErrorBadRequest, decode(t, w).Error.Code)
}

func TestGenerationRateLimit(t *testing.T) {
	assert := require.New(t)
	router := newTestRouter(t, "stored-key", &llmtest.Provider{Reply: structuredReply}, 1)

	w := postAudio(t, router, nil, []byte("RIFF"), nil)
	assert.Equal(http.StatusOK, w.Code)
	assert.Equal("0", w.Header().Get("X-RateLimit-Remaining"))

	w = postAudio(t, router, nil, []byte("RIFF"), nil)
	assert.Equal(http.StatusTooManyRequests, w.Code)
	assert.Equal(ErrorRateLimited, decode(t, w).Error.Code)

	// 其他接口不受限
	assert.Equal(http.StatusOK, get(router, "/api/options").Code)
}

func TestSaveSettingsEnablesStoredKey(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: structuredReply}
	router := newTestRouter(t, "", fake, 0)

	body := fmt.Sprintf(`{"llm_provider":%q,"llm_config":{"api_key":"saved-key"}}`, testProvider)
	req := httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(w.Body.String(), "saved-key")

	var settings services.LLMSettings
	assert.NoError(json.Unmarshal(decode(t, w).Data, &settings))
	assert.True(settings.KeyConfigured)

	// 保存的密钥优先于调用方输入
	w = postAudio(t, router, map[string]string{"api_key": "typed-key"}, []byte("RIFF"), nil)
	assert.Equal(http.StatusOK, w.Code)
	assert.Equal("saved-key", fake.APIKey())

	w = get(router, "/api/llm/status")
	assert.Equal(http.StatusOK, w.Code)
	assert.Contains(w.Body.String(), `"ready":true`)
}

func postSettings(router *gin.Engine, body string, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSaveSettingsRejectsBaseURL(t *testing.T) {
	assert := require.New(t)
	fake := &llmtest.Provider{Reply: structuredReply}
	router := newTestRouter(t, "stored-key", fake, 0)

	body := fmt.Sprintf(`{"llm_provider":%q,"llm_config":{"base_url":"https://attacker.example"}}`, testProvider)
	w := postSettings(router, body, "")
	assert.Equal(http.StatusBadRequest, w.Code)
	assert.Equal(ErrorLLMConfigInvalid, decode(t, w).Error.Code)

	// 配置未被修改，密钥仍然可用
	assert.Empty(config.GetCurrentConfig().LLMConfig["base_url"])
	w = postAudio(t, router, nil, []byte("RIFF"), nil)
	assert.Equal(http.StatusOK, w.Code)
	assert.Equal("stored-key", fake.APIKey())
}

func TestSettingsRejectCrossOrigin(t *testing.T) {
	assert := require.New(t)
	router := newTestRouter(t, "", &llmtest.Provider{}, 0)
	body := fmt.Sprintf(`{"llm_provider":%q,"llm_config":{"api_key":"k"}}`, testProvider)

	w := postSettings(router, body, "https://evil.example")
	assert.Equal(http.StatusForbidden, w.Code)
	assert.Equal(ErrorForbidden, decode(t, w).Error.Code)
	assert.Empty(w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(config.GetCurrentConfig().LLMConfig["api_key"])

	// 预检请求不放行
	req := httptest.NewRequest(http.MethodOptions, "/api/settings", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEqual(http.StatusNoContent, w.Code)
	assert.Empty(w.Header().Get("Access-Control-Allow-Origin"))

	// 同源页面可以保存
	w = postSettings(router, body, "http://example.com")
	assert.Equal(http.StatusOK, w.Code, w.Body.String())

	// 其他接口仍然允许跨域
	w = get(router, "/api/options")
	assert.Equal("*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSaveSettingsRejectsUnknownProvider(t *testing.T) {
	assert := require.New(t)
	router := newTestRouter(t, "", &llmtest.Provider{}, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/settings", strings.NewReader(`{"llm_provider":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(http.StatusBadRequest, w.Code)
	assert.Equal(ErrorLLMConfigInvalid, decode(t, w).Error.Code)
}

func TestOptionsHealthAndMetrics(t *testing.T) {
	assert := require.New(t)
	router := newTestRouter(t, "", &llmtest.Provider{}, 0)

	w := get(router, "/api/options")
	assert.Equal(http.StatusOK, w.Code)
	var options struct {
		DocTypes      []string `json:"doc_types"`
		Tones         []string `json:"tones"`
		Providers     []string `json:"providers"`
		KeyConfigured bool     `json:"key_configured"`
	}
	assert.NoError(json.Unmarshal(decode(t, w).Data, &options))
	assert.Equal(models.DocTypes, options.DocTypes)
	assert.Equal(models.Tones, options.Tones)
	assert.Contains(options.Providers, testProvider)
	assert.False(options.KeyConfigured)

	w = get(router, "/api/llm/models?provider=nope")
	assert.Equal(http.StatusBadRequest, w.Code)

	assert.Equal(http.StatusOK, get(router, "/healthz").Code)

	w = get(router, "/metrics")
	assert.Equal(http.StatusOK, w.Code)
	assert.Contains(w.Body.String(), "go_goroutines")
}

func TestStatsCountsRequests(t *testing.T) {
	assert := require.New(t)
	router := newTestRouter(t, "stored-key", &llmtest.Provider{Reply: structuredReply}, 0)

	assert.Equal(http.StatusOK, postAudio(t, router, nil, []byte("RIFF"), nil).Code)

	w := get(router, "/api/stats")
	assert.Equal(http.StatusOK, w.Code)
	var stats services.UsageStats
	assert.NoError(json.Unmarshal(decode(t, w).Data, &stats))
	assert.Equal(1, stats.TodayRequests)
}
