package app

import (
	"path/filepath"
	"testing"

	"github.com/Corphon/Voice2SOP/internal/config"
	"github.com/Corphon/Voice2SOP/internal/di"
	"github.com/Corphon/Voice2SOP/internal/llm/llmtest"
	"github.com/Corphon/Voice2SOP/internal/services"
	"github.com/Corphon/Voice2SOP/internal/storage"
	"github.com/stretchr/testify/require"
)

func initTestConfig(t *testing.T, provider, key, charset string) *config.AppConfig {
	t.Helper()
	base := &config.Config{
		ConfigFile:      filepath.Join(t.TempDir(), "config.yaml"),
		LLMProvider:     provider,
		LLMAPIKey:       key,
		MaxAudioBytes:   1024,
		ResultCacheSize: 8,
		PDFCharset:      charset,
	}
	require.NoError(t, config.InitConfig(base))
	return config.GetCurrentConfig()
}

func TestRegisterServices(t *testing.T) {
	assert := require.New(t)
	llmtest.Register("fake-app", &llmtest.Provider{Reply: "ok"})
	cfg := initTestConfig(t, "fake-app", "stored-key", "")

	container := di.NewContainer()
	assert.NoError(RegisterServices(container, cfg))

	for _, name := range []string{"cache", "exporter", "stats", "llm", "config", "documents", "exports"} {
		assert.True(container.Has(name), name)
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	assert.True(ok)
	assert.True(llmService.IsReady())
	assert.Equal("fake-app", llmService.GetProviderName())

	documents := container.Get("documents").(*services.DocumentService)
	exports := container.Get("exports").(*services.ExportService)
	cache := container.Get("cache").(*storage.ResultCache)
	assert.Same(cache, documents.Cache)
	assert.Same(cache, exports.Cache)
	assert.Same(documents.Stats, exports.Stats)
	assert.Same(llmService, documents.LLMService)
}

func TestRegisterServicesRejectsUnknownCharset(t *testing.T) {
	cfg := initTestConfig(t, "google", "", "utf-16")

	err := RegisterServices(di.NewContainer(), cfg)
	require.Error(t, err)
}

func TestRegisterServicesNilConfig(t *testing.T) {
	require.Error(t, RegisterServices(di.NewContainer(), nil))
}
