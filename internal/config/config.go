// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Corphon/Voice2SOP/internal/utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// 默认值
const (
	DefaultProvider        = "google"
	DefaultModel           = "gemini-2.5-flash"
	DefaultMaxAudioBytes   = 25 << 20
	DefaultRequestTimeout  = 120 * time.Second
	DefaultResultTTL       = 30 * time.Minute
	DefaultResultCacheSize = 256
	DefaultPDFCharset      = "iso-8859-1"
	DefaultRateLimit       = 20
)

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port         string
	DataDir      string
	StaticDir    string
	TemplatesDir string
	LogDir       string
	LogLevel     string
	DebugMode    bool
	ConfigFile   string

	// LLM相关
	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string

	// 用于加密保存在配置文件中的API密钥
	AppSecret string

	MaxAudioBytes      int64
	RequestTimeout     time.Duration
	ResultTTL          time.Duration
	ResultCacheSize    int
	PDFCharset         string
	RateLimitPerMinute int
}

// AppConfig 包含应用程序运行时的全部配置
type AppConfig struct {
	Config

	// 可在设置页面修改并持久化的LLM配置
	LLMProvider string            `yaml:"llm_provider"`
	LLMConfig   map[string]string `yaml:"llm_config"`
}

// fileConfig 是配置文件的内容
type fileConfig struct {
	LLMProvider string            `yaml:"llm_provider"`
	LLMConfig   map[string]string `yaml:"llm_config"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	dataDir := getEnvPath("DATA_DIR", "data")

	config := &Config{
		Port:         getEnv("PORT", "8080"),
		DataDir:      dataDir,
		StaticDir:    getEnv("STATIC_DIR", "web/static"),
		TemplatesDir: getEnv("TEMPLATES_DIR", "web/templates"),
		LogDir:       getEnv("LOG_DIR", "logs"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DebugMode:    getEnvBool("DEBUG_MODE", false),
		ConfigFile:   getEnv("CONFIG_FILE", filepath.Join(dataDir, "config.yaml")),

		LLMProvider: getEnv("LLM_PROVIDER", DefaultProvider),
		LLMModel:    getEnv("LLM_MODEL", ""),
		LLMAPIKey:   getEnv("GEMINI_API_KEY", getEnv("LLM_API_KEY", "")),
		LLMBaseURL:  getEnv("LLM_BASE_URL", ""),
		AppSecret:   getEnv("APP_SECRET", ""),

		MaxAudioBytes:      int64(getEnvInt("MAX_AUDIO_BYTES", DefaultMaxAudioBytes)),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		ResultTTL:          getEnvDuration("RESULT_TTL", DefaultResultTTL),
		ResultCacheSize:    getEnvInt("RESULT_CACHE_SIZE", DefaultResultCacheSize),
		PDFCharset:         getEnv("PDF_CHARSET", DefaultPDFCharset),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", DefaultRateLimit),
	}

	if config.MaxAudioBytes <= 0 {
		return nil, fmt.Errorf("MAX_AUDIO_BYTES 必须为正数")
	}

	if config.LLMAPIKey == "" {
		// 只记录警告，不返回错误：用户可以在页面上输入密钥
		utils.GetLogger().Warn("未设置模型API密钥，需要在页面中输入或在设置中保存", nil)
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，并确保目录存在
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			utils.GetLogger().Warn("创建目录失败", map[string]interface{}{"path": path, "error": err})
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		utils.GetLogger().Warn("环境变量不是整数，使用默认值", map[string]interface{}{"key": key, "value": value})
		return defaultValue
	}
	return n
}

// getEnvDuration 接受 "90s" 这样的时长或纯秒数
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	utils.GetLogger().Warn("环境变量不是有效时长，使用默认值", map[string]interface{}{"key": key, "value": value})
	return defaultValue
}

// InitConfig 初始化配置管理器：基础配置来自环境变量，LLM设置可由配置文件覆盖
func InitConfig(base *Config) error {
	if base == nil {
		return fmt.Errorf("基础配置为空")
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = base.ConfigFile

	cfg := &AppConfig{
		Config:      *base,
		LLMProvider: base.LLMProvider,
		LLMConfig: map[string]string{
			"api_key":       base.LLMAPIKey,
			"default_model": base.LLMModel,
		},
	}
	if base.LLMBaseURL != "" {
		cfg.LLMConfig["base_url"] = base.LLMBaseURL
	}

	// 尝试从文件加载已保存的配置
	if data, err := os.ReadFile(configFile); err == nil {
		var saved fileConfig
		if err := yaml.Unmarshal(data, &saved); err != nil {
			return fmt.Errorf("解析配置文件失败: %w", err)
		}

		if saved.LLMProvider != "" {
			cfg.LLMProvider = saved.LLMProvider
		}
		for k, v := range saved.LLMConfig {
			// base_url 只接受环境变量
			if v == "" || k == "base_url" {
				continue
			}
			if k == "api_key" {
				key, err := utils.OpenSecret(v, base.AppSecret)
				if err != nil {
					return fmt.Errorf("解密保存的API密钥失败: %w", err)
				}
				v = key
			}
			cfg.LLMConfig[k] = v
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	currentConfig = cfg
	return nil
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		base, err := Load()
		if err != nil {
			base = &Config{LLMProvider: DefaultProvider, MaxAudioBytes: DefaultMaxAudioBytes}
		}
		return &AppConfig{
			Config:      *base,
			LLMProvider: base.LLMProvider,
			LLMConfig:   map[string]string{"api_key": base.LLMAPIKey},
		}
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置并写入配置文件
func UpdateLLMConfig(provider string, llmConfig map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	merged := make(map[string]string, len(llmConfig))
	for k, v := range currentConfig.LLMConfig {
		merged[k] = v
	}
	for k, v := range llmConfig {
		// 空的api_key表示保留原值
		if k == "api_key" && v == "" {
			continue
		}
		merged[k] = v
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = merged

	return saveConfigLocked()
}

// saveConfigLocked 保存当前LLM配置到文件，调用方需持有写锁
func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}
	if configFile == "" {
		return nil
	}

	out := fileConfig{
		LLMProvider: currentConfig.LLMProvider,
		LLMConfig:   make(map[string]string, len(currentConfig.LLMConfig)),
	}
	for k, v := range currentConfig.LLMConfig {
		if k == "base_url" {
			continue
		}
		if k == "api_key" {
			sealed, err := utils.SealSecret(v, currentConfig.AppSecret)
			if err != nil {
				return fmt.Errorf("加密API密钥失败: %w", err)
			}
			v = sealed
		}
		out.LLMConfig[k] = v
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0600)
}
