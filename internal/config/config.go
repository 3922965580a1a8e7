package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/pkg/errors"
)

// Provider names accepted by ASSISTANT_PROVIDER.
const (
	ProviderArk       = "ark"
	ProviderAnthropic = "anthropic"
)

// DefaultCORSOrigins 始终允许的前端开发地址。
var DefaultCORSOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

const defaultSystemPrompt = "You are Care Companion, a friendly health assistant. " +
	"Answer concisely, explain medical terms in plain language, and recommend " +
	"contacting a clinician for anything urgent or outside general guidance."

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
	Assistant AssistantConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	assistant, err := loadAssistantConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		CORS:      loadCORSConfig(),
		RateLimit: rateLimit,
		Session:   session,
		Assistant: assistant,
		Log:       loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析 HOST 与 PORT。
func loadServerConfig() (ServerConfig, error) {
	host := getEnvOrDefault("HOST", "0.0.0.0")
	port := getEnvOrDefault("PORT", "3000")

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3000" 或 "127.0.0.1:3000"。
		return ServerConfig{Addr: port}, nil
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: net.JoinHostPort(host, port)}, nil
}

// CORSConfig 描述跨域白名单。
type CORSConfig struct {
	AllowedOrigins []string
}

func loadCORSConfig() CORSConfig {
	seen := make(map[string]struct{})
	origins := make([]string, 0, len(DefaultCORSOrigins))
	for _, origin := range append(append([]string(nil), DefaultCORSOrigins...), splitList(os.Getenv("CORS_ORIGINS"))...) {
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return CORSConfig{AllowedOrigins: origins}
}

// RateLimitConfig 描述限流参数。RedisURL 非空时多个实例共享计数。
type RateLimitConfig struct {
	Max      int
	Window   time.Duration
	RedisURL string
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	limit := 60
	if override, err := parseOptionalIntEnv("RATE_LIMIT_MAX"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_MAX value %d: must be positive", *override)
		}
		limit = *override
	}

	raw := getEnvOrDefault("RATE_LIMIT_WINDOW", "1 minute")
	window, err := ParseWindow(raw)
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_WINDOW value %q: %w", raw, err)
	}

	return RateLimitConfig{
		Max:      limit,
		Window:   window,
		RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),
	}, nil
}

// SessionConfig 描述会话表的回收策略。
type SessionConfig struct {
	IdleTTL       time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	idle, err := parseDurationEnv("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	sweep, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	maxEntries := 10000
	if override, err := parseOptionalIntEnv("SESSION_MAX_ENTRIES"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		maxEntries = *override
	}

	return SessionConfig{IdleTTL: idle, MaxEntries: maxEntries, SweepInterval: sweep}, nil
}

// AssistantConfig 描述大模型相关配置。
type AssistantConfig struct {
	Provider     string
	SystemPrompt string
	HistoryLimit int

	Ark       ArkConfig
	Anthropic AnthropicConfig
}

// ArkConfig 火山方舟模型参数。
type ArkConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// AnthropicConfig Anthropic Messages API 参数。
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// CredentialSet 表示当前 provider 是否提供了必需的密钥。
func (c AssistantConfig) CredentialSet() bool {
	switch c.Provider {
	case ProviderAnthropic:
		return c.Anthropic.APIKey != ""
	default:
		return c.Ark.APIKey != "" || (c.Ark.AccessKey != "" && c.Ark.SecretKey != "")
	}
}

// NewChatModel 使用配置创建一个方舟模型实例。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" {
		return nil, errors.New("ARK_MODEL is not set")
	}
	if c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "") {
		return nil, errors.New("Ark 凭证缺失，至少提供 ARK_API_KEY 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAssistantConfig() (AssistantConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("ASSISTANT_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderAnthropic {
		return AssistantConfig{}, fmt.Errorf("invalid ASSISTANT_PROVIDER value %q", provider)
	}

	historyLimit := 20
	if override, err := parseOptionalIntEnv("ASSISTANT_HISTORY_LIMIT"); err != nil {
		return AssistantConfig{}, err
	} else if override != nil {
		historyLimit = *override
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AssistantConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AssistantConfig{}, err
	}

	arkMaxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AssistantConfig{}, err
	}

	anthropicMaxTokens := 1024
	if override, err := parseOptionalIntEnv("ANTHROPIC_MAX_TOKENS"); err != nil {
		return AssistantConfig{}, err
	} else if override != nil {
		anthropicMaxTokens = *override
	}

	arkModel := strings.TrimSpace(os.Getenv("ARK_MODEL"))
	if arkModel == "" {
		// 兼容旧的 Model 变量名。
		arkModel = strings.TrimSpace(os.Getenv("Model"))
	}

	return AssistantConfig{
		Provider:     provider,
		SystemPrompt: getEnvOrDefault("ASSISTANT_SYSTEM_PROMPT", defaultSystemPrompt),
		HistoryLimit: historyLimit,
		Ark: ArkConfig{
			APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:       arkModel,
			BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   arkMaxTokens,
		},
		Anthropic: AnthropicConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")),
			BaseURL:   strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")),
			MaxTokens: anthropicMaxTokens,
		},
	}, nil
}

// LogConfig 日志输出配置。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
	}
}

// ParseWindow 解析限流窗口，支持 Go duration（"90s"）和 "1 minute" 形式。
func ParseWindow(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if d, err := time.ParseDuration(value); err == nil {
		if d <= 0 {
			return 0, errors.New("window must be positive")
		}
		return d, nil
	}

	fields := strings.Fields(value)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, errors.New("expected a duration like \"1 minute\" or \"30s\"")
	}

	n := 1
	unit := fields[0]
	if len(fields) == 2 {
		parsed, err := strconv.Atoi(fields[0])
		if err != nil || parsed < 1 {
			return 0, errors.Errorf("invalid amount %q", fields[0])
		}
		n = parsed
		unit = fields[1]
	}

	unit = strings.ToLower(unit)
	if unit != "ms" {
		unit = strings.TrimSuffix(unit, "s")
	}

	var base time.Duration
	switch unit {
	case "millisecond", "ms":
		base = time.Millisecond
	case "second", "sec":
		base = time.Second
	case "minute", "min":
		base = time.Minute
	case "hour", "h":
		base = time.Hour
	case "day":
		base = 24 * time.Hour
	default:
		return 0, errors.Errorf("unknown unit %q", unit)
	}
	return time.Duration(n) * base, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
