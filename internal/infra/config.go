package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	GeoIPDBPath        string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int

	CodegenProvider string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	CodegenTimeout  time.Duration

	RendererCommand    []string
	RenderQuality      string
	RenderScene        string
	RenderTimeout      time.Duration
	DevRenderTimeout   time.Duration
	MediaDir           string
	WorkDir            string
	PublicVideoDir     string
	PublicVideoBaseURL string

	OTLPEndpoint string
	ServiceName  string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// Streaming responses outlive a normal request; zero disables the write deadline.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		CodegenProvider: strings.ToLower(getEnv("CODEGEN_PROVIDER", "openai")),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", os.Getenv("ALIYUN_KEY")),
		OpenAIModel:     getEnv("OPENAI_MODEL", "qwen-plus"),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		CodegenTimeout:  time.Second * time.Duration(getEnvInt("CODEGEN_TIMEOUT_SECONDS", 120)),

		RendererCommand:    strings.Fields(getEnv("RENDERER_COMMAND", "python3 -m manim")),
		RenderQuality:      getEnv("RENDER_QUALITY", "l"),
		RenderScene:        getEnv("RENDER_SCENE", "GenScene"),
		RenderTimeout:      time.Second * time.Duration(getEnvInt("RENDER_TIMEOUT_SECONDS", 300)),
		DevRenderTimeout:   time.Second * time.Duration(getEnvInt("DEV_RENDER_TIMEOUT_SECONDS", 60)),
		MediaDir:           getEnv("MEDIA_DIR", "static/videos"),
		WorkDir:            getEnv("WORK_DIR", "work"),
		PublicVideoDir:     getEnv("PUBLIC_VIDEO_DIR", "static/videos"),
		PublicVideoBaseURL: getEnv("PUBLIC_VIDEO_BASE_URL", "/videos"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "visdom-api"),
	}

	if len(cfg.RendererCommand) == 0 {
		return nil, fmt.Errorf("RENDERER_COMMAND must not be blank")
	}
	switch cfg.CodegenProvider {
	case "openai", "gemini", "template":
	default:
		return nil, fmt.Errorf("CODEGEN_PROVIDER %q is not supported", cfg.CodegenProvider)
	}
	if _, ok := QualityDirs[cfg.RenderQuality]; !ok {
		return nil, fmt.Errorf("RENDER_QUALITY %q is not supported", cfg.RenderQuality)
	}
	if cfg.RenderTimeout <= 0 || cfg.DevRenderTimeout <= 0 {
		return nil, fmt.Errorf("render timeouts must be positive")
	}

	return cfg, nil
}

// QualityDirs maps renderer quality flags to the directory names the renderer writes into.
var QualityDirs = map[string]string{
	"l": "480p15",
	"m": "720p30",
	"h": "1080p60",
	"p": "1440p60",
	"k": "2160p60",
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
