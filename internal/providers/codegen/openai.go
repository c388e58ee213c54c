package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"visdom/internal/domain"
)

// OpenAIOptions configures an OpenAI-compatible chat completions client.
type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	Temperature  float64
	HTTPClient   *http.Client
	OnWarning    func(reason, detail string)
}

// OpenAIGenerator calls any OpenAI-compatible /chat/completions endpoint,
// including DashScope's compatible mode.
type OpenAIGenerator struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	temperature  float64
	client       *http.Client
}

const (
	openAIDefaultTimeout = 120 * time.Second
	defaultOpenAIModel   = "qwen-plus"
	defaultOpenAIBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	openAIProviderName   = "openai"
)

var openAIModelCanonical = map[string]string{
	"qwen-plus":       "qwen-plus",
	"qwen-max":        "qwen-max",
	"qwen-turbo":      "qwen-turbo",
	"qwen-coder-plus": "qwen-coder-plus",
	"gpt-4o-mini":     "gpt-4o-mini",
	"gpt-4o":          "gpt-4o",
	"gpt-3.5-turbo":   "gpt-3.5-turbo",
}

var openAIModelAliases = map[string]string{
	"qwen":             "qwen-plus",
	"qwenplus":         "qwen-plus",
	"qwen-plus-latest": "qwen-plus",
	"qwen-coder":       "qwen-coder-plus",
	"gpt4o-mini":       "gpt-4o-mini",
	"gpt4omini":        "gpt-4o-mini",
	"gpt4o":            "gpt-4o",
	"gpt-3.5":          "gpt-3.5-turbo",
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	modelInput := strings.TrimSpace(opts.Model)
	model, reason := normalizeOpenAIModel(modelInput)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", modelInput, model))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIGenerator{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		temperature:  opts.Temperature,
		client:       client,
	}, nil
}

func (o *OpenAIGenerator) Name() string { return openAIProviderName }

// Model reports the resolved model name.
func (o *OpenAIGenerator) Model() string { return o.model }

func (o *OpenAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if len(p.Messages) == 0 {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrGeneration)
	}
	payload := openAIChatRequest{Model: o.model, Temperature: o.temperature}
	for _, m := range p.Messages {
		payload.Messages = append(payload.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("%w: encode request: %v", domain.ErrGeneration, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: openai status %d: %s", domain.ErrGeneration, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrGeneration, err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", domain.ErrGeneration, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", domain.ErrGeneration)
	}
	text := StripFences(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", domain.ErrGeneration)
	}
	return text, nil
}

var _ Generator = (*OpenAIGenerator)(nil)

func normalizeOpenAIModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultOpenAIModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		if canonical, ok := openAIModelCanonical[alias]; ok {
			return canonical, "alias"
		}
		return alias, "alias"
	}
	// Compatible endpoints serve many models; pass unknown names through.
	return trimmed, "passthrough"
}
