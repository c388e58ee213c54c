package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"visdom/internal/domain"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiGenerator calls the Gemini generateContent endpoint.
type GeminiGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

const (
	geminiDefaultTimeout = 120 * time.Second
	geminiProviderName   = "gemini"
)

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature    float64 `json:"temperature,omitempty"`
	CandidateCount int     `json:"candidateCount,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiGenerator{apiKey: strings.TrimSpace(opts.APIKey), model: model, baseURL: baseURL, client: client}, nil
}

func (g *GeminiGenerator) Name() string { return geminiProviderName }

func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if len(p.Messages) == 0 {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrGeneration)
	}
	payload := geminiRequest{GenerationConfig: geminiGenerationConfig{Temperature: 0.4, CandidateCount: 1}}
	for _, m := range p.Messages {
		part := []geminiPart{{Text: m.Content}}
		switch m.Role {
		case RoleSystem:
			payload.SystemInstruction = &geminiContent{Parts: part}
		case RoleAssistant:
			payload.Contents = append(payload.Contents, geminiContent{Role: "model", Parts: part})
		default:
			payload.Contents = append(payload.Contents, geminiContent{Role: "user", Parts: part})
		}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("%w: encode request: %v", domain.ErrGeneration, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: gemini status %d", domain.ErrGeneration, resp.StatusCode)
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrGeneration, err)
	}
	var sb strings.Builder
	for _, c := range out.Candidates {
		for _, part := range c.Content.Parts {
			sb.WriteString(part.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	text := StripFences(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty response", domain.ErrGeneration)
	}
	return text, nil
}

func (g *GeminiGenerator) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

var _ Generator = (*GeminiGenerator)(nil)
