package codegen

import (
	"fmt"
	"strings"
)

// Options selects and configures a generator.
type Options struct {
	Provider string
	Scene    string
	OpenAI   OpenAIOptions
	Gemini   GeminiOptions
}

// New builds the generator named by opts.Provider ("openai", "gemini" or
// "template").
func New(opts Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", openAIProviderName:
		return NewOpenAIGenerator(opts.OpenAI)
	case geminiProviderName:
		return NewGeminiGenerator(opts.Gemini)
	case templateProviderName:
		return NewTemplateGenerator(opts.Scene), nil
	default:
		return nil, fmt.Errorf("unsupported codegen provider %q", opts.Provider)
	}
}
