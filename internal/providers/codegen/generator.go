// Package codegen turns render prompts into renderer scripts.
package codegen

import (
	"context"
	"regexp"
	"strings"

	"visdom/internal/domain"
)

// Message roles used in prompt conversations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a generation conversation.
type Message struct {
	Role    string
	Content string
}

// Prompt is a generation request. Messages holds the conversation, ending
// with the instruction to answer; Intent is the request it was built from.
type Prompt struct {
	Intent   domain.Intent
	Messages []Message
}

// Generator produces a script from a prompt. Implementations return the
// script with code fences stripped, or an error wrapping domain.ErrGeneration.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	Name() string
}

var fenceOpen = regexp.MustCompile("^```[A-Za-z0-9_+-]*[ \t]*\r?\n?")

// StripFences returns the first markdown fenced block of text, such as
// ```python ... ```, dropping any prose before or after it. Unfenced text is
// returned trimmed.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	open := fenceStart(trimmed)
	if open < 0 {
		return trimmed
	}
	body := fenceOpen.ReplaceAllString(trimmed[open:], "")
	if strings.HasPrefix(body, "```") {
		return ""
	}
	if idx := strings.Index(body, "\n```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// fenceStart finds a fence that opens a line.
func fenceStart(text string) int {
	if strings.HasPrefix(text, "```") {
		return 0
	}
	if idx := strings.Index(text, "\n```"); idx >= 0 {
		return idx + 1
	}
	return -1
}
