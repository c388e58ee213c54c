// Package prompt turns render intents into generation prompts.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"

	"visdom/internal/domain"
	"visdom/internal/providers/codegen"
)

const (
	maxRepairLines = 60
	maxRepairBytes = 6000
)

var localeMatcher = language.NewMatcher([]language.Tag{language.English, language.Chinese})

// Builder renders prompts for a fixed scene class name.
type Builder struct {
	Scene string
}

func NewBuilder(scene string) *Builder {
	if strings.TrimSpace(scene) == "" {
		scene = "GenScene"
	}
	return &Builder{Scene: scene}
}

// Language resolves a locale string to "zh" or "en".
func Language(locale string) string {
	tag, _ := language.Parse(strings.TrimSpace(locale))
	matched, _, confidence := localeMatcher.Match(tag)
	if confidence == language.No {
		return "en"
	}
	if base, _ := matched.Base(); base.String() == "zh" {
		return "zh"
	}
	return "en"
}

// Build returns the first-attempt prompt for intent.
func (b *Builder) Build(intent domain.Intent) codegen.Prompt {
	lang := Language(intent.Locale)
	tpl := templates[lang]
	formulaB := intent.FormulaB
	if strings.TrimSpace(formulaB) == "" {
		formulaB = tpl.none
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, tpl.intro, describe(intent.Operation, lang))
	fmt.Fprintf(&sb, tpl.inputs, intent.FormulaA, formulaB)
	fmt.Fprintf(&sb, tpl.rules, b.Scene)
	return codegen.Prompt{
		Intent:   intent,
		Messages: []codegen.Message{{Role: codegen.RoleUser, Content: sb.String()}},
	}
}

// Repair extends original with the failed script and the renderer's
// diagnostics, asking for a corrected script.
func (b *Builder) Repair(original codegen.Prompt, failedScript string, diagnostics []string) codegen.Prompt {
	tpl := templates[Language(original.Intent.Locale)]
	messages := append([]codegen.Message(nil), original.Messages...)
	messages = append(messages,
		codegen.Message{Role: codegen.RoleAssistant, Content: failedScript},
		codegen.Message{Role: codegen.RoleUser, Content: fmt.Sprintf(tpl.repair, DiagnosticTail(diagnostics), b.Scene)},
	)
	return codegen.Prompt{Intent: original.Intent, Messages: messages}
}

// DiagnosticTail keeps the end of the renderer output within the line and
// byte budget sent back to the model.
func DiagnosticTail(lines []string) string {
	if len(lines) > maxRepairLines {
		lines = lines[len(lines)-maxRepairLines:]
	}
	text := strings.Join(lines, "\n")
	if len(text) > maxRepairBytes {
		start := len(text) - maxRepairBytes
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
		text = text[start:]
		if i := strings.IndexByte(text, '\n'); i >= 0 && i < len(text)-1 {
			text = text[i+1:]
		}
	}
	return text
}

func describe(op domain.Operation, lang string) string {
	if d, ok := descriptions[lang][op]; ok {
		return d
	}
	return descriptions[lang][""]
}

var descriptions = map[string]map[domain.Operation]string{
	"en": {
		domain.OperationFormula:       "step-by-step formula derivation",
		domain.OperationVisualization: "visual demonstration",
		domain.OperationNormal:        "general demonstration",
		domain.OperationAdd:           "matrix addition",
		domain.OperationMultiply:      "matrix multiplication",
		domain.OperationDeterminant:   "determinant calculation",
		"":                            "mathematical display",
	},
	"zh": {
		domain.OperationFormula:       "公式推演",
		domain.OperationVisualization: "可视化演示",
		domain.OperationNormal:        "通用演示",
		domain.OperationAdd:           "矩阵加法",
		domain.OperationMultiply:      "矩阵乘法",
		domain.OperationDeterminant:   "行列式计算",
		"":                            "数学展示",
	},
}
