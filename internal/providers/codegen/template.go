package codegen

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"visdom/internal/domain"
)

const templateProviderName = "template"

// TemplateGenerator builds deterministic scenes without a language model:
// matrix add, multiply and determinant walkthroughs, and a plain formula
// display for every other operation.
type TemplateGenerator struct {
	scene string
}

func NewTemplateGenerator(scene string) *TemplateGenerator {
	if strings.TrimSpace(scene) == "" {
		scene = "GenScene"
	}
	return &TemplateGenerator{scene: scene}
}

func (t *TemplateGenerator) Name() string { return templateProviderName }

func (t *TemplateGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}
	switch p.Intent.Operation {
	case domain.OperationAdd, domain.OperationMultiply, domain.OperationDeterminant:
		a := ParseLatexMatrix(p.Intent.FormulaA)
		b := ParseLatexMatrix(p.Intent.FormulaB)
		return t.matrixScene(p.Intent.Operation, a, b), nil
	}
	if strings.TrimSpace(p.Intent.FormulaA) == "" {
		return "", fmt.Errorf("%w: formula A is required", domain.ErrGeneration)
	}
	return t.formulaScene(p.Intent.FormulaA, p.Intent.FormulaB), nil
}

var (
	matrixEnv   = regexp.MustCompile(`(?s)\\begin\{[^}]*\}(.*?)\\end\{[^}]*\}`)
	identity2x2 = [][]float64{{1, 0}, {0, 1}}
)

// ParseLatexMatrix reads a LaTeX matrix body ("1 & 2 \\ 3 & 4", optionally
// wrapped in a \begin{...} environment). Cells that are not numbers become 0;
// empty or unparsable input yields the 2x2 identity.
func ParseLatexMatrix(latex string) [][]float64 {
	content := strings.TrimSpace(latex)
	if content == "" {
		return identity2x2
	}
	if m := matrixEnv.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	var rows [][]float64
	for _, row := range strings.Split(content, `\\`) {
		row = strings.TrimSpace(row)
		if row == "" {
			continue
		}
		var nums []float64
		for _, cell := range strings.Split(row, "&") {
			cell = strings.NewReplacer("{", "", "}", "", " ", "").Replace(cell)
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				v = 0
			}
			nums = append(nums, v)
		}
		rows = append(rows, nums)
	}
	if len(rows) == 0 {
		return identity2x2
	}
	return rows
}

func pyMatrix(m [][]float64) string {
	rows := make([]string, len(m))
	for i, row := range m {
		cells := make([]string, len(row))
		for j, v := range row {
			s := strconv.FormatFloat(v, 'f', -1, 64)
			if !strings.ContainsAny(s, ".eE") {
				s += ".0"
			}
			cells[j] = s
		}
		rows[i] = "[" + strings.Join(cells, ", ") + "]"
	}
	return "[" + strings.Join(rows, ", ") + "]"
}

// pyRaw renders latex as a Python raw triple-quoted string.
func pyRaw(latex string) string {
	latex = strings.ReplaceAll(latex, `"""`, `''' `)
	return `r"""` + latex + ` """`
}

func (t *TemplateGenerator) formulaScene(a, b string) string {
	var sb strings.Builder
	sb.WriteString("from manim import *\n\n")
	fmt.Fprintf(&sb, "class %s(Scene):\n", t.scene)
	sb.WriteString("    def construct(self):\n")
	fmt.Fprintf(&sb, "        parts = [MathTex(%s).scale(0.8)]\n", pyRaw(a))
	if strings.TrimSpace(b) != "" {
		fmt.Fprintf(&sb, "        parts.append(MathTex(%s).scale(0.8))\n", pyRaw(b))
	}
	sb.WriteString("        group = VGroup(*parts).arrange(DOWN, buff=0.5)\n")
	sb.WriteString("        for part in parts:\n")
	sb.WriteString("            self.play(Write(part))\n")
	sb.WriteString("        self.play(Circumscribe(group))\n")
	sb.WriteString("        self.wait(1.5)\n")
	return sb.String()
}

func (t *TemplateGenerator) matrixScene(op domain.Operation, a, b [][]float64) string {
	var sb strings.Builder
	sb.WriteString("from manim import *\nimport numpy as np\n\n")
	fmt.Fprintf(&sb, "class %s(Scene):\n", t.scene)
	sb.WriteString("    def construct(self):\n")
	fmt.Fprintf(&sb, "        data_a = %s\n", pyMatrix(a))
	fmt.Fprintf(&sb, "        data_b = %s\n", pyMatrix(b))
	sb.WriteString("        m_a = Matrix(data_a).set_color(BLUE)\n")
	sb.WriteString("        m_b = Matrix(data_b).set_color(TEAL)\n")
	switch op {
	case domain.OperationAdd:
		sb.WriteString(matrixAddBody)
	case domain.OperationMultiply:
		sb.WriteString(matrixMulBody)
	default:
		sb.WriteString(matrixDetBody)
	}
	return sb.String()
}

const matrixAddBody = `        arr_a, arr_b = np.array(data_a), np.array(data_b)
        group = VGroup(m_a, MathTex("+").scale(1.5), m_b, MathTex("=").scale(1.5)).arrange(RIGHT)
        self.play(Write(group))
        if arr_a.shape != arr_b.shape:
            self.play(Write(Text("Dimension Mismatch!", color=RED).to_edge(DOWN)))
            self.wait(1)
            return
        m_res = Matrix((arr_a + arr_b).tolist()).set_color(YELLOW).next_to(group, RIGHT)
        self.play(Write(m_res))
        rect_a = SurroundingRectangle(m_a.get_rows()[0][0], color=YELLOW)
        rect_b = SurroundingRectangle(m_b.get_rows()[0][0], color=YELLOW)
        rect_res = SurroundingRectangle(m_res.get_rows()[0][0], color=YELLOW)
        self.play(Create(rect_a), Create(rect_b))
        self.play(TransformFromCopy(rect_a, rect_res), TransformFromCopy(rect_b, rect_res))
        self.wait(1)
`

const matrixMulBody = `        arr_a, arr_b = np.array(data_a), np.array(data_b)
        group = VGroup(m_a, MathTex(r"\times").scale(1.5), m_b, MathTex("=").scale(1.5)).arrange(RIGHT).scale(0.8)
        self.play(Write(group))
        if arr_a.shape[1] != arr_b.shape[0]:
            self.play(Write(Text("Shape Mismatch", color=RED).to_edge(DOWN)))
            self.wait(1)
            return
        m_res = Matrix(np.dot(arr_a, arr_b).tolist()).set_color(YELLOW).scale(0.8).next_to(group, RIGHT)
        rect_row = SurroundingRectangle(m_a.get_rows()[0], color=RED)
        rect_col = SurroundingRectangle(m_b.get_columns()[0], color=RED)
        self.play(Create(rect_row), Create(rect_col))
        self.wait(0.5)
        self.play(Write(m_res))
        self.play(FadeOut(rect_row), FadeOut(rect_col))
        self.wait(1)
`

const matrixDetBody = `        arr = np.array(data_a)
        bars = MathTex("|", "A", "|", "=").scale(1.5)
        VGroup(m_a, bars).arrange(RIGHT)
        self.play(Write(m_a))
        self.play(ReplacementTransform(m_a.copy(), bars[1]))
        self.play(Write(bars[0]), Write(bars[2]), Write(bars[3]))
        if arr.ndim != 2 or arr.shape[0] != arr.shape[1]:
            self.play(Write(Text("Must be Square Matrix", color=RED).next_to(bars, RIGHT)))
            self.wait(1)
            return
        res = MathTex("{:.2f}".format(np.linalg.det(arr))).set_color(YELLOW).next_to(bars, RIGHT)
        self.play(Write(res))
        if arr.shape == (2, 2):
            rows = m_a.get_rows()
            self.play(Create(Line(rows[0][0].get_center(), rows[1][1].get_center(), color=RED)))
            self.play(Create(Line(rows[0][1].get_center(), rows[1][0].get_center(), color=BLUE)))
        self.wait(1)
`

var _ Generator = (*TemplateGenerator)(nil)
