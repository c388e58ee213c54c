package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Operation is the style keyword that selects how a formula is animated.
type Operation string

const (
	OperationFormula       Operation = "formular"
	OperationVisualization Operation = "visualization"
	OperationNormal        Operation = "normal"
	OperationAdd           Operation = "add"
	OperationMultiply      Operation = "mul"
	OperationDeterminant   Operation = "det"
)

var operationAliases = map[Operation]Operation{
	"addition":       OperationAdd,
	"multiply":       OperationMultiply,
	"multiplication": OperationMultiply,
	"determinant":    OperationDeterminant,
	"formula":        OperationFormula,
}

// MaxFormulaLength bounds each formula fragment in runes.
const MaxFormulaLength = 4000

// Intent is an immutable render request: a style keyword plus one or two
// LaTeX fragments.
type Intent struct {
	Operation Operation `json:"operation"`
	FormulaA  string    `json:"matrixA"`
	FormulaB  string    `json:"matrixB"`
	Locale    string    `json:"-"`
}

// Normalize trims whitespace and maps long operation names to their short
// keyword, in place.
func (i *Intent) Normalize() {
	i.Operation = Operation(strings.ToLower(strings.TrimSpace(string(i.Operation))))
	if op, ok := operationAliases[i.Operation]; ok {
		i.Operation = op
	}
	i.FormulaA = strings.TrimSpace(i.FormulaA)
	i.FormulaB = strings.TrimSpace(i.FormulaB)
}

// Validate reports whether the intent can be submitted.
func (i Intent) Validate() error {
	if i.FormulaA == "" {
		return fmt.Errorf("%w: formula A is required", ErrInvalidIntent)
	}
	if utf8.RuneCountInString(i.FormulaA) > MaxFormulaLength || utf8.RuneCountInString(i.FormulaB) > MaxFormulaLength {
		return fmt.Errorf("%w: formula exceeds %d characters", ErrInvalidIntent, MaxFormulaLength)
	}
	if !utf8.ValidString(i.FormulaA) || !utf8.ValidString(i.FormulaB) {
		return fmt.Errorf("%w: formula is not valid UTF-8", ErrInvalidIntent)
	}
	return nil
}
