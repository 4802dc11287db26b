package debugger

import (
	"fmt"
	"strings"

	"github.com/binxlate/dbt/guest"
	"github.com/binxlate/dbt/service"
)

// ExpressionEvaluator evaluates debugger expressions (breakpoint
// conditions, "print"/"x" arguments, watch expressions) and keeps a
// $1/$2/... value history. It drives the lexer/parser pair
// (expr_lexer.go, expr_parser.go) so there is one grammar for every
// expression surface.
type ExpressionEvaluator struct {
	valueHistory []uint64
	valueNumber  int
}

// NewExpressionEvaluator creates a new expression evaluator.
func NewExpressionEvaluator() *ExpressionEvaluator {
	return &ExpressionEvaluator{}
}

// EvaluateExpression evaluates expr against state/mem and records the
// result in the value history.
func (e *ExpressionEvaluator) EvaluateExpression(expr string, state *guest.State, mem service.MemReader, symbols map[string]uint64) (uint64, error) {
	result, err := e.evaluate(expr, state, mem, symbols)
	if err != nil {
		return 0, err
	}

	e.valueHistory = append(e.valueHistory, result)
	e.valueNumber = len(e.valueHistory)

	return result, nil
}

// Evaluate evaluates expr and returns a boolean result (for breakpoint
// conditions and watch expressions).
func (e *ExpressionEvaluator) Evaluate(expr string, state *guest.State, mem service.MemReader, symbols map[string]uint64) (bool, error) {
	result, err := e.evaluate(expr, state, mem, symbols)
	if err != nil {
		return false, err
	}
	return result != 0, nil
}

// GetValueNumber returns the current value number.
func (e *ExpressionEvaluator) GetValueNumber() int {
	return e.valueNumber
}

// GetValue returns a value from history by number.
func (e *ExpressionEvaluator) GetValue(number int) (uint64, error) {
	if number < 1 || number > len(e.valueHistory) {
		return 0, fmt.Errorf("value $%d not in history", number)
	}
	return e.valueHistory[number-1], nil
}

func (e *ExpressionEvaluator) evaluate(expr string, state *guest.State, mem service.MemReader, symbols map[string]uint64) (uint64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty expression")
	}

	tokens := NewExprLexer(expr).TokenizeAll()
	parser := NewExprParser(tokens, state, mem, symbols, e)
	return parser.Parse()
}

// Reset clears the value history.
func (e *ExpressionEvaluator) Reset() {
	e.valueHistory = e.valueHistory[:0]
	e.valueNumber = 0
}
