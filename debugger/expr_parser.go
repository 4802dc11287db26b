package debugger

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/binxlate/dbt/guest"
	"github.com/binxlate/dbt/service"
)

// ExprParser parses debugger expressions using precedence climbing,
// reading the 64-bit guest.State/service.MemReader pair the translator's
// sessions use.
type ExprParser struct {
	tokens  []ExprToken
	pos     int
	state   *guest.State
	mem     service.MemReader
	symbols map[string]uint64
	eval    *ExpressionEvaluator
}

// NewExprParser creates a new expression parser over state/mem.
func NewExprParser(tokens []ExprToken, state *guest.State, mem service.MemReader, symbols map[string]uint64, eval *ExpressionEvaluator) *ExprParser {
	return &ExprParser{
		tokens:  tokens,
		state:   state,
		mem:     mem,
		symbols: symbols,
		eval:    eval,
	}
}

// currentToken returns the token at the current position
func (p *ExprParser) currentToken() ExprToken {
	if p.pos >= len(p.tokens) {
		return ExprToken{Type: ExprTokenEOF}
	}
	return p.tokens[p.pos]
}

// advance moves to the next token
func (p *ExprParser) advance() {
	p.pos++
}

// operatorPrecedence returns the precedence of a binary operator (higher binds tighter)
func operatorPrecedence(op string) int {
	switch op {
	case "|":
		return 1
	case "^":
		return 2
	case "&":
		return 3
	case "<<", ">>":
		return 4
	case "+", "-":
		return 5
	case "*", "/":
		return 6
	default:
		return 0
	}
}

// Parse parses the expression and returns the result
func (p *ExprParser) Parse() (uint64, error) {
	result, err := p.parseExpression(0)
	if err != nil {
		return 0, err
	}

	if p.currentToken().Type != ExprTokenEOF {
		return 0, fmt.Errorf("unexpected token: %s", p.currentToken().Value)
	}

	return result, nil
}

// parseExpression parses an expression with precedence climbing
func (p *ExprParser) parseExpression(minPrecedence int) (uint64, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}

	for {
		tok := p.currentToken()
		if tok.Type != ExprTokenOperator {
			break
		}

		precedence := operatorPrecedence(tok.Value)
		if precedence < minPrecedence {
			break
		}

		op := tok.Value
		p.advance()

		right, err := p.parseExpression(precedence + 1)
		if err != nil {
			return 0, err
		}

		left, err = p.applyOperator(left, right, op)
		if err != nil {
			return 0, err
		}
	}

	return left, nil
}

// parsePrimary parses a primary expression (number, register, memory access, etc.)
func (p *ExprParser) parsePrimary() (uint64, error) {
	tok := p.currentToken()

	switch tok.Type {
	case ExprTokenNumber:
		p.advance()
		return p.parseNumberValue(tok.Value)

	case ExprTokenRegister:
		p.advance()
		return p.parseRegisterValue(tok.Value)

	case ExprTokenSymbol:
		p.advance()
		if addr, exists := p.symbols[tok.Value]; exists {
			return addr, nil
		}
		return 0, fmt.Errorf("unknown symbol: %s", tok.Value)

	case ExprTokenValueRef:
		p.advance()
		numStr := strings.TrimPrefix(tok.Value, "$")
		num, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid value reference: %s", tok.Value)
		}
		return p.eval.GetValue(num)

	case ExprTokenLParen:
		p.advance()
		result, err := p.parseExpression(0)
		if err != nil {
			return 0, err
		}
		if p.currentToken().Type != ExprTokenRParen {
			return 0, fmt.Errorf("expected ')', got %s", p.currentToken().Value)
		}
		p.advance()
		return result, nil

	case ExprTokenLBracket:
		p.advance()
		addr, err := p.parseExpression(0)
		if err != nil {
			return 0, err
		}
		if p.currentToken().Type != ExprTokenRBracket {
			return 0, fmt.Errorf("expected ']', got %s", p.currentToken().Value)
		}
		p.advance()
		return p.readMemWord(addr)

	case ExprTokenOperator:
		if tok.Value == "*" {
			p.advance()
			addr, err := p.parsePrimary()
			if err != nil {
				return 0, err
			}
			return p.readMemWord(addr)
		}
		return 0, fmt.Errorf("unexpected operator: %s", tok.Value)

	case ExprTokenStar:
		p.advance()
		addr, err := p.parsePrimary()
		if err != nil {
			return 0, err
		}
		return p.readMemWord(addr)

	default:
		return 0, fmt.Errorf("unexpected token: %s (%s)", tok.Value, tok.Type)
	}
}

func (p *ExprParser) readMemWord(addr uint64) (uint64, error) {
	b, err := p.mem.ReadAt(addr, 8)
	if err != nil {
		return 0, fmt.Errorf("failed to read memory at %#x: %w", addr, err)
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// parseNumberValue parses a number string to uint64
func (p *ExprParser) parseNumberValue(s string) (uint64, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(strings.ToLower(s), "0x") {
		val, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	if strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B") {
		val, err := strconv.ParseUint(s[2:], 2, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	if strings.HasPrefix(s, "0") && len(s) > 1 && !strings.ContainsAny(s, "89") {
		val, err := strconv.ParseUint(s, 8, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}

	return uint64(val), nil
}

// parseRegisterValue gets the value of a register
func (p *ExprParser) parseRegisterValue(reg string) (uint64, error) {
	reg = strings.ToLower(reg)

	idx, ok := service.RegisterIndex(reg)
	if !ok {
		return 0, fmt.Errorf("invalid register: %s", reg)
	}
	switch idx {
	case service.RIPIndex:
		return p.state.RIP, nil
	case service.FlagsIndex:
		return p.state.Flags, nil
	default:
		return p.state.GPR[idx], nil
	}
}

// applyOperator applies a binary operator to two values
func (p *ExprParser) applyOperator(left, right uint64, op string) (uint64, error) {
	switch op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case "&":
		return left & right, nil
	case "|":
		return left | right, nil
	case "^":
		return left ^ right, nil
	case "<<":
		return left << right, nil
	case ">>":
		return left >> right, nil
	default:
		return 0, fmt.Errorf("unknown operator: %s", op)
	}
}
