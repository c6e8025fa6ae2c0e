package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/efp"

	"github.com/roach88/cellcalc/internal/cell"
)

// Node is an expression tree node.
type Node interface {
	node() // Sealed
}

// Literal is a constant value.
type Literal struct {
	Value cell.Value
}

// ErrorLiteral is an Excel error constant such as #DIV/0!.
type ErrorLiteral struct {
	Code string
}

// CellRef reads a single cell.
type CellRef struct {
	Operand Operand
}

// RangeRef reads every known cell inside a range.
type RangeRef struct {
	Operand Operand
}

// Unary is a prefix (-, +) or postfix (%) operation.
type Unary struct {
	Op      string
	Postfix bool
	X       Node
}

// Binary is an infix operation.
type Binary struct {
	Op   string
	L, R Node
}

// Call invokes a function resolved through Env.Call.
type Call struct {
	Namespace string
	Name      string
	Args      []Node
}

func (Literal) node()      {}
func (ErrorLiteral) node() {}
func (CellRef) node()      {}
func (RangeRef) node()     {}
func (Unary) node()        {}
func (Binary) node()       {}
func (Call) node()         {}

// Formula is a parsed formula.
type Formula struct {
	Source   string
	Root     Node
	operands []Operand
}

// Operands returns the cells and ranges the formula reads.
func (f *Formula) Operands() []Operand {
	return append([]Operand(nil), f.operands...)
}

// Parse tokenizes and parses formula text. The leading "=" is optional.
func Parse(text string) (*Formula, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks, seen: make(map[string]bool)}
	root, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected %q at token %d", p.peek().TValue, p.pos)
	}

	return &Formula{Source: text, Root: root, operands: p.operands}, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(text string) *Formula {
	f, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return f
}

type parser struct {
	toks     []efp.Token
	pos      int
	operands []Operand
	seen     map[string]bool
}

func (p *parser) done() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) peek() efp.Token {
	if p.done() {
		return efp.Token{}
	}
	return p.toks[p.pos]
}

func (p *parser) next() efp.Token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *parser) isInfix(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.TType != efp.TokenTypeOperatorInfix {
		return "", false
	}
	for _, op := range ops {
		if tok.TValue == op {
			return op, true
		}
	}
	return "", false
}

// binaryLevel parses a left-associative chain of ops over sub.
func (p *parser) binaryLevel(sub func() (Node, error), ops ...string) (Node, error) {
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isInfix(ops...)
		if !ok {
			return left, nil
		}
		p.next()
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, L: left, R: right}
	}
}

func (p *parser) parseComparison() (Node, error) {
	return p.binaryLevel(p.parseConcat, "=", "<>", "<", ">", "<=", ">=")
}

func (p *parser) parseConcat() (Node, error) {
	return p.binaryLevel(p.parseAdditive, "&")
}

func (p *parser) parseAdditive() (Node, error) {
	return p.binaryLevel(p.parseMultiplicative, "+", "-")
}

func (p *parser) parseMultiplicative() (Node, error) {
	return p.binaryLevel(p.parsePower, "*", "/")
}

func (p *parser) parsePower() (Node, error) {
	return p.binaryLevel(p.parseUnary, "^")
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.TType == efp.TokenTypeOperatorPrefix {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: tok.TValue, X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().TType == efp.TokenTypeOperatorPostfix {
		op := p.next().TValue
		x = Unary{Op: op, Postfix: true, X: x}
	}
	return x, nil
}

func (p *parser) parsePrimary() (Node, error) {
	if p.done() {
		return nil, fmt.Errorf("unexpected end of formula")
	}
	tok := p.next()

	switch tok.TType {
	case efp.TokenTypeOperand:
		return p.parseOperandToken(tok)

	case efp.TokenTypeFunction:
		if tok.TSubType != efp.TokenSubTypeStart {
			return nil, fmt.Errorf("unexpected %q", ")")
		}
		return p.parseCall(tok.TValue)

	case efp.TokenTypeSubexpression:
		if tok.TSubType != efp.TokenSubTypeStart {
			return nil, fmt.Errorf("unexpected %q", ")")
		}
		x, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.TType != efp.TokenTypeSubexpression || closing.TSubType != efp.TokenSubTypeStop {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return x, nil
	}

	return nil, fmt.Errorf("unexpected %q", tok.TValue)
}

func (p *parser) parseOperandToken(tok efp.Token) (Node, error) {
	switch tok.TSubType {
	case efp.TokenSubTypeNumber:
		f, err := strconv.ParseFloat(tok.TValue, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", tok.TValue)
		}
		return Literal{Value: cell.Number(f)}, nil

	case efp.TokenSubTypeText:
		return Literal{Value: cell.Text(tok.TValue)}, nil

	case efp.TokenSubTypeLogical:
		return Literal{Value: cell.Bool(strings.EqualFold(tok.TValue, "TRUE"))}, nil

	case efp.TokenSubTypeError:
		return ErrorLiteral{Code: tok.TValue}, nil

	case efp.TokenSubTypeRange:
		op, err := parseOperand(tok.TValue)
		if err != nil {
			return nil, err
		}
		if !p.seen[op.String()] {
			p.seen[op.String()] = true
			p.operands = append(p.operands, op)
		}
		if op.IsRange {
			return RangeRef{Operand: op}, nil
		}
		return CellRef{Operand: op}, nil
	}

	return nil, fmt.Errorf("unsupported operand %q", tok.TValue)
}

func (p *parser) parseCall(fn string) (Node, error) {
	ns, name := SplitName(fn)
	call := Call{Namespace: ns, Name: name}

	if isStop(p.peek()) {
		p.next()
		return call, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		tok := p.next()
		switch {
		case tok.TType == efp.TokenTypeArgument:
			continue
		case isStop(tok):
			return call, nil
		default:
			return nil, fmt.Errorf("%s: missing closing parenthesis", fn)
		}
	}
}

func isStop(tok efp.Token) bool {
	return tok.TType == efp.TokenTypeFunction && tok.TSubType == efp.TokenSubTypeStop
}
