package formula

import (
	"fmt"
	"math"

	"github.com/roach88/podwire/internal/ir"
)

// Formula is a parsed, immutable arithmetic expression.
// Safe for concurrent use.
type Formula struct {
	src  string
	root Node
}

// Parse compiles src into a Formula.
//
// Grammar (standard precedence, left-associative):
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/") unary }
//	unary  = ("-" | "+") unary | primary
//	primary = number | ident | "(" expr ")"
func Parse(src string) (*Formula, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.expr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
	return &Formula{src: src, root: root}, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(src string) *Formula {
	f, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return f
}

// Evaluate parses and evaluates src in one step.
func Evaluate(src string, vars ir.Variables) (float64, error) {
	f, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return f.Eval(vars)
}

// String returns the source text.
func (f *Formula) String() string { return f.src }

// Root returns the parsed expression tree.
func (f *Formula) Root() Node { return f.root }

// Variables returns the identifiers referenced by the formula in source order.
func (f *Formula) Variables() []string {
	return identifiers(f.root, map[string]bool{}, nil)
}

// Eval evaluates the formula against vars.
func (f *Formula) Eval(vars ir.Variables) (float64, error) {
	v, err := eval(f.root, vars)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, &ArithmeticError{Msg: fmt.Sprintf("non-finite result in %q", f.src)}
	}
	return v, nil
}

func eval(n Node, vars ir.Variables) (float64, error) {
	switch node := n.(type) {
	case Number:
		return node.Value, nil
	case Ident:
		raw, ok := vars[node.Name]
		if !ok {
			return 0, &VariableError{Name: node.Name, Err: ErrUnknownVariable}
		}
		v, ok := ir.ToNumber(raw)
		if !ok {
			return 0, &VariableError{Name: node.Name, Err: ErrNotNumeric}
		}
		return v, nil
	case Unary:
		v, err := eval(node.Operand, vars)
		if err != nil {
			return 0, err
		}
		if node.Op == '-' {
			return -v, nil
		}
		return v, nil
	case Binary:
		l, err := eval(node.Left, vars)
		if err != nil {
			return 0, err
		}
		r, err := eval(node.Right, vars)
		if err != nil {
			return 0, err
		}
		switch node.Op {
		case '+':
			return l + r, nil
		case '-':
			return l - r, nil
		case '*':
			return l * r, nil
		case '/':
			if r == 0 {
				return 0, &ArithmeticError{Msg: "division by zero"}
			}
			return l / r, nil
		}
		return 0, fmt.Errorf("unsupported operator %q", node.Op)
	default:
		return 0, fmt.Errorf("unsupported node type: %T", n)
	}
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expr() (Node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: tok.text[0], Left: left, Right: right}
	}
}

func (p *parser) term() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: tok.text[0], Left: left, Right: right}
	}
}

func (p *parser) unary() (Node, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "-" || tok.text == "+") {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: tok.text[0], Operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return Number{Value: tok.num}, nil
	case tokIdent:
		return Ident{Name: tok.text}, nil
	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: "missing closing parenthesis"}
		}
		return inner, nil
	case tokEOF:
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected end of formula"}
	default:
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
}
