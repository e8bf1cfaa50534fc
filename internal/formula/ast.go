package formula

// Node is a parsed formula expression.
//
// This is a sealed interface - only types in this package implement it.
// The marker method enables exhaustive type switches in the evaluator.
//
// Node types:
//   - Number: numeric literal
//   - Ident: variable reference
//   - Unary: negation or identity
//   - Binary: + - * /
type Node interface {
	formulaNode()
}

// Number is a numeric literal.
type Number struct {
	Value float64
}

// Ident references a variable by name.
type Ident struct {
	Name string
}

// Unary applies a prefix operator ('-' or '+').
type Unary struct {
	Op      byte
	Operand Node
}

// Binary applies an infix operator ('+', '-', '*', '/').
type Binary struct {
	Op          byte
	Left, Right Node
}

func (Number) formulaNode() {}
func (Ident) formulaNode()  {}
func (Unary) formulaNode()  {}
func (Binary) formulaNode() {}

// identifiers collects variable names referenced by n, in source order,
// without duplicates.
func identifiers(n Node, seen map[string]bool, out []string) []string {
	switch node := n.(type) {
	case Ident:
		if !seen[node.Name] {
			seen[node.Name] = true
			out = append(out, node.Name)
		}
	case Unary:
		out = identifiers(node.Operand, seen, out)
	case Binary:
		out = identifiers(node.Left, seen, out)
		out = identifiers(node.Right, seen, out)
	}
	return out
}
