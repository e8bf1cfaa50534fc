// Package formula evaluates the restricted arithmetic used in message impacts.
//
// The language has numeric literals, identifiers resolved from game
// variables, unary minus, + - * / and parentheses. There are no function
// calls, assignments or control flow, so a formula can never do more than
// compute a number.
//
// Formulas are parsed once when definitions are loaded (syntax errors are
// configuration errors) and evaluated per emission (unknown variables and
// division by zero are evaluation errors).
package formula
