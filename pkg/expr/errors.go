package expr

import "fmt"

// SyntaxError is returned when an expression cannot be parsed at all.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: syntax error at position %d in %q: %s", e.Pos, e.Expr, e.Msg)
}

// SecurityError is returned when an expression parses but uses a
// construct outside the whitelist (attribute access, function calls
// other than row.get, comprehensions, lambdas, and so on).
type SecurityError struct {
	Expr string
	Msg  string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("expr: rejected %q: %s", e.Expr, e.Msg)
}
