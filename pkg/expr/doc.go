// Package expr implements the whitelisted, pre-compiled expression
// evaluator used by gate nodes to decide which outbound edge a row
// takes. The grammar is a small, explicitly enumerated subset of
// expression syntax: literals, row["field"] / row.get("field"[, default]),
// comparisons (including chained and "in"/"is None" forms), boolean
// operators, arithmetic, unary minus, and the ternary "a if cond else b"
// form. Anything outside that whitelist — attribute access other than
// row.get, arbitrary function calls, comprehensions, lambdas, or any
// identifier other than row — is rejected at parse time rather than at
// evaluation time. Evaluation never performs host I/O.
package expr
