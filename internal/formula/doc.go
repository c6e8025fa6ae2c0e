// Package formula turns formula text into something the calculator can run.
//
// Tokenizing is delegated to github.com/xuri/efp, the Excel formula parser
// used by excelize. On top of the token stream this package builds a small
// expression tree with the usual spreadsheet precedence:
//
//	comparison  = <> < > <= >=
//	concat      &
//	additive    + -
//	multiply    * /
//	power       ^
//	prefix      - +
//	postfix     %
//	primary     literal, cell, range, function call, ( ... )
//
// Operands (cells and ranges a formula reads) are extracted from the same
// token stream, so the reference graph and the evaluator always agree on
// what a formula depends on.
//
// Function calls are resolved through Env.Call with a namespace and name.
// Bare names ("SUM") live in the DefaultNamespace; dotted names
// ("stats.MEDIAN") name their namespace explicitly.
package formula
