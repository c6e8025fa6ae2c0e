package formula

import (
	"fmt"
	"strings"

	"github.com/xuri/efp"

	"github.com/roach88/cellcalc/internal/cell"
)

// DefaultNamespace is the namespace for function names without a dot.
const DefaultNamespace = "sys"

// Operand is a cell or range read by a formula.
type Operand struct {
	// Text is the operand as written, e.g. "$A$1" or "A1:B3".
	Text string

	// Key is set for single-cell operands.
	Key cell.Key

	// Range is set for range operands.
	Range cell.Range

	// IsRange distinguishes range operands from single cells.
	IsRange bool
}

// String returns the normalized operand.
func (o Operand) String() string {
	if o.IsRange {
		return o.Range.String()
	}
	return string(o.Key)
}

// tokenize runs the efp tokenizer over a formula body and drops whitespace.
// The leading "=" is optional.
func tokenize(text string) (toks []efp.Token, err error) {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "="))
	if body == "" {
		return nil, fmt.Errorf("empty formula")
	}

	defer func() {
		if r := recover(); r != nil {
			toks = nil
			err = fmt.Errorf("tokenize %q: %v", body, r)
		}
	}()

	ps := efp.ExcelParser()
	all := ps.Parse(body)
	if len(all) == 0 {
		return nil, fmt.Errorf("tokenize %q: no tokens", body)
	}

	toks = make([]efp.Token, 0, len(all))
	for _, tok := range all {
		switch tok.TType {
		case efp.TokenTypeWhitespace:
			continue
		case efp.TokenTypeUnknown:
			return nil, fmt.Errorf("tokenize %q: unexpected %q", body, tok.TValue)
		}
		toks = append(toks, tok)
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("tokenize %q: no tokens", body)
	}
	return toks, nil
}

// parseOperand classifies a range-subtype efp operand.
func parseOperand(text string) (Operand, error) {
	if strings.Contains(text, "!") {
		return Operand{}, fmt.Errorf("cross-sheet reference %q not supported", text)
	}
	if strings.Contains(text, ":") {
		r, err := cell.ParseRange(text)
		if err != nil {
			return Operand{}, err
		}
		return Operand{Text: text, Range: r, IsRange: true}, nil
	}
	key, err := cell.Normalize(text)
	if err != nil {
		return Operand{}, fmt.Errorf("unknown name %q", text)
	}
	return Operand{Text: text, Key: key}, nil
}

// Operands extracts the cells and ranges a formula reads, in order of first
// appearance and without duplicates. text may include the leading "=".
func Operands(text string) ([]Operand, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	var out []Operand
	seen := make(map[string]bool)
	for _, tok := range toks {
		if tok.TType != efp.TokenTypeOperand || tok.TSubType != efp.TokenSubTypeRange {
			continue
		}
		op, err := parseOperand(tok.TValue)
		if err != nil {
			return nil, err
		}
		if seen[op.String()] {
			continue
		}
		seen[op.String()] = true
		out = append(out, op)
	}
	return out, nil
}

// SplitName splits a function token into namespace and name.
// "SUM" -> ("sys", "SUM"); "stats.median" -> ("stats", "MEDIAN").
func SplitName(fn string) (namespace, name string) {
	fn = strings.TrimSpace(fn)
	if i := strings.LastIndex(fn, "."); i > 0 && i < len(fn)-1 {
		return fn[:i], strings.ToUpper(fn[i+1:])
	}
	return DefaultNamespace, strings.ToUpper(fn)
}
