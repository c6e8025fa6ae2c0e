package formula

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/cellcalc/internal/cell"
)

// Env supplies operand values and function implementations to Eval.
type Env interface {
	// Cell returns the value of a single-cell operand.
	Cell(ctx context.Context, op Operand) (cell.Value, error)

	// Range returns the values of a range operand's members.
	Range(ctx context.Context, op Operand) (cell.List, error)

	// Call invokes a function with evaluated arguments.
	Call(ctx context.Context, namespace, name string, args []cell.Value) (cell.Value, error)
}

// Excel-style evaluation errors.
var (
	ErrDivZero = errors.New("#DIV/0!")
	ErrValue   = errors.New("#VALUE!")
)

// Eval evaluates the formula against env. Operand and call errors are
// returned unchanged so callers can inspect typed errors.
func (f *Formula) Eval(ctx context.Context, env Env) (cell.Value, error) {
	v, err := eval(ctx, env, f.Root)
	if err != nil {
		return nil, err
	}
	return cell.Resolve(v), nil
}

func eval(ctx context.Context, env Env, n Node) (cell.Value, error) {
	switch n := n.(type) {
	case Literal:
		return n.Value, nil

	case ErrorLiteral:
		return nil, fmt.Errorf("%s", n.Code)

	case CellRef:
		return env.Cell(ctx, n.Operand)

	case RangeRef:
		return env.Range(ctx, n.Operand)

	case Unary:
		x, err := eval(ctx, env, n.X)
		if err != nil {
			return nil, err
		}
		return evalUnary(n, x)

	case Binary:
		l, err := eval(ctx, env, n.L)
		if err != nil {
			return nil, err
		}
		r, err := eval(ctx, env, n.R)
		if err != nil {
			return nil, err
		}
		return evalBinary(n.Op, l, r)

	case Call:
		if n.Namespace == DefaultNamespace && n.Name == "IF" && (len(n.Args) == 2 || len(n.Args) == 3) {
			return evalIf(ctx, env, n)
		}
		args := make([]cell.Value, 0, len(n.Args))
		for _, a := range n.Args {
			v, err := eval(ctx, env, a)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return env.Call(ctx, n.Namespace, n.Name, args)
	}

	return nil, fmt.Errorf("unknown node %T", n)
}

// evalIf evaluates the condition and only the branch it selects, so
// =IF(A1>0,B1/A1,0) is 0 when A1 is 0. The skipped branch is passed to the
// function as Null; the registered IF still picks the result.
func evalIf(ctx context.Context, env Env, n Call) (cell.Value, error) {
	cond, err := eval(ctx, env, n.Args[0])
	if err != nil {
		return nil, err
	}
	taken, err := ToBool(cond)
	if err != nil {
		return nil, err
	}

	args := make([]cell.Value, len(n.Args))
	args[0] = cond
	for i := 1; i < len(args); i++ {
		args[i] = cell.Null{}
	}
	branch := 2
	if taken {
		branch = 1
	}
	if branch < len(n.Args) {
		v, err := eval(ctx, env, n.Args[branch])
		if err != nil {
			return nil, err
		}
		args[branch] = v
	}
	return env.Call(ctx, n.Namespace, n.Name, args)
}

func evalUnary(n Unary, x cell.Value) (cell.Value, error) {
	f, err := ToNumber(x)
	if err != nil {
		return nil, err
	}
	switch {
	case n.Postfix && n.Op == "%":
		return cell.Number(f / 100), nil
	case !n.Postfix && n.Op == "-":
		return cell.Number(-f), nil
	case !n.Postfix && n.Op == "+":
		return cell.Number(f), nil
	}
	return nil, fmt.Errorf("unknown operator %q", n.Op)
}

func evalBinary(op string, l, r cell.Value) (cell.Value, error) {
	switch op {
	case "&":
		return cell.Text(cell.Format(scalar(l)) + cell.Format(scalar(r))), nil
	case "=", "<>", "<", ">", "<=", ">=":
		c := Compare(scalar(l), scalar(r))
		return cell.Bool(compareResult(op, c)), nil
	}

	a, err := ToNumber(l)
	if err != nil {
		return nil, err
	}
	b, err := ToNumber(r)
	if err != nil {
		return nil, err
	}

	var out float64
	switch op {
	case "+":
		out = a + b
	case "-":
		out = a - b
	case "*":
		out = a * b
	case "/":
		if b == 0 {
			return nil, ErrDivZero
		}
		out = a / b
	case "^":
		out = math.Pow(a, b)
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}

	if math.IsNaN(out) || math.IsInf(out, 0) {
		return nil, fmt.Errorf("%w: %v %s %v", ErrValue, a, op, b)
	}
	return cell.Number(out), nil
}

func compareResult(op string, c int) bool {
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case ">":
		return c > 0
	case "<=":
		return c <= 0
	default:
		return c >= 0
	}
}

// scalar unwraps single-member lists.
func scalar(v cell.Value) cell.Value {
	v = cell.Resolve(v)
	if l, ok := v.(cell.List); ok && len(l) == 1 {
		return scalar(l[0])
	}
	return v
}

// ToNumber coerces a value for arithmetic. Null reads as 0, booleans as
// 1/0, numeric text is parsed. Anything else is a #VALUE! error.
func ToNumber(v cell.Value) (float64, error) {
	switch val := scalar(v).(type) {
	case cell.Null:
		return 0, nil
	case cell.Number:
		return float64(val), nil
	case cell.Bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case cell.Text:
		s := strings.TrimSpace(string(val))
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrValue, s)
		}
		return f, nil
	case cell.List:
		return 0, fmt.Errorf("%w: range of %d cells used as a number", ErrValue, len(val))
	}
	return 0, fmt.Errorf("%w: %T", ErrValue, v)
}

// ToBool coerces a value for logical tests.
func ToBool(v cell.Value) (bool, error) {
	switch val := scalar(v).(type) {
	case cell.Bool:
		return bool(val), nil
	case cell.Text:
		switch strings.ToUpper(strings.TrimSpace(string(val))) {
		case "TRUE":
			return true, nil
		case "FALSE", "":
			return false, nil
		}
		return false, fmt.Errorf("%w: %q is not a logical value", ErrValue, string(val))
	}
	f, err := ToNumber(v)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

// Compare orders two scalars the way spreadsheets do: numbers < text <
// booleans, text compared case-insensitively. Null compares as the zero
// value of the other side.
func Compare(a, b cell.Value) int {
	a, b = cell.Resolve(a), cell.Resolve(b)
	if _, ok := a.(cell.Null); ok {
		a = zeroLike(b)
	}
	if _, ok := b.(cell.Null); ok {
		b = zeroLike(a)
	}

	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}

	switch av := a.(type) {
	case cell.Number:
		return cmpFloat(float64(av), float64(b.(cell.Number)))
	case cell.Text:
		return strings.Compare(strings.ToLower(string(av)), strings.ToLower(string(b.(cell.Text))))
	case cell.Bool:
		bv := b.(cell.Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	}
	return 0
}

func zeroLike(v cell.Value) cell.Value {
	switch v.(type) {
	case cell.Text:
		return cell.Text("")
	case cell.Bool:
		return cell.Bool(false)
	default:
		return cell.Number(0)
	}
}

func rank(v cell.Value) int {
	switch v.(type) {
	case cell.Number:
		return 0
	case cell.Text:
		return 1
	case cell.Bool:
		return 2
	default:
		return 3
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
