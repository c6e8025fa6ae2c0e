package funcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/cellcalc/internal/calc"
	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/formula"
)

// Builtins returns a registry with the sys functions SUM, AVERAGE, MIN,
// MAX, COUNT, CONCAT and IF.
func Builtins() *Registry {
	r := NewRegistry()
	ns := formula.DefaultNamespace
	r.MustRegister(ns, "SUM", sum)
	r.MustRegister(ns, "AVERAGE", average)
	r.MustRegister(ns, "MIN", minimum)
	r.MustRegister(ns, "MAX", maximum)
	r.MustRegister(ns, "COUNT", count)
	r.MustRegister(ns, "CONCAT", concat)
	r.MustRegister(ns, "IF", ifFunc)
	return r
}

// flatten expands range arguments into their members.
func flatten(args []cell.Value) []cell.Value {
	var out []cell.Value
	for _, a := range args {
		if l, ok := a.(cell.List); ok {
			out = append(out, flatten(l)...)
			continue
		}
		out = append(out, a)
	}
	return out
}

// numbers collects numeric arguments. Direct arguments are coerced; range
// members that are not numbers are ignored, as spreadsheets do.
func numbers(args []cell.Value) ([]float64, error) {
	var out []float64
	for _, a := range args {
		if l, ok := a.(cell.List); ok {
			for _, v := range flatten(l) {
				if n, ok := v.(cell.Number); ok {
					out = append(out, float64(n))
				}
			}
			continue
		}
		f, err := formula.ToNumber(a)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func sum(_ context.Context, inv calc.Invocation) (cell.Value, error) {
	nums, err := numbers(inv.Args)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return cell.Number(total), nil
}

func average(_ context.Context, inv calc.Invocation) (cell.Value, error) {
	nums, err := numbers(inv.Args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, formula.ErrDivZero
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return cell.Number(total / float64(len(nums))), nil
}

func minimum(_ context.Context, inv calc.Invocation) (cell.Value, error) {
	nums, err := numbers(inv.Args)
	if err != nil || len(nums) == 0 {
		return cell.Number(0), err
	}
	m := nums[0]
	for _, n := range nums[1:] {
		m = min(m, n)
	}
	return cell.Number(m), nil
}

func maximum(_ context.Context, inv calc.Invocation) (cell.Value, error) {
	nums, err := numbers(inv.Args)
	if err != nil || len(nums) == 0 {
		return cell.Number(0), err
	}
	m := nums[0]
	for _, n := range nums[1:] {
		m = max(m, n)
	}
	return cell.Number(m), nil
}

// count counts numeric values, ignoring everything else.
func count(_ context.Context, inv calc.Invocation) (cell.Value, error) {
	n := 0
	for _, v := range flatten(inv.Args) {
		if _, ok := v.(cell.Number); ok {
			n++
		}
	}
	return cell.Number(n), nil
}

func concat(_ context.Context, inv calc.Invocation) (cell.Value, error) {
	var b strings.Builder
	for _, v := range flatten(inv.Args) {
		b.WriteString(cell.Format(v))
	}
	return cell.Text(b.String()), nil
}

// ifFunc picks a branch. The evaluator only computes the branch the
// condition selects and passes Null for the other one.
func ifFunc(_ context.Context, inv calc.Invocation) (cell.Value, error) {
	if len(inv.Args) < 2 || len(inv.Args) > 3 {
		return nil, fmt.Errorf("IF takes 2 or 3 arguments, got %d", len(inv.Args))
	}
	cond, err := formula.ToBool(inv.Args[0])
	if err != nil {
		return nil, err
	}
	if cond {
		return inv.Args[1], nil
	}
	if len(inv.Args) == 3 {
		return inv.Args[2], nil
	}
	return cell.Bool(false), nil
}
