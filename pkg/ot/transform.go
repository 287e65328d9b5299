package ot

import (
	"fmt"
	"unicode/utf8"
)

// Side breaks ties when two operations insert at the same position.
type Side int

const (
	// SideLeft places this operation's insert after the other's.
	SideLeft Side = iota
	// SideRight places this operation's insert before the other's.
	SideRight
)

// Transform rewrites op1 so it can be applied after op2, where both were
// authored against the same base document. It satisfies TP1:
//
//	apply(apply(base, op2), Transform(op1, op2, SideLeft))
//	  == apply(apply(base, op1), Transform(op2, op1, SideRight))
//
// Returns ErrIncompatibleOperations when the two inputs do not cover the
// same base length.
func Transform(op1, op2 Operation, side Side) (Operation, error) {
	// Work on copies; counts are consumed in place during the walk.
	a := append(Operation(nil), op1...)
	b := append(Operation(nil), op2...)

	var out Operation
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		if i < len(a) && a[i].Type == TypeInsert {
			if side == SideLeft && j < len(b) && b[j].Type == TypeInsert {
				// The other side's insert lands first; step over it.
				out = append(out, Retain(utf8.RuneCountInString(b[j].Text)))
				j++
				continue
			}
			out = append(out, a[i])
			i++
			continue
		}
		if j < len(b) && b[j].Type == TypeInsert {
			out = append(out, Retain(utf8.RuneCountInString(b[j].Text)))
			j++
			continue
		}
		if i >= len(a) || j >= len(b) {
			// Residual retain/delete mass on one side only.
			return nil, fmt.Errorf("%w: base lengths %d and %d", ErrIncompatibleOperations, op1.BaseLen(), op2.BaseLen())
		}

		n := a[i].Count
		if b[j].Count < n {
			n = b[j].Count
		}
		switch {
		case a[i].Type == TypeRetain && b[j].Type == TypeRetain:
			out = append(out, Retain(n))
		case a[i].Type == TypeRetain && b[j].Type == TypeDelete:
			// Region already removed by op2; nothing to keep.
		case a[i].Type == TypeDelete && b[j].Type == TypeRetain:
			out = append(out, Delete(n))
		case a[i].Type == TypeDelete && b[j].Type == TypeDelete:
			// Both deleted the same region; op2 already did it.
		default:
			return nil, fmt.Errorf("%w: unknown primitive", ErrInvalidOperation)
		}
		a[i].Count -= n
		if a[i].Count == 0 {
			i++
		}
		b[j].Count -= n
		if b[j].Count == 0 {
			j++
		}
	}
	return out.Compact(), nil
}
