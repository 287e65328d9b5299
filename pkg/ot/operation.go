// Package ot implements operational transformation for the collaborative
// editor: the operation value type, apply, and the transform function that
// resolves concurrent edits against the same document revision.
package ot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Primitive kinds as they appear on the wire.
const (
	TypeRetain = "retain"
	TypeInsert = "insert"
	TypeDelete = "delete"
)

var (
	// ErrInvalidOperation marks operations whose shape does not match the
	// document they are applied to (length mismatch, empty insert,
	// non-positive count).
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrIncompatibleOperations marks two operations handed to Transform
	// that were not authored against the same base length.
	ErrIncompatibleOperations = errors.New("incompatible operations")
)

// Op is a single primitive of an operation. Exactly one of Count/Text is
// meaningful depending on Type: retain and delete carry Count, insert
// carries Text.
type Op struct {
	Type  string `json:"type"`
	Count int    `json:"count,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Retain advances the cursor n code points without change.
func Retain(n int) Op { return Op{Type: TypeRetain, Count: n} }

// Insert inserts text at the cursor.
func Insert(text string) Op { return Op{Type: TypeInsert, Text: text} }

// Delete removes n code points starting at the cursor.
func Delete(n int) Op { return Op{Type: TypeDelete, Count: n} }

// Operation is an ordered sequence of primitives describing one edit.
// Operations are value types; nothing in this package mutates its receiver.
type Operation []Op

// BaseLen is the document length (in code points) the operation expects.
func (o Operation) BaseLen() int {
	n := 0
	for _, op := range o {
		switch op.Type {
		case TypeRetain, TypeDelete:
			n += op.Count
		}
	}
	return n
}

// TargetLen is the document length after the operation is applied.
func (o Operation) TargetLen() int {
	n := 0
	for _, op := range o {
		switch op.Type {
		case TypeRetain:
			n += op.Count
		case TypeInsert:
			n += utf8.RuneCountInString(op.Text)
		}
	}
	return n
}

// Validate checks that the operation is well formed against a document of
// baseLen code points: all counts positive, all inserts non-empty, and
// retain+delete mass covering the base exactly.
func (o Operation) Validate(baseLen int) error {
	for _, op := range o {
		switch op.Type {
		case TypeRetain, TypeDelete:
			if op.Count < 1 {
				return fmt.Errorf("%w: %s with count %d", ErrInvalidOperation, op.Type, op.Count)
			}
		case TypeInsert:
			if op.Text == "" {
				return fmt.Errorf("%w: empty insert", ErrInvalidOperation)
			}
		default:
			return fmt.Errorf("%w: unknown primitive %q", ErrInvalidOperation, op.Type)
		}
	}
	if got := o.BaseLen(); got != baseLen {
		return fmt.Errorf("%w: operation covers %d code points, document has %d", ErrInvalidOperation, got, baseLen)
	}
	return nil
}

// Apply runs the operation over content and returns the resulting text.
// Offsets are in code points. The operation must cover content exactly.
func (o Operation) Apply(content string) (string, error) {
	runes := []rune(content)
	cursor := 0
	var b strings.Builder

	for _, op := range o {
		switch op.Type {
		case TypeRetain:
			if cursor+op.Count > len(runes) {
				return "", fmt.Errorf("%w: retain past end of document", ErrInvalidOperation)
			}
			b.WriteString(string(runes[cursor : cursor+op.Count]))
			cursor += op.Count
		case TypeInsert:
			b.WriteString(op.Text)
		case TypeDelete:
			if cursor+op.Count > len(runes) {
				return "", fmt.Errorf("%w: delete past end of document", ErrInvalidOperation)
			}
			cursor += op.Count
		default:
			return "", fmt.Errorf("%w: unknown primitive %q", ErrInvalidOperation, op.Type)
		}
	}
	if cursor != len(runes) {
		return "", fmt.Errorf("%w: operation covers %d of %d code points", ErrInvalidOperation, cursor, len(runes))
	}
	return b.String(), nil
}

// Compact merges adjacent primitives of the same kind and drops zero-count
// entries, yielding the canonical form. Idempotent.
func (o Operation) Compact() Operation {
	out := make(Operation, 0, len(o))
	for _, op := range o {
		switch op.Type {
		case TypeRetain, TypeDelete:
			if op.Count == 0 {
				continue
			}
		case TypeInsert:
			if op.Text == "" {
				continue
			}
		}
		if n := len(out); n > 0 && out[n-1].Type == op.Type {
			switch op.Type {
			case TypeRetain, TypeDelete:
				out[n-1].Count += op.Count
			case TypeInsert:
				out[n-1].Text += op.Text
			}
			continue
		}
		out = append(out, op)
	}
	return out
}

// Identity returns the operation that retains a document of n code points
// unchanged. Identity(0) is the empty operation.
func Identity(n int) Operation {
	if n == 0 {
		return Operation{}
	}
	return Operation{Retain(n)}
}
