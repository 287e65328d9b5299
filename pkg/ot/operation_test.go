package ot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		op      Operation
		want    string
	}{
		{
			name:    "insert into empty document",
			content: "",
			op:      Operation{Insert("hello world")},
			want:    "hello world",
		},
		{
			name:    "insert at front",
			content: "abc",
			op:      Operation{Insert("x"), Retain(3)},
			want:    "xabc",
		},
		{
			name:    "delete prefix",
			content: "hello world",
			op:      Operation{Delete(5), Retain(6)},
			want:    " world",
		},
		{
			name:    "replace middle",
			content: "hello world",
			op:      Operation{Retain(6), Delete(5), Insert("there")},
			want:    "hello there",
		},
		{
			name:    "multibyte code points retained by count",
			content: "héllo",
			op:      Operation{Retain(2), Delete(3), Insert("y")},
			want:    "héy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op.Apply(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyErrors(t *testing.T) {
	_, err := Operation{Retain(4)}.Apply("abc")
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = Operation{Delete(4)}.Apply("abc")
	assert.ErrorIs(t, err, ErrInvalidOperation)

	// Underrun: operation must cover the document exactly.
	_, err = Operation{Retain(2)}.Apply("abc")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestValidate(t *testing.T) {
	op := Operation{Retain(3), Insert("x"), Delete(2)}
	require.NoError(t, op.Validate(5))

	assert.ErrorIs(t, op.Validate(4), ErrInvalidOperation)
	assert.ErrorIs(t, Operation{Retain(0)}.Validate(0), ErrInvalidOperation)
	assert.ErrorIs(t, Operation{Insert("")}.Validate(0), ErrInvalidOperation)
	assert.ErrorIs(t, Operation{{Type: "replace", Count: 1}}.Validate(1), ErrInvalidOperation)
}

func TestCompact(t *testing.T) {
	op := Operation{Retain(1), Retain(2), Insert("a"), Insert("b"), Delete(0), Delete(3), Retain(0)}
	want := Operation{Retain(3), Insert("ab"), Delete(3)}

	got := op.Compact()
	assert.Equal(t, want, got)

	// Idempotent.
	assert.Equal(t, want, got.Compact())
}

func TestLengths(t *testing.T) {
	op := Operation{Retain(3), Insert("héllo"), Delete(2)}
	assert.Equal(t, 5, op.BaseLen())
	assert.Equal(t, 8, op.TargetLen())
}

func TestWireFormat(t *testing.T) {
	op := Operation{Retain(3), Insert("hi"), Delete(1)}
	data, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"retain","count":3},{"type":"insert","text":"hi"},{"type":"delete","count":1}]`, string(data))

	var back Operation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, op, back)
}
