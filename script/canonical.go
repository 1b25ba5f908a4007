package script

import (
	"strconv"
	"strings"
)

// Canonical renders a whitespace- and quoting-normalized textual form of the
// expression, used as the input to the structural AST hash in
// script/hash.go. It deliberately is NOT used as the memoization key itself
// (spec.md §9 calls out that keying by literal text lets cosmetically
// different but semantically identical expressions miss each other's cache
// entries only by accident).
func (n *NumberLiteral) Canonical() string {
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

func (s *StringLiteral) Canonical() string {
	return strconv.Quote(s.Value)
}

func (i *Identifier) Canonical() string {
	return i.Name
}

func (u *UnaryOp) Canonical() string {
	return string(u.Op) + u.Operand.Canonical()
}

func (b *BinaryOp) Canonical() string {
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(b.Left.Canonical())
	sb.WriteByte(' ')
	sb.WriteByte(b.Op)
	sb.WriteByte(' ')
	sb.WriteString(b.Right.Canonical())
	sb.WriteByte(')')
	return sb.String()
}

func (f *FunctionCall) Canonical() string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(f.Name))
	sb.WriteByte('(')
	for i, a := range f.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		if a.Name != "" {
			sb.WriteString(strings.ToLower(a.Name))
			sb.WriteByte('=')
		}
		sb.WriteString(a.Expr.Canonical())
	}
	sb.WriteByte(')')
	return sb.String()
}
