package script

import "context"

// Bridge executes an external script body (spec.md §4.9) and returns its
// result as a Value. Implementations are responsible for any locking their
// interpreter requires: a node calling script() is scheduled on the
// sequential part of its level (script/builtin_meta.go), but several
// script() calls given as arguments of one fan-out built-in such as avg()
// can still reach Run from different goroutines at once.
type Bridge interface {
	Run(ctx context.Context, kind string, source string, args []Value) (Value, error)
}
