package script

import (
	"hash/maphash"
)

// astSeed is shared by every hash computation in a process so that equal
// ASTs always hash to the same value within a run. It deliberately is not
// randomized per-call (maphash.Seed is normally randomized per process,
// which is fine here since memo keys never leave the process).
var astSeed = maphash.MakeSeed()

// HashExpr computes a structural hash of an expression tree for use as a
// memoization key (spec.md §9): two expressions that differ only in
// whitespace or quoting style still reduce to the same Canonical() text and
// therefore the same hash (argument order is kept as written, so avg(1, 2)
// and avg(2, 1) hash differently), while
// the AST shape (not the literal source bytes) is what is fed in.
func HashExpr(e Expr) uint64 {
	var h maphash.Hash
	h.SetSeed(astSeed)
	writeExprHash(&h, e)
	return h.Sum64()
}

func writeExprHash(h *maphash.Hash, e Expr) {
	if e == nil {
		h.WriteByte(0)
		return
	}
	h.WriteString(e.Canonical())
}

// HashAssignments computes a combined hash over a set of dependency values
// and an expression, used to key the memo cache on both the expression
// itself and the resolved values it closes over (spec.md §9: two
// structurally identical expressions with different captured values must
// not collide).
func HashAssignments(expr Expr, depHashes []uint64) uint64 {
	var h maphash.Hash
	h.SetSeed(astSeed)
	writeExprHash(&h, expr)
	for _, d := range depHashes {
		var buf [8]byte
		putUint64(buf[:], d)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
