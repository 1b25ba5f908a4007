package script

// SectionKind classifies a Section by its role in the script.
type SectionKind int

const (
	SectionSingle SectionKind = iota
	SectionBatch
	SectionTmp
	SectionOutputs
	SectionParams
	SectionFunctionBody
	SectionAnonymous
)

// Script is the root AST node: an ordered sequence of top-level children.
type Script struct {
	Meta      *ParamsBlock
	Functions []*FunctionDef
	Sections  []*Section
}

// Section is an ordered group of assignments/expressions sharing a name.
type Section struct {
	Name        string
	Kind        SectionKind
	Batch       bool
	Assignments []*Assignment
	Includes    []*IncludeDef
}

// Assignment binds an optional variable name to an expression. When Name is
// empty, the node is an anonymous output with a synthesized label.
type Assignment struct {
	Name        string
	Synthesized bool
	Expr        Expr
	// Text preserves the original right-hand-side source text, used to
	// report "the expression that failed" verbatim rather than a
	// re-rendered canonical form (spec.md §7).
	Text string
	Pos  int
}

// Expr is the interface implemented by every expression AST node.
type Expr interface {
	exprNode()
	// Canonical renders a stable, whitespace-normalized textual form used
	// as an input to the AST hash (script/hash.go), not as the memo key
	// itself (spec.md §9: hash the AST, not the text).
	Canonical() string
}

// NumberLiteral is a numeric literal.
type NumberLiteral struct {
	Value float64
	Pos   int
}

func (*NumberLiteral) exprNode() {}

// StringLiteral is a double- or triple-quoted string literal.
type StringLiteral struct {
	Value string
	Pos   int
}

func (*StringLiteral) exprNode() {}

// Identifier references a variable, parameter, or reserved name.
type Identifier struct {
	Name string
	Pos  int
}

func (*Identifier) exprNode() {}

// UnaryOp is a unary plus or minus applied to an operand.
type UnaryOp struct {
	Op      byte // '+' or '-'
	Operand Expr
	Pos     int
}

func (*UnaryOp) exprNode() {}

// BinaryOp is one of + - * / applied left-to-right.
type BinaryOp struct {
	Op          byte
	Left, Right Expr
	Pos         int
}

func (*BinaryOp) exprNode() {}

// Arg is one function-call argument, positional (Name == "") or named.
type Arg struct {
	Name string
	Expr Expr
}

// FunctionCall is a call to a built-in or user-defined function.
type FunctionCall struct {
	Name string
	Args []Arg
	Pos  int
}

func (*FunctionCall) exprNode() {}

// FunctionDef is a user-defined function: name, ordered parameters, body.
type FunctionDef struct {
	Name   string
	Params []string
	Body   *Section
	Pos    int
}

// ParamsBlock is a schema-only block consumed by an external parameter
// extractor; the IMSE itself does not interpret parameter types.
type ParamsBlock struct {
	Params []ParameterDef
}

// ParameterDef describes one entry of a [params] block.
type ParameterDef struct {
	Name    string
	Raw     string
	Pos     int
}

// IncludeDef is an `include "path"` directive, resolved (inlined) or left as
// an unresolved marker if the path could not be found.
type IncludeDef struct {
	Path     string
	Resolved bool
	Pos      int
}
