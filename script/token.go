package script

// TokenKind classifies a scanned line or sub-line unit (spec.md §4.1).
type TokenKind int

const (
	TokComment TokenKind = iota
	TokSection
	TokVariableDefinition
	TokExpression
	TokWhitespace
	TokInvalid
)

func (k TokenKind) String() string {
	switch k {
	case TokComment:
		return "comment"
	case TokSection:
		return "section"
	case TokVariableDefinition:
		return "variable_definition"
	case TokExpression:
		return "expression"
	case TokWhitespace:
		return "whitespace"
	case TokInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Token is one scanned unit, with its original text preserved verbatim and
// its byte offsets [Start, End) in the source.
type Token struct {
	Kind  TokenKind
	Start int
	End   int
	Text  string

	// VarName and ExprText are populated for TokVariableDefinition.
	VarName  string
	ExprText string

	// SectionName and Batch are populated for TokSection.
	SectionName string
	Batch       bool

	// FuncParams is populated for a TokSection whose header declared a
	// parameter list (spec.md §4.1's "function definitions"): a section
	// header `[name(p1, p2)]` opens the body of a user-defined function
	// named SectionName instead of an ordinary section.
	FuncParams []string
	IsFunction bool

	// TrailingComment holds a same-line `#`/`//` comment, if one trails a
	// variable definition or bare expression.
	TrailingComment string
}
