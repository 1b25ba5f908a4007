package script

import "strings"

// ParseScript turns a token stream (script/lexer.go) into a Script AST:
// sections grouped by their [name] / [[name]] header, each holding its
// ordered assignments and include directives (spec.md §4.1-§4.3). A
// TokInvalid token is reported as a SyntaxError but does not abort parsing
// of the rest of the script, matching the tokenizer's own tolerant
// construction.
func ParseScript(tokens []Token) (*Script, []error) {
	sc := &Script{}
	var errs []error

	current := &Section{Name: "", Kind: SectionAnonymous}
	haveSection := false
	anonCount := 0

	flush := func() {
		if haveSection || len(current.Assignments) > 0 || len(current.Includes) > 0 {
			sc.Sections = append(sc.Sections, current)
		}
	}

	for _, t := range tokens {
		switch t.Kind {
		case TokComment, TokWhitespace:
			continue

		case TokInvalid:
			errs = append(errs, &SyntaxError{Position: t.Start, Expected: "valid expression", Got: strings.TrimSpace(t.Text)})

		case TokSection:
			flush()
			if t.IsFunction {
				current = &Section{Name: t.SectionName, Kind: SectionFunctionBody}
				sc.Functions = append(sc.Functions, &FunctionDef{Name: t.SectionName, Params: t.FuncParams, Body: current, Pos: t.Start})
			} else {
				current = &Section{Name: t.SectionName, Kind: sectionKindFor(t.SectionName, t.Batch), Batch: t.Batch}
			}
			haveSection = true

		case TokVariableDefinition:
			if inc, ok := parseIncludeLine(t.ExprText); ok {
				current.Includes = append(current.Includes, &IncludeDef{Path: inc, Pos: t.Start})
				continue
			}
			p := NewParser(t.ExprText, ModeStrict)
			e, perrs := p.ParseExpression()
			for _, pe := range perrs {
				errs = append(errs, pe)
			}
			if len(perrs) == 0 {
				current.Assignments = append(current.Assignments, &Assignment{Name: t.VarName, Expr: e, Text: strings.TrimSpace(t.ExprText), Pos: t.Start})
			}

		case TokExpression:
			text := strings.TrimSpace(t.ExprText)
			if inc, ok := parseIncludeLine(text); ok {
				current.Includes = append(current.Includes, &IncludeDef{Path: inc, Pos: t.Start})
				continue
			}
			if text == "" {
				continue
			}
			p := NewParser(t.ExprText, ModeStrict)
			e, perrs := p.ParseExpression()
			for _, pe := range perrs {
				errs = append(errs, pe)
			}
			if len(perrs) == 0 {
				name := syntheticName(anonCount)
				anonCount++
				current.Assignments = append(current.Assignments, &Assignment{Name: name, Synthesized: true, Expr: e, Text: text, Pos: t.Start})
			}
		}
	}
	flush()

	return sc, errs
}

// sectionKindFor classifies a section by its header name first (spec.md
// §4.1's reserved section names: tmp, outputs, params), falling back to the
// single/batch distinction the bracket style ([name] vs [[name]]) encodes
// for every other name.
func sectionKindFor(name string, batch bool) SectionKind {
	switch strings.ToLower(name) {
	case "tmp":
		return SectionTmp
	case "outputs":
		return SectionOutputs
	case "params":
		return SectionParams
	}
	if batch {
		return SectionBatch
	}
	return SectionSingle
}

// DedupeAssignments resolves duplicate names within a section by
// last-declaration-order-wins, warning is left to the caller (DESIGN.md:
// [tmp]/[outputs] last-writer-wins resolved this way rather than erroring,
// since re-deriving an intermediate under the same name is a common
// scripting idiom).
func DedupeAssignments(assignments []*Assignment) (kept []*Assignment, shadowed []string) {
	lastIdx := map[string]int{}
	for i, a := range assignments {
		if a.Name == "" {
			continue
		}
		if prev, ok := lastIdx[a.Name]; ok {
			shadowed = append(shadowed, assignments[prev].Name)
		}
		lastIdx[a.Name] = i
	}
	for i, a := range assignments {
		if a.Name == "" || lastIdx[a.Name] == i {
			kept = append(kept, a)
		}
	}
	return kept, shadowed
}
