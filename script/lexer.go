package script

import (
	"regexp"
	"strings"
)

var (
	sectionBatchRe  = regexp.MustCompile(`^\[\[([A-Za-z_][A-Za-z0-9_]*)\]\]\s*$`)
	sectionSingleRe = regexp.MustCompile(`^\[([A-Za-z_][A-Za-z0-9_]*)?\]\s*$`)
	// sectionFuncRe recognizes a function-definition header: a single-
	// bracket section whose name is followed by a parenthesized parameter
	// list, e.g. `[sharpen(img, amount)]` (spec.md §4.1's "function
	// definitions"; the exact surface syntax is left to the tokenizer
	// since §6.1's grammar only specifies section/assignment/expression
	// lines). Distinct from sectionSingleRe because a bare section name
	// never contains parentheses.
	sectionFuncRe = regexp.MustCompile(`^\[([A-Za-z_][A-Za-z0-9_]*)\(([^)]*)\)\]\s*$`)
	varDefRe      = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)[ \t]*=(.*)$`)
)

const tripleQuote = `"""`

// Tokenize scans full script source into an ordered token stream. It is
// tolerant by construction (spec.md §4.1): lines that don't fit any
// recognized shape become TokInvalid rather than aborting the scan, and a
// second pass reclassifies any TokExpression/TokVariableDefinition whose
// expression text fails a tolerant parse as TokInvalid too, so that
// downstream stages always see a complete token stream for the whole
// source.
func Tokenize(src string) []Token {
	var tokens []Token
	pos := 0
	n := len(src)

	for pos < n {
		lineEnd := strings.IndexByte(src[pos:], '\n')
		var rawLine string
		var lineWithTerm string
		if lineEnd == -1 {
			rawLine = src[pos:]
			lineWithTerm = rawLine
			lineEnd = n - pos
		} else {
			rawLine = src[pos : pos+lineEnd]
			lineWithTerm = src[pos : pos+lineEnd+1]
			lineEnd = lineEnd + 1
		}
		start := pos
		trimmed := strings.TrimSpace(rawLine)

		switch {
		case trimmed == "":
			tokens = append(tokens, Token{Kind: TokWhitespace, Start: start, End: start + len(lineWithTerm), Text: lineWithTerm})
			pos += len(lineWithTerm)
			continue

		case strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//"):
			tokens = append(tokens, Token{Kind: TokComment, Start: start, End: start + len(lineWithTerm), Text: lineWithTerm})
			pos += len(lineWithTerm)
			continue

		case sectionBatchRe.MatchString(trimmed):
			m := sectionBatchRe.FindStringSubmatch(trimmed)
			tokens = append(tokens, Token{Kind: TokSection, Start: start, End: start + len(lineWithTerm), Text: lineWithTerm, SectionName: m[1], Batch: true})
			pos += len(lineWithTerm)
			continue

		case sectionFuncRe.MatchString(trimmed):
			m := sectionFuncRe.FindStringSubmatch(trimmed)
			tokens = append(tokens, Token{
				Kind: TokSection, Start: start, End: start + len(lineWithTerm), Text: lineWithTerm,
				SectionName: m[1], FuncParams: splitParamList(m[2]), IsFunction: true,
			})
			pos += len(lineWithTerm)
			continue

		case sectionSingleRe.MatchString(trimmed):
			m := sectionSingleRe.FindStringSubmatch(trimmed)
			tokens = append(tokens, Token{Kind: TokSection, Start: start, End: start + len(lineWithTerm), Text: lineWithTerm, SectionName: m[1], Batch: false})
			pos += len(lineWithTerm)
			continue
		}

		if m := varDefRe.FindStringSubmatch(rawLine); m != nil {
			varName, rest := m[1], m[2]
			fullText, exprPart, comment, consumed := consumeExpression(src, rest, lineWithTerm, pos)
			tok := Token{
				Kind:            TokVariableDefinition,
				Start:           start,
				End:             start + consumed,
				Text:            fullText,
				VarName:         varName,
				ExprText:        exprPart,
				TrailingComment: comment,
			}
			tokens = append(tokens, tok)
			pos += consumed
			continue
		}

		// Bare expression line.
		fullText, exprPart, comment, consumed := consumeExpression(src, rawLine, lineWithTerm, pos)
		tokens = append(tokens, Token{
			Kind:            TokExpression,
			Start:           start,
			End:             start + consumed,
			Text:            fullText,
			ExprText:        exprPart,
			TrailingComment: comment,
		})
		pos += consumed
	}

	validateExpressionTokens(tokens)
	return tokens
}

// splitParamList parses a function header's comma/semicolon-separated
// parameter name list (spec.md §6.1: both separators are accepted for call
// argument lists, so a definition's own parameter list accepts either too).
// Blank entries (an empty parameter list, or stray separators) are dropped.
func splitParamList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// consumeExpression handles trailing-comment stripping and multi-line
// triple-quoted string continuation for a single logical expression
// (variable definition RHS or bare expression line). body is the portion of
// the first physical line after any `name =` prefix; lineWithTerm is that
// same first physical line's full text including its line terminator.
// linePos is the byte offset of the start of that first physical line in
// src.
func consumeExpression(src string, body string, lineWithTerm string, linePos int) (fullText, exprPart, comment string, consumed int) {
	if !hasUnterminatedTripleQuote(body) {
		e, c := splitTrailingComment(body)
		return lineWithTerm, e, c, len(lineWithTerm)
	}

	// Multi-line string literal: consume subsequent physical lines verbatim
	// until the triple quote closes. Section headers inside the literal do
	// not start a new section (spec.md §4.1) because we never hand these
	// bytes back to the section-header matcher.
	total := lineWithTerm
	pos := linePos + len(lineWithTerm)
	n := len(src)
	for pos < n {
		lineEnd := strings.IndexByte(src[pos:], '\n')
		var raw, withTerm string
		if lineEnd == -1 {
			raw = src[pos:]
			withTerm = raw
		} else {
			raw = src[pos : pos+lineEnd]
			withTerm = src[pos : pos+lineEnd+1]
		}
		total += withTerm
		pos += len(withTerm)
		if strings.Contains(raw, tripleQuote) {
			break
		}
		if lineEnd == -1 {
			break
		}
	}

	e, c := splitTrailingComment(total)
	return total, e, c, len(total)
}

// hasUnterminatedTripleQuote reports whether s opens a triple-quoted string
// literal that is not closed again within s itself.
func hasUnterminatedTripleQuote(s string) bool {
	count := strings.Count(s, tripleQuote)
	return count%2 == 1
}

// splitTrailingComment finds the first unquoted `#` or `//` in s and
// returns the text before it and the comment (including the marker) after
// it, preserving every byte so the two parts concatenate back to s.
func splitTrailingComment(s string) (expr, comment string) {
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if c == '#' {
			return s[:i], s[i:]
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

// validateExpressionTokens reclassifies any expression-bearing token whose
// expression text fails a tolerant parse as TokInvalid, per spec.md §4.1.
func validateExpressionTokens(tokens []Token) {
	for i := range tokens {
		t := &tokens[i]
		if t.Kind != TokVariableDefinition && t.Kind != TokExpression {
			continue
		}
		text := strings.TrimSpace(t.ExprText)
		if text == "" {
			t.Kind = TokInvalid
			continue
		}
		p := NewParser(text, ModeTolerant)
		_, errs := p.ParseExpression()
		if len(errs) > 0 {
			t.Kind = TokInvalid
		}
	}
}

// Render reconstructs the original source from a token stream by
// concatenating each token's verbatim Text in order (spec.md §8's
// round-trip property).
func Render(tokens []Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(t.Text)
	}
	return sb.String()
}
