package query

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokVariable
	tokString
	tokQuotedIdent
	tokComment
	tokSpace
	tokPunct
	tokPlaceholder
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) significant() bool {
	return t.kind != tokSpace && t.kind != tokComment
}

func (t token) isWord(word string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, word)
}

// lex splits text into tokens. Positional '?' markers are emitted as
// tokPlaceholder only when placeholders is set.
func lex(text string, placeholders bool) ([]token, error) {
	var tokens []token
	inDeclare, stmtStart := false, true
	i := 0
	for i < len(text) {
		c := text[i]
		start := i

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			for i < len(text) && strings.IndexByte(" \t\n\r\f", text[i]) >= 0 {
				i++
			}
			tokens = append(tokens, token{kind: tokSpace, text: text[start:i], pos: start})

		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				i = len(text)
			} else {
				i += end
			}
			tokens = append(tokens, token{kind: tokComment, text: text[start:i], pos: start})

		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return nil, classificationError("E_UNTERMINATED_COMMENT",
					"unterminated block comment", snippet(text[start:]), start)
			}
			i += end + 4
			tokens = append(tokens, token{kind: tokComment, text: text[start:i], pos: start})

		case c == '\'' || c == '"' || c == '`':
			end, ok := scanQuoted(text, i)
			if !ok {
				code, what := "E_UNTERMINATED_STRING", "string literal"
				if c == '`' {
					code, what = "E_UNTERMINATED_IDENTIFIER", "quoted identifier"
				}
				return nil, classificationError(code,
					fmt.Sprintf("unterminated %s", what), snippet(text[start:]), start)
			}
			i = end
			kind := tokString
			if c == '`' {
				kind = tokQuotedIdent
			}
			tokens = append(tokens, token{kind: kind, text: text[start:i], pos: start})

		case c == '$' && i+1 < len(text) && isIdentByte(text[i+1]):
			i++
			for i < len(text) && isIdentByte(text[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokVariable, text: text[start:i], pos: start})

		case isIdentByte(c):
			for i < len(text) && isIdentByte(text[i]) {
				i++
			}
			word := text[start:i]
			if stmtStart {
				inDeclare = strings.EqualFold(word, "declare")
			}
			tokens = append(tokens, token{kind: tokWord, text: word, pos: start})

		case c == '?':
			i++
			kind := tokPunct
			if placeholders && !isTypeSuffix(tokens, inDeclare) {
				kind = tokPlaceholder
			}
			tokens = append(tokens, token{kind: kind, text: "?", pos: start})

		default:
			i++
			if c == ';' {
				inDeclare = false
			}
			tokens = append(tokens, token{kind: tokPunct, text: text[start:i], pos: start})
		}

		last := tokens[len(tokens)-1]
		if last.significant() {
			stmtStart = last.kind == tokPunct && last.text == ";"
		}
	}
	return tokens, nil
}

// isTypeSuffix reports whether a '?' following the given tokens marks an
// optional type, as in "Int32?" or, inside DECLARE, "List<Utf8>?". Outside
// DECLARE only a primitive type name takes the suffix.
func isTypeSuffix(tokens []token, inDeclare bool) bool {
	if len(tokens) == 0 {
		return false
	}
	prev := tokens[len(tokens)-1]
	switch prev.kind {
	case tokWord:
		if isNumber(prev.text) {
			return false
		}
		if inDeclare {
			return true
		}
		_, ok := primitiveNames[strings.ToLower(prev.text)]
		return ok
	case tokPunct:
		return inDeclare && prev.text == ">"
	}
	return false
}

func isNumber(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// scanQuoted returns the offset just past the closing quote of the literal
// opened at text[start].
func scanQuoted(text string, start int) (int, bool) {
	quote := text[start]
	for i := start + 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			if quote != '`' {
				i++
			}
		case quote:
			return i + 1, true
		}
	}
	return 0, false
}

func snippet(s string) string {
	const max = 24
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
