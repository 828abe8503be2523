package query

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// SyntaxV1Prologue selects the v1 YQL grammar.
	SyntaxV1Prologue = "--!syntax_v1"

	// PositionalParamPrefix names parameters generated for '?' markers.
	PositionalParamPrefix = "$jp"
)

// Options controls classification and rewriting.
type Options struct {
	// EnforceSyntaxV1 prepends the --!syntax_v1 directive to rendered queries.
	EnforceSyntaxV1 bool

	// EnforceVariablePrefix adds the $ prefix to caller-supplied parameter
	// names that lack it.
	EnforceVariablePrefix bool

	// DetectJdbcParameters turns '?' markers into generated $jpN parameters.
	DetectJdbcParameters bool

	// DetectSQLOperations selects the query kind from statement keywords.
	// When false only explicit SCAN and EXPLAIN prefixes are honored.
	DetectSQLOperations bool
}

// DefaultOptions mirrors the connection defaults.
func DefaultOptions() Options {
	return Options{
		EnforceSyntaxV1:       true,
		EnforceVariablePrefix: true,
		DetectJdbcParameters:  true,
		DetectSQLOperations:   true,
	}
}

// Param is one parameter required by a parsed query.
type Param struct {
	// Name includes the $ prefix.
	Name string
	// Type is nil when the type is inferred from the bound value.
	Type *Type
	// Declared is true for parameters introduced by DECLARE.
	Declared bool
	// Position is the 1-based index among all parameters.
	Position int
}

// ParsedQuery is the immutable result of classifying one query text.
type ParsedQuery struct {
	original   string
	queryType  QueryType
	body       string
	params     []Param
	positional bool
	syntaxV1   bool
	statements int
}

// Original returns the text as supplied by the caller.
func (q *ParsedQuery) Original() string { return q.original }

// Type returns the execution kind.
func (q *ParsedQuery) Type() QueryType { return q.queryType }

// Body returns the rewritten text without prologue or generated declarations.
func (q *ParsedQuery) Body() string { return q.body }

// Positional reports whether the text used '?' placeholders.
func (q *ParsedQuery) Positional() bool { return q.positional }

// Statements returns the number of non-empty statements in the text.
func (q *ParsedQuery) Statements() int { return q.statements }

// Params returns a copy of the parameter list in binding order.
func (q *ParsedQuery) Params() []Param {
	out := make([]Param, len(q.params))
	copy(out, q.params)
	return out
}

// Param looks up a parameter by its $-prefixed name.
func (q *ParsedQuery) Param(name string) (Param, bool) {
	for _, p := range q.params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Render produces the final YQL text. types supplies the bound types of
// parameters that were not declared in the text; a DECLARE is generated for
// each of them.
func (q *ParsedQuery) Render(types map[string]*Type) string {
	var sb strings.Builder
	if q.syntaxV1 {
		sb.WriteString(SyntaxV1Prologue)
		sb.WriteByte('\n')
	}
	for _, p := range q.params {
		if p.Declared {
			continue
		}
		t, ok := types[p.Name]
		if !ok || t == nil {
			continue
		}
		fmt.Fprintf(&sb, "DECLARE %s AS %s;\n", p.Name, t.String())
	}
	sb.WriteString(q.body)
	return sb.String()
}

// Parse classifies text and rewrites it into YQL.
func Parse(text string, opts Options) (*ParsedQuery, error) {
	tokens, err := lex(text, opts.DetectJdbcParameters)
	if err != nil {
		return nil, err
	}

	pq := &ParsedQuery{original: text}
	kindSet := false
	declared := make(map[string]bool)
	hasPrologue := false
	drop := make(map[int]bool)

	for _, stmt := range splitStatements(tokens) {
		for _, idx := range stmt {
			if tokens[idx].kind == tokComment && strings.HasPrefix(tokens[idx].text, SyntaxV1Prologue) {
				hasPrologue = true
			}
		}

		first, ok := firstSignificant(tokens, stmt, 0)
		if !ok {
			continue
		}
		pq.statements++

		kind, neutral, err := classifyStatement(tokens, stmt, first, opts, drop)
		if err != nil {
			return nil, err
		}

		if tokens[stmt[first]].isWord("declare") {
			param, err := parseDeclare(tokens, stmt, first)
			if err != nil {
				return nil, err
			}
			if declared[param.Name] {
				return nil, classificationError("E_DUPLICATE_PARAMETER",
					fmt.Sprintf("parameter %s is declared more than once", param.Name),
					param.Name, tokens[stmt[first]].pos)
			}
			declared[param.Name] = true
			param.Position = len(pq.params) + 1
			pq.params = append(pq.params, param)
		}

		if neutral {
			continue
		}
		if !kindSet {
			pq.queryType = kind
			kindSet = true
			continue
		}
		if kind != pq.queryType {
			tok := tokens[stmt[first]]
			return nil, classificationError("E_MIXED_QUERY_TYPES",
				fmt.Sprintf("query mixes %s with %s", pq.queryType, kind), tok.text, tok.pos)
		}
	}

	if pq.statements == 0 {
		return nil, ErrEmptyQuery()
	}

	var body strings.Builder
	placeholders := 0
	for i, tok := range tokens {
		if drop[i] {
			continue
		}
		if tok.kind != tokPlaceholder {
			body.WriteString(tok.text)
			continue
		}
		placeholders++
		name := PositionalParamPrefix + strconv.Itoa(placeholders)
		if declared[name] {
			return nil, classificationError("E_AMBIGUOUS_PARAMETER",
				fmt.Sprintf("declared parameter %s collides with positional parameter %d", name, placeholders),
				name, tok.pos)
		}
		body.WriteString(name)
		pq.params = append(pq.params, Param{Name: name, Position: len(pq.params) + 1})
	}

	pq.body = body.String()
	pq.positional = placeholders > 0
	pq.syntaxV1 = opts.EnforceSyntaxV1 && !hasPrologue
	return pq, nil
}

// splitStatements groups token indexes by top-level ';'.
func splitStatements(tokens []token) [][]int {
	var out [][]int
	var cur []int
	for i, tok := range tokens {
		if tok.kind == tokPunct && tok.text == ";" {
			out = append(out, cur)
			cur = nil
			continue
		}
		cur = append(cur, i)
	}
	return append(out, cur)
}

// firstSignificant returns the position inside stmt of the first token at or
// after from that is neither whitespace nor a comment.
func firstSignificant(tokens []token, stmt []int, from int) (int, bool) {
	for i := from; i < len(stmt); i++ {
		if tokens[stmt[i]].significant() {
			return i, true
		}
	}
	return 0, false
}

var (
	schemeKeywords = map[string]bool{
		"CREATE": true, "DROP": true, "ALTER": true, "GRANT": true, "REVOKE": true,
	}
	dataKeywords = map[string]bool{
		"SELECT": true, "UPSERT": true, "INSERT": true, "REPLACE": true, "UPDATE": true,
		"DELETE": true, "WITH": true, "VALUES": true, "USE": true, "COMMIT": true,
		"DISCARD": true, "PROCESS": true, "REDUCE": true, "EVALUATE": true,
		"DEFINE": true, "IMPORT": true,
	}
)

// classifyStatement returns the kind of one statement, or neutral=true for
// statements that do not decide the kind. SCAN and EXPLAIN prefix tokens are
// recorded in drop so they are removed from the rewritten body.
func classifyStatement(tokens []token, stmt []int, first int, opts Options, drop map[int]bool) (QueryType, bool, error) {
	tok := tokens[stmt[first]]

	switch {
	case tok.isWord("declare"), tok.isWord("pragma"):
		return DataQuery, true, nil
	case tok.kind == tokVariable:
		return DataQuery, false, nil
	case tok.isWord("scan"), tok.isWord("explain"):
		drop[stmt[first]] = true
		for i := first + 1; i < len(stmt) && tokens[stmt[i]].kind == tokSpace; i++ {
			drop[stmt[i]] = true
		}
		if _, ok := firstSignificant(tokens, stmt, first+1); !ok {
			return 0, false, classificationError("E_UNSUPPORTED_QUERY_TYPE",
				fmt.Sprintf("%s must be followed by a query", strings.ToUpper(tok.text)), tok.text, tok.pos)
		}
		if tok.isWord("scan") {
			return ScanQuery, false, nil
		}
		return ExplainQuery, false, nil
	}

	if !opts.DetectSQLOperations {
		return DataQuery, false, nil
	}

	keyword := strings.ToUpper(tok.text)
	if tok.kind == tokWord && schemeKeywords[keyword] {
		return SchemeQuery, false, nil
	}
	if tok.kind == tokWord && dataKeywords[keyword] {
		return DataQuery, false, nil
	}
	if tok.kind == tokPunct && tok.text == "(" {
		return DataQuery, false, nil
	}

	err := ErrUnsupportedQueryType(tok.text)
	err.Pos = tok.pos
	return 0, false, err
}

// parseDeclare reads "DECLARE $name AS Type".
func parseDeclare(tokens []token, stmt []int, first int) (Param, error) {
	declareTok := tokens[stmt[first]]

	nameIdx, ok := firstSignificant(tokens, stmt, first+1)
	if !ok {
		return Param{}, classificationError("E_INVALID_DECLARE",
			"DECLARE requires a parameter name", declareTok.text, declareTok.pos)
	}
	nameTok := tokens[stmt[nameIdx]]
	if nameTok.kind != tokVariable {
		return Param{}, classificationError("E_INVALID_DECLARE",
			fmt.Sprintf("DECLARE requires a $-prefixed parameter name, got %q", nameTok.text),
			nameTok.text, nameTok.pos)
	}

	asIdx, ok := firstSignificant(tokens, stmt, nameIdx+1)
	if !ok || !tokens[stmt[asIdx]].isWord("as") {
		pos := nameTok.pos
		text := nameTok.text
		if ok {
			pos, text = tokens[stmt[asIdx]].pos, tokens[stmt[asIdx]].text
		}
		return Param{}, classificationError("E_INVALID_DECLARE",
			fmt.Sprintf("DECLARE %s must be followed by AS <type>", nameTok.text), text, pos)
	}

	var typeText strings.Builder
	for i := asIdx + 1; i < len(stmt); i++ {
		t := tokens[stmt[i]]
		if t.kind == tokComment {
			continue
		}
		typeText.WriteString(t.text)
	}
	raw := strings.TrimSpace(typeText.String())
	if raw == "" {
		return Param{}, classificationError("E_INVALID_DECLARE",
			fmt.Sprintf("DECLARE %s has no type", nameTok.text), nameTok.text, nameTok.pos)
	}

	t, err := ParseType(raw)
	if err != nil {
		return Param{}, &ClassificationError{
			Code:    "E_INVALID_DECLARE",
			Type:    "CLASSIFICATION_ERROR",
			Message: fmt.Sprintf("DECLARE %s has invalid type %q", nameTok.text, raw),
			Token:   raw,
			Pos:     tokens[stmt[asIdx]].pos,
			Cause:   err,
		}
	}

	return Param{Name: nameTok.text, Type: t, Declared: true}, nil
}
