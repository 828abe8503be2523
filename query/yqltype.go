package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// TypeKind classifies a YQL type.
type TypeKind int

const (
	KindPrimitive TypeKind = iota
	KindDecimal
	KindOptional
	KindList
	KindStruct
	KindTuple
)

// Type is a parsed YQL data type as written in a DECLARE statement.
type Type struct {
	Kind      TypeKind
	Name      string // canonical primitive name, KindPrimitive only
	Elem      *Type  // KindOptional and KindList
	Fields    []StructField
	Items     []*Type
	Precision int
	Scale     int
}

// StructField is a named member of a Struct type.
type StructField struct {
	Name string
	Type *Type
}

var primitiveNames = map[string]string{
	"bool":         "Bool",
	"int8":         "Int8",
	"int16":        "Int16",
	"int32":        "Int32",
	"int64":        "Int64",
	"uint8":        "Uint8",
	"uint16":       "Uint16",
	"uint32":       "Uint32",
	"uint64":       "Uint64",
	"float":        "Float",
	"double":       "Double",
	"string":       "String",
	"bytes":        "String",
	"utf8":         "Utf8",
	"text":         "Utf8",
	"json":         "Json",
	"jsondocument": "JsonDocument",
	"yson":         "Yson",
	"uuid":         "Uuid",
	"date":         "Date",
	"datetime":     "Datetime",
	"timestamp":    "Timestamp",
	"interval":     "Interval",
}

// Primitive returns the primitive type with the given name.
// It panics on an unknown name; use ParseType for untrusted input.
func Primitive(name string) *Type {
	canonical, ok := primitiveNames[strings.ToLower(name)]
	if !ok {
		panic(fmt.Sprintf("query: unknown primitive type %q", name))
	}
	return &Type{Kind: KindPrimitive, Name: canonical}
}

// Optional wraps t into Optional<t>.
func Optional(t *Type) *Type { return &Type{Kind: KindOptional, Elem: t} }

// List wraps t into List<t>.
func List(t *Type) *Type { return &Type{Kind: KindList, Elem: t} }

// Struct builds Struct<...> from the given fields.
func Struct(fields ...StructField) *Type { return &Type{Kind: KindStruct, Fields: fields} }

// Tuple builds Tuple<...> from the given items.
func Tuple(items ...*Type) *Type { return &Type{Kind: KindTuple, Items: items} }

// Decimal builds Decimal(precision, scale).
func Decimal(precision, scale int) *Type {
	return &Type{Kind: KindDecimal, Precision: precision, Scale: scale}
}

// IsOptional reports whether a NULL value is acceptable for t.
func (t *Type) IsOptional() bool {
	return t != nil && t.Kind == KindOptional
}

// Unwrap strips any Optional wrappers.
func (t *Type) Unwrap() *Type {
	for t != nil && t.Kind == KindOptional {
		t = t.Elem
	}
	return t
}

// Equal reports structural equality.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.String() == o.String()
}

// String renders the canonical YQL spelling.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindPrimitive:
		return t.Name
	case KindDecimal:
		return fmt.Sprintf("Decimal(%d,%d)", t.Precision, t.Scale)
	case KindOptional:
		return "Optional<" + t.Elem.String() + ">"
	case KindList:
		return "List<" + t.Elem.String() + ">"
	case KindStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return "Struct<" + strings.Join(parts, ",") + ">"
	case KindTuple:
		parts := make([]string, len(t.Items))
		for i, item := range t.Items {
			parts[i] = item.String()
		}
		return "Tuple<" + strings.Join(parts, ",") + ">"
	}
	return "<invalid>"
}

// ParseType parses a YQL type expression such as "List<Struct<id:Int32,name:Utf8?>>".
func ParseType(s string) (*Type, error) {
	p := &typeParser{src: s}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	return t, nil
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) errorf(format string, args ...interface{}) error {
	token := ""
	if p.pos < len(p.src) {
		token = p.src[p.pos:]
	}
	return classificationError("E_INVALID_TYPE",
		fmt.Sprintf("invalid type %q: %s", p.src, fmt.Sprintf(format, args...)), token, p.pos)
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *typeParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *typeParser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *typeParser) parse() (*Type, error) {
	t, err := p.parseBase()
	if err != nil {
		return nil, err
	}
	for p.peek() == '?' {
		p.pos++
		t = Optional(t)
	}
	return t, nil
}

func (p *typeParser) parseBase() (*Type, error) {
	name := p.ident()
	if name == "" {
		return nil, p.errorf("expected type name")
	}

	switch strings.ToLower(name) {
	case "optional", "list":
		if err := p.expect('<'); err != nil {
			return nil, err
		}
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		if strings.EqualFold(name, "optional") {
			return Optional(elem), nil
		}
		return List(elem), nil

	case "struct":
		if err := p.expect('<'); err != nil {
			return nil, err
		}
		var fields []StructField
		seen := make(map[string]bool)
		for {
			fieldName := p.ident()
			if fieldName == "" {
				return nil, p.errorf("expected struct field name")
			}
			if seen[fieldName] {
				return nil, p.errorf("duplicate struct field %s", fieldName)
			}
			seen[fieldName] = true
			if err := p.expect(':'); err != nil {
				return nil, err
			}
			ft, err := p.parse()
			if err != nil {
				return nil, err
			}
			fields = append(fields, StructField{Name: fieldName, Type: ft})
			if p.peek() == ',' {
				p.pos++
				continue
			}
			break
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		return Struct(fields...), nil

	case "tuple":
		if err := p.expect('<'); err != nil {
			return nil, err
		}
		var items []*Type
		for {
			item, err := p.parse()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.peek() == ',' {
				p.pos++
				continue
			}
			break
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		return Tuple(items...), nil

	case "decimal":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		precision, err := strconv.Atoi(p.ident())
		if err != nil {
			return nil, p.errorf("invalid decimal precision")
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		scale, err := strconv.Atoi(p.ident())
		if err != nil {
			return nil, p.errorf("invalid decimal scale")
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		if precision <= 0 || scale < 0 || scale > precision {
			return nil, p.errorf("decimal scale must be within precision")
		}
		return Decimal(precision, scale), nil
	}

	canonical, ok := primitiveNames[strings.ToLower(name)]
	if !ok {
		return nil, p.errorf("unknown type %s", name)
	}
	return &Type{Kind: KindPrimitive, Name: canonical}, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
