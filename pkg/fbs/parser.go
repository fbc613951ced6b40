package fbs

import (
	"fmt"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Attributes flatc accepts without an attribute declaration. Their
// meaning is ignored here.
var builtinAttributes = mapset.NewSet(
	"key", "hash", "force_align", "nested_flatbuffer", "flexbuffer", "shared", "original_order",
)

// SyntaxError reports a malformed or unsupported schema
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("schema line %d: %s", e.Line, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
}

type lexer struct {
	src  []byte
	pos  int
	line int
}

func (l *lexer) errorf(format string, args ...any) error {
	return &SyntaxError{Line: l.line, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '*':
			start := l.line
			l.pos += 2
			for {
				if l.pos+1 >= len(l.src) {
					return &SyntaxError{Line: start, Msg: "unterminated block comment"}
				}
				if l.src[l.pos] == '*' && l.src[l.pos+1] == '/' {
					l.pos += 2
					break
				}
				if l.src[l.pos] == '\n' {
					l.line++
				}
				l.pos++
			}
		default:
			return nil
		}
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '.'
}

func isNumberPart(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' ||
		c == '+' || c == '-' || c == 'x' || c == 'X' ||
		(c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}, nil
	}

	c := l.src[l.pos]
	start := l.pos
	switch {
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: string(l.src[start:l.pos]), line: l.line}, nil

	case (c >= '0' && c <= '9') || c == '-' || c == '+':
		l.pos++
		for l.pos < len(l.src) && isNumberPart(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokNumber, text: string(l.src[start:l.pos]), line: l.line}, nil

	case c == '"':
		l.pos++
		var sb strings.Builder
		for {
			if l.pos >= len(l.src) || l.src[l.pos] == '\n' {
				return token{}, l.errorf("unterminated string literal")
			}
			ch := l.src[l.pos]
			if ch == '"' {
				l.pos++
				break
			}
			if ch == '\\' && l.pos+1 < len(l.src) {
				l.pos++
				ch = l.src[l.pos]
			}
			sb.WriteByte(ch)
			l.pos++
		}
		return token{kind: tokString, text: sb.String(), line: l.line}, nil

	case strings.IndexByte("{}()[]:;=,", c) >= 0:
		l.pos++
		return token{kind: tokPunct, text: string(c), line: l.line}, nil
	}

	return token{}, l.errorf("unexpected character %q", c)
}

type parser struct {
	lex    *lexer
	tok    token
	schema *Schema
	order  []*Table
	attrs  mapset.Set[string]
}

// Parse parses schema source text
func Parse(src []byte) (*Schema, error) {
	p := &parser{
		lex:   &lexer{src: src, line: 1},
		attrs: mapset.NewThreadUnsafeSet[string](),
		schema: &Schema{
			Tables: make(map[string]*Table),
		},
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	for p.tok.kind != tokEOF {
		if err := p.parseDecl(); err != nil {
			return nil, err
		}
	}

	if err := p.resolve(); err != nil {
		return nil, err
	}
	return p.schema, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Line: p.tok.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expectPunct(s string) error {
	if p.tok.kind != tokPunct || p.tok.text != s {
		return p.errorf("expected %q, got %q", s, p.tok.text)
	}
	return p.advance()
}

func (p *parser) expectIdent() (string, error) {
	if p.tok.kind != tokIdent {
		return "", p.errorf("expected identifier, got %q", p.tok.text)
	}
	name := p.tok.text
	return name, p.advance()
}

func (p *parser) expectString() (string, error) {
	if p.tok.kind != tokString {
		return "", p.errorf("expected string literal, got %q", p.tok.text)
	}
	s := p.tok.text
	return s, p.advance()
}

func (p *parser) parseDecl() error {
	if p.tok.kind != tokIdent {
		return p.errorf("unexpected %q at top level", p.tok.text)
	}

	switch p.tok.text {
	case "namespace":
		if err := p.advance(); err != nil {
			return err
		}
		ns, err := p.expectIdent()
		if err != nil {
			return err
		}
		p.schema.Namespace = ns
		return p.expectPunct(";")

	case "root_type":
		if err := p.advance(); err != nil {
			return err
		}
		name, err := p.expectIdent()
		if err != nil {
			return err
		}
		p.schema.RootType = name
		return p.expectPunct(";")

	case "attribute":
		if err := p.advance(); err != nil {
			return err
		}
		attr, err := p.expectString()
		if err != nil {
			return err
		}
		if p.attrs.Add(attr) {
			p.schema.Attributes = append(p.schema.Attributes, attr)
		}
		return p.expectPunct(";")

	case "file_identifier":
		if err := p.advance(); err != nil {
			return err
		}
		id, err := p.expectString()
		if err != nil {
			return err
		}
		if len(id) != 4 {
			return p.errorf("file_identifier must be exactly 4 characters, got %q", id)
		}
		p.schema.FileIdentifier = id
		return p.expectPunct(";")

	case "file_extension":
		if err := p.advance(); err != nil {
			return err
		}
		if _, err := p.expectString(); err != nil {
			return err
		}
		return p.expectPunct(";")

	case "table":
		return p.parseTable()

	case "include", "struct", "enum", "union", "rpc_service":
		return p.errorf("%s declarations are not supported", p.tok.text)
	}

	return p.errorf("unknown declaration %q", p.tok.text)
}

func (p *parser) parseTable() error {
	line := p.tok.line
	if err := p.advance(); err != nil {
		return err
	}
	name, err := p.expectIdent()
	if err != nil {
		return err
	}
	if _, exists := p.schema.Tables[name]; exists {
		return &SyntaxError{Line: line, Msg: fmt.Sprintf("table %s redefined", name)}
	}
	if p.tok.kind == tokPunct && p.tok.text == "(" {
		if _, err := p.parseMetadata(); err != nil {
			return err
		}
	}
	if err := p.expectPunct("{"); err != nil {
		return err
	}

	table := &Table{Name: name, Line: line, byName: make(map[string]*Field)}
	for !(p.tok.kind == tokPunct && p.tok.text == "}") {
		if p.tok.kind == tokEOF {
			return p.errorf("unexpected end of schema in table %s", name)
		}
		field, err := p.parseField()
		if err != nil {
			return err
		}
		if _, dup := table.byName[field.Name]; dup {
			return &SyntaxError{Line: field.Line, Msg: fmt.Sprintf("field %s.%s redefined", name, field.Name)}
		}
		table.byName[field.Name] = field
		table.Fields = append(table.Fields, field)
	}
	if err := p.advance(); err != nil {
		return err
	}

	p.schema.Tables[name] = table
	p.order = append(p.order, table)
	return nil
}

type fieldMeta struct {
	required   bool
	deprecated bool
	id         int
	hasID      bool
}

func (p *parser) parseField() (*Field, error) {
	line := p.tok.line
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if p.tok.kind == tokPunct && p.tok.text == "[" {
		return nil, p.errorf("vector field %s is not supported", name)
	}
	typeName, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	field := &Field{Name: name, Line: line, Slot: -1}
	if bt, ok := scalarTypes[typeName]; ok {
		field.Type = bt
	} else {
		field.Type = TypeTable
		field.TableName = typeName
	}

	if p.tok.kind == tokPunct && p.tok.text == "=" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !field.Type.IsScalar() {
			return nil, p.errorf("default value on non-scalar field %s", name)
		}
		if p.tok.kind != tokNumber && p.tok.kind != tokIdent {
			return nil, p.errorf("expected default value for %s, got %q", name, p.tok.text)
		}
		def, err := parseScalar(field.Type, p.tok.text)
		if err != nil {
			return nil, p.errorf("invalid default for %s: %v", name, err)
		}
		field.Default = def
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if p.tok.kind == tokPunct && p.tok.text == "(" {
		meta, err := p.parseMetadata()
		if err != nil {
			return nil, err
		}
		field.Required = meta.required
		field.Deprecated = meta.deprecated
		if meta.hasID {
			field.Slot = meta.id
		}
	}
	if field.Required && field.Type.IsScalar() {
		return nil, &SyntaxError{Line: line, Msg: fmt.Sprintf("scalar field %s cannot be required", name)}
	}
	if field.Type.IsScalar() && field.Default == nil {
		field.Default = zeroValue(field.Type)
	}

	return field, p.expectPunct(";")
}

func (p *parser) parseMetadata() (fieldMeta, error) {
	var meta fieldMeta
	if err := p.expectPunct("("); err != nil {
		return meta, err
	}
	for {
		key, err := p.expectIdent()
		if err != nil {
			return meta, err
		}
		var value string
		if p.tok.kind == tokPunct && p.tok.text == ":" {
			if err := p.advance(); err != nil {
				return meta, err
			}
			if p.tok.kind == tokPunct {
				return meta, p.errorf("expected value for attribute %s", key)
			}
			value = p.tok.text
			if err := p.advance(); err != nil {
				return meta, err
			}
		}

		switch key {
		case "required":
			meta.required = true
		case "deprecated":
			meta.deprecated = true
		case "id":
			id, err := strconv.Atoi(value)
			if err != nil || id < 0 {
				return meta, p.errorf("invalid id %q", value)
			}
			meta.id = id
			meta.hasID = true
		default:
			if !p.knownAttribute(key) {
				return meta, p.errorf("user attribute %q not declared", key)
			}
		}

		if p.tok.kind == tokPunct && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return meta, err
			}
			continue
		}
		break
	}
	return meta, p.expectPunct(")")
}

func (p *parser) knownAttribute(name string) bool {
	return builtinAttributes.Contains(name) || p.attrs.Contains(name)
}

// resolve links table references, assigns slots and checks the root type
func (p *parser) resolve() error {
	s := p.schema
	for _, table := range p.order {
		withID := 0
		for _, f := range table.Fields {
			if f.Slot >= 0 {
				withID++
			}
		}
		if withID != 0 && withID != len(table.Fields) {
			return &SyntaxError{Line: table.Line, Msg: fmt.Sprintf("table %s: either all fields or no fields must have an id", table.Name)}
		}
		if withID == 0 {
			for i, f := range table.Fields {
				f.Slot = i
			}
		} else {
			seen := make(map[int]string, len(table.Fields))
			for _, f := range table.Fields {
				if other, dup := seen[f.Slot]; dup {
					return &SyntaxError{Line: f.Line, Msg: fmt.Sprintf("table %s: fields %s and %s share id %d", table.Name, other, f.Name, f.Slot)}
				}
				seen[f.Slot] = f.Name
			}
		}

		for _, f := range table.Fields {
			if f.Type != TypeTable {
				continue
			}
			ref, ok := s.Tables[s.localName(f.TableName)]
			if !ok {
				return &SyntaxError{Line: f.Line, Msg: fmt.Sprintf("type %s referenced by %s.%s is not defined", f.TableName, table.Name, f.Name)}
			}
			f.Table = ref
		}
	}

	if s.RootType == "" {
		return &SyntaxError{Line: p.lex.line, Msg: "no root_type declared"}
	}
	s.RootType = s.localName(s.RootType)
	if _, ok := s.Tables[s.RootType]; !ok {
		return &SyntaxError{Line: p.lex.line, Msg: fmt.Sprintf("root_type %s is not a table", s.RootType)}
	}
	return nil
}

func (s *Schema) localName(name string) string {
	if s.Namespace != "" {
		return strings.TrimPrefix(name, s.Namespace+".")
	}
	return name
}

func parseScalar(t BaseType, text string) (any, error) {
	switch t {
	case TypeBool:
		switch text {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a bool", text)
	case TypeFloat32, TypeFloat64:
		return strconv.ParseFloat(text, 64)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		v, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return nil, err
		}
		return v, checkUintRange(t, v)
	default:
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return nil, err
		}
		return v, checkIntRange(t, v)
	}
}

func zeroValue(t BaseType) any {
	switch t {
	case TypeBool:
		return false
	case TypeFloat32, TypeFloat64:
		return float64(0)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		return uint64(0)
	}
	return int64(0)
}
