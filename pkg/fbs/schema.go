// Package fbs reads FlatBuffers schema files at runtime and encodes or decodes
// documents against them without generated code.
//
// Only tables are supported. Fields may be strings, scalars or references to
// other tables; vectors, structs, enums and unions are rejected by the parser.
// Buffers are always size prefixed: [4 bytes LE: length][flatbuffer].
package fbs

import (
	"fmt"
	"os"
	"sort"
)

// BaseType is the wire type of a table field
type BaseType int

const (
	TypeString BaseType = iota + 1
	TypeBool
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeTable
)

var scalarTypes = map[string]BaseType{
	"bool":    TypeBool,
	"byte":    TypeInt8,
	"int8":    TypeInt8,
	"ubyte":   TypeUint8,
	"uint8":   TypeUint8,
	"short":   TypeInt16,
	"int16":   TypeInt16,
	"ushort":  TypeUint16,
	"uint16":  TypeUint16,
	"int":     TypeInt32,
	"int32":   TypeInt32,
	"uint":    TypeUint32,
	"uint32":  TypeUint32,
	"long":    TypeInt64,
	"int64":   TypeInt64,
	"ulong":   TypeUint64,
	"uint64":  TypeUint64,
	"float":   TypeFloat32,
	"float32": TypeFloat32,
	"double":  TypeFloat64,
	"float64": TypeFloat64,
	"string":  TypeString,
}

func (t BaseType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeInt8:
		return "int8"
	case TypeUint8:
		return "uint8"
	case TypeInt16:
		return "int16"
	case TypeUint16:
		return "uint16"
	case TypeInt32:
		return "int32"
	case TypeUint32:
		return "uint32"
	case TypeInt64:
		return "int64"
	case TypeUint64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeTable:
		return "table"
	}
	return fmt.Sprintf("BaseType(%d)", int(t))
}

// IsScalar reports whether values of this type are stored inline
func (t BaseType) IsScalar() bool {
	return t != TypeString && t != TypeTable
}

// Field is a single table field
type Field struct {
	Name       string
	Type       BaseType
	TableName  string // referenced table when Type == TypeTable
	Table      *Table
	Slot       int
	Required   bool
	Deprecated bool
	Default    any // bool, int64, uint64 or float64 for scalars; nil otherwise
	Line       int
}

// Table is a FlatBuffers table declaration
type Table struct {
	Name   string
	Fields []*Field
	Line   int

	byName map[string]*Field
}

// Field looks up a field by name
func (t *Table) Field(name string) (*Field, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// NumSlots is the vtable size needed to hold every field of the table
func (t *Table) NumSlots() int {
	n := 0
	for _, f := range t.Fields {
		if f.Slot+1 > n {
			n = f.Slot + 1
		}
	}
	return n
}

// Schema is a parsed .fbs file
type Schema struct {
	Namespace      string
	FileIdentifier string
	RootType       string
	Attributes     []string
	Tables         map[string]*Table
}

// Root returns the root table
func (s *Schema) Root() *Table {
	return s.Tables[s.RootType]
}

// TableNames returns all table names, sorted
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads and parses a schema file
func LoadFile(path string) (*Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return Parse(src)
}
