package fbs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
)

// MaxDepth bounds how deeply Decode follows nested tables
const MaxDepth = 64

var (
	ErrNotObject     = errors.New("document is not an object")
	ErrShortBuffer   = errors.New("buffer too short for a size-prefixed flatbuffer")
	ErrSizeMismatch  = errors.New("size prefix does not match buffer length")
	ErrMalformed     = errors.New("malformed flatbuffer")
	ErrNoSchemaTable = errors.New("schema has no root table")
)

// ValidationError reports a document that does not conform to the schema
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// EncodeJSON parses a JSON document and encodes it against the schema root
func EncodeJSON(s *Schema, doc []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid json: %v", err)}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return Encode(s, m)
}

// Encode builds a size-prefixed flatbuffer from doc
func Encode(s *Schema, doc map[string]any) ([]byte, error) {
	root := s.Root()
	if root == nil {
		return nil, ErrNoSchemaTable
	}

	b := flatbuffers.NewBuilder(256)
	off, err := encodeTable(b, root, doc, root.Name)
	if err != nil {
		return nil, err
	}

	if s.FileIdentifier != "" {
		b.FinishSizePrefixedWithFileIdentifier(off, []byte(s.FileIdentifier))
	} else {
		b.FinishSizePrefixed(off)
	}
	return b.FinishedBytes(), nil
}

func encodeTable(b *flatbuffers.Builder, t *Table, doc map[string]any, path string) (flatbuffers.UOffsetT, error) {
	// Deterministic error reporting for unknown fields
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, ok := t.Field(k)
		if !ok {
			return 0, &ValidationError{Path: path, Msg: fmt.Sprintf("unknown field %q", k)}
		}
		if f.Deprecated {
			return 0, &ValidationError{Path: path, Msg: fmt.Sprintf("field %q is deprecated", k)}
		}
	}

	// Strings and child tables must be serialized before StartObject
	offsets := make(map[int]flatbuffers.UOffsetT)
	scalars := make(map[int]any)
	for _, f := range t.Fields {
		v, present := doc[f.Name]
		if !present || v == nil {
			if f.Required {
				return 0, &ValidationError{Path: path, Msg: fmt.Sprintf("required field %q is missing", f.Name)}
			}
			continue
		}

		fieldPath := path + "." + f.Name
		switch f.Type {
		case TypeString:
			s, ok := v.(string)
			if !ok {
				return 0, &ValidationError{Path: fieldPath, Msg: fmt.Sprintf("expected string, got %T", v)}
			}
			offsets[f.Slot] = b.CreateString(s)

		case TypeTable:
			child, ok := v.(map[string]any)
			if !ok {
				return 0, &ValidationError{Path: fieldPath, Msg: fmt.Sprintf("expected object for table %s, got %T", f.Table.Name, v)}
			}
			off, err := encodeTable(b, f.Table, child, fieldPath)
			if err != nil {
				return 0, err
			}
			offsets[f.Slot] = off

		default:
			sv, err := scalarValue(f.Type, v)
			if err != nil {
				return 0, &ValidationError{Path: fieldPath, Msg: err.Error()}
			}
			scalars[f.Slot] = sv
		}
	}

	b.StartObject(t.NumSlots())
	for _, f := range t.Fields {
		if off, ok := offsets[f.Slot]; ok {
			b.PrependUOffsetTSlot(f.Slot, off, 0)
			continue
		}
		if v, ok := scalars[f.Slot]; ok {
			prependScalar(b, f, v)
		}
	}
	return b.EndObject(), nil
}

func prependScalar(b *flatbuffers.Builder, f *Field, v any) {
	switch f.Type {
	case TypeBool:
		b.PrependBoolSlot(f.Slot, v.(bool), f.Default.(bool))
	case TypeInt8:
		b.PrependInt8Slot(f.Slot, int8(v.(int64)), int8(f.Default.(int64)))
	case TypeUint8:
		b.PrependUint8Slot(f.Slot, uint8(v.(uint64)), uint8(f.Default.(uint64)))
	case TypeInt16:
		b.PrependInt16Slot(f.Slot, int16(v.(int64)), int16(f.Default.(int64)))
	case TypeUint16:
		b.PrependUint16Slot(f.Slot, uint16(v.(uint64)), uint16(f.Default.(uint64)))
	case TypeInt32:
		b.PrependInt32Slot(f.Slot, int32(v.(int64)), int32(f.Default.(int64)))
	case TypeUint32:
		b.PrependUint32Slot(f.Slot, uint32(v.(uint64)), uint32(f.Default.(uint64)))
	case TypeInt64:
		b.PrependInt64Slot(f.Slot, v.(int64), f.Default.(int64))
	case TypeUint64:
		b.PrependUint64Slot(f.Slot, v.(uint64), f.Default.(uint64))
	case TypeFloat32:
		b.PrependFloat32Slot(f.Slot, float32(v.(float64)), float32(f.Default.(float64)))
	case TypeFloat64:
		b.PrependFloat64Slot(f.Slot, v.(float64), f.Default.(float64))
	}
}

// SizePrefix returns the length declared by the first 4 bytes of buf
func SizePrefix(buf []byte) (uint32, error) {
	if len(buf) < flatbuffers.SizeUint32 {
		return 0, ErrShortBuffer
	}
	return flatbuffers.GetSizePrefix(buf, 0), nil
}

// Decode reads a size-prefixed flatbuffer back into a document
func Decode(s *Schema, buf []byte) (doc map[string]any, err error) {
	root := s.Root()
	if root == nil {
		return nil, ErrNoSchemaTable
	}
	if len(buf) < 2*flatbuffers.SizeUint32 {
		return nil, ErrShortBuffer
	}
	size := flatbuffers.GetSizePrefix(buf, 0)
	if int(size) != len(buf)-flatbuffers.SizeUint32 {
		return nil, fmt.Errorf("%w: prefix %d, body %d", ErrSizeMismatch, size, len(buf)-flatbuffers.SizeUint32)
	}

	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	n := flatbuffers.GetUOffsetT(buf[flatbuffers.SizeUint32:])
	pos := n + flatbuffers.SizeUint32
	if int(pos) >= len(buf) {
		return nil, fmt.Errorf("%w: root offset %d out of range", ErrMalformed, pos)
	}

	t := &flatbuffers.Table{Bytes: buf, Pos: pos}
	return decodeTable(t, root, 1)
}

func decodeTable(t *flatbuffers.Table, table *Table, depth int) (map[string]any, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: tables nested deeper than %d", ErrMalformed, MaxDepth)
	}

	doc := make(map[string]any, len(table.Fields))
	for _, f := range table.Fields {
		if f.Deprecated {
			continue
		}
		o := flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + 2*f.Slot)))
		switch f.Type {
		case TypeString:
			if o != 0 {
				doc[f.Name] = string(t.ByteVector(o + t.Pos))
			}
		case TypeTable:
			if o != 0 {
				pos := t.Indirect(o + t.Pos)
				if int(pos) < flatbuffers.SizeUint32 || int(pos) >= len(t.Bytes) {
					return nil, fmt.Errorf("%w: table %s at offset %d out of range", ErrMalformed, f.Table.Name, pos)
				}
				child, err := decodeTable(&flatbuffers.Table{Bytes: t.Bytes, Pos: pos}, f.Table, depth+1)
				if err != nil {
					return nil, err
				}
				doc[f.Name] = child
			}
		default:
			if o == 0 {
				doc[f.Name] = f.Default
				continue
			}
			doc[f.Name] = readScalar(t, f.Type, o+t.Pos)
		}
	}
	return doc, nil
}

func readScalar(t *flatbuffers.Table, bt BaseType, off flatbuffers.UOffsetT) any {
	switch bt {
	case TypeBool:
		return t.GetBool(off)
	case TypeInt8:
		return int64(t.GetInt8(off))
	case TypeUint8:
		return uint64(t.GetUint8(off))
	case TypeInt16:
		return int64(t.GetInt16(off))
	case TypeUint16:
		return uint64(t.GetUint16(off))
	case TypeInt32:
		return int64(t.GetInt32(off))
	case TypeUint32:
		return uint64(t.GetUint32(off))
	case TypeInt64:
		return t.GetInt64(off)
	case TypeUint64:
		return t.GetUint64(off)
	case TypeFloat32:
		return float64(t.GetFloat32(off))
	case TypeFloat64:
		return t.GetFloat64(off)
	}
	return nil
}
