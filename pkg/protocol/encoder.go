package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/skshohagmiah/flinsend/pkg/clienterr"
	"github.com/skshohagmiah/flinsend/pkg/fbs"
)

// Encoder turns a Request into a length-prefixed Frame.
// On failure the returned frame is nil.
type Encoder interface {
	Encoding() Encoding
	Encode(req Request) (*Frame, error)
}

// NewEncoder builds the encoder for enc. schemaPath is only used by
// the flatbuffers encoding.
func NewEncoder(enc Encoding, schemaPath string) (Encoder, error) {
	switch enc {
	case EncodingFlatBuffers:
		return &SchemaEncoder{SchemaPath: schemaPath}, nil
	case EncodingJSON:
		return JSONEncoder{}, nil
	case EncodingBinary:
		return BinaryEncoder{}, nil
	}
	return nil, fmt.Errorf("unknown encoding %q", enc)
}

// JSONEncoder writes the JSON document behind an 8-byte big-endian length
type JSONEncoder struct{}

func (JSONEncoder) Encoding() Encoding { return EncodingJSON }

func (JSONEncoder) Encode(req Request) (*Frame, error) {
	if err := req.Validate(); err != nil {
		return nil, clienterr.New(clienterr.EncodeFailure, "json", err)
	}

	body, err := json.Marshal(req.Document())
	if err != nil {
		return nil, clienterr.New(clienterr.EncodeFailure, "json", err)
	}

	header := make([]byte, 8)
	binary.BigEndian.PutUint64(header, uint64(len(body)))
	return &Frame{Encoding: EncodingJSON, Header: header, Body: body}, nil
}

// SchemaEncoder validates the request against a FlatBuffers schema read
// from disk on every call and emits a size-prefixed flatbuffer
type SchemaEncoder struct {
	SchemaPath string
}

func (*SchemaEncoder) Encoding() Encoding { return EncodingFlatBuffers }

// LoadSchema reads and parses the configured schema file
func (e *SchemaEncoder) LoadSchema() (*fbs.Schema, error) {
	src, err := os.ReadFile(e.SchemaPath)
	if err != nil {
		return nil, clienterr.New(clienterr.SchemaLoadFailure, "load schema "+e.SchemaPath, err)
	}
	schema, err := fbs.Parse(src)
	if err != nil {
		return nil, clienterr.New(clienterr.SchemaParseFailure, "parse schema "+e.SchemaPath, err)
	}
	return schema, nil
}

func (e *SchemaEncoder) Encode(req Request) (*Frame, error) {
	if err := req.Validate(); err != nil {
		return nil, clienterr.New(clienterr.EncodeFailure, "flatbuffers", err)
	}

	schema, err := e.LoadSchema()
	if err != nil {
		return nil, err
	}

	buf, err := fbs.Encode(schema, req.Map())
	if err != nil {
		return nil, clienterr.New(clienterr.SchemaParseFailure, "encode "+schema.RootType, err)
	}

	return &Frame{
		Encoding: EncodingFlatBuffers,
		Header:   buf[:4],
		Body:     buf[4:],
	}, nil
}

// Binary opcodes, shared with the Flin KV wire protocol
const (
	OpSet    byte = 0x01
	OpGet    byte = 0x02
	OpDel    byte = 0x03
	OpExists byte = 0x04
	OpIncr   byte = 0x05
	OpDecr   byte = 0x06

	MaxKeyLen   = 65535   // 2 bytes
	MaxValueLen = 1 << 30 // 1GB
)

var opCodes = map[string]byte{
	"set":    OpSet,
	"get":    OpGet,
	"del":    OpDel,
	"delete": OpDel,
	"exists": OpExists,
	"incr":   OpIncr,
	"decr":   OpDecr,
}

var opNames = map[byte]string{
	OpSet:    "set",
	OpGet:    "get",
	OpDel:    "del",
	OpExists: "exists",
	OpIncr:   "incr",
	OpDecr:   "decr",
}

var ErrUnknownOperation = errors.New("operation has no binary opcode")

// BinaryEncoder writes the KV opcode framing:
//
//	SET:   [1 byte: OpCode][4 bytes: PayloadLength][2 bytes: keyLen][key][4 bytes: valueLen][value]
//	other: [1 byte: OpCode][4 bytes: PayloadLength][2 bytes: keyLen][key]
type BinaryEncoder struct{}

func (BinaryEncoder) Encoding() Encoding { return EncodingBinary }

func (BinaryEncoder) Encode(req Request) (*Frame, error) {
	if err := req.Validate(); err != nil {
		return nil, clienterr.New(clienterr.EncodeFailure, "binary", err)
	}
	opCode, ok := opCodes[req.Operation]
	if !ok {
		return nil, clienterr.New(clienterr.EncodeFailure, "binary", fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation))
	}
	if len(req.Key) > MaxKeyLen {
		return nil, clienterr.New(clienterr.EncodeFailure, "binary", fmt.Errorf("key length %d exceeds %d", len(req.Key), MaxKeyLen))
	}
	if len(req.Value) > MaxValueLen {
		return nil, clienterr.New(clienterr.EncodeFailure, "binary", fmt.Errorf("value length %d exceeds %d", len(req.Value), MaxValueLen))
	}

	var buf []byte
	if opCode == OpSet {
		buf = encodeSetRequest(req.Key, []byte(req.Value))
	} else {
		buf = encodeSimpleRequest(opCode, req.Key)
	}
	return &Frame{Encoding: EncodingBinary, Header: buf[:5], Body: buf[5:]}, nil
}

func encodeSetRequest(key string, value []byte) []byte {
	keyLen := len(key)
	valueLen := len(value)

	// 1 (opcode) + 4 (payload len) + 2 (key len) + key + 4 (value len) + value
	totalSize := 1 + 4 + 2 + keyLen + 4 + valueLen
	buf := make([]byte, totalSize)

	pos := 0
	buf[pos] = OpSet
	pos++

	payloadLen := 2 + keyLen + 4 + valueLen
	binary.BigEndian.PutUint32(buf[pos:], uint32(payloadLen))
	pos += 4

	binary.BigEndian.PutUint16(buf[pos:], uint16(keyLen))
	pos += 2
	copy(buf[pos:], key)
	pos += keyLen

	binary.BigEndian.PutUint32(buf[pos:], uint32(valueLen))
	pos += 4
	copy(buf[pos:], value)

	return buf
}

func encodeSimpleRequest(opCode byte, key string) []byte {
	keyLen := len(key)
	totalSize := 1 + 4 + 2 + keyLen
	buf := make([]byte, totalSize)

	pos := 0
	buf[pos] = opCode
	pos++

	binary.BigEndian.PutUint32(buf[pos:], uint32(2+keyLen))
	pos += 4

	binary.BigEndian.PutUint16(buf[pos:], uint16(keyLen))
	pos += 2
	copy(buf[pos:], key)

	return buf
}
