package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skshohagmiah/flinsend/pkg/fbs"
)

var ErrIncompleteFrame = errors.New("frame body does not match its declared length")

// Decode reconstructs the Request carried by a complete frame.
// schema is required for flatbuffers frames and ignored otherwise.
func Decode(frame *Frame, schema *fbs.Schema) (Request, error) {
	if !frame.Valid() {
		return Request{}, fmt.Errorf("%w: declared %d, got %d", ErrIncompleteFrame, frame.DeclaredLen(), len(frame.Body))
	}

	switch frame.Encoding {
	case EncodingJSON:
		return decodeJSON(frame.Body)
	case EncodingFlatBuffers:
		if schema == nil {
			return Request{}, errors.New("flatbuffers frame needs a schema to decode")
		}
		return decodeFlatBuffer(schema, frame.Bytes())
	case EncodingBinary:
		return decodeBinary(frame.Header[0], frame.Body)
	}
	return Request{}, fmt.Errorf("unknown encoding %q", frame.Encoding)
}

func decodeJSON(body []byte) (Request, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Request{}, fmt.Errorf("invalid json body: %w", err)
	}
	return Request{Operation: doc.Operation, Key: doc.Member.Key, Value: doc.Member.Value}, nil
}

func decodeFlatBuffer(schema *fbs.Schema, buf []byte) (Request, error) {
	doc, err := fbs.Decode(schema, buf)
	if err != nil {
		return Request{}, err
	}

	var req Request
	req.Operation, _ = doc["operation"].(string)
	if member, ok := doc["member"].(map[string]any); ok {
		req.Key, _ = member["key"].(string)
		req.Value, _ = member["value"].(string)
	}
	return req, nil
}

func decodeBinary(opCode byte, payload []byte) (Request, error) {
	name, ok := opNames[opCode]
	if !ok {
		return Request{}, fmt.Errorf("unknown opcode: %d", opCode)
	}
	if len(payload) < 2 {
		return Request{}, fmt.Errorf("invalid key length")
	}

	pos := 0
	keyLen := int(binary.BigEndian.Uint16(payload[pos:]))
	pos += 2
	if len(payload) < pos+keyLen {
		return Request{}, fmt.Errorf("incomplete key")
	}
	req := Request{Operation: name, Key: string(payload[pos : pos+keyLen])}
	pos += keyLen

	if opCode != OpSet {
		return req, nil
	}

	if len(payload) < pos+4 {
		return Request{}, fmt.Errorf("invalid value length")
	}
	valueLen := int(binary.BigEndian.Uint32(payload[pos:]))
	pos += 4
	if len(payload) < pos+valueLen {
		return Request{}, fmt.Errorf("incomplete value")
	}
	req.Value = string(payload[pos : pos+valueLen])
	return req, nil
}
