package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skshohagmiah/flinsend/pkg/clienterr"
	"github.com/skshohagmiah/flinsend/pkg/fbs"
)

var requestSchemaPath = filepath.Join("..", "..", "resources", "request.fbs")

const demoJSON = `{"operation":"set","member":{"key":"k3","value":"v3"}}`

func allEncoders() []Encoder {
	return []Encoder{
		JSONEncoder{},
		&SchemaEncoder{SchemaPath: requestSchemaPath},
		BinaryEncoder{},
	}
}

func TestDeclaredLengthMatchesBody(t *testing.T) {
	for _, enc := range allEncoders() {
		t.Run(string(enc.Encoding()), func(t *testing.T) {
			frame, err := enc.Encode(DefaultRequest())
			require.NoError(t, err)

			assert.True(t, frame.Valid())
			assert.Len(t, frame.Header, HeaderSize(enc.Encoding()))
			assert.Equal(t, uint64(len(frame.Body)), frame.DeclaredLen())
			assert.Equal(t, len(frame.Header)+len(frame.Body), len(frame.Bytes()))
		})
	}
}

func TestJSONFrameLayout(t *testing.T) {
	frame, err := JSONEncoder{}.Encode(DefaultRequest())
	require.NoError(t, err)

	assert.Equal(t, demoJSON, string(frame.Body))
	assert.Equal(t, uint64(len(demoJSON)), binary.BigEndian.Uint64(frame.Header))

	wire := frame.Wire(FrameFull)
	assert.Equal(t, 8+len(demoJSON), len(wire))
	assert.Equal(t, demoJSON, string(wire[8:]))
}

func TestSizeOnlyModeDropsBody(t *testing.T) {
	tests := []struct {
		enc  Encoder
		want int
	}{
		{JSONEncoder{}, 8},
		{&SchemaEncoder{SchemaPath: requestSchemaPath}, 4},
		{BinaryEncoder{}, 5},
	}
	for _, tt := range tests {
		t.Run(string(tt.enc.Encoding()), func(t *testing.T) {
			frame, err := tt.enc.Encode(DefaultRequest())
			require.NoError(t, err)

			wire := frame.Wire(FrameSizeOnly)
			assert.Len(t, wire, tt.want)

			// The declared length still describes a body that never arrives
			got, err := ReadFrameMode(bytes.NewReader(wire), tt.enc.Encoding(), FrameSizeOnly, 0)
			assert.ErrorIs(t, err, io.EOF)
			require.NotNil(t, got)
			assert.Equal(t, frame.DeclaredLen(), got.DeclaredLen())
			assert.NotZero(t, got.DeclaredLen())
		})
	}
}

func TestSizeOnlyJSONHeaderIsLittleEndian(t *testing.T) {
	frame, err := JSONEncoder{}.Encode(DefaultRequest())
	require.NoError(t, err)

	// 54 bytes of JSON
	assert.Equal(t, []byte{0x36, 0, 0, 0, 0, 0, 0, 0}, frame.Wire(FrameSizeOnly))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0x36}, frame.Wire(FrameFull)[:8])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0x36}, frame.Header)

	// Other encodings keep their header unchanged
	bin, err := BinaryEncoder{}.Encode(DefaultRequest())
	require.NoError(t, err)
	assert.Equal(t, bin.Header, bin.Wire(FrameSizeOnly))

	// A size-only header read as a full one announces an absurd body
	_, err = ReadFrame(bytes.NewReader(frame.Wire(FrameSizeOnly)), EncodingJSON, MaxValueLen)
	assert.Error(t, err)

	// A frame read in size-only layout still serializes as a full frame
	got, err := ReadFrameMode(bytes.NewReader(frame.Wire(FrameSizeOnly)), EncodingJSON, FrameSizeOnly, MaxValueLen)
	assert.ErrorIs(t, err, io.EOF)
	got.Body = frame.Body
	assert.True(t, got.Valid())
	assert.Equal(t, frame.Bytes(), got.Bytes())
}

func TestSchemaFrameIsSizePrefixedFlatBuffer(t *testing.T) {
	enc := &SchemaEncoder{SchemaPath: requestSchemaPath}
	frame, err := enc.Encode(DefaultRequest())
	require.NoError(t, err)

	assert.Equal(t, uint32(len(frame.Body)), binary.LittleEndian.Uint32(frame.Header))

	schema, err := fbs.LoadFile(requestSchemaPath)
	require.NoError(t, err)

	// Same bytes as encoding the literal document with the schema directly
	direct, err := fbs.EncodeJSON(schema, []byte(demoJSON))
	require.NoError(t, err)
	assert.Equal(t, direct, frame.Bytes())
}

func TestRoundTrip(t *testing.T) {
	schema, err := fbs.LoadFile(requestSchemaPath)
	require.NoError(t, err)

	req := Request{Operation: "set", Key: "user:42", Value: "héllo wörld"}
	for _, enc := range allEncoders() {
		t.Run(string(enc.Encoding()), func(t *testing.T) {
			frame, err := enc.Encode(req)
			require.NoError(t, err)

			got, err := Decode(frame, schema)
			require.NoError(t, err)
			assert.Equal(t, req, got)
		})
	}
}

func TestBinaryNonSetOperations(t *testing.T) {
	frame, err := BinaryEncoder{}.Encode(Request{Operation: "get", Key: "k3"})
	require.NoError(t, err)
	assert.Equal(t, OpGet, frame.Header[0])
	assert.Equal(t, uint64(4), frame.DeclaredLen())

	got, err := Decode(frame, nil)
	require.NoError(t, err)
	assert.Equal(t, Request{Operation: "get", Key: "k3"}, got)

	_, err = BinaryEncoder{}.Encode(Request{Operation: "publish", Key: "k"})
	assert.True(t, clienterr.Is(err, clienterr.EncodeFailure))
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestSchemaEncoderMissingFile(t *testing.T) {
	enc := &SchemaEncoder{SchemaPath: filepath.Join(t.TempDir(), "request.fbs")}

	frame, err := enc.Encode(DefaultRequest())
	assert.Nil(t, frame)
	require.Error(t, err)
	assert.Equal(t, clienterr.SchemaLoadFailure, clienterr.KindOf(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSchemaEncoderBadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.fbs")
	require.NoError(t, os.WriteFile(path, []byte("table Request { operation: string }"), 0o644))

	frame, err := (&SchemaEncoder{SchemaPath: path}).Encode(DefaultRequest())
	assert.Nil(t, frame)
	assert.Equal(t, clienterr.SchemaParseFailure, clienterr.KindOf(err))
}

func TestSchemaEncoderNonConformingRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.fbs")
	schema := `
		table Request { operation: string; key: string; }
		root_type Request;
	`
	require.NoError(t, os.WriteFile(path, []byte(schema), 0o644))

	// The request document has a "member" table this schema does not know
	frame, err := (&SchemaEncoder{SchemaPath: path}).Encode(DefaultRequest())
	assert.Nil(t, frame)
	assert.Equal(t, clienterr.SchemaParseFailure, clienterr.KindOf(err))

	var verr *fbs.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEncodersRejectInvalidRequest(t *testing.T) {
	for _, enc := range allEncoders() {
		t.Run(string(enc.Encoding()), func(t *testing.T) {
			frame, err := enc.Encode(Request{Operation: "set"})
			assert.Nil(t, frame)
			assert.ErrorIs(t, err, ErrEmptyKey)
			assert.Equal(t, clienterr.EncodeFailure, clienterr.KindOf(err))
		})
	}
}

func TestReadFrame(t *testing.T) {
	frame, err := JSONEncoder{}.Encode(DefaultRequest())
	require.NoError(t, err)

	got, err := ReadFrame(bytes.NewReader(frame.Bytes()), EncodingJSON, 0)
	require.NoError(t, err)
	assert.Equal(t, frame.Body, got.Body)
	assert.True(t, got.Valid())

	// Header only: the body never arrives
	got, err = ReadFrame(bytes.NewReader(frame.Header), EncodingJSON, 0)
	assert.ErrorIs(t, err, io.EOF)
	require.NotNil(t, got)
	assert.Empty(t, got.Body)
	assert.False(t, got.Valid())

	// Partial body
	full := frame.Bytes()
	got, err = ReadFrame(bytes.NewReader(full[:len(full)-3]), EncodingJSON, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Len(t, got.Body, len(frame.Body)-3)

	_, err = ReadFrame(bytes.NewReader(full), EncodingJSON, 10)
	assert.Error(t, err)

	_, err = ReadFrame(bytes.NewReader(nil), EncodingJSON, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeRejectsIncompleteFrame(t *testing.T) {
	frame, err := JSONEncoder{}.Encode(DefaultRequest())
	require.NoError(t, err)

	frame.Body = frame.Body[:10]
	_, err = Decode(frame, nil)
	assert.ErrorIs(t, err, ErrIncompleteFrame)
}

func TestParseModesAndEncodings(t *testing.T) {
	m, err := ParseFrameMode("size-only")
	require.NoError(t, err)
	assert.Equal(t, FrameSizeOnly, m)
	assert.Equal(t, "size-only", m.String())

	m, err = ParseFrameMode("")
	require.NoError(t, err)
	assert.Equal(t, FrameFull, m)

	_, err = ParseFrameMode("half")
	assert.Error(t, err)

	e, err := ParseEncoding("fb")
	require.NoError(t, err)
	assert.Equal(t, EncodingFlatBuffers, e)

	_, err = ParseEncoding("xml")
	assert.Error(t, err)

	_, err = NewEncoder("xml", "")
	assert.Error(t, err)
}
