package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encoding selects how a request is serialized
type Encoding string

const (
	EncodingFlatBuffers Encoding = "flatbuffers"
	EncodingJSON        Encoding = "json"
	EncodingBinary      Encoding = "binary"
)

// ParseEncoding maps a configuration string to an Encoding
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "flatbuffers", "fb":
		return EncodingFlatBuffers, nil
	case "json":
		return EncodingJSON, nil
	case "binary", "bin":
		return EncodingBinary, nil
	}
	return "", fmt.Errorf("unknown encoding %q", s)
}

// HeaderSize is the number of bytes preceding the body for an encoding:
//
//	flatbuffers: [4 bytes LE: length]
//	json:        [8 bytes BE: length]
//	binary:      [1 byte: OpCode][4 bytes BE: PayloadLength]
func HeaderSize(enc Encoding) int {
	switch enc {
	case EncodingFlatBuffers:
		return 4
	case EncodingJSON:
		return 8
	case EncodingBinary:
		return 5
	}
	return 0
}

// DeclaredLength reads the body length a full-mode header announces
func DeclaredLength(enc Encoding, header []byte) (uint64, error) {
	return declaredLength(enc, FrameFull, header)
}

func declaredLength(enc Encoding, mode FrameMode, header []byte) (uint64, error) {
	if len(header) < HeaderSize(enc) || HeaderSize(enc) == 0 {
		return 0, fmt.Errorf("header too short for %s: %d bytes", enc, len(header))
	}
	switch enc {
	case EncodingFlatBuffers:
		return uint64(binary.LittleEndian.Uint32(header)), nil
	case EncodingJSON:
		return jsonByteOrder(mode).Uint64(header), nil
	default:
		return uint64(binary.BigEndian.Uint32(header[1:5])), nil
	}
}

// Older clients wrote the JSON length as a native little-endian 64-bit
// integer; full frames use network byte order
func jsonByteOrder(mode FrameMode) binary.ByteOrder {
	if mode == FrameSizeOnly {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// FrameMode controls how much of a frame is put on the wire
type FrameMode int

const (
	// FrameFull writes the header followed by the body
	FrameFull FrameMode = iota
	// FrameSizeOnly writes only the header, the way older clients did.
	// Servers see a length prefix and then EOF. The JSON length is
	// little-endian in this layout.
	FrameSizeOnly
)

// ParseFrameMode maps a configuration string to a FrameMode
func ParseFrameMode(s string) (FrameMode, error) {
	switch s {
	case "full", "":
		return FrameFull, nil
	case "size-only", "legacy":
		return FrameSizeOnly, nil
	}
	return 0, fmt.Errorf("unknown frame mode %q", s)
}

func (m FrameMode) String() string {
	switch m {
	case FrameFull:
		return "full"
	case FrameSizeOnly:
		return "size-only"
	}
	return fmt.Sprintf("FrameMode(%d)", int(m))
}

// Frame is an encoded request: a length header and the body it describes
type Frame struct {
	Encoding Encoding
	Mode     FrameMode // layout Header is written in
	Header   []byte
	Body     []byte
}

// DeclaredLen is the body length announced by the header
func (f *Frame) DeclaredLen() uint64 {
	n, err := declaredLength(f.Encoding, f.Mode, f.Header)
	if err != nil {
		return 0
	}
	return n
}

// header returns the header in the layout of mode
func (f *Frame) header(mode FrameMode) []byte {
	if f.Encoding != EncodingJSON || f.Mode == mode || len(f.Header) != HeaderSize(EncodingJSON) {
		return f.Header
	}
	h := make([]byte, 8)
	jsonByteOrder(mode).PutUint64(h, f.DeclaredLen())
	return h
}

// Valid reports whether the header announces exactly the body that follows
func (f *Frame) Valid() bool {
	return len(f.Header) == HeaderSize(f.Encoding) && f.DeclaredLen() == uint64(len(f.Body))
}

// Wire returns the bytes to write for the given mode
func (f *Frame) Wire(mode FrameMode) []byte {
	header := f.header(mode)
	if mode == FrameSizeOnly {
		return header
	}
	buf := make([]byte, 0, len(header)+len(f.Body))
	buf = append(buf, header...)
	return append(buf, f.Body...)
}

// Bytes returns the complete frame
func (f *Frame) Bytes() []byte {
	return f.Wire(FrameFull)
}

// ReadFrame reads one full-mode header and exactly the body it declares.
// If the stream ends inside the body, the partial frame is returned with
// io.ErrUnexpectedEOF; if it ends right after the header, with io.EOF.
func ReadFrame(r io.Reader, enc Encoding, maxBody uint64) (*Frame, error) {
	return ReadFrameMode(r, enc, FrameFull, maxBody)
}

// ReadFrameMode is ReadFrame for headers written in the given mode
func ReadFrameMode(r io.Reader, enc Encoding, mode FrameMode, maxBody uint64) (*Frame, error) {
	size := HeaderSize(enc)
	if size == 0 {
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}

	header := make([]byte, size)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	frame := &Frame{Encoding: enc, Mode: mode, Header: header}

	n, err := declaredLength(enc, mode, header)
	if err != nil {
		return frame, err
	}
	if maxBody > 0 && n > maxBody {
		return frame, fmt.Errorf("declared body of %d bytes exceeds limit %d", n, maxBody)
	}

	body := make([]byte, n)
	read, err := io.ReadFull(r, body)
	frame.Body = body[:read]
	if err != nil {
		if read == 0 && n > 0 {
			return frame, io.EOF
		}
		return frame, io.ErrUnexpectedEOF
	}
	return frame, nil
}
