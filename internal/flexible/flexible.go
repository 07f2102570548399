// Package flexible implements the self-describing message frame carried on
// every device channel (notifications, control, metadata).
//
// A frame wraps a JSON-like document together with the identity of the
// writer that produced it and a per-writer sequence number:
//
//	{"writer": "5f0c...", "seq": 12, "data": {"id": "set-option", ...}}
//
// Frames are encoded either as JSON (default) or CBOR. Decode detects the
// encoding from the first byte, so readers accept both.
package flexible

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Document is a loosely typed JSON-like object.
type Document = map[string]any

// Format selects the frame encoding.
type Format int

const (
	// FormatJSON encodes frames as UTF-8 JSON.
	FormatJSON Format = iota
	// FormatCBOR encodes frames as CBOR (RFC 8949).
	FormatCBOR
)

// String returns the configuration name of the format.
func (f Format) String() string {
	switch f {
	case FormatCBOR:
		return "cbor"
	default:
		return "json"
	}
}

// ParseFormat converts a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return FormatJSON, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Identity identifies a sample: the writer that sent it and the writer's
// sequence number for it. It is the correlation token echoed in replies.
type Identity struct {
	Writer   string
	Sequence int64
}

// JSON returns the identity in reply form: [writer, sequence].
func (i Identity) JSON() []any {
	return []any{i.Writer, i.Sequence}
}

// Frame is one message on the wire.
type Frame struct {
	Writer   string   `json:"writer" cbor:"writer"`
	Sequence int64    `json:"seq" cbor:"seq"`
	Data     Document `json:"data" cbor:"data"`
}

// Identity returns the frame's sample identity.
func (f Frame) Identity() Identity {
	return Identity{Writer: f.Writer, Sequence: f.Sequence}
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	cborEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Nested maps must come back as map[string]any so documents look the
	// same regardless of the encoding they arrived in.
	cborDec, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyQuiet,
		IndefLength:     cbor.IndefLengthAllowed,
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		IntDec:          cbor.IntDecConvertSigned,
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Encode serialises a frame in the given format.
func Encode(format Format, frame Frame) ([]byte, error) {
	switch format {
	case FormatCBOR:
		b, err := cborEnc.Marshal(frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		return b, nil
	default:
		b, err := json.Marshal(frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		return b, nil
	}
}

// Decode parses a frame, detecting JSON or CBOR from the payload.
//
// A frame without a data object is reported as ErrInvalidFrame; readers
// skip such samples rather than dispatching them.
func Decode(payload []byte) (Frame, error) {
	var frame Frame

	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return frame, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}

	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &frame); err != nil {
			return frame, fmt.Errorf("%w: %w", ErrDecode, err)
		}
	} else {
		if err := cborDec.Unmarshal(payload, &frame); err != nil {
			return frame, fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	if frame.Data == nil {
		return frame, fmt.Errorf("%w: missing data", ErrInvalidFrame)
	}
	return frame, nil
}

// Shorten renders a document as JSON, truncated to at most max bytes with a
// trailing ellipsis. Used for debug logging of large discovery documents.
func Shorten(doc any, max int) string {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Sprintf("<unprintable: %v>", err)
	}
	if max <= 3 || len(b) <= max {
		return string(b)
	}
	return string(b[:max-3]) + "..."
}
