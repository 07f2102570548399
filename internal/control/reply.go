package control

import (
	"strconv"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
)

// Reply envelope keys.
const (
	KeySample      = "sample"
	KeyID          = "id"
	KeyControl     = "control"
	KeyStatus      = "status"
	KeyExplanation = "explanation"

	statusError = "error"
)

// envelopeKeys may not be overwritten by handler fields.
var envelopeKeys = map[string]struct{}{
	KeySample:  {},
	KeyID:      {},
	KeyControl: {},
}

// BuildReply returns the reply envelope for a request:
//
//	{"sample": [writer, seq], "id": <echoed>, "control": <request>}
//
// "id" is only echoed when the request's id is a string.
func BuildReply(sample flexible.Identity, body flexible.Document) flexible.Document {
	echo := body
	if hasNonFinite(body) {
		echo = encodable(body).(flexible.Document)
	}
	reply := flexible.Document{
		KeySample:  sample.JSON(),
		KeyControl: echo,
	}
	if id, ok := body[KeyID].(string); ok {
		reply[KeyID] = id
	}
	return reply
}

func setFailure(reply flexible.Document, err *Error) {
	reply[KeyStatus] = statusError
	reply[KeyExplanation] = err.Message
}

// hasNonFinite reports whether v holds a NaN or infinity anywhere. Such
// values arrive in CBOR requests and cannot be encoded as JSON.
func hasNonFinite(v any) bool {
	switch t := v.(type) {
	case float64:
		return !finite(t)
	case float32:
		return !finite(float64(t))
	case map[string]any:
		for _, e := range t {
			if hasNonFinite(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if hasNonFinite(e) {
				return true
			}
		}
	}
	return false
}

// encodable copies v with every non-finite number replaced by its string
// form ("NaN", "+Inf", "-Inf").
func encodable(v any) any {
	switch t := v.(type) {
	case float64:
		if !finite(t) {
			return strconv.FormatFloat(t, 'g', -1, 64)
		}
		return t
	case float32:
		if !finite(float64(t)) {
			return strconv.FormatFloat(float64(t), 'g', -1, 32)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = encodable(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = encodable(e)
		}
		return out
	default:
		return v
	}
}
