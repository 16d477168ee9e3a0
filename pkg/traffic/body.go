package traffic

import (
	"encoding/json"
	"fmt"
)

// BodyKind tells how a recorded body was decoded.
type BodyKind int

const (
	// BodyKindRaw is a body kept as the original string.
	BodyKindRaw BodyKind = iota
	// BodyKindJSON is a body that parsed as JSON.
	BodyKindJSON
)

func (k BodyKind) String() string {
	switch k {
	case BodyKindJSON:
		return "json"
	default:
		return "raw"
	}
}

// Body is either a decoded JSON value or the raw string it was recorded as.
// The zero value is an empty raw body.
type Body struct {
	kind  BodyKind
	value interface{}
	raw   string
}

// JSONBody wraps a decoded JSON value.
func JSONBody(v interface{}) Body {
	return Body{kind: BodyKindJSON, value: v}
}

// RawBody wraps an undecoded body.
func RawBody(s string) Body {
	return Body{kind: BodyKindRaw, raw: s}
}

// Kind returns how the body was decoded.
func (b Body) Kind() BodyKind { return b.kind }

// IsJSON reports whether the body holds a decoded JSON value.
func (b Body) IsJSON() bool { return b.kind == BodyKindJSON }

// JSON returns the decoded value; ok is false for raw bodies.
func (b Body) JSON() (v interface{}, ok bool) {
	if b.kind != BodyKindJSON {
		return nil, false
	}
	return b.value, true
}

// Raw returns the original string; ok is false for JSON bodies.
func (b Body) Raw() (s string, ok bool) {
	if b.kind != BodyKindRaw {
		return "", false
	}
	return b.raw, true
}

// String renders the body as text. JSON bodies are re-encoded.
func (b Body) String() string {
	if b.kind == BodyKindRaw {
		return b.raw
	}
	buf, err := json.Marshal(b.value)
	if err != nil {
		return fmt.Sprintf("%v", b.value)
	}
	return string(buf)
}

// Len returns the length of the textual form of the body.
func (b Body) Len() int {
	return len(b.String())
}

// MarshalJSON emits the decoded value for JSON bodies and a JSON string for raw ones.
func (b Body) MarshalJSON() ([]byte, error) {
	if b.kind == BodyKindJSON {
		return json.Marshal(b.value)
	}
	return json.Marshal(b.raw)
}
