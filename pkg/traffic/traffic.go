package traffic

import (
	"strings"
	"time"
)

// Headers maps header names to values exactly as they were recorded.
// Names are not canonicalized.
type Headers map[string]string

// Clone returns a copy of the header map.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Get returns the value of the named header, matching the name without regard
// to case. An exact match wins over a case-insensitive one.
func (h Headers) Get(name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Request represents one recorded HTTP request
type Request struct {
	HTTPMethod string     `json:"http_method"`
	URI        string     `json:"uri"`
	Headers    Headers    `json:"headers"`
	Body       Body       `json:"body"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Response represents one recorded HTTP response
type Response struct {
	StatusCode int        `json:"statuscode"`
	Headers    Headers    `json:"headers"`
	Body       Body       `json:"body"`
	Latency    float64    `json:"latency"` // milliseconds between request and response
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// RequestResponsePair associates a request with one of the responses it received.
//
// Corresponding points at the pair holding the other response to the same
// request. It is a plain back-reference; both pairs are owned by the stream
// they were appended to.
type RequestResponsePair struct {
	Request       *Request             `json:"request"`
	Response      *Response            `json:"response"`
	Corresponding *RequestResponsePair `json:"-"`
}

// NewPair creates a pair with no counterpart.
func NewPair(req *Request, resp *Response) *RequestResponsePair {
	return &RequestResponsePair{Request: req, Response: resp}
}

// Link wires primary and shadow to each other.
func Link(primary, shadow *RequestResponsePair) {
	shadow.Corresponding = primary
	primary.Corresponding = shadow
}

// RequestResponseStream is an ordered list of pairs in log order.
type RequestResponseStream []*RequestResponsePair

// Append adds a pair to the end of the stream.
func (s *RequestResponseStream) Append(pair *RequestResponsePair) {
	*s = append(*s, pair)
}

// Len returns the number of pairs in the stream.
func (s RequestResponseStream) Len() int {
	return len(s)
}
