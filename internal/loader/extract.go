package loader

import (
	stdjson "encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

// Field names used by the replayer triples format.
const (
	fieldBody       = "body"
	fieldMethod     = "Method"
	fieldRequestURI = "Request-URI"
	fieldStatusCode = "Status-Code"
	fieldLatency    = "response_time_ms"
)

// ignoredFields are protocol details that are never surfaced as headers.
var ignoredFields = []string{"Reason-Phrase", "HTTP-Version"}

// record is one request or response object as it appears in a log line.
// Extraction removes the fields it understands; what is left are headers.
type record map[string]interface{}

// take removes key from the record and returns its value.
func (r record) take(key string) (interface{}, bool) {
	v, ok := r[key]
	if ok {
		delete(r, key)
	}
	return v, ok
}

// discard drops keys matching any of names, ignoring case.
func (r record) discard(names ...string) {
	for k := range r {
		for _, name := range names {
			if strings.EqualFold(k, name) {
				delete(r, k)
				break
			}
		}
	}
}

// headers converts the remaining fields into a header map.
func (r record) headers() traffic.Headers {
	h := make(traffic.Headers, len(r))
	for k, v := range r {
		h[k] = headerValue(v)
	}
	return h
}

// DecodeBody parses raw as JSON and falls back to the raw string when it is not
// valid JSON. Empty and binary bodies are kept verbatim.
func DecodeBody(raw string) traffic.Body {
	if strings.TrimSpace(raw) == "" || !stdjson.Valid([]byte(raw)) {
		return traffic.RawBody(raw)
	}
	dec := stdjson.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return traffic.RawBody(raw)
	}
	return traffic.JSONBody(v)
}

func extractRequest(r record) (*traffic.Request, error) {
	body, err := requiredString(r, KindRequest, fieldBody)
	if err != nil {
		return nil, err
	}
	method, err := requiredString(r, KindRequest, fieldMethod)
	if err != nil {
		return nil, err
	}
	uri, err := requiredString(r, KindRequest, fieldRequestURI)
	if err != nil {
		return nil, err
	}
	r.discard(ignoredFields...)

	return &traffic.Request{
		HTTPMethod: method,
		URI:        uri,
		Headers:    r.headers(),
		Body:       DecodeBody(body),
	}, nil
}

func extractResponse(r record, kind RecordKind) (*traffic.Response, error) {
	body, err := requiredString(r, kind, fieldBody)
	if err != nil {
		return nil, err
	}

	rawLatency, ok := r.take(fieldLatency)
	if !ok {
		return nil, &MissingFieldError{Kind: kind, Field: fieldLatency}
	}
	latency, err := parseLatency(rawLatency)
	if err != nil {
		return nil, &FormatError{Kind: kind, Field: fieldLatency, Value: rawLatency, Err: err}
	}

	rawStatus, ok := r.take(fieldStatusCode)
	if !ok {
		return nil, &MissingFieldError{Kind: kind, Field: fieldStatusCode}
	}
	status, err := parseStatusCode(rawStatus)
	if err != nil {
		return nil, &FormatError{Kind: kind, Field: fieldStatusCode, Value: rawStatus, Err: err}
	}
	r.discard(ignoredFields...)

	return &traffic.Response{
		StatusCode: status,
		Headers:    r.headers(),
		Body:       DecodeBody(body),
		Latency:    latency,
	}, nil
}

func requiredString(r record, kind RecordKind, field string) (string, error) {
	v, ok := r.take(field)
	if !ok {
		return "", &MissingFieldError{Kind: kind, Field: field}
	}
	s, ok := v.(string)
	if !ok {
		return "", &FormatError{Kind: kind, Field: field, Value: v, Err: fmt.Errorf("expected string, got %T", v)}
	}
	return s, nil
}

func parseStatusCode(v interface{}) (int, error) {
	switch t := v.(type) {
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	case stdjson.Number:
		if n, err := strconv.Atoi(t.String()); err == nil {
			return n, nil
		}
		// 200.0 and 2e2 are still whole numbers
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("status code %v is not an integer", t)
		}
		if math.Abs(f) > math.MaxInt32 {
			return 0, fmt.Errorf("status code %v is out of range", t)
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("expected string or number, got %T", v)
	}
}

func parseLatency(v interface{}) (float64, error) {
	switch t := v.(type) {
	case stdjson.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func headerValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case stdjson.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		buf, err := stdjson.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(buf)
	}
}
