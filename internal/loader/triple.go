package loader

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

// Top-level sections of a replayer triple.
const (
	sectionRequest         = "request"
	sectionPrimaryResponse = "primaryResponse"
	sectionShadowResponse  = "shadowResponse"
)

// numbers are kept as json.Number so status codes and latencies are not rounded
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Triple is the pair of linked results parsed from one log line.
type Triple struct {
	Primary *traffic.RequestResponsePair
	Shadow  *traffic.RequestResponsePair
}

// ParseLine parses one replayer log line into a primary and a shadow pair that
// share a single request and reference each other.
//
// A replayer line looks like:
//
//	{"request": {...}, "primaryResponse": {...}, "shadowResponse": {...}}
//
// Headers are not kept in a separate object; whatever is left in a section once
// the known fields are removed is treated as a header.
func ParseLine(line string) (primary, shadow *traffic.RequestResponsePair, err error) {
	var item map[string]interface{}
	if err := json.UnmarshalFromString(line, &item); err != nil {
		return nil, nil, &FormatError{Kind: KindLine, Err: err}
	}

	requestData, err := section(item, sectionRequest)
	if err != nil {
		return nil, nil, err
	}
	primaryData, err := section(item, sectionPrimaryResponse)
	if err != nil {
		return nil, nil, err
	}
	shadowData, err := section(item, sectionShadowResponse)
	if err != nil {
		return nil, nil, err
	}

	request, err := extractRequest(requestData)
	if err != nil {
		return nil, nil, err
	}
	primaryResponse, err := extractResponse(primaryData, KindPrimaryResponse)
	if err != nil {
		return nil, nil, err
	}
	shadowResponse, err := extractResponse(shadowData, KindShadowResponse)
	if err != nil {
		return nil, nil, err
	}

	primary = traffic.NewPair(request, primaryResponse)
	shadow = traffic.NewPair(request, shadowResponse)
	traffic.Link(primary, shadow)
	return primary, shadow, nil
}

func section(item map[string]interface{}, name string) (record, error) {
	v, ok := item[name]
	if !ok || v == nil {
		return nil, &MissingSectionError{Section: name}
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, &FormatError{Kind: KindLine, Field: name, Value: v, Err: fmt.Errorf("expected object, got %T", v)}
	}
	return record(obj), nil
}
