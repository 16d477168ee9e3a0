package loader

import (
	stdjson "encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

func logEntry() map[string]interface{} {
	return map[string]interface{}{
		"request": map[string]interface{}{
			"Accept":       "*/*",
			"User-Agent":   "curl/7.61.1",
			"Request-URI":  "/",
			"Host":         "localhost:9200",
			"Method":       "GET",
			"HTTP-Version": "HTTP/1.1",
			"body":         "",
		},
		"primaryResponse": map[string]interface{}{
			"HTTP-Version":     "HTTP/1.1",
			"Reason-Phrase":    "OK",
			"Status-Code":      "200",
			"body":             "{\n  \"name\" : \"primary-cluster-node-1\",\n  \"cluster_name\" : \"primary-cluster\",\n \"tagline\" : \"You Know, for Search\"\n}\n",
			"content-length":   "549",
			"content-type":     "application/json; charset=UTF-8",
			"response_time_ms": 14,
		},
		"shadowResponse": map[string]interface{}{
			"content-length":   "549",
			"content-type":     "application/json; charset=UTF-8",
			"response_time_ms": 199,
			"HTTP-Version":     "HTTP/1.1",
			"Status-Code":      "200",
			"body":             "{\n  \"name\" : \"3c22f.ant.amazon.com\",\n  \"cluster_name\" : \"elasticsearch\",\n  \"tagline\" : \"You Know, for Search\"\n}\n",
			"Reason-Phrase":    "OK",
		},
	}
}

func encodeLine(t *testing.T, v interface{}) string {
	t.Helper()
	buf, err := stdjson.Marshal(v)
	require.NoError(t, err)
	return string(buf)
}

func TestParseLine(t *testing.T) {
	primary, shadow, err := ParseLine(encodeLine(t, logEntry()))
	require.NoError(t, err)

	assert.Same(t, shadow, primary.Corresponding)
	assert.Same(t, primary, shadow.Corresponding)
	assert.Same(t, primary.Request, shadow.Request)

	assert.Equal(t, &traffic.Request{
		HTTPMethod: "GET",
		URI:        "/",
		Headers: traffic.Headers{
			"Accept":     "*/*",
			"User-Agent": "curl/7.61.1",
			"Host":       "localhost:9200",
		},
		Body: traffic.RawBody(""),
	}, primary.Request)

	assert.Equal(t, &traffic.Response{
		StatusCode: 200,
		Headers: traffic.Headers{
			"content-length": "549",
			"content-type":   "application/json; charset=UTF-8",
		},
		Latency: 14,
		Body: traffic.JSONBody(map[string]interface{}{
			"name":         "primary-cluster-node-1",
			"cluster_name": "primary-cluster",
			"tagline":      "You Know, for Search",
		}),
	}, primary.Response)

	assert.Equal(t, 200, shadow.Response.StatusCode)
	assert.Equal(t, float64(199), shadow.Response.Latency)
	body, ok := shadow.Response.Body.JSON()
	require.True(t, ok)
	assert.Equal(t, "3c22f.ant.amazon.com", body.(map[string]interface{})["name"])
}

func TestParseLineNumericStatusCode(t *testing.T) {
	entry := logEntry()
	entry["shadowResponse"].(map[string]interface{})["Status-Code"] = 503

	_, shadow, err := ParseLine(encodeLine(t, entry))
	require.NoError(t, err)
	assert.Equal(t, 503, shadow.Response.StatusCode)
}

func TestParseLineMissingSections(t *testing.T) {
	for _, name := range []string{"request", "primaryResponse", "shadowResponse"} {
		t.Run(name, func(t *testing.T) {
			entry := logEntry()
			delete(entry, name)

			primary, shadow, err := ParseLine(encodeLine(t, entry))
			assert.Nil(t, primary)
			assert.Nil(t, shadow)

			var missing *MissingSectionError
			require.True(t, errors.As(err, &missing), "got %v", err)
			assert.Equal(t, name, missing.Section)
		})
	}
}

func TestParseLineNullSection(t *testing.T) {
	entry := logEntry()
	entry["primaryResponse"] = nil

	_, _, err := ParseLine(encodeLine(t, entry))
	var missing *MissingSectionError
	require.True(t, errors.As(err, &missing), "got %v", err)
	assert.Equal(t, "primaryResponse", missing.Section)
}

func TestParseLineMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "empty", line: ""},
		{name: "not json", line: "GET / HTTP/1.1"},
		{name: "truncated", line: `{"request": {"Method": "GET"`},
		{name: "array", line: `[1, 2, 3]`},
		{name: "section is not an object", line: `{"request": "GET /", "primaryResponse": {}, "shadowResponse": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, shadow, err := ParseLine(tt.line)
			assert.Nil(t, primary)
			assert.Nil(t, shadow)

			var formatErr *FormatError
			require.True(t, errors.As(err, &formatErr), "got %v", err)
			assert.Equal(t, KindLine, formatErr.Kind)
		})
	}
}

func TestParseLinePropagatesFieldErrors(t *testing.T) {
	entry := logEntry()
	delete(entry["shadowResponse"].(map[string]interface{}), "response_time_ms")

	primary, shadow, err := ParseLine(encodeLine(t, entry))
	assert.Nil(t, primary)
	assert.Nil(t, shadow)

	var missing *MissingFieldError
	require.True(t, errors.As(err, &missing), "got %v", err)
	assert.Equal(t, KindShadowResponse, missing.Kind)
	assert.Equal(t, "response_time_ms", missing.Field)
	assert.Contains(t, err.Error(), "shadowResponse")
}

func TestParseLineIntegralFloatStatus(t *testing.T) {
	entry := logEntry()
	entry["primaryResponse"].(map[string]interface{})["Status-Code"] = stdjson.Number("200.0")
	line := encodeLine(t, entry)
	require.Contains(t, line, `"Status-Code":200.0`)

	primary, _, err := ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, 200, primary.Response.StatusCode)
}

func TestIsParseError(t *testing.T) {
	_, _, err := ParseLine("not json")
	assert.True(t, IsParseError(err))
	assert.True(t, IsParseError(&LineError{Path: "a.log", Err: &MissingSectionError{Section: "request"}}))
	assert.False(t, IsParseError(errors.New("read failed")))
	assert.False(t, IsParseError(nil))
}
