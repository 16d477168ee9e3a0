package loader

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

// gzipBody is what a gzip-encoded body looks like once the replayer has
// written it out as a JSON string.
const gzipBody = "\x1f�\b\x00\x00\x00\x00\x00\x00\x00ԎA\n�@\bE�\x12\\��EVs�\x10\n\x06��v"

func gzipEntry() map[string]interface{} {
	return map[string]interface{}{
		"request": map[string]interface{}{
			"host":            "host.docker.internal",
			"Request-URI":     "/geonames",
			"content-type":    "application/json",
			"Method":          "GET",
			"HTTP-Version":    "HTTP/1.1",
			"body":            "",
			"accept-encoding": "gzip, deflate",
			"Accept":          "*/*",
		},
		"primaryResponse": map[string]interface{}{
			"content-length":   "162",
			"content-encoding": "gzip",
			"content-type":     "application/json; charset=UTF-8",
			"response_time_ms": 23,
			"HTTP-Version":     "HTTP/1.1",
			"Status-Code":      "404",
			"body":             gzipBody,
			"Reason-Phrase":    "Not Found",
		},
		"shadowResponse": map[string]interface{}{
			"content-length":   "367",
			"content-encoding": "gzip",
			"content-type":     "application/json; charset=UTF-8",
			"response_time_ms": 12,
			"HTTP-Version":     "HTTP/1.1",
			"Status-Code":      "200",
			"body":             gzipBody + "\x00\x00",
			"Reason-Phrase":    "OK",
		},
	}
}

func writeLog(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func withoutShadow(t *testing.T) string {
	entry := logEntry()
	delete(entry, "shadowResponse")
	return encodeLine(t, entry)
}

func newTestLoader() *TriplesLoader {
	return NewTriplesLoader(logger.Nop())
}

func TestLoadValidTriple(t *testing.T) {
	path := writeLog(t, "triple.json", encodeLine(t, logEntry()))

	result, err := newTestLoader().Load([]string{path})
	require.NoError(t, err)

	require.Len(t, result.Primary, 1)
	require.Len(t, result.Shadow, 1)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, 1, result.Loaded())

	primary, shadow := result.Primary[0], result.Shadow[0]
	assert.Same(t, shadow, primary.Corresponding)
	assert.Same(t, primary, shadow.Corresponding)
	assert.Same(t, primary.Request, shadow.Request)
	assert.Equal(t, "GET", primary.Request.HTTPMethod)
	assert.Equal(t, float64(14), primary.Response.Latency)
	assert.Equal(t, float64(199), shadow.Response.Latency)
}

func TestLoadMinimalScenario(t *testing.T) {
	line := `{"request":{"Method":"GET","Request-URI":"/","body":"","Accept":"*/*"},` +
		`"primaryResponse":{"Status-Code":"200","response_time_ms":14,"body":"{\"name\":\"x\"}"},` +
		`"shadowResponse":{"Status-Code":"200","response_time_ms":20,"body":""}}`
	path := writeLog(t, "minimal.log", line)

	result, err := newTestLoader().Load([]string{path})
	require.NoError(t, err)
	require.Len(t, result.Primary, 1)

	pair := result.Primary[0]
	assert.Equal(t, "GET", pair.Request.HTTPMethod)
	assert.Equal(t, "/", pair.Request.URI)
	assert.Equal(t, traffic.Headers{"Accept": "*/*"}, pair.Request.Headers)
	assert.Equal(t, 200, pair.Response.StatusCode)
	assert.Equal(t, float64(14), pair.Response.Latency)
	assert.Equal(t, traffic.Headers{}, pair.Response.Headers)
	body, ok := pair.Response.Body.JSON()
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"name": "x"}, body)
}

func TestLoadGzippedBodiesArePreserved(t *testing.T) {
	path := writeLog(t, "gzip-triple.json", encodeLine(t, gzipEntry()))

	result, err := newTestLoader().Load([]string{path})
	require.NoError(t, err)
	require.Len(t, result.Primary, 1)
	require.Len(t, result.Shadow, 1)

	primary, shadow := result.Primary[0], result.Shadow[0]
	assert.Same(t, primary.Request, shadow.Request)
	assert.Equal(t, traffic.Headers{
		"Accept":          "*/*",
		"host":            "host.docker.internal",
		"accept-encoding": "gzip, deflate",
		"content-type":    "application/json",
	}, primary.Request.Headers)

	assert.Equal(t, 404, primary.Response.StatusCode)
	assert.Equal(t, traffic.Headers{
		"content-length":   "162",
		"content-type":     "application/json; charset=UTF-8",
		"content-encoding": "gzip",
	}, primary.Response.Headers)
	raw, ok := primary.Response.Body.Raw()
	require.True(t, ok)
	assert.Equal(t, gzipBody, raw)

	raw, ok = shadow.Response.Body.Raw()
	require.True(t, ok)
	assert.Equal(t, gzipBody+"\x00\x00", raw)
}

func TestLoadSkipsMalformedLinesPerFile(t *testing.T) {
	first := writeLog(t, "first.log", encodeLine(t, logEntry()), withoutShadow(t))
	second := writeLog(t, "second.log", withoutShadow(t), encodeLine(t, gzipEntry()))

	result, err := newTestLoader().Load([]string{first, second})
	require.NoError(t, err)

	require.Len(t, result.Primary, 2)
	require.Len(t, result.Shadow, 2)
	require.Len(t, result.Skipped, 2)

	// files in list order, lines in file order
	assert.Equal(t, "/", result.Primary[0].Request.URI)
	assert.Equal(t, "/geonames", result.Primary[1].Request.URI)
	for i := range result.Primary {
		assert.Same(t, result.Shadow[i], result.Primary[i].Corresponding)
	}

	assert.Equal(t, first, result.Skipped[0].Path)
	assert.Equal(t, 1, result.Skipped[0].Line)
	assert.Equal(t, second, result.Skipped[1].Path)
	assert.Equal(t, 0, result.Skipped[1].Line)

	var missing *MissingSectionError
	require.True(t, errors.As(result.Skipped[0], &missing))
	assert.Equal(t, "shadowResponse", missing.Section)
}

func TestLoadToleratesLineShapes(t *testing.T) {
	valid := encodeLine(t, logEntry())
	path := filepath.Join(t.TempDir(), "shapes.log")
	content := valid + "\r\n" + "\n" + "not json\n" + valid // last line has no newline
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	result, err := newTestLoader().Load([]string{path})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Loaded())
	require.Len(t, result.Skipped, 2)
	assert.Equal(t, 1, result.Skipped[0].Line)
	assert.Equal(t, 2, result.Skipped[1].Line)
}

func TestLoadLongLine(t *testing.T) {
	entry := logEntry()
	entry["primaryResponse"].(map[string]interface{})["body"] = strings.Repeat("x", 256*1024)
	path := writeLog(t, "long.log", encodeLine(t, entry))

	result, err := newTestLoader().Load([]string{path})
	require.NoError(t, err)
	require.Equal(t, 1, result.Loaded())
	raw, ok := result.Primary[0].Response.Body.Raw()
	require.True(t, ok)
	assert.Len(t, raw, 256*1024)
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	valid := writeLog(t, "ok.log", encodeLine(t, logEntry()))
	missing := filepath.Join(t.TempDir(), "missing.log")

	result, err := newTestLoader().Load([]string{valid, missing})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
}

func TestLoadNoFiles(t *testing.T) {
	result, err := newTestLoader().Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Loaded())
	assert.Empty(t, result.Shadow)
}

func TestStreamYieldsParseErrors(t *testing.T) {
	input := strings.Join([]string{
		encodeLine(t, logEntry()),
		withoutShadow(t),
		encodeLine(t, gzipEntry()),
	}, "\n")

	var triples []Triple
	var errs []error
	for triple, err := range newTestLoader().Stream(strings.NewReader(input)) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		triples = append(triples, triple)
	}

	require.Len(t, triples, 2)
	require.Len(t, errs, 1)
	var missing *MissingSectionError
	assert.True(t, errors.As(errs[0], &missing))

	for _, triple := range triples {
		assert.Same(t, triple.Shadow, triple.Primary.Corresponding)
		assert.Same(t, triple.Primary, triple.Shadow.Corresponding)
		assert.Same(t, triple.Primary.Request, triple.Shadow.Request)
	}
}

func TestStreamStopsWhenConsumerStops(t *testing.T) {
	line := encodeLine(t, logEntry())
	input := strings.Repeat(line+"\n", 5)

	seen := 0
	for _, err := range newTestLoader().Stream(strings.NewReader(input)) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestStreamIsFreshPerCall(t *testing.T) {
	l := newTestLoader()
	line := encodeLine(t, logEntry())

	count := func(input string) int {
		n := 0
		for _, err := range l.Stream(strings.NewReader(input)) {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 1, count(line))
	assert.Equal(t, 3, count(strings.Repeat(line+"\n", 3)))
}
