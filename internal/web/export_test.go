package web

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/funnyzak/trafficcmp/internal/loader"
	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

func fixtureTriple(id, uri string, primaryStatus, shadowStatus int) *StoredTriple {
	req := &traffic.Request{
		HTTPMethod: "GET",
		URI:        uri,
		Headers:    traffic.Headers{"Accept": "*/*"},
		Body:       traffic.RawBody(""),
	}
	primary := traffic.NewPair(req, &traffic.Response{
		StatusCode: primaryStatus,
		Headers:    traffic.Headers{},
		Body:       loader.DecodeBody(`{"name":"primary"}`),
		Latency:    14,
	})
	shadow := traffic.NewPair(req, &traffic.Response{
		StatusCode: shadowStatus,
		Headers:    traffic.Headers{},
		Body:       traffic.RawBody("not json"),
		Latency:    20.5,
	})
	traffic.Link(primary, shadow)
	return &StoredTriple{
		ID:       id,
		LoadedAt: time.Date(2025, time.November, 7, 12, 0, 0, 0, time.UTC),
		Primary:  primary,
		Shadow:   shadow,
	}
}

func seqOf(items ...*StoredTriple) func(func(*StoredTriple) bool) {
	return func(yield func(*StoredTriple) bool) {
		for _, it := range items {
			if !yield(it) {
				return
			}
		}
	}
}

func TestStreamExportJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	ct, ext, err := StreamExport(buf, seqOf(fixtureTriple("1", "/a", 200, 200), fixtureTriple("2", "/b", 200, 500)), "json")
	if err != nil {
		t.Fatalf("stream export failed: %v", err)
	}
	if ct != "application/json" || ext != "json" {
		t.Fatalf("unexpected metadata: %s %s", ct, ext)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json export: %v\n%s", err, buf.String())
	}
	if len(decoded) != 2 || decoded[1]["id"] != "2" {
		t.Fatalf("unexpected export: %v", decoded)
	}
}

func TestStreamExportJSONEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	if _, _, err := StreamExport(buf, seqOf(), "json"); err != nil {
		t.Fatalf("stream export failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", buf.String())
	}
}

func TestStreamExportNDJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	if _, _, err := StreamExport(buf, seqOf(fixtureTriple("1", "/a", 200, 200), fixtureTriple("2", "/b", 200, 200)), "ndjson"); err != nil {
		t.Fatalf("ndjson export failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestStreamExportCSV(t *testing.T) {
	buf := &bytes.Buffer{}
	if _, _, err := StreamExport(buf, seqOf(fixtureTriple("1", "/a", 200, 502)), "CSV"); err != nil {
		t.Fatalf("csv export failed: %v", err)
	}

	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %d", len(records))
	}
	row := records[1]
	want := []string{"1", "2025-11-07T12:00:00Z", "GET", "/a", "200", "502", "false", "14", "20.5", "json", "raw", "18", "8"}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("column %s: expected %q, got %q", csvHeader[i], want[i], row[i])
		}
	}
}

func TestStreamExportUnsupported(t *testing.T) {
	if _, _, err := StreamExport(&bytes.Buffer{}, seqOf(), "xml"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestAllowedFormats(t *testing.T) {
	got := AllowedFormats([]string{" CSV", "json", "json", "xml", ""})
	if strings.Join(got, ",") != "csv,json" {
		t.Fatalf("unexpected formats: %v", got)
	}
}
