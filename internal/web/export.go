package web

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"sort"
	"strconv"
	"strings"
	"time"
)

var csvHeader = []string{
	"id", "loaded_at", "method", "uri",
	"primary_status", "shadow_status", "status_match",
	"primary_latency_ms", "shadow_latency_ms",
	"primary_body_kind", "shadow_body_kind",
	"primary_body_bytes", "shadow_body_bytes",
}

// DescribeFormat returns the content type and file extension for an export format.
func DescribeFormat(format string) (contentType, ext string, err error) {
	switch strings.ToLower(format) {
	case "json":
		return "application/json", "json", nil
	case "ndjson":
		return "application/x-ndjson", "ndjson", nil
	case "csv":
		return "text/csv", "csv", nil
	default:
		return "", "", fmt.Errorf("unsupported export format: %s", format)
	}
}

// StreamExport writes every triple produced by items to w in the given format.
func StreamExport(w io.Writer, items iter.Seq[*StoredTriple], format string) (string, string, error) {
	contentType, ext, err := DescribeFormat(format)
	if err != nil {
		return "", "", err
	}
	switch ext {
	case "json":
		err = exportJSON(w, items)
	case "ndjson":
		err = exportNDJSON(w, items)
	case "csv":
		err = exportCSV(w, items)
	}
	return contentType, ext, err
}

func exportJSON(w io.Writer, items iter.Seq[*StoredTriple]) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	for item := range items {
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		buf, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]\n")
	return err
}

func exportNDJSON(w io.Writer, items iter.Seq[*StoredTriple]) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func exportCSV(w io.Writer, items iter.Seq[*StoredTriple]) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for item := range items {
		primary, shadow := item.Primary.Response, item.Shadow.Response
		line := []string{
			item.ID,
			item.LoadedAt.Format(time.RFC3339),
			item.Primary.Request.HTTPMethod,
			item.Primary.Request.URI,
			strconv.Itoa(primary.StatusCode),
			strconv.Itoa(shadow.StatusCode),
			strconv.FormatBool(primary.StatusCode == shadow.StatusCode),
			strconv.FormatFloat(primary.Latency, 'f', -1, 64),
			strconv.FormatFloat(shadow.Latency, 'f', -1, 64),
			primary.Body.Kind().String(),
			shadow.Body.Kind().String(),
			strconv.Itoa(primary.Body.Len()),
			strconv.Itoa(shadow.Body.Len()),
		}
		if err := writer.Write(line); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// AllowedFormats normalizes configured export formats.
func AllowedFormats(formats []string) []string {
	set := make(map[string]struct{})
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, _, err := DescribeFormat(f); err != nil {
			continue
		}
		set[f] = struct{}{}
	}

	result := make([]string, 0, len(set))
	for f := range set {
		result = append(result, f)
	}
	sort.Strings(result)
	return result
}
