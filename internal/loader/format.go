package loader

import (
	"io"
	"iter"
	"os"
	"sort"
	"strings"

	"github.com/funnyzak/trafficcmp/internal/logger"
)

// Format identifies a log file layout.
type Format string

const (
	// FormatHAProxyJSONs is the proxy-style log format. It has no loader yet.
	FormatHAProxyJSONs Format = "haproxy-jsons"
	// FormatReplayerTriples is the replayer output: one request and two responses per line.
	FormatReplayerTriples Format = "replayer-triples"
)

// IsValid reports whether the format is a known identifier.
func (f Format) IsValid() bool {
	switch f {
	case FormatHAProxyJSONs, FormatReplayerTriples:
		return true
	default:
		return false
	}
}

// ParseFormat normalizes a user supplied format name.
func ParseFormat(s string) Format {
	return Format(strings.ToLower(strings.TrimSpace(s)))
}

// Loader turns log files into primary and shadow streams.
type Loader interface {
	// Load reads every file in order. Lines that cannot be parsed are skipped
	// and reported in Result.Skipped; a file that cannot be read aborts the load.
	Load(paths []string) (*Result, error)
	// Stream lazily parses r one line at a time. Parse errors are yielded to
	// the caller, not skipped.
	Stream(r io.Reader) iter.Seq2[Triple, error]
}

type constructor func(logger.Logger) Loader

var registry = map[Format]constructor{
	FormatReplayerTriples: func(log logger.Logger) Loader { return NewTriplesLoader(log) },
}

// Lookup returns the loader registered for format.
func Lookup(format Format, log logger.Logger) (Loader, error) {
	newLoader, ok := registry[format]
	if !ok {
		return nil, &UnsupportedFormatError{Format: format}
	}
	return newLoader(log), nil
}

// Supported lists the formats that have a loader, sorted by name.
func Supported() []Format {
	formats := make([]Format, 0, len(registry))
	for f := range registry {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}

// LoadFromStdin streams triples from standard input using the given loader.
// The sequence blocks waiting for input until stdin is closed.
func LoadFromStdin(l Loader) iter.Seq2[Triple, error] {
	return l.Stream(os.Stdin)
}
