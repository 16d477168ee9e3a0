package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

// Result holds the output of a batch load.
type Result struct {
	Primary traffic.RequestResponseStream
	Shadow  traffic.RequestResponseStream
	Skipped []*LineError
}

// Loaded returns the number of lines that produced a triple.
func (r *Result) Loaded() int {
	return r.Primary.Len()
}

func (r *Result) add(primary, shadow *traffic.RequestResponsePair) {
	r.Primary.Append(primary)
	r.Shadow.Append(shadow)
}

// TriplesLoader loads replayer triples logs.
type TriplesLoader struct {
	logger logger.Logger
}

// NewTriplesLoader creates a loader for the replayer triples format
func NewTriplesLoader(log logger.Logger) *TriplesLoader {
	if log == nil {
		log = logger.Nop()
	}
	return &TriplesLoader{logger: log}
}

// Load implements Loader
func (l *TriplesLoader) Load(paths []string) (*Result, error) {
	result := &Result{}
	for _, path := range paths {
		if err := l.loadFile(path, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (l *TriplesLoader) loadFile(path string, result *Result) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	before := result.Loaded()
	lines := newLineReader(f)
	for i := 0; ; i++ {
		line, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read log file %s: %w", path, err)
		}

		primary, shadow, err := ParseLine(line)
		if err != nil {
			skipped := &LineError{Path: path, Line: i, Err: err}
			result.Skipped = append(result.Skipped, skipped)
			l.logger.Info("Skipping log line that could not be loaded",
				"path", path,
				"line", i,
				"error", err,
			)
			continue
		}
		result.add(primary, shadow)
	}

	loaded := result.Loaded() - before
	l.logger.Info("Loaded log file",
		"path", path,
		"primary_pairs", loaded,
		"shadow_pairs", loaded,
	)
	return nil
}

// Stream implements Loader
func (l *TriplesLoader) Stream(r io.Reader) iter.Seq2[Triple, error] {
	return func(yield func(Triple, error) bool) {
		lines := newLineReader(r)
		for {
			line, err := lines.next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Triple{}, err)
				return
			}
			primary, shadow, err := ParseLine(line)
			if err != nil {
				if !yield(Triple{}, err) {
					return
				}
				continue
			}
			if !yield(Triple{Primary: primary, Shadow: shadow}, nil) {
				return
			}
		}
	}
}

// lineReader returns one line at a time without the size limit of bufio.Scanner.
type lineReader struct {
	r   *bufio.Reader
	eof bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

// next returns the next line without its terminator, or io.EOF once the input is exhausted.
func (lr *lineReader) next() (string, error) {
	if lr.eof {
		return "", io.EOF
	}
	line, err := lr.r.ReadString('\n')
	if errors.Is(err, io.EOF) {
		lr.eof = true
		// a final line with no trailing newline is still a line
		if line == "" {
			return "", io.EOF
		}
	} else if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
