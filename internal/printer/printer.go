package printer

import (
	"errors"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/loader"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

// Printer renders loaded triples
type Printer interface {
	// PrintTriple prints a primary pair together with its corresponding shadow pair.
	PrintTriple(primary *traffic.RequestResponsePair) error
	// PrintSummary prints totals for a finished load.
	PrintSummary(*loader.Result) error
}

var errUnlinkedPair = errors.New("pair has no corresponding shadow pair")

// New creates a printer for the given output mode
func New(mode string, log logger.Logger, cfg *config.OutputConfig) Printer {
	if cfg == nil {
		cfg = &config.OutputConfig{}
	}
	if log == nil {
		log = logger.Nop()
	}
	switch mode {
	case "json":
		return NewJSONPrinter(log, cfg)
	default:
		return NewConsolePrinter(log, cfg)
	}
}

func shadowOf(primary *traffic.RequestResponsePair) (*traffic.RequestResponsePair, error) {
	if primary == nil || primary.Request == nil || primary.Response == nil {
		return nil, errors.New("pair is incomplete")
	}
	shadow := primary.Corresponding
	if shadow == nil || shadow.Response == nil {
		return nil, errUnlinkedPair
	}
	return shadow, nil
}

// summary holds aggregate numbers for a load.
type summary struct {
	loaded         int
	skipped        int
	mismatches     int
	primaryLatency float64 // mean, milliseconds
	shadowLatency  float64
}

func summarize(result *loader.Result) summary {
	var s summary
	if result == nil {
		return s
	}
	s.loaded = result.Loaded()
	s.skipped = len(result.Skipped)

	var primaryTotal, shadowTotal float64
	for i, primary := range result.Primary {
		if i >= len(result.Shadow) {
			break
		}
		shadow := result.Shadow[i]
		if primary.Response.StatusCode != shadow.Response.StatusCode {
			s.mismatches++
		}
		primaryTotal += primary.Response.Latency
		shadowTotal += shadow.Response.Latency
	}
	if s.loaded > 0 {
		s.primaryLatency = primaryTotal / float64(s.loaded)
		s.shadowLatency = shadowTotal / float64(s.loaded)
	}
	return s
}
