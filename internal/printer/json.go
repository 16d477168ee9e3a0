package printer

import (
	"io"
	"os"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/loader"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONPrinter writes one JSON object per line
type JSONPrinter struct {
	encoder *jsoniter.Encoder
	logger  logger.Logger
	cfg     *config.OutputConfig
	out     io.Writer
	counter uint64
}

// NewJSONPrinter creates a JSON lines printer
func NewJSONPrinter(log logger.Logger, cfg *config.OutputConfig) *JSONPrinter {
	if cfg == nil {
		cfg = &config.OutputConfig{}
	}
	p := &JSONPrinter{logger: log, cfg: cfg}
	p.SetOutput(os.Stdout)
	return p
}

// SetOutput replaces the output target
func (p *JSONPrinter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	p.out = w
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	p.encoder = encoder
}

type jsonTripleEnvelope struct {
	Type           string            `json:"type"`
	ID             uint64            `json:"id"`
	Request        *traffic.Request  `json:"request"`
	Primary        *traffic.Response `json:"primary"`
	Shadow         *traffic.Response `json:"shadow"`
	StatusMatch    bool              `json:"status_match"`
	LatencyDeltaMs float64           `json:"latency_delta_ms"`
}

type jsonSkippedLine struct {
	Path  string `json:"path"`
	Line  int    `json:"line"`
	Error string `json:"error"`
}

type jsonSummaryEnvelope struct {
	Type             string            `json:"type"`
	Loaded           int               `json:"loaded"`
	Skipped          int               `json:"skipped"`
	StatusMismatches int               `json:"status_mismatches"`
	PrimaryLatencyMs float64           `json:"primary_mean_latency_ms"`
	ShadowLatencyMs  float64           `json:"shadow_mean_latency_ms"`
	SkippedLines     []jsonSkippedLine `json:"skipped_lines,omitempty"`
}

// PrintTriple writes a triple object
func (p *JSONPrinter) PrintTriple(primary *traffic.RequestResponsePair) error {
	shadow, err := shadowOf(primary)
	if err != nil {
		return err
	}
	if p.cfg.Silence {
		return nil
	}
	env := jsonTripleEnvelope{
		Type:           "triple",
		ID:             atomic.AddUint64(&p.counter, 1),
		Request:        primary.Request,
		Primary:        primary.Response,
		Shadow:         shadow.Response,
		StatusMatch:    primary.Response.StatusCode == shadow.Response.StatusCode,
		LatencyDeltaMs: shadow.Response.Latency - primary.Response.Latency,
	}
	return p.encode(env)
}

// PrintSummary writes a summary object
func (p *JSONPrinter) PrintSummary(result *loader.Result) error {
	s := summarize(result)
	env := jsonSummaryEnvelope{
		Type:             "summary",
		Loaded:           s.loaded,
		Skipped:          s.skipped,
		StatusMismatches: s.mismatches,
		PrimaryLatencyMs: s.primaryLatency,
		ShadowLatencyMs:  s.shadowLatency,
	}
	if p.cfg.Skipped && result != nil {
		for _, skipped := range result.Skipped {
			env.SkippedLines = append(env.SkippedLines, jsonSkippedLine{
				Path:  skipped.Path,
				Line:  skipped.Line,
				Error: skipped.Err.Error(),
			})
		}
	}
	return p.encode(env)
}

func (p *JSONPrinter) encode(v interface{}) error {
	if err := p.encoder.Encode(v); err != nil {
		if p.logger != nil {
			p.logger.Error("Failed to encode JSON output", "error", err)
		}
		return err
	}
	return nil
}
