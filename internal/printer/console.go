package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/loader"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

// ColorScheme color scheme
type ColorScheme struct {
	MethodGET    *color.Color
	MethodPOST   *color.Color
	MethodPUT    *color.Color
	MethodDELETE *color.Color
	MethodPATCH  *color.Color
	Status2xx    *color.Color
	Status3xx    *color.Color
	Status4xx    *color.Color
	Status5xx    *color.Color
	Label        *color.Color
	HeaderKey    *color.Color
	HeaderValue  *color.Color
	Separator    *color.Color
	BodyContent  *color.Color
	Mismatch     *color.Color
	Faster       *color.Color
	Slower       *color.Color
}

// NewColorScheme creates a new color scheme
func NewColorScheme() *ColorScheme {
	return &ColorScheme{
		MethodGET:    color.New(color.FgBlue, color.Bold),
		MethodPOST:   color.New(color.FgGreen, color.Bold),
		MethodPUT:    color.New(color.FgYellow, color.Bold),
		MethodDELETE: color.New(color.FgRed, color.Bold),
		MethodPATCH:  color.New(color.FgMagenta, color.Bold),
		Status2xx:    color.New(color.FgGreen),
		Status3xx:    color.New(color.FgCyan),
		Status4xx:    color.New(color.FgYellow),
		Status5xx:    color.New(color.FgRed, color.Bold),
		Label:        color.New(color.FgHiBlack),
		HeaderKey:    color.New(color.FgCyan),
		HeaderValue:  color.New(color.FgWhite),
		Separator:    color.New(color.FgYellow, color.Bold),
		BodyContent:  color.New(color.FgWhite),
		Mismatch:     color.New(color.FgHiRed, color.Bold),
		Faster:       color.New(color.FgGreen),
		Slower:       color.New(color.FgHiYellow),
	}
}

// ConsolePrinter console printer
type ConsolePrinter struct {
	colorScheme *ColorScheme
	formatter   *bodyFormatter
	logger      logger.Logger
	cfg         *config.OutputConfig
	out         io.Writer
	counter     uint64
}

// NewConsolePrinter creates a new console printer
func NewConsolePrinter(log logger.Logger, cfg *config.OutputConfig) *ConsolePrinter {
	if cfg == nil {
		cfg = &config.OutputConfig{}
	}
	return &ConsolePrinter{
		colorScheme: NewColorScheme(),
		formatter:   newBodyFormatter(&cfg.BodyView, log),
		logger:      log,
		cfg:         cfg,
		out:         os.Stdout,
	}
}

// SetOutput replaces the output target
func (p *ConsolePrinter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	p.out = w
}

// getTerminalWidth gets the current terminal width with fallback
func (p *ConsolePrinter) getTerminalWidth() int {
	if testWidth := os.Getenv("TRAFFICCMP_TEST_WIDTH"); testWidth != "" {
		if width, err := strconv.Atoi(testWidth); err == nil {
			return clampWidth(width)
		}
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	switch {
	case width < 40:
		return 40
	case width > 150:
		return 150
	default:
		return width
	}
}

// PrintTriple prints the request line followed by one row per response
func (p *ConsolePrinter) PrintTriple(primary *traffic.RequestResponsePair) error {
	shadow, err := shadowOf(primary)
	if err != nil {
		return err
	}
	if p.cfg.Silence {
		return nil
	}

	num := atomic.AddUint64(&p.counter, 1)
	width := p.getTerminalWidth()

	p.colorScheme.Separator.Fprintln(p.out, strings.Repeat("-", width))
	p.printRequestLine(num, primary.Request, width)
	p.printHeaders(primary.Request.Headers, width)

	mismatch := primary.Response.StatusCode != shadow.Response.StatusCode
	p.printResponseRow("primary", primary.Response, width, false)
	p.printResponseRow("shadow", shadow.Response, width, mismatch)
	p.printLatencyDelta(primary.Response.Latency, shadow.Response.Latency)
	return nil
}

func (p *ConsolePrinter) printRequestLine(num uint64, req *traffic.Request, width int) {
	method := strings.ToUpper(req.HTTPMethod)
	prefix := fmt.Sprintf("#%d ", num)
	uri := req.URI
	if uri == "" {
		uri = "/"
	}
	available := width - runewidth.StringWidth(prefix) - runewidth.StringWidth(method) - 1
	if available < 10 {
		available = 10
	}

	p.colorScheme.Separator.Fprint(p.out, prefix)
	p.getMethodColor(method).Fprintf(p.out, "%s ", method)
	fmt.Fprintln(p.out, runewidth.Truncate(uri, available, "…"))
}

func (p *ConsolePrinter) printHeaders(headers traffic.Headers, width int) {
	if len(headers) == 0 {
		return
	}
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := headers[key]
		if isSensitiveHeader(key) {
			value = "[REDACTED]"
		}
		prefix := "  " + key + ": "
		available := width - runewidth.StringWidth(prefix)
		if available < 10 {
			available = 10
		}
		p.colorScheme.HeaderKey.Fprint(p.out, prefix)
		p.colorScheme.HeaderValue.Fprintln(p.out, runewidth.Truncate(value, available, "…"))
	}
}

func (p *ConsolePrinter) printResponseRow(label string, resp *traffic.Response, width int, mismatch bool) {
	p.colorScheme.Label.Fprintf(p.out, "  %-8s", label)
	p.statusColor(resp.StatusCode).Fprintf(p.out, "%3d", resp.StatusCode)
	fmt.Fprintf(p.out, "  %8s  %8s  %-4s", formatLatency(resp.Latency), humanize.Bytes(uint64(resp.Body.Len())), resp.Body.Kind())
	if mismatch {
		p.colorScheme.Mismatch.Fprint(p.out, "  status mismatch")
	}
	fmt.Fprintln(p.out)

	if p.cfg.BodyView.Enable {
		p.printBody(p.formatter.Format(resp.Body, resp.Headers), width)
		return
	}
	if preview := bodyPreview(resp.Body); preview != "" {
		available := width - 4
		p.colorScheme.BodyContent.Fprintf(p.out, "    %s\n", runewidth.Truncate(preview, available, "…"))
	}
}

// printBody prints a formatted body indented under its response row. Long
// lines are wrapped rather than cut so nothing in the body is hidden.
func (p *ConsolePrinter) printBody(body formattedBody, width int) {
	available := width - 4
	var lines []string
	if body.Text != "" {
		lines = strings.Split(strings.TrimRight(body.Text, "\n"), "\n")
	}
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		for runewidth.StringWidth(line) > available {
			head := runewidth.Truncate(line, available, "")
			if head == "" {
				break
			}
			p.colorScheme.BodyContent.Fprintf(p.out, "    %s\n", head)
			line = line[len(head):]
		}
		p.colorScheme.BodyContent.Fprintf(p.out, "    %s\n", line)
	}
	for _, notice := range body.Notices {
		p.colorScheme.Label.Fprintf(p.out, "    [%s]\n", notice)
	}
}

func (p *ConsolePrinter) printLatencyDelta(primary, shadow float64) {
	delta := shadow - primary
	p.colorScheme.Label.Fprint(p.out, "  delta   ")
	c := p.colorScheme.Faster
	if delta > 0 {
		c = p.colorScheme.Slower
	}
	c.Fprintf(p.out, "%+.1fms\n", delta)
}

// PrintSummary prints load totals and, when enabled, every skipped line
func (p *ConsolePrinter) PrintSummary(result *loader.Result) error {
	s := summarize(result)
	width := p.getTerminalWidth()

	p.colorScheme.Separator.Fprintln(p.out, strings.Repeat("=", width))
	fmt.Fprintf(p.out, "Loaded %s %s, skipped %s %s\n",
		humanize.Comma(int64(s.loaded)), plural(s.loaded, "triple", "triples"),
		humanize.Comma(int64(s.skipped)), plural(s.skipped, "line", "lines"))
	if s.loaded > 0 {
		fmt.Fprint(p.out, "Status mismatches: ")
		if s.mismatches > 0 {
			p.colorScheme.Mismatch.Fprintln(p.out, humanize.Comma(int64(s.mismatches)))
		} else {
			fmt.Fprintln(p.out, "0")
		}
		fmt.Fprintf(p.out, "Mean latency: primary %s, shadow %s\n", formatLatency(s.primaryLatency), formatLatency(s.shadowLatency))
	}

	if p.cfg.Skipped && result != nil {
		for _, skipped := range result.Skipped {
			p.colorScheme.Label.Fprint(p.out, "  skipped ")
			fmt.Fprintln(p.out, runewidth.Truncate(skipped.Error(), width-10, "…"))
		}
	}
	return nil
}

func (p *ConsolePrinter) statusColor(code int) *color.Color {
	switch {
	case code >= 500:
		return p.colorScheme.Status5xx
	case code >= 400:
		return p.colorScheme.Status4xx
	case code >= 300:
		return p.colorScheme.Status3xx
	default:
		return p.colorScheme.Status2xx
	}
}

// getMethodColor gets the corresponding color based on HTTP method
func (p *ConsolePrinter) getMethodColor(method string) *color.Color {
	switch strings.ToUpper(method) {
	case "GET":
		return p.colorScheme.MethodGET
	case "POST":
		return p.colorScheme.MethodPOST
	case "PUT":
		return p.colorScheme.MethodPUT
	case "DELETE":
		return p.colorScheme.MethodDELETE
	case "PATCH":
		return p.colorScheme.MethodPATCH
	default:
		return color.New(color.FgWhite, color.Bold)
	}
}

// bodyPreview returns the first line of a printable body. Binary bodies are not previewed.
func bodyPreview(b traffic.Body) string {
	text := b.String()
	if text == "" || !isPrintable(text) {
		return ""
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimRight(text, "\r")
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r == '�' || (r < 0x20 && r != '\n' && r != '\r' && r != '\t') {
			return false
		}
	}
	return true
}

func formatLatency(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 1, 64) + "ms"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// isSensitiveHeader checks if it's sensitive header information
func isSensitiveHeader(key string) bool {
	switch strings.ToLower(key) {
	case "authorization", "cookie", "set-cookie", "x-api-key", "x-auth-token", "x-csrf-token", "x-session-token":
		return true
	}
	return false
}
