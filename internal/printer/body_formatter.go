package printer

import (
	"bytes"
	stdjson "encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"mime"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	nethtml "golang.org/x/net/html"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/pkg/traffic"
)

type bodyFormatter struct {
	cfg    *config.BodyViewConfig
	logger logger.Logger
}

type formattedBody struct {
	Text    string
	Notices []string
}

func newBodyFormatter(cfg *config.BodyViewConfig, log logger.Logger) *bodyFormatter {
	if cfg == nil {
		cfg = &config.BodyViewConfig{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &bodyFormatter{cfg: cfg, logger: log}
}

// Format renders a recorded body for display. The content-type header picks the
// formatter; bodies the loader decoded as JSON are always treated as JSON.
func (f *bodyFormatter) Format(b traffic.Body, headers traffic.Headers) formattedBody {
	text := b.String()
	if text == "" {
		return formattedBody{}
	}
	if isBinary(text) {
		return formattedBody{Notices: []string{fmt.Sprintf("binary body, %s, not shown", humanize.Bytes(uint64(len(text))))}}
	}
	if !f.cfg.Enable {
		return formattedBody{Text: text}
	}

	mediaType := normalizeMediaType(headers.Get("content-type"))
	body := []byte(text)
	res, ok := f.formatJSON(mediaType, body, b.IsJSON())
	if !ok {
		res, ok = f.formatForm(mediaType, body)
	}
	if !ok {
		res, ok = f.formatXML(mediaType, body)
	}
	if !ok {
		res, ok = f.formatHTML(mediaType, body)
	}
	if !ok {
		res = formattedBody{Text: string(stripControlBytes(body))}
	}
	return f.limit(res)
}

// limit cuts the text at MaxPreviewBytes without splitting a rune.
func (f *bodyFormatter) limit(res formattedBody) formattedBody {
	maxBytes := f.cfg.MaxPreviewBytes
	if maxBytes <= 0 || len(res.Text) <= maxBytes {
		return res
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(res.Text[cut]) {
		cut--
	}
	notice := fmt.Sprintf("showing %s of %s", humanize.Bytes(uint64(cut)), humanize.Bytes(uint64(len(res.Text))))
	res.Text = res.Text[:cut]
	res.Notices = append(res.Notices, notice)
	return res
}

func (f *bodyFormatter) formatJSON(mediaType string, body []byte, decoded bool) (formattedBody, bool) {
	if !f.cfg.Json.Enable {
		return formattedBody{}, false
	}
	if !decoded && !looksLikeJSON(mediaType, body) {
		return formattedBody{}, false
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !stdjson.Valid(trimmed) {
		return formattedBody{}, false
	}
	if !f.cfg.Json.Pretty {
		return formattedBody{Text: string(body)}, true
	}
	if f.cfg.Json.MaxIndentBytes > 0 && len(trimmed) > f.cfg.Json.MaxIndentBytes {
		notice := fmt.Sprintf("JSON larger than %s, indentation skipped", humanize.Bytes(uint64(f.cfg.Json.MaxIndentBytes)))
		return formattedBody{Text: string(body), Notices: []string{notice}}, true
	}
	var buf bytes.Buffer
	if err := stdjson.Indent(&buf, trimmed, "", "  "); err != nil {
		f.logger.Debug("json indent failed", "error", err)
		return formattedBody{}, false
	}
	return formattedBody{Text: buf.String()}, true
}

func (f *bodyFormatter) formatForm(mediaType string, body []byte) (formattedBody, bool) {
	if !f.cfg.Form.Enable {
		return formattedBody{}, false
	}
	if !strings.Contains(mediaType, "application/x-www-form-urlencoded") {
		return formattedBody{}, false
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		f.logger.Debug("form parse failed", "error", err)
		return formattedBody{}, false
	}
	if len(values) == 0 {
		return formattedBody{Text: string(body)}, true
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	const keyHeader, valueHeader = "Key", "Value"
	maxKeyWidth := utf8.RuneCountInString(keyHeader)
	for _, key := range keys {
		if w := utf8.RuneCountInString(key); w > maxKeyWidth {
			maxKeyWidth = w
		}
	}
	var builder strings.Builder
	builder.WriteString("Form data:\n")
	fmt.Fprintf(&builder, "%-*s │ %s\n", maxKeyWidth, keyHeader, valueHeader)
	builder.WriteString(strings.Repeat("─", maxKeyWidth) + "─┼" + strings.Repeat("─", 40) + "\n")
	for _, key := range keys {
		fmt.Fprintf(&builder, "%-*s │ %s\n", maxKeyWidth, key, strings.Join(values[key], ", "))
	}
	return formattedBody{Text: builder.String()}, true
}

func (f *bodyFormatter) formatXML(mediaType string, body []byte) (formattedBody, bool) {
	if !f.cfg.XML.Enable {
		return formattedBody{}, false
	}
	if !strings.Contains(mediaType, "xml") {
		return formattedBody{}, false
	}
	processed := body
	if f.cfg.XML.StripControl {
		processed = stripControlBytes(processed)
	}
	if !f.cfg.XML.Pretty {
		return formattedBody{Text: string(processed)}, true
	}
	formatted, err := prettyXML(processed)
	if err != nil {
		f.logger.Debug("xml pretty failed", "error", err)
		return formattedBody{Text: string(processed)}, true
	}
	return formattedBody{Text: formatted}, true
}

func (f *bodyFormatter) formatHTML(mediaType string, body []byte) (formattedBody, bool) {
	if !f.cfg.HTML.Enable {
		return formattedBody{}, false
	}
	if !strings.Contains(mediaType, "html") && !looksLikeHTML(body) {
		return formattedBody{}, false
	}
	processed := body
	if f.cfg.HTML.StripControl {
		processed = stripControlBytes(processed)
	}
	if !f.cfg.HTML.Pretty {
		return formattedBody{Text: string(processed)}, true
	}
	formatted, err := prettyHTML(processed)
	if err != nil {
		f.logger.Debug("html pretty failed", "error", err)
		return formattedBody{Text: string(processed)}, true
	}
	return formattedBody{Text: formatted}, true
}

// isBinary reports bodies that are not text, such as compressed payloads.
func isBinary(s string) bool {
	return !utf8.ValidString(s) || strings.ContainsRune(s, utf8.RuneError) || strings.IndexByte(s, 0) >= 0
}

func normalizeMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mediaType)
}

func looksLikeJSON(mediaType string, body []byte) bool {
	if strings.Contains(mediaType, "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	first := trimmed[0]
	last := trimmed[len(trimmed)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 5 {
		return false
	}
	prefix := strings.ToLower(string(trimmed[:5]))
	return strings.HasPrefix(prefix, "<html") || strings.HasPrefix(prefix, "<!doc")
}

func stripControlBytes(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	buf := make([]byte, 0, len(b))
	for _, ch := range b {
		if ch < 0x20 && ch != '\n' && ch != '\r' && ch != '\t' {
			continue
		}
		buf = append(buf, ch)
	}
	return buf
}

func prettyXML(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var buf bytes.Buffer
	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")
	for {
		token, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		// whitespace between elements would be indented twice
		if cd, ok := token.(xml.CharData); ok && len(bytes.TrimSpace(cd)) == 0 {
			continue
		}
		if err := encoder.EncodeToken(token); err != nil {
			return "", err
		}
	}
	if err := encoder.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func prettyHTML(data []byte) (string, error) {
	node, err := nethtml.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	renderHTMLNode(&builder, node, 0)
	return builder.String(), nil
}

func renderHTMLNode(builder *strings.Builder, node *nethtml.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch node.Type {
	case nethtml.DocumentNode:
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderHTMLNode(builder, child, depth)
		}
	case nethtml.ElementNode:
		builder.WriteString(indent)
		builder.WriteString("<" + node.Data)
		for _, attr := range node.Attr {
			fmt.Fprintf(builder, " %s=\"%s\"", attr.Key, html.EscapeString(attr.Val))
		}
		if isVoidElement(node.Data) {
			builder.WriteString(" />\n")
			return
		}
		if node.FirstChild == nil {
			builder.WriteString("></" + node.Data + ">\n")
			return
		}
		builder.WriteString(">\n")
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderHTMLNode(builder, child, depth+1)
		}
		builder.WriteString(indent + "</" + node.Data + ">\n")
	case nethtml.TextNode:
		text := strings.TrimSpace(node.Data)
		if text == "" {
			return
		}
		builder.WriteString(indent + text + "\n")
	case nethtml.CommentNode:
		builder.WriteString(indent + "<!--" + strings.TrimSpace(node.Data) + "-->\n")
	}
}

func isVoidElement(tag string) bool {
	switch strings.ToLower(tag) {
	case "area", "base", "br", "col", "embed", "hr", "img", "input", "keygen", "link", "meta", "param", "source", "track", "wbr":
		return true
	default:
		return false
	}
}
