// Package document extracts readable text from local files and web pages:
// HTML, spreadsheets, Word documents and plain text formats.
package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/germanamz/owl/pkg/toolkits/excel"
	"github.com/germanamz/owl/pkg/tools/toolbox"
)

const (
	defaultMaxChars = 50_000
	maxFetchBytes   = 10 << 20
)

// Kind is the detected format of a document.
type Kind string

const (
	KindText  Kind = "text"
	KindHTML  Kind = "html"
	KindExcel Kind = "excel"
	KindDocx  Kind = "docx"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".tsv": true, ".json": true,
	".jsonl": true, ".yaml": true, ".yml": true, ".xml": true, ".log": true,
	".py": true, ".go": true, ".js": true, ".ts": true, ".sh": true,
}

// Option configures a Document toolkit.
type Option func(*Document)

// WithHTTPClient replaces the HTTP client used for URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Document) { d.client = c }
}

// WithMaxChars caps the returned text.
func WithMaxChars(n int) Option {
	return func(d *Document) {
		if n > 0 {
			d.maxChars = n
		}
	}
}

// Document is the document processing toolkit.
type Document struct {
	client   *http.Client
	maxChars int
}

// New creates a Document toolkit.
func New(opts ...Option) *Document {
	d := &Document{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxChars: defaultMaxChars,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Tools returns a ToolBox containing document_extract.
func (d *Document) Tools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(d.extractTool())
	return tb
}

type extractInput struct {
	Source string `json:"source"`
}

func (d *Document) extractTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "document_extract",
		Description: "Extract the readable text of a document given a local path or an http(s) URL. Handles HTML pages, .xlsx spreadsheets (as markdown tables), .docx files and plain text formats. Output is capped.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"source":{"type":"string","description":"Local file path or http(s) URL"}},"required":["source"]}`),
		Handler:     d.handleExtract,
	}
}

func (d *Document) handleExtract(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := toolbox.Decode[extractInput]("document_extract", input)
	if err != nil {
		return "", err
	}

	if in.Source == "" {
		return "", fmt.Errorf("document_extract: source is required")
	}

	text, err := d.Extract(ctx, in.Source)
	if err != nil {
		return "", fmt.Errorf("document_extract: %w", err)
	}

	return text, nil
}

// Extract loads source and returns its text, capped at the configured size.
func (d *Document) Extract(ctx context.Context, source string) (string, error) {
	var (
		data []byte
		kind Kind
		err  error
	)

	if isURL(source) {
		data, kind, err = d.fetch(ctx, source)
	} else {
		data, err = os.ReadFile(source)
		kind = KindFromName(source)
	}
	if err != nil {
		return "", err
	}

	text, err := Text(data, kind)
	if err != nil {
		return "", err
	}

	if len(text) > d.maxChars {
		text = toolbox.Clip(text, d.maxChars) + "\n[content truncated]"
	}

	return text, nil
}

func (d *Document) fetch(ctx context.Context, rawURL string) ([]byte, Kind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "owl-document/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}

	kind := KindFromContentType(resp.Header.Get("Content-Type"))
	if kind == KindText {
		if k := KindFromName(resp.Request.URL.Path); k != KindText {
			kind = k
		}
	}

	return data, kind, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// KindFromName guesses the kind from a file extension.
func KindFromName(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return KindHTML
	case ".xlsx", ".xlsm":
		return KindExcel
	case ".docx":
		return KindDocx
	}
	return KindText
}

// KindFromContentType maps a Content-Type header to a kind.
func KindFromContentType(ct string) Kind {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return KindText
	}

	switch mt {
	case "text/html", "application/xhtml+xml":
		return KindHTML
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return KindExcel
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindDocx
	}
	return KindText
}

// Text converts raw document bytes of the given kind to text.
func Text(data []byte, kind Kind) (string, error) {
	switch kind {
	case KindHTML:
		return HTMLText(bytes.NewReader(data))
	case KindExcel:
		return excel.RenderReader(bytes.NewReader(data))
	case KindDocx:
		return DocxText(data)
	}

	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("unsupported binary document")
	}

	return string(data), nil
}

var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"head": true, "template": true, "iframe": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true,
	"table": true, "ul": true, "ol": true, "pre": true, "blockquote": true,
}

// HTMLText returns the visible text of an HTML document, one block per line.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteString(" ")
			return
		case html.ElementNode:
			if skipElements[n.Data] {
				return
			}
			if blockElements[n.Data] {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	flush()

	return strings.Join(lines, "\n"), nil
}

// DocxText extracts the paragraphs of a .docx document.
func DocxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	f, err := zr.Open("word/document.xml")
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer f.Close()

	var (
		paras []string
		cur   strings.Builder
		inT   bool
	)

	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				cur.WriteString("\t")
			case "br":
				cur.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if s := strings.TrimSpace(cur.String()); s != "" {
					paras = append(paras, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inT {
				cur.Write(t)
			}
		}
	}

	return strings.Join(paras, "\n"), nil
}
