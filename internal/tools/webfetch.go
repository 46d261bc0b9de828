package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	pdfx "github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/llm"
)

const fetchToolName = "web_fetch"

// WebFetchTool pulls a page and returns its readable text. HTML is stripped
// to text; PDF responses go through text extraction. The fetched URL itself
// is surfaced as a document so it can be cited.
type WebFetchTool struct {
	Client   *http.Client
	MaxBytes int64
	MaxPages int
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		Client:   &http.Client{Timeout: 30 * time.Second},
		MaxBytes: 4 << 20,
		MaxPages: 20,
	}
}

func (t *WebFetchTool) Name() string { return fetchToolName }

func (t *WebFetchTool) Def() llm.ToolDef {
	return llm.ToolDef{
		Name: fetchToolName,
		Description: "Fetch one URL and return its readable text content. " +
			"Use it to open promising search results instead of trusting snippets.",
		Parameters: map[string]llm.ParamDef{
			"url": {Type: "string", Description: "The absolute URL to fetch."},
		},
		Required: []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	target, _ := args["url"].(string)
	if target == "" {
		return nil, fmt.Errorf("missing url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	lr := &io.LimitedReader{R: resp.Body, N: t.MaxBytes}
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	if strings.Contains(contentType, "application/pdf") || strings.HasSuffix(strings.ToLower(target), ".pdf") {
		text, err = t.pdfText(body)
	} else {
		text, err = htmlText(string(body))
	}
	if err != nil {
		return nil, err
	}

	doc := citations.Document{
		ID:    docID(target),
		Title: pageTitle(string(body), target),
		URL:   target,
	}
	logs := fmt.Sprintf("status=%d bytes=%d", resp.StatusCode, len(body))
	if lr.N == 0 {
		logs += " truncated=true"
	}
	return &Result{Output: text, Logs: logs, Docs: []citations.Document{doc}}, nil
}

// pdfText extracts text from PDF bytes. The pdf library wants a file path.
func (t *WebFetchTool) pdfText(body []byte) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("fetch_%d.pdf", time.Now().UnixNano()))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", err
	}
	defer os.Remove(path)

	f, r, err := pdfx.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	pages := r.NumPage()
	if pages > t.MaxPages {
		pages = t.MaxPages
	}
	for i := 1; i <= pages; i++ {
		txt, err := r.Page(i).GetPlainText(nil)
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(txt); s != "" {
			b.WriteString(s)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// htmlText strips a page to its visible text.
func htmlText(page string) (string, error) {
	node, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	collectText(node, &b, false)
	return strings.TrimSpace(compactWhitespace(b.String())), nil
}

func collectText(n *html.Node, b *strings.Builder, hidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript":
			hidden = true
		case "br", "p", "div", "li", "tr":
			b.WriteString("\n")
		}
	}
	if !hidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b, hidden)
	}
}

func compactWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

func pageTitle(page, fallback string) string {
	node, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return fallback
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	if title == "" {
		return fallback
	}
	return title
}
