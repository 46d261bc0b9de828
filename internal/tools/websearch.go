package tools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/llm"
)

const (
	searchToolName  = "web_search"
	searchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// WebSearchTool searches the web through the DuckDuckGo HTML endpoint, which
// needs no API key. Accepts a batch of queries so one cycle can fan out
// several searches; queries run sequentially since an agent holds at most one
// real call in flight.
type WebSearchTool struct {
	Client     *http.Client
	MaxResults int
}

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		Client:     &http.Client{Timeout: 30 * time.Second},
		MaxResults: 8,
	}
}

func (t *WebSearchTool) Name() string { return searchToolName }

func (t *WebSearchTool) Def() llm.ToolDef {
	return llm.ToolDef{
		Name: searchToolName,
		Description: "Search the web. Returns titles, URLs and snippets. " +
			"Snippets are previews only; open promising results with web_fetch " +
			"before relying on them.",
		Parameters: map[string]llm.ParamDef{
			"queries": {
				Type:        "array",
				Description: "One or more search queries.",
				Items:       &llm.ParamDef{Type: "string", Description: "A search query."},
			},
		},
		Required: []string{"queries"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	queries := stringList(args["queries"])
	if len(queries) == 0 {
		return nil, fmt.Errorf("missing queries")
	}

	res := &Result{}
	var b strings.Builder
	for _, q := range queries {
		hits, err := t.search(ctx, q)
		if err != nil {
			// one failed query does not void the batch
			fmt.Fprintf(&b, "Search %q failed: %v\n\n", q, err)
			continue
		}
		fmt.Fprintf(&b, "Results for %q:\n", q)
		if len(hits) == 0 {
			b.WriteString("(no results)\n")
		}
		for i, hit := range hits {
			fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, hit.Title, hit.URL)
			if hit.Snippet != "" {
				fmt.Fprintf(&b, "   %s\n", hit.Snippet)
			}
			res.Docs = append(res.Docs, hit)
		}
		b.WriteString("\n")
	}
	res.Output = strings.TrimSpace(b.String())
	res.Logs = fmt.Sprintf("queries=%d docs=%d", len(queries), len(res.Docs))
	return res, nil
}

func (t *WebSearchTool) search(ctx context.Context, query string) ([]citations.Document, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", searchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseSearchResults(string(body), t.MaxResults)
}

// parseSearchResults extracts results from DuckDuckGo's HTML, which marks
// each hit with class "result results_links".
func parseSearchResults(page string, maxResults int) ([]citations.Document, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var out []citations.Document
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(out) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" &&
			strings.Contains(attrValue(n, "class"), "results_links") {
			if d := extractHit(n); d.URL != "" && d.Title != "" {
				d.ID = docID(d.URL)
				out = append(out, d)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

func extractHit(n *html.Node) citations.Document {
	var d citations.Document
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result__a") {
				d.URL = cleanRedirect(attrValue(n, "href"))
				d.Title = textContent(n)
			} else if strings.Contains(class, "result__snippet") {
				d.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return d
}

// cleanRedirect unwraps DuckDuckGo's /l/?uddg= redirect URLs.
func cleanRedirect(raw string) string {
	const prefix = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(raw, prefix) {
		return raw
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(raw, prefix))
	if err != nil {
		return raw
	}
	if i := strings.Index(decoded, "&"); i > 0 {
		decoded = decoded[:i]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// docID derives a stable document ID from a URL.
func docID(u string) string {
	sum := sha1.Sum([]byte(u))
	return hex.EncodeToString(sum[:8])
}

func stringList(v any) []string {
	var out []string
	switch list := v.(type) {
	case []string:
		out = list
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case string:
		if list != "" {
			out = []string{list}
		}
	}
	return out
}
