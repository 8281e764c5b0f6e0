package provider

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

const defaultGuidesBaseURL = "https://en.wikivoyage.org/wiki"

// maxGuideMarkdown caps the converted guide content handed to the composer.
const maxGuideMarkdown = 16 * 1024

// GuidesAdapter fetches a destination guide page, extracts the readable
// article and converts it to markdown for the plan composer.
type GuidesAdapter struct {
	baseURL   string
	client    *http.Client
	converter *md.Converter
}

// NewGuidesAdapter creates the destination guide adapter.
func NewGuidesAdapter(baseURL string, client *http.Client) *GuidesAdapter {
	if baseURL == "" {
		baseURL = defaultGuidesBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &GuidesAdapter{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		converter: converter,
	}
}

// Source implements Adapter.
func (a *GuidesAdapter) Source() Source { return SourceGuides }

// Fetch implements Adapter.
func (a *GuidesAdapter) Fetch(ctx context.Context, req Request) (Payload, error) {
	pageURL := a.baseURL + "/" + url.PathEscape(strings.ReplaceAll(req.Destination, " ", "_"))
	if err := validateGuideURL(pageURL); err != nil {
		return nil, NewError(SourceGuides, ReasonUnknown, "invalid guide URL", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, NewError(SourceGuides, ReasonUnknown, "build request", err)
	}
	httpReq.Header.Set("Accept", "text/html")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewError(SourceGuides, ReasonTimeout, "request timed out", err)
		}
		return nil, NewError(SourceGuides, ReasonNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(SourceGuides, ReasonUnavailable, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewError(SourceGuides, ReasonNetwork, "read response", err)
	}

	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return nil, NewError(SourceGuides, ReasonInvalidResponse, "extract article", err)
	}

	markdown, err := a.converter.ConvertString(article.Content)
	if err != nil {
		return nil, NewError(SourceGuides, ReasonInvalidResponse, "convert to markdown", err)
	}
	markdown = strings.TrimSpace(markdown)
	if len(markdown) > maxGuideMarkdown {
		markdown = markdown[:maxGuideMarkdown]
	}
	if markdown == "" {
		return nil, NewError(SourceGuides, ReasonInvalidResponse, "empty guide content", nil)
	}

	title := article.Title
	if title == "" {
		title = pageTitle(body)
	}
	if title == "" {
		title = req.Destination
	}
	return GuideContent{Title: title, URL: pageURL, Markdown: markdown}, nil
}

// pageTitle parses the raw document for a <title> element. Readability
// occasionally drops the title on pages with unusual markup.
func pageTitle(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// validateGuideURL blocks non-HTTPS URLs and private/loopback targets so a
// misconfigured base URL can never be used for SSRF.
func validateGuideURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("local domain URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return fmt.Errorf("private IP addresses are not allowed")
		}
	}
	return nil
}
