package coretools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/harun/goose/pkg/toolexecutor"
)

const maxFetchBytes = 10 << 20

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func fetchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "fetch_web_content",
		Description: "Fetches content from a web page and returns paths to files containing the content.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "url", Type: "string", Description: "url of the site to visit.", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, _ := stringParam(params, "url")
			return fetchPage(ctx, opts, raw)
		},
	}
}

func fetchPage(ctx context.Context, opts Options, raw string) (map[string]interface{}, error) {
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("url must be an absolute http(s) URL, got %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "goose")

	resp, err := defaultHTTPClient(opts).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", target, err)
	}

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
	})
	converter.Remove("script", "style", "meta", "link")
	markdown, err := converter.ConvertString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s to markdown: %w", target, err)
	}

	dir := opts.FetchDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "goose-web")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	base := unsafeFileChars.ReplaceAllString(target.Host+target.Path, "_")
	base = strings.Trim(base, "_")
	if base == "" {
		base = "page"
	}
	htmlPath := filepath.Join(dir, base+".html")
	textPath := filepath.Join(dir, base+".md")

	if err := os.WriteFile(htmlPath, body, 0644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(textPath, []byte(markdown), 0644); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"html_file_path": htmlPath,
		"text_file_path": textPath,
	}, nil
}
