// Package scraper downloads record files linked from an index page so they
// can be ingested.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxRecordSize = 16 << 20

type ScraperConfig struct {
	BaseURL        string
	DestDir        string // record files are written here
	MaxDepth       int
	RateLimit      float64 // requests per second
	IgnorePatterns []string
	Timeout        time.Duration
	OnProgress     func(url string)
	Logger         *zap.Logger
}

type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	saved    map[string]string // file name -> source URL
	limiter  *rate.Limiter
	baseHost string
}

// Result lists what a crawl visited and saved.
type Result struct {
	Pages   int
	Files   []string
	Skipped int
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.DestDir == "" {
		return nil, errors.New("destination directory is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 2
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		saved:    make(map[string]string),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
	}, nil
}

// Fetch crawls from BaseURL and saves every linked .json record file into
// DestDir. Failures below the base URL are logged and skipped.
func (s *Scraper) Fetch(ctx context.Context) (Result, error) {
	if err := os.MkdirAll(s.config.DestDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create destination directory: %w", err)
	}

	var result Result
	if err := s.crawl(ctx, s.config.BaseURL, 0, &result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != s.baseHost {
		return false
	}

	if !isRecord(parsedURL) && !isPage(parsedURL) {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func isRecord(u *url.URL) bool {
	return strings.HasSuffix(strings.ToLower(u.Path), ".json")
}

func isPage(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	if p == "" || strings.HasSuffix(p, "/") || strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".htm") {
		return true
	}
	return path.Ext(p) == ""
}

func (s *Scraper) crawl(ctx context.Context, urlStr string, depth int, result *Result) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}
	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	body, err := s.get(ctx, urlStr)
	if err != nil {
		return err
	}
	defer body.Close()

	u, _ := url.Parse(urlStr)
	if isRecord(u) {
		return s.save(u, body, result)
	}

	result.Pages++
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			s.config.Logger.Debug("skipping link", zap.String("href", href), zap.Error(err))
			return
		}
		abs := u.ResolveReference(ref)
		abs.Fragment = ""
		links = append(links, abs.String())
	})

	for _, link := range links {
		if err := s.crawl(ctx, link, depth+1, result); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Skipped++
			s.config.Logger.Warn("skipping url", zap.String("url", link), zap.Error(err))
		}
	}

	return nil
}

func (s *Scraper) get(ctx context.Context, urlStr string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	return resp.Body, nil
}

func (s *Scraper) save(u *url.URL, body io.Reader, result *Result) error {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == ".." {
		return fmt.Errorf("no file name in %s", u)
	}

	data, err := io.ReadAll(io.LimitReader(body, maxRecordSize))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", u, err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%s is not valid JSON", u)
	}

	// Records with the same name in different directories, such as
	// /en/chapter-1.json and /hi/chapter-1.json, are kept apart by prefixing
	// the directory path.
	if prev, taken := s.saved[name]; taken {
		prefix := strings.ReplaceAll(strings.Trim(path.Dir(u.Path), "/"), "/", "-")
		if prefix == "" {
			return fmt.Errorf("%s collides with %s", u, prev)
		}
		name = prefix + "-" + name
		if prev, taken := s.saved[name]; taken {
			return fmt.Errorf("%s collides with %s", u, prev)
		}
	}

	dest := filepath.Join(s.config.DestDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	s.saved[name] = u.String()
	result.Files = append(result.Files, name)
	s.config.Logger.Debug("saved record file", zap.String("url", u.String()), zap.String("file", dest))
	return nil
}
