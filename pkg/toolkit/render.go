package toolkit

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	renderTimeout   = 30 * time.Second
	renderSettle    = 2 * time.Second
	metadataMaxRefs = 5
)

// Renderer fetches fully rendered HTML. It drives a headless browser so
// script-built pages come back complete, and falls back to plain HTTP
// when the browser is unavailable or fails. Results carry a trailing
// metadata comment summarizing links, forms and API endpoints so the
// model can plan its next move without a second fetch.
type Renderer struct {
	cache  *HTMLCache
	http   *resty.Client
	logger zerolog.Logger
	group  singleflight.Group

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// RendererConfig configures a Renderer.
type RendererConfig struct {
	Cache      *HTMLCache
	Logger     zerolog.Logger
	HTTPClient *resty.Client
	ChromePath string // optional explicit browser binary
	NoBrowser  bool   // skip the browser entirely, HTTP only
}

// NewRenderer creates a renderer. The browser is launched lazily on the
// first render that needs it.
func NewRenderer(cfg RendererConfig) *Renderer {
	cache := cfg.Cache
	if cache == nil {
		cache = NewHTMLCache(DefaultCacheSize, DefaultCacheTTL)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = resty.New().
			SetTimeout(renderTimeout).
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second).
			SetRetryMaxWaitTime(10 * time.Second)
	}

	r := &Renderer{
		cache:  cache,
		http:   client,
		logger: cfg.Logger,
	}
	if !cfg.NoBrowser {
		r.launcher = launcher.New().Headless(true).NoSandbox(true)
		if cfg.ChromePath != "" {
			r.launcher = r.launcher.Bin(cfg.ChromePath)
		}
	}
	return r
}

// RenderPage returns the rendered HTML of url with the metadata comment
// appended. Cached results are served as-is.
func (r *Renderer) RenderPage(ctx context.Context, pageURL string) (string, error) {
	if _, err := url.ParseRequestURI(pageURL); err != nil {
		return "", fmt.Errorf("invalid url %q: %w", pageURL, err)
	}

	if cached, ok := r.cache.Get(pageURL); ok {
		r.logger.Debug().Str("url", pageURL).Msg("Render cache hit")
		return cached, nil
	}

	// Concurrent solves share the renderer, so collapse simultaneous
	// requests for the same page into one fetch.
	result, err, _ := r.group.Do(pageURL, func() (any, error) {
		if cached, ok := r.cache.Get(pageURL); ok {
			return cached, nil
		}

		html, browserErr := r.renderBrowser(ctx, pageURL)
		if browserErr != nil {
			r.logger.Warn().Str("url", pageURL).Err(browserErr).Msg("Browser render failed, falling back to HTTP")
			var httpErr error
			html, httpErr = r.fetchHTTP(ctx, pageURL)
			if httpErr != nil {
				return "", fmt.Errorf("render failed: browser: %v; http: %w", browserErr, httpErr)
			}
		}

		page := html + renderMetadata(html, pageURL, browserErr != nil)
		r.cache.Set(pageURL, page)
		return page, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Close shuts down the browser if one was launched.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		_ = r.browser.Close()
		r.browser = nil
	}
	if r.launcher != nil {
		r.launcher.Kill()
	}
}

func (r *Renderer) renderBrowser(ctx context.Context, pageURL string) (string, error) {
	browser, err := r.connect()
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(renderTimeout)

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("page load timeout: %w", err)
	}
	// Give late scripts a moment to populate the DOM.
	page.WaitIdle(renderSettle)

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

func (r *Renderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.launcher == nil {
		return nil, fmt.Errorf("browser rendering disabled")
	}
	if r.browser != nil {
		return r.browser, nil
	}

	cdpURL, err := r.launcher.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(cdpURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	r.browser = browser
	return browser, nil
}

func (r *Renderer) fetchHTTP(ctx context.Context, pageURL string) (string, error) {
	resp, err := r.http.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("http %d fetching %s", resp.StatusCode(), pageURL)
	}
	return resp.String(), nil
}

var scriptURLRe = regexp.MustCompile(`https?://[^\s"'<>]+`)

// renderMetadata summarizes the page in an HTML comment appended to the
// raw markup. The model reads this to find submit endpoints and data
// APIs without a second round-trip.
func renderMetadata(html, pageURL string, httpFallback bool) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	base, _ := url.Parse(pageURL)

	type ref struct{ text, url string }
	var links []ref
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.TrimSpace(s.Text())
		if len(text) > 80 {
			text = text[:80]
		}
		links = append(links, ref{text: text, url: resolveRef(base, href)})
	})

	var forms []ref
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		action, ok := s.Attr("action")
		if !ok {
			return
		}
		method := strings.ToUpper(s.AttrOr("method", "GET"))
		forms = append(forms, ref{text: method, url: resolveRef(base, action)})
	})

	var apiURLs []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		for _, m := range scriptURLRe.FindAllString(s.Text(), -1) {
			if looksLikeAPI(m) {
				apiURLs = append(apiURLs, m)
			}
		}
	})

	var b strings.Builder
	b.WriteString("\n\n<!-- CONTEXT_METADATA")
	if httpFallback {
		b.WriteString(" (HTTP FALLBACK)")
	}
	fmt.Fprintf(&b, "\nLinks: %d, Forms: %d, APIs: %d\n", len(links), len(forms), len(apiURLs))

	if len(links) > 0 {
		b.WriteString("Top links:\n")
		for _, l := range firstRefs(links) {
			fmt.Fprintf(&b, "  - %s: %s\n", l.text, l.url)
		}
	}
	if len(forms) > 0 {
		b.WriteString("Forms:\n")
		for _, f := range firstRefs(forms) {
			fmt.Fprintf(&b, "  - %s %s\n", f.text, f.url)
		}
	}
	if len(apiURLs) > 0 {
		b.WriteString("APIs:\n")
		if len(apiURLs) > metadataMaxRefs {
			apiURLs = apiURLs[:metadataMaxRefs]
		}
		for _, a := range apiURLs {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	}
	b.WriteString("-->\n")
	return b.String()
}

func firstRefs[T any](refs []T) []T {
	if len(refs) > metadataMaxRefs {
		return refs[:metadataMaxRefs]
	}
	return refs
}

func resolveRef(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func looksLikeAPI(u string) bool {
	lower := strings.ToLower(u)
	return strings.Contains(lower, "api") || strings.HasSuffix(lower, ".json")
}
