package toolkit

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	maxAPISamples    = 3
	apiSampleMaxSize = 300
	jsSampleMaxSize  = 500
)

// PageContext is the structured view of a quiz page handed back to the
// model: where to submit, which APIs the page talks to, what the forms
// look like, and the full visible text.
type PageContext struct {
	SubmitURLs       []string               `json:"submit_urls"`
	APIURLs          []string               `json:"api_urls"`
	APISamples       map[string]interface{} `json:"api_samples"`
	Forms            []FormInfo             `json:"forms"`
	JavascriptCount  int                    `json:"javascript_count"`
	SampleJavascript string                 `json:"sample_javascript"`
	PageText         string                 `json:"page_text"`
}

// FormInfo describes one form on the page.
type FormInfo struct {
	Action string      `json:"action"`
	Method string      `json:"method"`
	Inputs []FormInput `json:"inputs"`
}

// FormInput is one input field of a form.
type FormInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Extractor pulls structured context out of rendered HTML. API endpoints
// found on the page are sampled best-effort so the model sees their
// response shape.
type Extractor struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewExtractor creates an extractor. A nil client disables API sampling.
func NewExtractor(client *resty.Client, logger zerolog.Logger) *Extractor {
	return &Extractor{http: client, logger: logger}
}

var submitHintRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:submit|post)\s+(?:to|at)\s+([^\s<]+)`),
	regexp.MustCompile(`(?i)endpoint\s*[:=]\s*([^\s<]+)`),
}

// ExtractContext parses html and returns its structured context. baseURL
// resolves relative references when non-empty.
func (e *Extractor) ExtractContext(ctx context.Context, html, baseURL string) (*PageContext, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var base *url.URL
	if baseURL != "" {
		base, _ = url.Parse(baseURL)
	}

	out := &PageContext{APISamples: map[string]interface{}{}}

	pageText := strings.Join(strings.Fields(doc.Text()), " ")
	out.PageText = pageText

	// Submit endpoints come from form actions and from textual hints
	// like "POST to /submit" that quiz pages state in prose.
	submitSet := map[string]struct{}{}
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		if action, ok := s.Attr("action"); ok && action != "" {
			submitSet[resolveRef(base, action)] = struct{}{}
		}
	})
	for _, re := range submitHintRes {
		for _, m := range re.FindAllStringSubmatch(pageText, -1) {
			submitSet[resolveRef(base, m[1])] = struct{}{}
		}
	}
	out.SubmitURLs = sortedKeys(submitSet)

	apiSet := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if looksLikeAPI(href) {
			apiSet[resolveRef(base, href)] = struct{}{}
		}
	})
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		for _, u := range scriptURLRe.FindAllString(s.Text(), -1) {
			if looksLikeAPI(u) {
				apiSet[u] = struct{}{}
			}
		}
	})
	out.APIURLs = sortedKeys(apiSet)

	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if text := s.Text(); text != "" {
			scripts = append(scripts, text)
		}
	})
	out.JavascriptCount = len(scripts)
	if len(scripts) > 0 {
		out.SampleJavascript = truncateString(scripts[0], jsSampleMaxSize)
	}

	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		info := FormInfo{
			Action: s.AttrOr("action", ""),
			Method: strings.ToUpper(s.AttrOr("method", "GET")),
			Inputs: []FormInput{},
		}
		s.Find("input").Each(func(_ int, inp *goquery.Selection) {
			info.Inputs = append(info.Inputs, FormInput{
				Name: inp.AttrOr("name", ""),
				Type: inp.AttrOr("type", "text"),
			})
		})
		out.Forms = append(out.Forms, info)
	})

	e.sampleAPIs(ctx, out)

	e.logger.Debug().
		Int("submit_urls", len(out.SubmitURLs)).
		Int("api_urls", len(out.APIURLs)).
		Int("forms", len(out.Forms)).
		Int("page_text_len", len(out.PageText)).
		Msg("Extracted page context")

	return out, nil
}

// sampleAPIs probes the first few API endpoints. Failures are skipped
// silently; samples are an aid, not a requirement.
func (e *Extractor) sampleAPIs(ctx context.Context, out *PageContext) {
	if e.http == nil {
		return
	}

	for i, apiURL := range out.APIURLs {
		if i >= maxAPISamples {
			break
		}
		resp, err := e.http.R().SetContext(ctx).Get(apiURL)
		if err != nil || resp.StatusCode() != 200 {
			continue
		}

		var parsed interface{}
		if json.Unmarshal(resp.Body(), &parsed) == nil {
			out.APISamples[apiURL] = parsed
		} else {
			out.APISamples[apiURL] = truncateString(resp.String(), apiSampleMaxSize)
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
