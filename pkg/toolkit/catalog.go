package toolkit

import (
	"context"
	"fmt"
)

// Catalog bundles the general-purpose tools registered for every
// episode. Quiz-specific tools like answer submission are registered by
// their own packages.
type Catalog struct {
	Renderer   *Renderer
	Extractor  *Extractor
	Executor   *Executor
	Downloader *Downloader
	Media      *MediaAnalyzer
	Charter    *Charter

	// The media analyzer backs two tools; these drop one of the pair
	// while keeping the shared analyzer for the other.
	NoImageAnalysis bool
	NoTranscription bool
}

// RegisterAll registers every configured tool on reg. Nil components are
// skipped so a catalog can be assembled partially, in tests for example.
func (c *Catalog) RegisterAll(reg *Registry) error {
	type entry struct {
		enabled bool
		def     Definition
	}

	entries := []entry{
		{c.Renderer != nil, Definition{
			Name: "render_page",
			Description: "Fetch fully rendered HTML for a page, executing its scripts. " +
				"Use only for HTML pages, never for direct files like .pdf, .csv or .png.",
			Parameters: []Parameter{
				{Name: "url", Type: "string", Description: "Absolute page URL", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.Renderer.RenderPage(ctx, stringArg(args, "url"))
			},
		}},
		{c.Extractor != nil, Definition{
			Name: "extract_context",
			Description: "Extract structured context from HTML: submit URLs, API endpoints " +
				"with sampled responses, form structures and the full page text.",
			Parameters: []Parameter{
				{Name: "html", Type: "string", Description: "Raw HTML to analyze", Required: true},
				{Name: "base_url", Type: "string", Description: "URL for resolving relative references", Default: ""},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.Extractor.ExtractContext(ctx, stringArg(args, "html"), stringArg(args, "base_url"))
			},
		}},
		{c.Executor != nil, Definition{
			Name: "run_code",
			Description: "Execute Python code in the working directory where downloaded files " +
				"live. Reference files by bare filename. Print the answer as the last line.",
			Parameters: []Parameter{
				{Name: "code", Type: "string", Description: "Python source to execute", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.Executor.Run(ctx, stringArg(args, "code"))
			},
		}},
		{c.Downloader != nil, Definition{
			Name: "download_file",
			Description: "Download a file from a direct URL into the working directory. " +
				"Use for PDF, CSV, image, audio and archive URLs, not for HTML pages.",
			Parameters: []Parameter{
				{Name: "url", Type: "string", Description: "Direct file URL", Required: true},
				{Name: "filename", Type: "string", Description: "Optional filename override", Default: ""},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				result, err := c.Downloader.Download(ctx, stringArg(args, "url"), stringArg(args, "filename"))
				if err != nil {
					return nil, err
				}
				return result.String(), nil
			},
		}},
		{c.Media != nil && !c.NoImageAnalysis, Definition{
			Name: "analyze_image",
			Description: "Answer a question about an image using a vision model. " +
				"Accepts an image URL or a local path from download_file.",
			Parameters: []Parameter{
				{Name: "image", Type: "string", Description: "Image URL or local path", Required: true},
				{Name: "question", Type: "string", Description: "What to find out about the image", Default: "Describe this image in detail"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.Media.AnalyzeImage(ctx, stringArg(args, "image"), stringArg(args, "question"))
			},
		}},
		{c.Media != nil && !c.NoTranscription, Definition{
			Name:        "transcribe_audio",
			Description: "Transcribe an audio file. Accepts a URL or a local path from download_file.",
			Parameters: []Parameter{
				{Name: "audio", Type: "string", Description: "Audio URL or local path", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.Media.TranscribeAudio(ctx, stringArg(args, "audio"))
			},
		}},
		{c.Charter != nil, Definition{
			Name: "create_chart",
			Description: "Render a bar, pie or line chart as a PNG. The image is stored; " +
				"submit the answer " + ChartMarker + " to attach it.",
			Parameters: []Parameter{
				{Name: "chart_type", Type: "string", Description: "bar, pie or line", Default: "bar"},
				{Name: "title", Type: "string", Description: "Chart title", Default: ""},
				{Name: "labels", Type: "array", Description: "Category labels, one per value"},
				{Name: "values", Type: "array", Description: "Numeric values to plot", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				values, err := floatSliceArg(args, "values")
				if err != nil {
					return nil, err
				}
				return c.Charter.Create(ChartRequest{
					Type:   stringArg(args, "chart_type"),
					Title:  stringArg(args, "title"),
					Labels: stringSliceArg(args, "labels"),
					Values: values,
				})
			},
		}},
	}

	for _, e := range entries {
		if !e.enabled {
			continue
		}
		if err := reg.Register(e.def); err != nil {
			return fmt.Errorf("failed to register %s: %w", e.def.Name, err)
		}
	}
	return nil
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func floatSliceArg(args map[string]interface{}, key string) ([]float64, error) {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an array of numbers", key)
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%s contains a non-numeric value %v", key, v)
		}
		out = append(out, f)
	}
	return out, nil
}
