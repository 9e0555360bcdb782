package toolkit

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wcharczuk/go-chart/v2"
)

// ChartMarker is the placeholder the model submits in place of raw
// base64. The submitter swaps it for the stored image so megabytes of
// PNG never travel through the conversation.
const ChartMarker = "USE_LAST_CHART"

const chartPreviewLen = 100

// Charter renders charts to PNG and holds the last image for pickup at
// submission time.
type Charter struct {
	mu     sync.Mutex
	last   string // base64 PNG
	logger zerolog.Logger
}

// ChartRequest describes one chart to render.
type ChartRequest struct {
	Type   string    // "bar", "pie" or "line"
	Title  string
	Labels []string  // bar and pie labels, line X tick labels
	Values []float64 // one value per label
}

// NewCharter creates a charter.
func NewCharter(logger zerolog.Logger) *Charter {
	return &Charter{logger: logger}
}

// Create renders the requested chart, stores it, and returns a short
// preview message instructing the model to submit the marker.
func (c *Charter) Create(req ChartRequest) (string, error) {
	if len(req.Values) == 0 {
		return "", fmt.Errorf("chart needs at least one value")
	}
	if len(req.Labels) != 0 && len(req.Labels) != len(req.Values) {
		return "", fmt.Errorf("got %d labels for %d values", len(req.Labels), len(req.Values))
	}

	var buf bytes.Buffer
	var err error
	switch req.Type {
	case "pie":
		err = renderPie(req, &buf)
	case "line":
		err = renderLine(req, &buf)
	case "bar", "", "auto":
		err = renderBar(req, &buf)
	default:
		return "", fmt.Errorf("unsupported chart type %q", req.Type)
	}
	if err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	c.mu.Lock()
	c.last = encoded
	c.mu.Unlock()

	c.logger.Debug().
		Str("type", req.Type).
		Int("points", len(req.Values)).
		Int("encoded_len", len(encoded)).
		Msg("Chart rendered")

	preview := encoded
	if len(preview) > chartPreviewLen {
		preview = preview[:chartPreviewLen] + "..."
	}
	return fmt.Sprintf(
		"Chart created (%d chars base64). Preview: %s\nSubmit the answer %s to attach this image.",
		len(encoded), preview, ChartMarker,
	), nil
}

// Last returns the stored base64 image, or false when none exists.
func (c *Charter) Last() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last != ""
}

// Reset drops the stored image. Called between questions so a stale
// chart can never be attached to the wrong answer.
func (c *Charter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = ""
}

func chartValues(req ChartRequest) []chart.Value {
	values := make([]chart.Value, len(req.Values))
	for i, v := range req.Values {
		label := ""
		if i < len(req.Labels) {
			label = req.Labels[i]
		}
		values[i] = chart.Value{Value: v, Label: label}
	}
	return values
}

func renderBar(req ChartRequest, buf *bytes.Buffer) error {
	bar := chart.BarChart{
		Title:    req.Title,
		Width:    1000,
		Height:   600,
		BarWidth: 50,
		Bars:     chartValues(req),
	}
	return bar.Render(chart.PNG, buf)
}

func renderPie(req ChartRequest, buf *bytes.Buffer) error {
	pie := chart.PieChart{
		Title:  req.Title,
		Width:  800,
		Height: 800,
		Values: chartValues(req),
	}
	return pie.Render(chart.PNG, buf)
}

func renderLine(req ChartRequest, buf *bytes.Buffer) error {
	xs := make([]float64, len(req.Values))
	for i := range xs {
		xs[i] = float64(i)
	}

	line := chart.Chart{
		Title:  req.Title,
		Width:  1000,
		Height: 600,
		Series: []chart.Series{
			chart.ContinuousSeries{XValues: xs, YValues: req.Values},
		},
	}
	if len(req.Labels) == len(req.Values) {
		ticks := make([]chart.Tick, len(req.Labels))
		for i, label := range req.Labels {
			ticks[i] = chart.Tick{Value: float64(i), Label: label}
		}
		line.XAxis = chart.XAxis{Ticks: ticks}
	}
	return line.Render(chart.PNG, buf)
}
