package toolkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quizPageHTML = `<html>
<head><script>
const apiUrl = "%s/api/data.json";
fetch(apiUrl);
</script></head>
<body>
<h1>Question 3</h1>
<p>Compute the sum and POST to %s/submit when done.</p>
<form action="/submit" method="post">
  <input name="answer" type="text">
  <input name="secret" type="hidden">
</form>
<a href="/api/leaderboard">Leaderboard API</a>
<a href="/next">Next question</a>
</body>
</html>`

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func TestExtractContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/data.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"values":[1,2,3]}`))
		case "/api/leaderboard":
			w.Write([]byte("plain text board"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	page := strings.ReplaceAll(quizPageHTML, "%s", server.URL)
	extractor := NewExtractor(resty.New(), testLogger())

	ctx := context.Background()

	t.Run("should extract submit urls from forms and prose", func(t *testing.T) {
		out, err := extractor.ExtractContext(ctx, page, server.URL)
		require.NoError(t, err)

		assert.Contains(t, out.SubmitURLs, server.URL+"/submit")
	})

	t.Run("should extract api urls from anchors and scripts", func(t *testing.T) {
		out, err := extractor.ExtractContext(ctx, page, server.URL)
		require.NoError(t, err)

		assert.Contains(t, out.APIURLs, server.URL+"/api/data.json")
		assert.Contains(t, out.APIURLs, server.URL+"/api/leaderboard")
	})

	t.Run("should sample reachable api endpoints", func(t *testing.T) {
		out, err := extractor.ExtractContext(ctx, page, server.URL)
		require.NoError(t, err)

		sample, ok := out.APISamples[server.URL+"/api/data.json"]
		require.True(t, ok)
		parsed := sample.(map[string]interface{})
		assert.Contains(t, parsed, "values")

		// Non-JSON bodies are kept as truncated text.
		assert.Equal(t, "plain text board", out.APISamples[server.URL+"/api/leaderboard"])
	})

	t.Run("should describe forms with their inputs", func(t *testing.T) {
		out, err := extractor.ExtractContext(ctx, page, server.URL)
		require.NoError(t, err)

		require.Len(t, out.Forms, 1)
		form := out.Forms[0]
		assert.Equal(t, "POST", form.Method)
		assert.Equal(t, "/submit", form.Action)
		require.Len(t, form.Inputs, 2)
		assert.Equal(t, "answer", form.Inputs[0].Name)
		assert.Equal(t, "hidden", form.Inputs[1].Type)
	})

	t.Run("should capture page text and javascript hints", func(t *testing.T) {
		out, err := extractor.ExtractContext(ctx, page, server.URL)
		require.NoError(t, err)

		assert.Contains(t, out.PageText, "Question 3")
		assert.Contains(t, out.PageText, "Compute the sum")
		assert.Equal(t, 1, out.JavascriptCount)
		assert.Contains(t, out.SampleJavascript, "apiUrl")
	})

	t.Run("should skip api sampling without a client", func(t *testing.T) {
		bare := NewExtractor(nil, testLogger())

		out, err := bare.ExtractContext(ctx, page, server.URL)
		require.NoError(t, err)

		assert.Empty(t, out.APISamples)
		assert.NotEmpty(t, out.APIURLs)
	})

	t.Run("should handle empty html", func(t *testing.T) {
		out, err := extractor.ExtractContext(ctx, "", "")
		require.NoError(t, err)

		assert.Empty(t, out.SubmitURLs)
		assert.Empty(t, out.Forms)
		assert.Empty(t, out.PageText)
	})
}

