package toolkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data.csv":
			w.Header().Set("Content-Type", "text/csv")
			w.Write([]byte("a,b\n1,2\n"))
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Write([]byte("payload"))
		}
	}))
	defer server.Close()

	t.Run("should save a file and report its metadata", func(t *testing.T) {
		dir := t.TempDir()
		d := NewDownloader(dir, nil, testLogger())

		result, err := d.Download(context.Background(), server.URL+"/data.csv", "")
		require.NoError(t, err)

		assert.Equal(t, "data.csv", result.Filename)
		assert.Equal(t, "text/csv", result.ContentType)
		assert.Equal(t, int64(8), result.Size)

		content, err := os.ReadFile(result.Path)
		require.NoError(t, err)
		assert.Equal(t, "a,b\n1,2\n", string(content))

		assert.Contains(t, result.String(), "content-type=text/csv")
	})

	t.Run("should honor an explicit filename", func(t *testing.T) {
		dir := t.TempDir()
		d := NewDownloader(dir, nil, testLogger())

		result, err := d.Download(context.Background(), server.URL+"/data.csv", "renamed.csv")
		require.NoError(t, err)

		assert.Equal(t, "renamed.csv", result.Filename)
	})

	t.Run("should suffix colliding filenames instead of overwriting", func(t *testing.T) {
		dir := t.TempDir()
		d := NewDownloader(dir, nil, testLogger())

		first, err := d.Download(context.Background(), server.URL+"/data.csv", "")
		require.NoError(t, err)
		second, err := d.Download(context.Background(), server.URL+"/data.csv", "")
		require.NoError(t, err)

		assert.Equal(t, "data.csv", first.Filename)
		assert.Equal(t, "data_1.csv", second.Filename)
	})

	t.Run("should derive filenames from the url ignoring queries", func(t *testing.T) {
		dir := t.TempDir()
		d := NewDownloader(dir, nil, testLogger())

		result, err := d.Download(context.Background(), server.URL+"/report.pdf?token=abc", "")
		require.NoError(t, err)

		assert.Equal(t, "report.pdf", result.Filename)
	})

	t.Run("should sanitize path traversal in filenames", func(t *testing.T) {
		dir := t.TempDir()
		d := NewDownloader(dir, nil, testLogger())

		result, err := d.Download(context.Background(), server.URL+"/payload", "../../etc/passwd")
		require.NoError(t, err)

		assert.Equal(t, dir, filepath.Dir(result.Path))
	})

	t.Run("should fail on http errors without leaving partial files", func(t *testing.T) {
		dir := t.TempDir()
		d := NewDownloader(dir, nil, testLogger())

		_, err := d.Download(context.Background(), server.URL+"/missing", "")
		assert.Error(t, err)

		entries, readErr := os.ReadDir(dir)
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("should reject invalid urls", func(t *testing.T) {
		d := NewDownloader(t.TempDir(), nil, testLogger())

		_, err := d.Download(context.Background(), "not a url", "")
		assert.Error(t, err)
	})
}
