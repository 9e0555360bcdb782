package toolkit

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharter(t *testing.T) {
	t.Run("should render a bar chart and store it", func(t *testing.T) {
		c := NewCharter(testLogger())

		msg, err := c.Create(ChartRequest{
			Type:   "bar",
			Title:  "Scores",
			Labels: []string{"a", "b", "c"},
			Values: []float64{1, 4, 2},
		})
		require.NoError(t, err)

		assert.Contains(t, msg, ChartMarker)

		stored, ok := c.Last()
		require.True(t, ok)

		raw, err := base64.StdEncoding.DecodeString(stored)
		require.NoError(t, err)
		// PNG magic bytes.
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, raw[:4])
	})

	t.Run("should render pie and line charts", func(t *testing.T) {
		c := NewCharter(testLogger())

		for _, typ := range []string{"pie", "line"} {
			_, err := c.Create(ChartRequest{
				Type:   typ,
				Labels: []string{"x", "y"},
				Values: []float64{3, 7},
			})
			require.NoError(t, err, typ)
		}
	})

	t.Run("should default to bar charts", func(t *testing.T) {
		c := NewCharter(testLogger())

		_, err := c.Create(ChartRequest{Labels: []string{"a", "b"}, Values: []float64{1, 3}})
		assert.NoError(t, err)
	})

	t.Run("should reject unknown chart types", func(t *testing.T) {
		c := NewCharter(testLogger())

		_, err := c.Create(ChartRequest{Type: "radar", Values: []float64{1}})
		assert.Error(t, err)
	})

	t.Run("should reject empty or mismatched data", func(t *testing.T) {
		c := NewCharter(testLogger())

		_, err := c.Create(ChartRequest{Type: "bar"})
		assert.Error(t, err)

		_, err = c.Create(ChartRequest{Type: "bar", Labels: []string{"a", "b"}, Values: []float64{1}})
		assert.Error(t, err)
	})

	t.Run("should replace the stored chart on each render", func(t *testing.T) {
		c := NewCharter(testLogger())

		_, err := c.Create(ChartRequest{Labels: []string{"a", "b"}, Values: []float64{1, 3}})
		require.NoError(t, err)
		first, _ := c.Last()

		_, err = c.Create(ChartRequest{Labels: []string{"a", "b"}, Values: []float64{5, 9}})
		require.NoError(t, err)
		second, _ := c.Last()

		assert.NotEqual(t, first, second)
	})

	t.Run("should clear on reset", func(t *testing.T) {
		c := NewCharter(testLogger())

		_, err := c.Create(ChartRequest{Labels: []string{"a", "b"}, Values: []float64{1, 3}})
		require.NoError(t, err)

		c.Reset()
		_, ok := c.Last()
		assert.False(t, ok)
	})
}
