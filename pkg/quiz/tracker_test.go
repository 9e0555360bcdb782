package quiz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker(t *testing.T) {
	t.Run("should start empty", func(t *testing.T) {
		tr := NewTracker()
		summary := tr.Summary()
		assert.Equal(t, 0, summary.Correct)
		assert.Equal(t, 0, summary.Wrong)
		assert.Equal(t, 0, summary.Total)
		assert.Empty(t, tr.Pending())
	})

	t.Run("should record a correct answer", func(t *testing.T) {
		tr := NewTracker()
		tr.Track("https://quiz.test/q1", true)

		summary := tr.Summary()
		assert.Equal(t, 1, summary.Correct)
		assert.Equal(t, 0, summary.Wrong)
		assert.Contains(t, summary.CorrectURLs, "https://quiz.test/q1")
	})

	t.Run("should keep wrong answers pending in order", func(t *testing.T) {
		tr := NewTracker()
		tr.Track("https://quiz.test/q1", false)
		tr.Track("https://quiz.test/q2", false)

		assert.Equal(t, []string{"https://quiz.test/q1", "https://quiz.test/q2"}, tr.Pending())
	})

	t.Run("should settle a pending question on later correct answer", func(t *testing.T) {
		tr := NewTracker()
		tr.Track("https://quiz.test/q1", false)
		tr.Track("https://quiz.test/q2", false)
		tr.Track("https://quiz.test/q1", true)

		summary := tr.Summary()
		assert.Equal(t, 1, summary.Correct)
		assert.Equal(t, []string{"https://quiz.test/q2"}, tr.Pending())
	})

	t.Run("should not re-add a settled question on a later wrong answer", func(t *testing.T) {
		tr := NewTracker()
		tr.Track("https://quiz.test/q1", true)
		tr.Track("https://quiz.test/q1", false)

		assert.Empty(t, tr.Pending())
		assert.Equal(t, 1, tr.Summary().Correct)
	})

	t.Run("should not duplicate a pending question", func(t *testing.T) {
		tr := NewTracker()
		tr.Track("https://quiz.test/q1", false)
		tr.Track("https://quiz.test/q1", false)

		assert.Equal(t, []string{"https://quiz.test/q1"}, tr.Pending())
	})

	t.Run("should ignore empty question urls", func(t *testing.T) {
		tr := NewTracker()
		tr.Track("", true)
		tr.Track("", false)

		assert.Equal(t, 0, tr.Summary().Total)
	})

	t.Run("should reset all state", func(t *testing.T) {
		tr := NewTracker()
		tr.Track("https://quiz.test/q1", true)
		tr.Track("https://quiz.test/q2", false)
		tr.Reset()

		summary := tr.Summary()
		assert.Equal(t, 0, summary.Total)
		assert.Empty(t, tr.Pending())
	})

	t.Run("should restart the submission clock", func(t *testing.T) {
		tr := NewTracker()
		tr.RestartClock()
		assert.Less(t, tr.Elapsed(), time.Second)
	})

	t.Run("should return an independent pending copy", func(t *testing.T) {
		tr := NewTracker()
		tr.Track("https://quiz.test/q1", false)

		pending := tr.Pending()
		pending[0] = "mutated"
		assert.Equal(t, []string{"https://quiz.test/q1"}, tr.Pending())
	})
}
