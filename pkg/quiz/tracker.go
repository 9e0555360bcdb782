package quiz

import (
	"sync"
	"time"
)

// Tracker records per-question outcomes across a quiz chain. A question
// answered correctly is settled for good; a wrong answer keeps the
// question pending until a later pass fixes it.
type Tracker struct {
	mu        sync.Mutex
	correct   map[string]struct{}
	wrong     []string // pending questions in first-seen order
	startTime time.Time
}

// Summary is a point-in-time view of chain progress.
type Summary struct {
	Correct     int      `json:"correct"`
	Wrong       int      `json:"wrong"`
	Total       int      `json:"total"`
	CorrectURLs []string `json:"correct_urls"`
	WrongURLs   []string `json:"wrong_urls"`
	Elapsed     float64  `json:"elapsed_seconds"`
}

// NewTracker creates a tracker with the clock started.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset clears all state for a new chain.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.correct = make(map[string]struct{})
	t.wrong = nil
	t.startTime = time.Now()
}

// Track records the outcome of one submission for questionURL. A correct
// result removes the question from the pending list; a wrong result adds
// it unless it was already settled or already pending.
func (t *Tracker) Track(questionURL string, correct bool) {
	if questionURL == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if correct {
		t.correct[questionURL] = struct{}{}
		for i, u := range t.wrong {
			if u == questionURL {
				t.wrong = append(t.wrong[:i], t.wrong[i+1:]...)
				break
			}
		}
		return
	}

	if _, settled := t.correct[questionURL]; settled {
		return
	}
	for _, u := range t.wrong {
		if u == questionURL {
			return
		}
	}
	t.wrong = append(t.wrong, questionURL)
}

// Pending returns the questions still awaiting a correct answer.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.wrong))
	copy(out, t.wrong)
	return out
}

// RestartClock resets the per-question submission window. Called when a
// new question is handed out.
func (t *Tracker) RestartClock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// Elapsed returns time since the current question was handed out.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.startTime)
}

// Summary returns the current chain progress.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	correctURLs := make([]string, 0, len(t.correct))
	for u := range t.correct {
		correctURLs = append(correctURLs, u)
	}
	wrongURLs := make([]string, len(t.wrong))
	copy(wrongURLs, t.wrong)

	return Summary{
		Correct:     len(correctURLs),
		Wrong:       len(wrongURLs),
		Total:       len(correctURLs) + len(wrongURLs),
		CorrectURLs: correctURLs,
		WrongURLs:   wrongURLs,
		Elapsed:     time.Since(t.startTime).Seconds(),
	}
}
