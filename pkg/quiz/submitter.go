package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/quizora/quizora/internal/observability"
	"github.com/quizora/quizora/pkg/toolkit"
)

// submissionWindow is how long the grader accepts answers for a question
// after handing it out.
const submissionWindow = 180 * time.Second

// Identity carries the credentials stamped on every submission payload.
type Identity struct {
	Email  string
	Secret string
}

// Submitter posts answers to the grader and interprets the judgment.
// Wrong answers and transport failures both come back as data so the
// model can adjust and retry.
type Submitter struct {
	http     *resty.Client
	identity Identity
	tracker  *Tracker
	charter  *toolkit.Charter // optional, resolves the chart marker
	logger   zerolog.Logger

	mu        sync.Mutex
	onVerdict func(questionURL string, correct bool, reason string)
}

// SubmitRequest is one answer submission.
type SubmitRequest struct {
	URL         string      // grader endpoint
	QuestionURL string      // question being answered
	Answer      interface{} // answer value, may be the chart marker
}

// SubmitResult is the interpreted grader response.
type SubmitResult struct {
	Success         bool    `json:"success"`
	Correct         bool    `json:"correct"`
	Delay           float64 `json:"delay,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	NextURL         string  `json:"next_url,omitempty"`
	CanRetry        bool    `json:"can_retry,omitempty"`
	TimeRemaining   float64 `json:"time_remaining,omitempty"`
	SubmittedAnswer string  `json:"submitted_answer,omitempty"`
	Error           string  `json:"error,omitempty"`
	HTTPStatus      int     `json:"http_status,omitempty"`
	Suggestion      string  `json:"suggestion,omitempty"`
}

// NewSubmitter creates a submitter. A nil client gets a retrying default.
func NewSubmitter(identity Identity, tracker *Tracker, charter *toolkit.Charter, client *resty.Client, logger zerolog.Logger) *Submitter {
	observability.EnsureRegistered()

	if client == nil {
		client = resty.New().
			SetTimeout(30 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second).
			SetRetryMaxWaitTime(10 * time.Second)
	}
	return &Submitter{
		http:     client,
		identity: identity,
		tracker:  tracker,
		charter:  charter,
		logger:   logger,
	}
}

// Submit posts req and interprets the grader's verdict. The returned
// error covers only programmer mistakes; grader rejections and transport
// failures are reported inside the result.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("submit url is required")
	}

	answer := s.resolveAnswer(req.Answer)
	payload := map[string]interface{}{
		"email":  s.identity.Email,
		"secret": s.identity.Secret,
		"url":    req.QuestionURL,
		"answer": answer,
	}

	elapsed := s.tracker.Elapsed()
	s.logger.Info().
		Str("endpoint", req.URL).
		Str("question", req.QuestionURL).
		Str("answer", previewAnswer(answer)).
		Dur("elapsed", elapsed).
		Msg("Submitting answer")

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(req.URL)
	if err != nil {
		result := &SubmitResult{
			Success:    false,
			Error:      err.Error(),
			Suggestion: "Check network connectivity and the submit endpoint, then retry",
		}
		observability.RecordSubmission("transport_error")
		s.logger.Warn().Err(err).Msg("Submission transport failure")
		return result, nil
	}

	if resp.IsError() {
		status := resp.StatusCode()
		result := &SubmitResult{
			Success:    false,
			Error:      fmt.Sprintf("http %d: %s", status, strings.TrimSpace(resp.String())),
			HTTPStatus: status,
			Suggestion: httpErrorSuggestion(status),
		}
		observability.RecordSubmission("http_error")
		s.logger.Warn().Int("status", status).Msg("Submission rejected")
		return result, nil
	}

	var verdict struct {
		Correct bool    `json:"correct"`
		Delay   float64 `json:"delay"`
		URL     string  `json:"url"`
		Reason  string  `json:"reason"`
	}
	if err := json.Unmarshal(resp.Body(), &verdict); err != nil {
		result := &SubmitResult{
			Success:    false,
			Error:      fmt.Sprintf("invalid grader response: %v", err),
			Suggestion: "The endpoint did not return JSON; use extract_context to find the correct submit URL",
		}
		observability.RecordSubmission("bad_response")
		return result, nil
	}

	s.tracker.Track(req.QuestionURL, verdict.Correct)
	s.notifyVerdict(req.QuestionURL, verdict.Correct, verdict.Reason)

	result := &SubmitResult{
		Success:         true,
		Correct:         verdict.Correct,
		Delay:           verdict.Delay,
		Reason:          verdict.Reason,
		SubmittedAnswer: previewAnswer(answer),
	}

	if verdict.URL != "" {
		result.NextURL = verdict.URL
		s.tracker.RestartClock()
	}

	if verdict.Correct {
		observability.RecordSubmission("correct")
		s.logger.Info().Str("question", req.QuestionURL).Msg("Answer correct")
		return result, nil
	}

	observability.RecordSubmission("wrong")
	remaining := submissionWindow.Seconds() - verdict.Delay
	if remaining > 0 {
		result.CanRetry = true
		result.TimeRemaining = remaining
		result.Suggestion = fmt.Sprintf("Wrong answer. Reason: %s. Rethink the approach and submit again.", verdict.Reason)
	}
	s.logger.Info().
		Str("question", req.QuestionURL).
		Str("reason", verdict.Reason).
		Bool("can_retry", result.CanRetry).
		Msg("Answer wrong")

	return result, nil
}

// SetOnVerdict installs a callback fired after every graded submission.
// The driver uses it to persist per-question verdicts under the current
// chain; passing nil removes the callback.
func (s *Submitter) SetOnVerdict(fn func(questionURL string, correct bool, reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onVerdict = fn
}

func (s *Submitter) notifyVerdict(questionURL string, correct bool, reason string) {
	s.mu.Lock()
	fn := s.onVerdict
	s.mu.Unlock()
	if fn != nil {
		fn(questionURL, correct, reason)
	}
}

// resolveAnswer swaps the chart marker for the stored base64 image.
func (s *Submitter) resolveAnswer(answer interface{}) interface{} {
	marker, ok := answer.(string)
	if !ok || marker != toolkit.ChartMarker || s.charter == nil {
		return answer
	}
	image, ok := s.charter.Last()
	if !ok {
		s.logger.Warn().Msg("Chart marker submitted but no chart is stored")
		return answer
	}
	s.logger.Debug().Int("image_len", len(image)).Msg("Attaching stored chart to submission")
	return image
}

func previewAnswer(answer interface{}) string {
	s := fmt.Sprint(answer)
	if len(s) > 100 {
		return s[:100] + "... (truncated)"
	}
	return s
}

func httpErrorSuggestion(status int) string {
	switch status {
	case 400:
		return "Bad request; the payload must include email, secret, the full question url, and answer"
	case 401:
		return "Authentication failed; verify email and secret are correct"
	case 403:
		return "Forbidden; you do not have permission for this resource"
	case 404:
		return "Endpoint not found; use extract_context to find the correct submit URL"
	case 405:
		return "Method not allowed; check whether POST or GET is required"
	case 408:
		return "Request timeout; retry the request"
	case 429:
		return "Rate limited; wait 30 seconds before retrying"
	case 500:
		return "Server error; retry after a short delay"
	case 502:
		return "Bad gateway; the server may be down, retry after 10 seconds"
	case 503:
		return "Service unavailable; retry after 30 seconds"
	case 504:
		return "Gateway timeout; the server took too long to respond"
	default:
		return fmt.Sprintf("HTTP %d error occurred", status)
	}
}
