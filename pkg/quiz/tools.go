package quiz

import (
	"context"

	"github.com/quizora/quizora/pkg/toolkit"
)

// ChainProgress reports whether a tool observation carried the quiz to a
// new question. The agent loop restarts its decision budget on it, so
// the step limit caps work per question while one episode follows the
// whole chain.
func ChainProgress(obs toolkit.Observation) bool {
	if !obs.OK() || obs.Tool != "submit_answer" {
		return false
	}
	result, ok := obs.Output.(*SubmitResult)
	return ok && result.NextURL != ""
}

// RegisterQuizTools adds the grader-facing tools to the registry. Kept
// separate from the general catalog because these carry chain identity
// and tracking state.
func RegisterQuizTools(reg *toolkit.Registry, submitter *Submitter) error {
	if err := reg.Register(toolkit.Definition{
		Name: "get_quiz_status",
		Description: "Report chain progress so far: correct and wrong counts, the " +
			"questions still pending, and time spent on the current question.",
		Parameters: []toolkit.Parameter{},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return submitter.tracker.Summary(), nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(toolkit.Definition{
		Name: "submit_answer",
		Description: "Submit an answer for the current question. Email and secret are " +
			"attached automatically. Submit " + toolkit.ChartMarker + " as the answer " +
			"to attach the last created chart.",
		Parameters: []toolkit.Parameter{
			{Name: "url", Type: "string", Description: "Submit endpoint, usually the page base URL plus /submit", Required: true},
			{Name: "question_url", Type: "string", Description: "Full URL of the question being answered", Required: true},
			{Name: "answer", Type: "string", Description: "The answer value", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return submitter.Submit(ctx, SubmitRequest{
				URL:         args["url"].(string),
				QuestionURL: args["question_url"].(string),
				Answer:      args["answer"],
			})
		},
	})
}
