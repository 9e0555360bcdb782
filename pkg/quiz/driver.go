package quiz

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quizora/quizora/pkg/agent"
	"github.com/quizora/quizora/pkg/keypool"
	"github.com/quizora/quizora/pkg/toolkit"
)

// DefaultRetrySweeps bounds how many times the driver re-runs pending
// questions after the first pass.
const DefaultRetrySweeps = 2

// Notifier receives progress events as a chain is solved. Implementations
// must not block.
type Notifier interface {
	Publish(event ProgressEvent)
}

// ProgressEvent is one step of chain progress pushed to observers.
type ProgressEvent struct {
	Type     string    `json:"type"` // chain_started, episode_finished, sweep_started, chain_finished
	ChainURL string    `json:"chain_url"`
	Question string    `json:"question,omitempty"`
	State    string    `json:"state,omitempty"`
	Summary  *Summary  `json:"summary,omitempty"`
	Time     time.Time `json:"time"`
}

// Driver runs quiz chains end to end: a first pass over the chain, then
// retry sweeps over questions that came back wrong, as long as each
// sweep settles at least one more question.
type Driver struct {
	loop      *agent.Loop
	tracker   *Tracker
	submitter *Submitter       // optional, used to persist verdicts
	charter   *toolkit.Charter // optional, cleared between passes
	store     *Store           // optional
	notifier  Notifier         // optional
	pool      *keypool.Pool    // optional, cooldowns cleared at chain start
	identity  Identity
	logger    zerolog.Logger
	sweeps    int
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	Loop        *agent.Loop
	Tracker     *Tracker
	Submitter   *Submitter
	Charter     *toolkit.Charter
	Store       *Store
	Notifier    Notifier
	Pool        *keypool.Pool
	Identity    Identity
	Logger      zerolog.Logger
	RetrySweeps int // default 2
}

// ChainResult is the final accounting of one chain run.
type ChainResult struct {
	ChainURL string        `json:"chain_url"`
	Summary  Summary       `json:"summary"`
	Episodes int           `json:"episodes"`
	Sweeps   int           `json:"sweeps"`
	Elapsed  time.Duration `json:"elapsed"`
}

// NewDriver creates a driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Loop == nil {
		return nil, fmt.Errorf("agent loop is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}

	sweeps := cfg.RetrySweeps
	if sweeps <= 0 {
		sweeps = DefaultRetrySweeps
	}

	return &Driver{
		loop:      cfg.Loop,
		tracker:   cfg.Tracker,
		submitter: cfg.Submitter,
		charter:   cfg.Charter,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		pool:      cfg.Pool,
		identity:  cfg.Identity,
		logger:    cfg.Logger,
		sweeps:    sweeps,
	}, nil
}

// SetNotifier installs the progress sink. Call before Solve.
func (d *Driver) SetNotifier(n Notifier) {
	d.notifier = n
}

// Solve runs the chain starting at chainURL to completion.
func (d *Driver) Solve(ctx context.Context, chainURL string) (*ChainResult, error) {
	if chainURL == "" {
		return nil, fmt.Errorf("chain url is required")
	}

	start := time.Now()
	d.tracker.Reset()
	d.resetChart()

	// A fresh chain should not inherit cooldowns from the previous run.
	if d.pool != nil {
		for _, provider := range d.pool.Providers() {
			if n := d.pool.ResetProvider(provider); n > 0 {
				d.logger.Info().Str("provider", provider).Int("credentials", n).Msg("Cleared credential cooldowns")
			}
		}
	}

	var chainID int64
	if d.store != nil {
		id, err := d.store.BeginChain(chainURL)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to record chain start")
		} else {
			chainID = id
		}
	}
	if d.submitter != nil && d.store != nil && chainID != 0 {
		d.submitter.SetOnVerdict(func(questionURL string, correct bool, reason string) {
			if err := d.store.RecordSubmission(chainID, questionURL, correct, reason); err != nil {
				d.logger.Warn().Err(err).Msg("Failed to record submission")
			}
		})
		defer d.submitter.SetOnVerdict(nil)
	}

	d.publish(ProgressEvent{Type: "chain_started", ChainURL: chainURL, Time: time.Now()})
	d.logger.Info().Str("chain", chainURL).Msg("Starting quiz chain")

	episodes := 0
	systemPrompt := agent.SystemPrompt(d.identity.Email, d.identity.Secret)

	// First pass: one episode drives the whole chain, following next
	// URLs inside the conversation.
	result := d.runEpisode(ctx, chainURL, chainURL, systemPrompt)
	episodes++
	d.publish(ProgressEvent{
		Type: "episode_finished", ChainURL: chainURL, Question: chainURL,
		State: string(result.State), Summary: d.summaryPtr(), Time: time.Now(),
	})

	// Retry sweeps: re-run each pending question from scratch while
	// sweeps keep settling questions.
	sweepsRun := 0
	prevCorrect := -1
	for sweep := 0; sweep < d.sweeps; sweep++ {
		if ctx.Err() != nil {
			break
		}

		summary := d.tracker.Summary()
		if summary.Wrong == 0 {
			break
		}
		if summary.Correct == prevCorrect {
			d.logger.Info().Msg("No progress in retry sweep, stopping")
			break
		}
		prevCorrect = summary.Correct
		sweepsRun++

		d.publish(ProgressEvent{Type: "sweep_started", ChainURL: chainURL, Summary: &summary, Time: time.Now()})
		d.logger.Info().Int("pending", summary.Wrong).Int("sweep", sweepsRun).Msg("Retrying pending questions")

		for _, questionURL := range d.tracker.Pending() {
			if ctx.Err() != nil {
				break
			}
			d.resetChart()
			d.tracker.RestartClock()

			prompt := fmt.Sprintf("Retry this question from scratch:\n%s", questionURL)
			res := d.runEpisode(ctx, questionURL, prompt, systemPrompt)
			episodes++
			d.publish(ProgressEvent{
				Type: "episode_finished", ChainURL: chainURL, Question: questionURL,
				State: string(res.State), Summary: d.summaryPtr(), Time: time.Now(),
			})
		}
	}

	final := d.tracker.Summary()
	elapsed := time.Since(start)

	if d.store != nil && chainID != 0 {
		if err := d.store.FinishChain(chainID, final, episodes, sweepsRun, elapsed); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to record chain result")
		}
	}

	d.publish(ProgressEvent{Type: "chain_finished", ChainURL: chainURL, Summary: &final, Time: time.Now()})
	d.logger.Info().
		Int("correct", final.Correct).
		Int("wrong", final.Wrong).
		Int("episodes", episodes).
		Int("sweeps", sweepsRun).
		Dur("elapsed", elapsed).
		Msg("Quiz chain finished")

	return &ChainResult{
		ChainURL: chainURL,
		Summary:  final,
		Episodes: episodes,
		Sweeps:   sweepsRun,
		Elapsed:  elapsed,
	}, nil
}

func (d *Driver) runEpisode(ctx context.Context, questionURL, prompt, systemPrompt string) agent.EpisodeResult {
	key := fmt.Sprintf("episode-%s", uuid.NewString())
	result := d.loop.RunEpisode(ctx, agent.Episode{
		Key:          key,
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
	})
	if result.Aborted() {
		d.logger.Warn().
			Str("question", questionURL).
			Str("reason", result.Reason).
			Int("steps", result.Steps).
			Msg("Episode aborted")
	}
	return result
}

func (d *Driver) resetChart() {
	if d.charter != nil {
		d.charter.Reset()
	}
}

func (d *Driver) publish(event ProgressEvent) {
	if d.notifier != nil {
		d.notifier.Publish(event)
	}
}

func (d *Driver) summaryPtr() *Summary {
	s := d.tracker.Summary()
	return &s
}
