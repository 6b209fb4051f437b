package soar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default run configuration values.
const (
	defaultPollInterval = 2 * time.Second
	defaultRunTimeout   = 10 * time.Minute
	defaultScope        = "all"
)

// RunResult is the outcome of one playbook run.
type RunResult struct {
	// Playbook is the run's playbook, updated in place with the final run
	// payload, actions and log.
	Playbook *Playbook
	RunID    int64
	Status   RunStatus
	Success  bool

	// Actions holds the run's action runs fused with their app runs.
	Actions []*Action

	// Answers lists the prompt answers submitted, in submission order.
	Answers []PromptAnswer

	// Err is the *PlaybookError of a failed run when errors are suppressed.
	Err error
}

// PromptAnswer records one answer submitted to a prompt.
type PromptAnswer struct {
	ApprovalID int64
	Prompt     string
	Answer     string
}

// engine launches playbook runs, polls them to completion and answers
// their prompts.
type engine struct {
	gw        Gateway
	approvals *approvalService
	actions   *actionService
	playbooks *playbookService
	logger    zerolog.Logger
	metrics   *metrics

	pollInterval time.Duration
	runTimeout   time.Duration
}

// promptQueue hands out configured answers FIFO per prompt name and
// remembers which approvals were already answered.
type promptQueue struct {
	answers  map[string][]string
	next     map[string]int
	answered map[int64]bool
}

func newPromptQueue(answers map[string][]string) *promptQueue {
	return &promptQueue{
		answers:  answers,
		next:     make(map[string]int),
		answered: make(map[int64]bool),
	}
}

func (q *promptQueue) take(prompt string) (string, error) {
	list, ok := q.answers[prompt]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnansweredPrompt, prompt)
	}
	i := q.next[prompt]
	if i >= len(list) {
		return "", fmt.Errorf("%w: %q has %d answers", ErrPromptAnswersExhausted, prompt, len(list))
	}
	q.next[prompt] = i + 1
	return list[i], nil
}

// run drives one playbook on the container through launch, polling,
// prompt answering and aggregation.
//
// Errors before the run exists on the server are returned as is. Every
// later failure is reported as a *PlaybookError, returned unless cfg
// suppresses it, in which case it is stored on the result.
func (e *engine) run(ctx context.Context, c *Container, p *Playbook, cfg *runConfig) (*RunResult, error) {
	if c == nil || !c.HasID() {
		return nil, &ReferenceError{Op: "run playbooks", Resource: "container"}
	}

	runID, err := e.launch(ctx, c, p, cfg.scope)
	if err != nil {
		return nil, err
	}

	log := e.logger.With().
		Int64("container", c.ID()).
		Str("playbook", p.Name()).
		Int64("run", runID).
		Logger()
	log.Info().Msg("playbook launched")

	result := &RunResult{Playbook: p, RunID: runID}
	runErr := e.await(ctx, c, p, result, log)

	// Aggregate with the caller's context so a run timeout still collects
	// what the run produced.
	if err := e.aggregate(ctx, p, result); err != nil && runErr == nil {
		runErr = err
	}

	result.Status = p.RunStatus()
	detail := failureDetail(p)
	if runErr == nil && detail == "" {
		result.Success = true
		e.metrics.runFinished(true)
		log.Info().Str("status", string(result.Status)).Msg("playbook finished")
		return result, nil
	}

	if runErr == nil {
		runErr = ErrRunFailed
	}
	// ErrRunFailed only means the run itself reported failure.
	if !errors.Is(runErr, ErrRunFailed) {
		if detail == "" {
			detail = runErr.Error()
		} else {
			detail = runErr.Error() + "; " + detail
		}
	}
	perr := &PlaybookError{
		Playbook: p.Name(),
		RunID:    runID,
		Status:   string(result.Status),
		Detail:   detail,
		Err:      runErr,
	}
	result.Err = perr
	e.metrics.runFinished(false)
	log.Warn().Err(perr).Bool("suppressed", cfg.suppress).Msg("playbook failed")

	if cfg.suppress {
		return result, nil
	}
	return result, perr
}

// launch submits the run request and records the run id on the playbook.
func (e *engine) launch(ctx context.Context, c *Container, p *Playbook, scope string) (int64, error) {
	var ref any = p.Name()
	if id := p.PlaybookID(); id != 0 {
		ref = id
	}
	if ref == "" {
		return 0, validationError("playbook needs a name or a playbook id")
	}

	body := map[string]any{
		"container_id": c.ID(),
		"playbook_id":  ref,
		"scope":        scope,
		"run":          true,
	}
	var reply map[string]any
	if err := send(ctx, e.gw, http.MethodPost, "playbook_run", nil, body, &reply); err != nil {
		return 0, err
	}
	runID, ok := toInt(reply["playbook_run_id"])
	if !ok || runID == 0 {
		return 0, fmt.Errorf("soar: playbook_run reply carried no playbook_run_id")
	}

	p.SetID(runID)
	p.Set("container", c.ID())
	p.Set("status", string(RunRunning))
	p.Actions = nil
	p.Logs = nil
	return runID, nil
}

// await polls the run until it reaches a terminal status, answering
// pending prompts between polls.
func (e *engine) await(ctx context.Context, c *Container, p *Playbook, result *RunResult, log zerolog.Logger) error {
	runCtx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()

	queue := newPromptQueue(p.Prompts)
	timedOut := func(err error) error {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrRunTimeout, e.runTimeout)
		}
		return err
	}

	for {
		raw, err := getRecord(runCtx, e.gw, idPath("playbook_run", p.RunID()), nil)
		if err != nil {
			return timedOut(err)
		}
		p.Merge(raw)
		status := p.RunStatus()
		log.Debug().Str("status", string(status)).Msg("polled playbook run")
		if status.Terminal() {
			return nil
		}

		if err := e.answerPending(runCtx, c, queue, result, log); err != nil {
			return timedOut(err)
		}

		select {
		case <-runCtx.Done():
			return timedOut(runCtx.Err())
		case <-time.After(e.pollInterval):
		}
	}
}

// answerPending answers every open prompt raised by the run that was not
// answered yet. Prompts left open by other runs on the container are ignored.
func (e *engine) answerPending(ctx context.Context, c *Container, queue *promptQueue, result *RunResult, log zerolog.Logger) error {
	approvals, err := e.approvals.Pending(ctx, c.ID(), result.RunID)
	if err != nil {
		return err
	}
	for _, approval := range approvals {
		id := approval.ID()
		if queue.answered[id] {
			continue
		}
		prompt := approval.PromptName()
		answer, err := queue.take(prompt)
		if err != nil {
			return err
		}
		if err := e.approvals.Answer(ctx, id, []string{answer}); err != nil {
			return err
		}
		queue.answered[id] = true
		result.Answers = append(result.Answers, PromptAnswer{ApprovalID: id, Prompt: prompt, Answer: answer})
		e.metrics.promptAnswered(prompt)
		log.Info().Int64("approval", id).Str("prompt", prompt).Str("answer", answer).Msg("answered prompt")
	}
	return nil
}

// aggregate loads the run's actions and log onto the playbook.
func (e *engine) aggregate(ctx context.Context, p *Playbook, result *RunResult) error {
	actions, err := e.actions.Runs(ctx, Query{"_filter_playbook_run": p.RunID()})
	if err != nil {
		return fmt.Errorf("loading actions: %w", err)
	}
	p.Actions = actions
	result.Actions = actions

	logs, err := e.playbooks.Logs(ctx, p.RunID())
	if err != nil {
		return fmt.Errorf("loading run log: %w", err)
	}
	p.Logs = logs
	return nil
}

// failureDetail describes why a finished run counts as failed, or returns
// "" for a clean run.
func failureDetail(p *Playbook) string {
	var parts []string
	if status := p.RunStatus(); status != RunSuccess {
		msg := fmt.Sprintf("run status %q", status)
		if m := p.GetString("message"); m != "" {
			msg += ": " + m
		}
		parts = append(parts, msg)
	}
	for _, a := range p.Actions {
		if !a.Failed() {
			continue
		}
		msg := a.AppMessage()
		if msg == "" {
			msg = a.Message()
		}
		parts = append(parts, fmt.Sprintf("action %q failed: %s", a.Name(), msg))
	}
	for _, entry := range p.Exceptions() {
		if m, _ := entry["message"].(string); m != "" {
			parts = append(parts, strings.TrimSpace(m))
		}
	}
	return strings.Join(parts, "; ")
}

// isPlaybookError reports whether err carries a playbook failure.
func isPlaybookError(err error) bool {
	var perr *PlaybookError
	return errors.As(err, &perr)
}
