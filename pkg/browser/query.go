package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/notebridge/pkg/logging"
)

// submitKey submits the question; the notebook UI has no reliable submit button.
const submitKey = "Enter"

func newAttempt(url, question string) *Attempt {
	return &Attempt{
		ID:        uuid.New().String(),
		URL:       url,
		Question:  question,
		StartedAt: time.Now(),
		State:     StateIdle,
		Trace:     []State{StateIdle},
	}
}

func (a *Attempt) enter(s State) {
	a.State = s
	a.Trace = append(a.Trace, s)
}

// runQuery drives one attempt through the query protocol on page. It never
// panics; every fault comes back as *QueryError.
func (m *Manager) runQuery(ctx context.Context, page Page, a *Attempt) (answer string, err error) {
	log := m.logger.With("attempt", a.ID)
	t := m.opts.Timeouts
	sel := m.opts.Selectors

	defer func() {
		if r := recover(); r != nil {
			answer = ""
			err = m.fail(ctx, log, page, a, &QueryError{Kind: KindInteraction, Op: "query", Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	log.Infof("query started: url=%s question_len=%d", a.URL, len(a.Question))

	if page.URL() != a.URL {
		a.enter(StateNavigating)
		log.Debugf("navigating to %s", a.URL)
		if err := m.await(ctx, t.Navigation, func(d time.Duration) error {
			return page.Goto(a.URL, d)
		}); err != nil {
			return "", m.fail(ctx, log, page, a, interaction("navigate", err))
		}
	}

	a.enter(StateAwaitingInput)
	if err := m.await(ctx, t.Input, func(d time.Duration) error {
		return page.WaitFor(sel.Input, WaitVisible, d)
	}); err != nil {
		if IsTimeout(err) && ctx.Err() == nil {
			return "", m.fail(ctx, log, page, a, &QueryError{Kind: KindInputNotFound, Op: "wait for input " + sel.Input, Err: err})
		}
		return "", m.fail(ctx, log, page, a, interaction("wait for input", err))
	}

	a.enter(StateSubmitting)
	if err := m.submit(ctx, page, a.Question); err != nil {
		return "", m.fail(ctx, log, page, a, err)
	}

	a.enter(StateAwaitingThinkingStart)
	appeared, err := m.softWait(ctx, page, sel.Thinking, WaitVisible, t.ThinkingStart)
	if err != nil {
		return "", m.fail(ctx, log, page, a, interaction("wait for thinking indicator", err))
	}
	if !appeared {
		log.Debugf("thinking indicator did not appear within %s, continuing", t.ThinkingStart)
	}

	a.enter(StateAwaitingThinkingEnd)
	if err := m.await(ctx, t.ThinkingEnd, func(d time.Duration) error {
		return page.WaitFor(sel.Thinking, WaitHidden, d)
	}); err != nil {
		if !IsTimeout(err) || ctx.Err() != nil {
			return "", m.fail(ctx, log, page, a, interaction("wait for answer", err))
		}
		log.Warnf("thinking indicator still visible after %s, extracting anyway", t.ThinkingEnd)
	}

	if err := sleep(ctx, t.RenderSettle); err != nil {
		return "", m.fail(ctx, log, page, a, interaction("render settle", err))
	}

	a.enter(StateExtractingResponse)
	var texts []string
	if err := m.await(ctx, t.Action, func(time.Duration) error {
		var err error
		texts, err = page.InnerTexts(sel.Response)
		return err
	}); err != nil {
		return "", m.fail(ctx, log, page, a, interaction("extract response", err))
	}
	if len(texts) == 0 {
		return "", m.fail(ctx, log, page, a, &QueryError{Kind: KindNoResponse, Op: "extract response " + sel.Response})
	}
	answer = strings.TrimSpace(texts[len(texts)-1])
	if answer == "" {
		return "", m.fail(ctx, log, page, a, &QueryError{Kind: KindNoResponse, Op: "extract response", Err: fmt.Errorf("last of %d responses is empty", len(texts))})
	}

	a.enter(StateSucceeded)
	a.Answer = answer
	log.Infof("query succeeded in %s (%d chars)", time.Since(a.StartedAt).Round(time.Millisecond), len(answer))
	return answer, nil
}

// submit focuses the input, types the question and presses Enter.
func (m *Manager) submit(ctx context.Context, page Page, question string) *QueryError {
	input := m.opts.Selectors.Input
	action := m.opts.Timeouts.Action

	if err := m.await(ctx, action, func(d time.Duration) error {
		return page.Click(input, d)
	}); err != nil {
		return interaction("focus input", err)
	}
	if err := m.await(ctx, action, func(d time.Duration) error {
		return page.Fill(input, question, d)
	}); err != nil {
		return interaction("fill input", err)
	}
	if err := sleep(ctx, m.opts.Timeouts.SubmitSettle); err != nil {
		return interaction("submit settle", err)
	}
	if err := m.await(ctx, action, func(d time.Duration) error {
		return page.Press(input, submitKey, d)
	}); err != nil {
		return interaction("submit", err)
	}
	return nil
}

// fail records the failure on the attempt and captures a screenshot unless
// the caller gave up.
func (m *Manager) fail(ctx context.Context, log *logging.Logger, page Page, a *Attempt, qe *QueryError) error {
	a.enter(StateFailed)
	a.Err = qe

	if ctx.Err() == nil && m.opts.ArtifactPath != "" && !page.IsClosed() {
		if err := m.captureScreenshot(page, m.opts.ArtifactPath, m.opts.Timeouts.Action); err != nil {
			log.Warnf("failed to capture screenshot: %v", err)
		} else {
			qe.ArtifactPath = m.opts.ArtifactPath
		}
	}

	log.Errorf("query failed in state %s: %v", a.Trace[len(a.Trace)-2], qe)
	return qe
}

func (m *Manager) captureScreenshot(page Page, path string, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	return m.await(context.Background(), timeout, func(d time.Duration) error {
		return page.Screenshot(path, d)
	})
}

func interaction(op string, err error) *QueryError {
	return &QueryError{Kind: KindInteraction, Op: op, Err: err}
}

// softWait waits for selector to reach state but treats a timeout as a
// normal outcome. It reports whether the state was reached.
func (m *Manager) softWait(ctx context.Context, page Page, selector string, state WaitState, timeout time.Duration) (bool, error) {
	err := m.await(ctx, timeout, func(d time.Duration) error {
		return page.WaitFor(selector, state, d)
	})
	switch {
	case err == nil:
		return true, nil
	case IsTimeout(err) && ctx.Err() == nil:
		return false, nil
	default:
		return false, err
	}
}

// await runs a blocking engine call bounded by timeout and by ctx. The call
// receives the effective timeout and fails with ErrWaitTimeout if it has not
// returned once that timeout elapses. A call given up on this way, or because
// ctx ended, is recorded so the next page operation waits for it.
func (m *Manager) await(ctx context.Context, timeout time.Duration, fn func(time.Duration) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d := bound(ctx, timeout)
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(d)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	case <-ctx.Done():
		m.abandon(finished)
		return ctx.Err()
	case <-timer.C:
		m.abandon(finished)
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("no result after %s: %w", d, ErrWaitTimeout)
	}
}

// bound clips timeout to the time left before ctx's deadline.
func bound(ctx context.Context, timeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return timeout
}

// sleep pauses for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
