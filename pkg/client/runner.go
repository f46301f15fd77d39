package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
)

// ErrQuestionLocked is returned when answering a question whose timer
// already ran out.
var ErrQuestionLocked = errors.New("question expired")

// ErrRunnerStopped is returned by commands sent after Run returned.
var ErrRunnerStopped = errors.New("runner stopped")

// SessionAPI is what the runner needs from the engine.
type SessionAPI interface {
	SaveProgress(ctx context.Context, req *model.SaveProgressRequest) (*model.ProgressAck, error)
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResponse, error)
}

// EventType names something the runner observed.
type EventType string

const (
	EventTick            EventType = "tick"
	EventQuestionExpired EventType = "question_expired"
	EventSessionExpired  EventType = "session_expired"
	EventAutosaved       EventType = "autosaved"
	EventAutosaveFailed  EventType = "autosave_failed"
)

// Event is delivered to the observer on the runner goroutine.
type Event struct {
	Type       EventType
	QuestionID string
	Remaining  int
	Err        error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithAutosaveEvery sets how many ticks pass between autosaves.
func WithAutosaveEvery(ticks int) RunnerOption {
	return func(r *Runner) {
		if ticks > 0 {
			r.autosaveEvery = ticks
		}
	}
}

// WithObserver receives every runner event. It must not block.
func WithObserver(fn func(Event)) RunnerOption {
	return func(r *Runner) { r.observe = fn }
}

// WithContact attaches candidate details to saves and the final submit.
func WithContact(name, email string) RunnerOption {
	return func(r *Runner) {
		r.name = name
		r.email = email
	}
}

// withTicks replaces the wall-clock ticker.
func withTicks(ch <-chan time.Time, start time.Time) RunnerOption {
	return func(r *Runner) {
		r.ticks = ch
		r.last = start
	}
}

type commandKind int

const (
	cmdAnswer commandKind = iota
	cmdGoTo
	cmdSubmit
)

type command struct {
	kind       commandKind
	questionID string
	answer     string
	index      int
	reply      chan error
}

type saveResult struct {
	ack *model.ProgressAck
	err error
}

// Runner drives one session on the client side. All state is owned by the
// Run goroutine; other goroutines talk to it through Answer, GoTo and
// Submit. The local clock is cooperative only: the server re-checks every
// deadline.
type Runner struct {
	api     SessionAPI
	session *model.StartSessionResponse

	autosaveEvery int
	observe       func(Event)
	name, email   string

	ticks <-chan time.Time
	last  time.Time
	carry time.Duration

	cmds  chan command
	saved chan saveResult
	done  chan struct{}

	clock     engine.Clock
	current   int
	answers   map[string]string
	statuses  map[string]model.QuestionStatus
	expired   []string
	elapsed   map[string]int
	sinceSave int
	saving    bool
}

// NewRunner prepares a runner for a freshly started or resumed session.
// resume may be nil.
func NewRunner(api SessionAPI, session *model.StartSessionResponse, resume *model.ProgressSnapshot, opts ...RunnerOption) *Runner {
	r := &Runner{
		api:           api,
		session:       session,
		autosaveEvery: 10,
		cmds:          make(chan command),
		saved:         make(chan saveResult, 1),
		done:          make(chan struct{}),
		answers:       make(map[string]string),
		statuses:      make(map[string]model.QuestionStatus),
		elapsed:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}

	remaining := session.DurationSeconds
	if resume != nil {
		for k, v := range resume.Answers {
			r.answers[k] = v
		}
		for k, v := range resume.QuestionStatus {
			r.statuses[k] = v
		}
		for k, v := range resume.QuestionElapsedSeconds {
			r.elapsed[k] = v
		}
		r.expired = append(r.expired, resume.ExpiredQuestionIDs...)
		r.current = resume.CurrentQuestionIndex
		remaining = resume.RemainingTimeSeconds
	}
	r.clock = engine.Clock{RemainingSeconds: remaining}
	r.focus(r.current)
	return r
}

// Remaining is the local countdown. Only safe from the observer.
func (r *Runner) Remaining() int { return r.clock.RemainingSeconds }

// Answer records an answer for a question.
func (r *Runner) Answer(ctx context.Context, questionID, answer string) error {
	return r.send(ctx, command{kind: cmdAnswer, questionID: questionID, answer: answer})
}

// GoTo moves to the question at index.
func (r *Runner) GoTo(ctx context.Context, index int) error {
	return r.send(ctx, command{kind: cmdGoTo, index: index})
}

// Submit asks Run to submit now. Run returns the result.
func (r *Runner) Submit(ctx context.Context) error {
	return r.send(ctx, command{kind: cmdSubmit})
}

func (r *Runner) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks the clock once per second until the candidate submits or the
// session runs out, then submits and returns the result. Autosaves run in
// the background, never more than one at a time, so a slow network never
// delays a tick.
func (r *Runner) Run(ctx context.Context) (*model.SubmitResponse, error) {
	defer close(r.done)

	if r.ticks == nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		r.ticks = ticker.C
		r.last = time.Now()
	}

	if r.clock.RemainingSeconds <= 0 {
		return r.finish(ctx, true)
	}

	for {
		select {
		case <-ctx.Done():
			r.awaitSave()
			return nil, ctx.Err()

		case now := <-r.ticks:
			if r.tick(now) {
				r.emit(Event{Type: EventSessionExpired})
				return r.finish(ctx, true)
			}
			r.maybeAutosave(ctx)

		case res := <-r.saved:
			r.saving = false
			if res.err != nil {
				r.emit(Event{Type: EventAutosaveFailed, Err: res.err})
				// The server already closed the session; collect the result.
				if IsCode(res.err, response.ErrAlreadyCompleted) || IsCode(res.err, response.ErrSessionNotActive) {
					return r.finish(ctx, true)
				}
				continue
			}
			r.emit(Event{Type: EventAutosaved})

		case cmd := <-r.cmds:
			if cmd.kind == cmdSubmit {
				cmd.reply <- nil
				return r.finish(ctx, false)
			}
			cmd.reply <- r.apply(cmd)
		}
	}
}

// tick advances the clock by the whole seconds elapsed since the previous
// tick and reports whether the session ran out.
func (r *Runner) tick(now time.Time) bool {
	delta := now.Sub(r.last) + r.carry
	r.last = now
	if delta < 0 {
		delta = 0
	}
	secs := int(delta / time.Second)
	r.carry = delta - time.Duration(secs)*time.Second
	if secs == 0 {
		return false
	}

	next, outcome := engine.Tick(r.clock, secs)
	r.clock = next
	if next.QuestionID != "" {
		r.elapsed[next.QuestionID] = next.QuestionElapsedSeconds
	}
	r.sinceSave += secs

	switch outcome {
	case engine.TickSessionExpired:
		return true
	case engine.TickQuestionExpired:
		id := next.QuestionID
		r.statuses[id] = model.QuestionStatusExpired
		r.expired = append(r.expired, id)
		delete(r.answers, id)
		r.emit(Event{Type: EventQuestionExpired, QuestionID: id, Remaining: next.RemainingSeconds})
		r.advance()
	default:
		r.emit(Event{Type: EventTick, QuestionID: next.QuestionID, Remaining: next.RemainingSeconds})
	}
	return false
}

func (r *Runner) apply(cmd command) error {
	switch cmd.kind {
	case cmdAnswer:
		if _, ok := r.indexOf(cmd.questionID); !ok {
			return fmt.Errorf("unknown question %q", cmd.questionID)
		}
		if r.statuses[cmd.questionID] == model.QuestionStatusExpired {
			return ErrQuestionLocked
		}
		r.answers[cmd.questionID] = cmd.answer
		r.statuses[cmd.questionID] = model.QuestionStatusAnswered
		if r.clock.QuestionID == cmd.questionID {
			r.clock.QuestionAnswered = true
		}
		return nil
	case cmdGoTo:
		if cmd.index < 0 || cmd.index >= len(r.session.Questions) {
			return fmt.Errorf("question index %d out of range", cmd.index)
		}
		r.focus(cmd.index)
		return nil
	}
	return nil
}

// focus points the question timer at the question at index.
func (r *Runner) focus(index int) {
	r.current = index
	r.clock.QuestionID = ""
	r.clock.QuestionBudgetSeconds = 0
	r.clock.QuestionElapsedSeconds = 0
	r.clock.QuestionAnswered = false
	if index < 0 || index >= len(r.session.Questions) {
		return
	}

	q := r.session.Questions[index]
	budget := r.session.QuestionTimeLimitSeconds
	if q.TimeLimitSeconds != nil {
		budget = *q.TimeLimitSeconds
	}
	r.clock.QuestionID = q.ID
	r.clock.QuestionBudgetSeconds = budget
	r.clock.QuestionElapsedSeconds = r.elapsed[q.ID]
	r.clock.QuestionAnswered = r.statuses[q.ID] == model.QuestionStatusAnswered ||
		r.statuses[q.ID] == model.QuestionStatusExpired
}

// advance moves to the next question that can still be answered.
func (r *Runner) advance() {
	for i := r.current + 1; i < len(r.session.Questions); i++ {
		if r.statuses[r.session.Questions[i].ID] != model.QuestionStatusExpired {
			r.focus(i)
			return
		}
	}
	r.focus(r.current)
}

func (r *Runner) indexOf(questionID string) (int, bool) {
	for i, q := range r.session.Questions {
		if q.ID == questionID {
			return i, true
		}
	}
	return 0, false
}

func (r *Runner) maybeAutosave(ctx context.Context) {
	if r.saving || r.sinceSave < r.autosaveEvery {
		return
	}
	r.saving = true
	r.sinceSave = 0
	req := r.snapshot()
	go func() {
		ack, err := r.api.SaveProgress(ctx, req)
		r.saved <- saveResult{ack: ack, err: err}
	}()
}

func (r *Runner) awaitSave() {
	if r.saving {
		<-r.saved
		r.saving = false
	}
}

// finish waits out any autosave so it cannot land after the submit.
func (r *Runner) finish(ctx context.Context, forced bool) (*model.SubmitResponse, error) {
	r.awaitSave()

	req := model.SubmitRequest{
		SessionID:      r.session.SessionID,
		Forced:         forced,
		CandidateName:  r.name,
		CandidateEmail: r.email,
	}
	for _, q := range r.session.Questions {
		if ans, ok := r.answers[q.ID]; ok {
			req.Answers = append(req.Answers, model.AnswerSubmit{QuestionID: q.ID, SelectedAnswer: ans})
		}
	}
	return r.api.Submit(ctx, req)
}

func (r *Runner) snapshot() *model.SaveProgressRequest {
	req := &model.SaveProgressRequest{
		CandidateEmail:         r.email,
		CandidateName:          r.name,
		SessionID:              r.session.SessionID,
		CurrentQuestionIndex:   r.current,
		Answers:                make(map[string]string, len(r.answers)),
		QuestionStatus:         make(map[string]model.QuestionStatus, len(r.statuses)),
		ExpiredQuestionIDs:     append([]string(nil), r.expired...),
		RemainingTimeSeconds:   r.clock.RemainingSeconds,
		InitialDurationSeconds: r.session.DurationSeconds,
		TotalQuestions:         r.session.TotalQuestions,
	}
	for k, v := range r.answers {
		req.Answers[k] = v
	}
	for k, v := range r.statuses {
		req.QuestionStatus[k] = v
	}
	return req
}

func (r *Runner) emit(e Event) {
	if r.observe != nil {
		r.observe(e)
	}
}
