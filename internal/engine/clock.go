package engine

// Clock is the countdown state of one session and its current question.
// It is a plain value: Tick never mutates its input.
type Clock struct {
	RemainingSeconds       int
	QuestionID             string
	QuestionBudgetSeconds  int // 0 disables the per-question timer
	QuestionElapsedSeconds int
	QuestionAnswered       bool
}

// TickOutcome is what a tick lapsed, if anything.
type TickOutcome int

const (
	TickNone TickOutcome = iota
	TickQuestionExpired
	TickSessionExpired
)

func (o TickOutcome) String() string {
	switch o {
	case TickQuestionExpired:
		return "question_expired"
	case TickSessionExpired:
		return "session_expired"
	}
	return "none"
}

// Tick advances c by elapsed seconds of wall-clock time. When the session
// and question timers lapse in the same tick the session wins and the
// question is left unexpired, since the whole attempt is about to be
// submitted.
func Tick(c Clock, elapsed int) (Clock, TickOutcome) {
	if elapsed < 0 {
		elapsed = 0
	}

	next := c
	next.RemainingSeconds -= elapsed
	if next.RemainingSeconds < 0 {
		next.RemainingSeconds = 0
	}
	if next.QuestionID != "" {
		next.QuestionElapsedSeconds += elapsed
	}

	if next.RemainingSeconds == 0 {
		return next, TickSessionExpired
	}

	if c.QuestionLapsed() {
		// Already lapsed before this tick; reported once.
		return next, TickNone
	}
	if next.QuestionLapsed() {
		return next, TickQuestionExpired
	}
	return next, TickNone
}

// QuestionLapsed reports whether the current, unanswered question has used
// up its budget.
func (c Clock) QuestionLapsed() bool {
	return c.QuestionID != "" &&
		c.QuestionBudgetSeconds > 0 &&
		!c.QuestionAnswered &&
		c.QuestionElapsedSeconds >= c.QuestionBudgetSeconds
}

// QuestionRemaining returns the seconds left on the current question's
// timer, or -1 when it has none.
func (c Clock) QuestionRemaining() int {
	if c.QuestionID == "" || c.QuestionBudgetSeconds <= 0 {
		return -1
	}
	left := c.QuestionBudgetSeconds - c.QuestionElapsedSeconds
	if left < 0 {
		return 0
	}
	return left
}
