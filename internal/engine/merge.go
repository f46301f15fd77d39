package engine

import (
	"sort"
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// QuestionExpiryTolerance absorbs the gap between a client-side expiry
// and the save that reports it.
const QuestionExpiryTolerance = 2

// MergeInput is everything needed to fold a proposed snapshot into the
// stored one.
type MergeInput struct {
	Prev          model.ProgressSnapshot
	Proposed      model.SaveProgressRequest
	Set           *model.QuestionSet
	Session       *model.Session
	DefaultBudget int
	Now           time.Time
}

// MergeResult is the accepted snapshot and what lapsed while producing it.
type MergeResult struct {
	Snapshot       model.ProgressSnapshot
	SessionExpired bool
	NewlyExpired   []string
}

// InitialSnapshot is the stored state of a session without saved
// progress. Answers start empty; the clocks carried by the session row
// (current question, dwell, expiries, last save) are kept.
func InitialSnapshot(sess *model.Session, progressKey string) model.ProgressSnapshot {
	lastSaved := sess.StartedAt
	if sess.LastSavedAt != nil && sess.LastSavedAt.After(lastSaved) {
		lastSaved = *sess.LastSavedAt
	}
	index := sess.CurrentQuestionIndex
	if index < 0 || (sess.TotalQuestions > 0 && index >= sess.TotalQuestions) {
		index = 0
	}
	return model.ProgressSnapshot{
		ProgressKey:            progressKey,
		CandidateEmail:         sess.CandidateEmail,
		CandidateName:          sess.CandidateName,
		SessionID:              sess.ID,
		QuestionSetID:          sess.QuestionSetID,
		CurrentQuestionIndex:   index,
		Answers:                map[string]string{},
		QuestionStatus:         map[string]model.QuestionStatus{},
		ExpiredQuestionIDs:     append([]string{}, sess.ExpiredQuestionIDs...),
		QuestionElapsedSeconds: copyInts(sess.QuestionElapsedSeconds),
		RemainingTimeSeconds:   sess.RemainingAt(lastSaved),
		InitialDurationSeconds: sess.DurationSeconds,
		TotalQuestions:         sess.TotalQuestions,
		LastSavedAt:            lastSaved,
	}
}

// QuestionBudget is the per-question budget of q, falling back to the
// session default. Zero means untimed.
func QuestionBudget(q model.Question, fallback int) int {
	if q.TimeLimitSeconds != nil {
		return *q.TimeLimitSeconds
	}
	return fallback
}

// MergeSnapshot validates a proposed snapshot and merges it with the
// stored one using only the server clock. Dwell since the last save is
// charged to the question that was current then; expiries are sticky and
// answers to expired questions are discarded. The client's remaining time
// is accepted only when it is lower than the server's.
func MergeSnapshot(in MergeInput) (MergeResult, error) {
	set := in.Set
	prop := in.Proposed

	if len(set.Questions) > 0 && prop.CurrentQuestionIndex >= len(set.Questions) {
		return MergeResult{}, shapeErr("", "current_question_index out of range")
	}

	answers, err := ValidateAnswerMap(set, prop.Answers)
	if err != nil {
		return MergeResult{}, err
	}
	for id, st := range prop.QuestionStatus {
		if _, ok := set.Question(id); !ok {
			return MergeResult{}, shapeErr(id, "not part of the question set")
		}
		if !st.Valid() {
			return MergeResult{}, shapeErr(id, "unknown question status")
		}
	}
	for _, id := range prop.ExpiredQuestionIDs {
		if _, ok := set.Question(id); !ok {
			return MergeResult{}, shapeErr(id, "not part of the question set")
		}
	}

	prev := in.Prev
	elapsed := copyInts(prev.QuestionElapsedSeconds)
	expired := toSet(prev.ExpiredQuestionIDs)

	// Charge the wall-clock time since the last save.
	dt := int(in.Now.Sub(prev.LastSavedAt) / time.Second)
	clock := Clock{RemainingSeconds: in.Session.RemainingAt(prev.LastSavedAt)}
	if idx := prev.CurrentQuestionIndex; idx >= 0 && idx < len(set.Questions) {
		q := set.Questions[idx]
		budget := QuestionBudget(q, in.DefaultBudget)
		if budget > 0 {
			budget += QuestionExpiryTolerance
		}
		clock.QuestionID = q.ID
		clock.QuestionBudgetSeconds = budget
		clock.QuestionElapsedSeconds = elapsed[q.ID]
		clock.QuestionAnswered = prev.Answers[q.ID] != ""
	}
	next, outcome := Tick(clock, dt)
	if next.QuestionID != "" {
		elapsed[next.QuestionID] = next.QuestionElapsedSeconds
	}

	var newly []string
	sessionExpired := outcome == TickSessionExpired || !in.Now.Before(in.Session.Deadline())
	if !sessionExpired && next.QuestionLapsed() && !hasKey(expired, next.QuestionID) {
		expired[next.QuestionID] = struct{}{}
		newly = append(newly, next.QuestionID)
	}

	// Client flags can only add expiries.
	for _, id := range prop.ExpiredQuestionIDs {
		if !hasKey(expired, id) {
			expired[id] = struct{}{}
			newly = append(newly, id)
		}
	}
	for id, st := range prop.QuestionStatus {
		if st == model.QuestionStatusExpired && !hasKey(expired, id) {
			expired[id] = struct{}{}
			newly = append(newly, id)
		}
	}

	for id := range expired {
		delete(answers, id)
	}

	remaining := in.Session.RemainingAt(in.Now)
	if prop.RemainingTimeSeconds < remaining {
		remaining = prop.RemainingTimeSeconds
	}

	snap := model.ProgressSnapshot{
		ProgressKey:            prev.ProgressKey,
		CandidateEmail:         firstNonEmpty(prop.CandidateEmail, prev.CandidateEmail),
		CandidateName:          firstNonEmpty(prop.CandidateName, prev.CandidateName),
		SessionID:              in.Session.ID,
		QuestionSetID:          in.Session.QuestionSetID,
		CurrentQuestionIndex:   prop.CurrentQuestionIndex,
		Answers:                answers,
		QuestionStatus:         BuildQuestionStatus(set, answers, expired, prop.QuestionStatus),
		ExpiredQuestionIDs:     sortedKeys(expired),
		QuestionElapsedSeconds: elapsed,
		RemainingTimeSeconds:   remaining,
		InitialDurationSeconds: in.Session.DurationSeconds,
		TotalQuestions:         len(set.Questions),
		LastSavedAt:            in.Now,
	}

	sort.Strings(newly)
	return MergeResult{Snapshot: snap, SessionExpired: sessionExpired, NewlyExpired: newly}, nil
}

// BuildQuestionStatus derives the status of every question. Expired beats
// everything; a flag survives only on questions that are not expired.
func BuildQuestionStatus(set *model.QuestionSet, answers map[string]string, expired map[string]struct{}, proposed map[string]model.QuestionStatus) map[string]model.QuestionStatus {
	out := make(map[string]model.QuestionStatus, len(set.Questions))
	for _, q := range set.Questions {
		switch {
		case hasKey(expired, q.ID):
			out[q.ID] = model.QuestionStatusExpired
		case proposed[q.ID] == model.QuestionStatusFlagged:
			out[q.ID] = model.QuestionStatusFlagged
		case answers[q.ID] != "":
			out[q.ID] = model.QuestionStatusAnswered
		default:
			out[q.ID] = model.QuestionStatusUnanswered
		}
	}
	return out
}

// ElapsedRemaining applies true elapsed time since lastSaved to a stored
// remaining value.
func ElapsedRemaining(stored int, lastSaved, now time.Time) int {
	left := stored - int(now.Sub(lastSaved)/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

func copyInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
