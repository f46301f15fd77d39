package engine

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// NormalizeAnswers validates a submitted answer list against the bound set
// and returns it as a map. Blank answers are dropped and count as
// unanswered.
func NormalizeAnswers(set *model.QuestionSet, answers []model.AnswerSubmit) (map[string]string, error) {
	out := make(map[string]string, len(answers))
	seen := make(map[string]struct{}, len(answers))

	for _, a := range answers {
		if _, dup := seen[a.QuestionID]; dup {
			return nil, shapeErr(a.QuestionID, "answered more than once")
		}
		seen[a.QuestionID] = struct{}{}

		q, ok := set.Question(a.QuestionID)
		if !ok {
			return nil, shapeErr(a.QuestionID, "not part of the question set")
		}
		value := strings.TrimSpace(a.SelectedAnswer)
		if value == "" {
			continue
		}
		if err := checkValue(q, value); err != nil {
			return nil, err
		}
		out[a.QuestionID] = value
	}

	return out, nil
}

// ValidateAnswerMap is NormalizeAnswers for the map form used by progress
// snapshots.
func ValidateAnswerMap(set *model.QuestionSet, answers map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(answers))
	for id, raw := range answers {
		q, ok := set.Question(id)
		if !ok {
			return nil, shapeErr(id, "not part of the question set")
		}
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if err := checkValue(q, value); err != nil {
			return nil, err
		}
		out[id] = value
	}
	return out, nil
}

// FilterAnswerMap keeps the valid entries of a stored answer map. Entries
// that no longer fit the set are dropped and reported together in the
// returned error, which is nil when nothing was dropped.
func FilterAnswerMap(set *model.QuestionSet, answers map[string]string) (map[string]string, error) {
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]string, len(answers))
	var errs []error
	for _, id := range ids {
		q, ok := set.Question(id)
		if !ok {
			errs = append(errs, shapeErr(id, "not part of the question set"))
			continue
		}
		value := strings.TrimSpace(answers[id])
		if value == "" {
			continue
		}
		if err := checkValue(q, value); err != nil {
			errs = append(errs, err)
			continue
		}
		out[id] = value
	}
	return out, errors.Join(errs...)
}

func checkValue(q model.Question, value string) error {
	if q.Type == model.QuestionTypeMCQ && !q.HasOption(value) {
		return shapeErr(q.ID, "selected answer is not one of the options")
	}
	return nil
}

// Grade scores answers against the set's answer key. Expired questions are
// unanswered whatever the answer map says. Non-mcq questions only score
// when the set carries a reference answer for them.
func Grade(set *model.QuestionSet, answers map[string]string, expiredIDs []string, threshold float64, completedAt time.Time) (model.ScoreResult, []model.QuestionResult) {
	expired := toSet(expiredIDs)

	res := model.ScoreResult{
		TotalQuestions:   len(set.Questions),
		PassingThreshold: threshold,
		CompletedAt:      completedAt,
	}
	breakdown := make([]model.QuestionResult, 0, len(set.Questions))

	for _, q := range set.Questions {
		row := model.QuestionResult{
			QuestionID: q.ID,
			Text:       q.Text,
			Type:       q.Type,
			Options:    q.SortedOptions(),
		}
		if q.Type == model.QuestionTypeMCQ && q.CorrectAnswer != "" {
			key := q.CorrectAnswer
			row.CorrectAnswer = &key
		}

		answer, answered := answers[q.ID]
		if answered {
			a := answer
			row.YourAnswer = &a
		}

		switch {
		case hasKey(expired, q.ID):
			row.Outcome = model.OutcomeExpired
			res.Unanswered++
		case !answered || answer == "":
			row.Outcome = model.OutcomeUnanswered
			res.Unanswered++
		case isCorrect(q, answer):
			row.Outcome = model.OutcomeCorrect
			row.IsCorrect = true
			res.CorrectAnswers++
		default:
			row.Outcome = model.OutcomeWrong
			res.WrongAnswers++
		}
		breakdown = append(breakdown, row)
	}

	res.ScorePercentage = ScorePercentage(res.CorrectAnswers, res.TotalQuestions)
	res.Passed = res.ScorePercentage >= threshold
	return res, breakdown
}

// ScorePercentage is 100*correct/total rounded to one decimal, 0 for an
// empty set.
func ScorePercentage(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(correct)*1000/float64(total)) / 10
}

func isCorrect(q model.Question, answer string) bool {
	if q.CorrectAnswer == "" {
		return false
	}
	if q.Type == model.QuestionTypeMCQ {
		return answer == q.CorrectAnswer
	}
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.CorrectAnswer))
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}
