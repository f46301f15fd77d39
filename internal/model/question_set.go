package model

import (
	"encoding/json"
	"sort"
	"time"
)

type QuestionType string

const (
	QuestionTypeMCQ          QuestionType = "mcq"
	QuestionTypeCoding       QuestionType = "coding"
	QuestionTypeArchitecture QuestionType = "architecture"
	QuestionTypeScreening    QuestionType = "screening"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMCQ, QuestionTypeCoding, QuestionTypeArchitecture, QuestionTypeScreening:
		return true
	}
	return false
}

// QuestionSet is an immutable bundle of ordered questions for one skill and level.
type QuestionSet struct {
	ID             string     `json:"question_set_id"`
	Skill          string     `json:"skill"`
	Level          string     `json:"level"`
	TotalQuestions int        `json:"total_questions"`
	Questions      []Question `json:"questions"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Question is one question of a set. CorrectAnswer is never serialized.
type Question struct {
	ID               string            `json:"id"`
	Position         int               `json:"position"`
	Text             string            `json:"text"`
	Type             QuestionType      `json:"type"`
	Options          map[string]string `json:"options,omitempty"`
	Meta             json.RawMessage   `json:"meta,omitempty"`
	CorrectAnswer    string            `json:"-"`
	TimeLimitSeconds *int              `json:"time_limit_seconds,omitempty"`
}

// HasOption reports whether key is one of the question's option keys.
func (q Question) HasOption(key string) bool {
	_, ok := q.Options[key]
	return ok
}

// QuestionOption is a single rendered MCQ choice.
type QuestionOption struct {
	OptionID string `json:"option_id"`
	Text     string `json:"text"`
}

// SortedOptions returns options ordered by option id.
func (q Question) SortedOptions() []QuestionOption {
	if len(q.Options) == 0 {
		return []QuestionOption{}
	}
	out := make([]QuestionOption, 0, len(q.Options))
	for k, v := range q.Options {
		out = append(out, QuestionOption{OptionID: k, Text: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OptionID < out[j].OptionID })
	return out
}

// PublicQuestion is the client-safe view of a question: no answer key.
type PublicQuestion struct {
	ID               string           `json:"id"`
	Position         int              `json:"position"`
	Text             string           `json:"text"`
	Type             QuestionType     `json:"question_type"`
	Options          []QuestionOption `json:"options,omitempty"`
	Meta             json.RawMessage  `json:"meta,omitempty"`
	TimeLimitSeconds *int             `json:"time_limit_seconds,omitempty"`
}

// Public strips the answer key from q.
func (q Question) Public() PublicQuestion {
	pq := PublicQuestion{
		ID:               q.ID,
		Position:         q.Position,
		Text:             q.Text,
		Type:             q.Type,
		TimeLimitSeconds: q.TimeLimitSeconds,
	}
	if q.Type == QuestionTypeMCQ {
		pq.Options = q.SortedOptions()
	} else {
		pq.Meta = q.Meta
	}
	return pq
}

// QuestionSetPayload is the cached, client-safe rendering of a question set.
type QuestionSetPayload struct {
	ID             string           `json:"question_set_id"`
	Skill          string           `json:"skill"`
	Level          string           `json:"level"`
	TotalQuestions int              `json:"total_questions"`
	Questions      []PublicQuestion `json:"questions"`
}

// Payload renders the client-safe view of the set.
func (s *QuestionSet) Payload() QuestionSetPayload {
	qs := make([]PublicQuestion, len(s.Questions))
	for i, q := range s.Questions {
		qs[i] = q.Public()
	}
	return QuestionSetPayload{
		ID:             s.ID,
		Skill:          s.Skill,
		Level:          s.Level,
		TotalQuestions: len(s.Questions),
		Questions:      qs,
	}
}

// AnswerKey maps question id to correct answer.
func (s *QuestionSet) AnswerKey() map[string]string {
	key := make(map[string]string, len(s.Questions))
	for _, q := range s.Questions {
		key[q.ID] = q.CorrectAnswer
	}
	return key
}

// Question returns the question with id, if present.
func (s *QuestionSet) Question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Assemble rebuilds a gradable QuestionSet from its cached payload and answer key.
func (p QuestionSetPayload) Assemble(key map[string]string) *QuestionSet {
	set := &QuestionSet{
		ID:             p.ID,
		Skill:          p.Skill,
		Level:          p.Level,
		TotalQuestions: p.TotalQuestions,
		Questions:      make([]Question, len(p.Questions)),
	}
	for i, pq := range p.Questions {
		q := Question{
			ID:               pq.ID,
			Position:         pq.Position,
			Text:             pq.Text,
			Type:             pq.Type,
			Meta:             pq.Meta,
			CorrectAnswer:    key[pq.ID],
			TimeLimitSeconds: pq.TimeLimitSeconds,
		}
		if len(pq.Options) > 0 {
			q.Options = make(map[string]string, len(pq.Options))
			for _, o := range pq.Options {
				q.Options[o.OptionID] = o.Text
			}
		}
		set.Questions[i] = q
	}
	return set
}
