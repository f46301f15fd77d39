// Package seed validates and converts question-set files produced by the
// question generation service.
package seed

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stemsi/exstem-assessment/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "schema://question-set.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Document is the on-disk shape of one question set.
type Document struct {
	QuestionSetID string     `json:"question_set_id"`
	Skill         string     `json:"skill"`
	Level         string     `json:"level"`
	Questions     []Question `json:"questions"`
}

// Question is one question as generated. Unlike model.Question it carries
// the answer key.
type Question struct {
	ID               string          `json:"question_id"`
	Text             string          `json:"question_text"`
	Type             string          `json:"question_type"`
	Options          []Option        `json:"options,omitempty"`
	CorrectAnswer    string          `json:"correct_answer,omitempty"`
	Meta             json.RawMessage `json:"meta,omitempty"`
	TimeLimitSeconds *int            `json:"time_limit_seconds,omitempty"`
}

// Option is one MCQ choice.
type Option struct {
	OptionID string `json:"option_id"`
	Text     string `json:"text"`
}

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Parse decodes a YAML or JSON question-set file, checks it against the
// schema and returns the importable question set. The format is chosen by
// file extension; anything other than .yaml or .yml is read as JSON.
func Parse(name string, data []byte) (*model.QuestionSet, error) {
	raw, err := toJSON(name, data)
	if err != nil {
		return nil, err
	}

	sch, err := schema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid JSON: %w", name, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%s: schema validation failed: %w", name, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", name, err)
	}
	set, err := doc.QuestionSet()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return set, nil
}

func toJSON(name string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%s: invalid YAML: %w", name, err)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: convert YAML: %w", name, err)
		}
		return raw, nil
	default:
		return data, nil
	}
}

// QuestionSet converts the document, checking what the schema cannot
// express: unique ids and option keys, and MCQ answers that name an option.
func (d Document) QuestionSet() (*model.QuestionSet, error) {
	set := &model.QuestionSet{
		ID:             d.QuestionSetID,
		Skill:          d.Skill,
		Level:          d.Level,
		TotalQuestions: len(d.Questions),
		Questions:      make([]model.Question, 0, len(d.Questions)),
	}

	seen := make(map[string]bool, len(d.Questions))
	for i, q := range d.Questions {
		if seen[q.ID] {
			return nil, fmt.Errorf("duplicate question_id %q", q.ID)
		}
		seen[q.ID] = true

		mq := model.Question{
			ID:               q.ID,
			Position:         i + 1,
			Text:             q.Text,
			Type:             model.QuestionType(q.Type),
			Meta:             q.Meta,
			CorrectAnswer:    q.CorrectAnswer,
			TimeLimitSeconds: q.TimeLimitSeconds,
		}
		if len(q.Options) > 0 {
			mq.Options = make(map[string]string, len(q.Options))
			for _, opt := range q.Options {
				if _, dup := mq.Options[opt.OptionID]; dup {
					return nil, fmt.Errorf("question %q: duplicate option_id %q", q.ID, opt.OptionID)
				}
				mq.Options[opt.OptionID] = opt.Text
			}
		}
		if mq.Type == model.QuestionTypeMCQ && !mq.HasOption(mq.CorrectAnswer) {
			return nil, fmt.Errorf("question %q: correct_answer %q is not an option", q.ID, q.CorrectAnswer)
		}
		set.Questions = append(set.Questions, mq)
	}
	return set, nil
}
