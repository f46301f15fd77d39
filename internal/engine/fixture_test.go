package engine

import (
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func threeMCQ() *model.QuestionSet {
	opts := map[string]string{"A": "one", "B": "two", "C": "three", "D": "four"}
	return &model.QuestionSet{
		ID:             "qs-1",
		Skill:          "go",
		Level:          "junior",
		TotalQuestions: 3,
		Questions: []model.Question{
			{ID: "q1", Position: 1, Text: "first", Type: model.QuestionTypeMCQ, Options: opts, CorrectAnswer: "A"},
			{ID: "q2", Position: 2, Text: "second", Type: model.QuestionTypeMCQ, Options: opts, CorrectAnswer: "B"},
			{ID: "q3", Position: 3, Text: "third", Type: model.QuestionTypeMCQ, Options: opts, CorrectAnswer: "C"},
		},
	}
}

func activeSession(mode model.IdentityMode, owner *int) *model.Session {
	return &model.Session{
		ID:               "5f0c5d0e-8f43-4a51-9d1e-1b9a0f4d2c11",
		QuestionSetID:    "qs-1",
		OwnerID:          owner,
		IdentityMode:     mode,
		StartedAt:        t0,
		DurationSeconds:  600,
		PassingThreshold: 60,
		Status:           model.SessionStatusActive,
		TotalQuestions:   3,
	}
}
