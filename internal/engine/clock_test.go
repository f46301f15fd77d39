package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTick(t *testing.T) {
	tests := []struct {
		name          string
		in            Clock
		elapsed       int
		wantOutcome   TickOutcome
		wantRemaining int
		wantDwell     int
	}{
		{
			name:          "plain countdown",
			in:            Clock{RemainingSeconds: 100},
			elapsed:       1,
			wantOutcome:   TickNone,
			wantRemaining: 99,
		},
		{
			name:          "question lapses",
			in:            Clock{RemainingSeconds: 100, QuestionID: "q1", QuestionBudgetSeconds: 30, QuestionElapsedSeconds: 29},
			elapsed:       1,
			wantOutcome:   TickQuestionExpired,
			wantRemaining: 99,
			wantDwell:     30,
		},
		{
			name:          "answered question never lapses",
			in:            Clock{RemainingSeconds: 100, QuestionID: "q1", QuestionBudgetSeconds: 30, QuestionElapsedSeconds: 29, QuestionAnswered: true},
			elapsed:       5,
			wantOutcome:   TickNone,
			wantRemaining: 95,
			wantDwell:     34,
		},
		{
			name:          "untimed question",
			in:            Clock{RemainingSeconds: 100, QuestionID: "q1", QuestionElapsedSeconds: 500},
			elapsed:       1,
			wantOutcome:   TickNone,
			wantRemaining: 99,
			wantDwell:     501,
		},
		{
			name:          "session beats question in the same tick",
			in:            Clock{RemainingSeconds: 1, QuestionID: "q1", QuestionBudgetSeconds: 30, QuestionElapsedSeconds: 29},
			elapsed:       1,
			wantOutcome:   TickSessionExpired,
			wantRemaining: 0,
			wantDwell:     30,
		},
		{
			name:          "remaining clamps at zero",
			in:            Clock{RemainingSeconds: 3},
			elapsed:       10,
			wantOutcome:   TickSessionExpired,
			wantRemaining: 0,
		},
		{
			name:          "already lapsed is reported once",
			in:            Clock{RemainingSeconds: 50, QuestionID: "q1", QuestionBudgetSeconds: 10, QuestionElapsedSeconds: 12},
			elapsed:       1,
			wantOutcome:   TickNone,
			wantRemaining: 49,
			wantDwell:     13,
		},
		{
			name:          "negative elapsed is ignored",
			in:            Clock{RemainingSeconds: 50},
			elapsed:       -4,
			wantOutcome:   TickNone,
			wantRemaining: 50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, outcome := Tick(tt.in, tt.elapsed)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantRemaining, got.RemainingSeconds)
			assert.Equal(t, tt.wantDwell, got.QuestionElapsedSeconds)
		})
	}
}

func TestTick_DoesNotMutateInput(t *testing.T) {
	in := Clock{RemainingSeconds: 10, QuestionID: "q1", QuestionBudgetSeconds: 5}
	_, _ = Tick(in, 3)
	assert.Equal(t, 10, in.RemainingSeconds)
	assert.Equal(t, 0, in.QuestionElapsedSeconds)
}

func TestQuestionRemaining(t *testing.T) {
	assert.Equal(t, -1, Clock{}.QuestionRemaining())
	assert.Equal(t, 7, Clock{QuestionID: "q", QuestionBudgetSeconds: 10, QuestionElapsedSeconds: 3}.QuestionRemaining())
	assert.Equal(t, 0, Clock{QuestionID: "q", QuestionBudgetSeconds: 10, QuestionElapsedSeconds: 30}.QuestionRemaining())
}
