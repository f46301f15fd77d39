package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assessment/internal/model"
)

func TestMergeSnapshot_OneAnsweredOneExpiredOneUntouched(t *testing.T) {
	set := threeMCQ()
	sess := activeSession(model.IdentityAnonymous, nil)
	prev := InitialSnapshot(sess, "email:ana@example.com")

	res, err := MergeSnapshot(MergeInput{
		Prev: prev,
		Proposed: model.SaveProgressRequest{
			SessionID:            sess.ID,
			CandidateEmail:       "ana@example.com",
			CurrentQuestionIndex: 2,
			Answers:              map[string]string{"q1": "A"},
			QuestionStatus: map[string]model.QuestionStatus{
				"q1": model.QuestionStatusAnswered,
				"q2": model.QuestionStatusExpired,
				"q3": model.QuestionStatusUnanswered,
			},
			ExpiredQuestionIDs:   []string{"q2"},
			RemainingTimeSeconds: 580,
		},
		Set:     set,
		Session: sess,
		Now:     t0.Add(20 * time.Second),
	})
	require.NoError(t, err)

	snap := res.Snapshot
	assert.False(t, res.SessionExpired)
	assert.Equal(t, []string{"q2"}, res.NewlyExpired)
	assert.Equal(t, map[string]string{"q1": "A"}, snap.Answers)
	assert.Equal(t, map[string]model.QuestionStatus{
		"q1": model.QuestionStatusAnswered,
		"q2": model.QuestionStatusExpired,
		"q3": model.QuestionStatusUnanswered,
	}, snap.QuestionStatus)
	assert.Equal(t, []string{"q2"}, snap.ExpiredQuestionIDs)
	assert.Equal(t, 2, snap.CurrentQuestionIndex)
	assert.Equal(t, 580, snap.RemainingTimeSeconds)
	assert.Equal(t, 20, snap.QuestionElapsedSeconds["q1"])
	assert.Equal(t, t0.Add(20*time.Second), snap.LastSavedAt)
}

func TestMergeSnapshot_ServerClockCapsRemaining(t *testing.T) {
	set := threeMCQ()
	sess := activeSession(model.IdentityAnonymous, nil)

	res, err := MergeSnapshot(MergeInput{
		Prev:     InitialSnapshot(sess, "k"),
		Proposed: model.SaveProgressRequest{SessionID: sess.ID, RemainingTimeSeconds: 600},
		Set:      set,
		Session:  sess,
		Now:      t0.Add(100 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, 500, res.Snapshot.RemainingTimeSeconds)
}

func TestMergeSnapshot_DwellExpiresQuestion(t *testing.T) {
	set := threeMCQ()
	sess := activeSession(model.IdentityAnonymous, nil)

	res, err := MergeSnapshot(MergeInput{
		Prev: InitialSnapshot(sess, "k"),
		Proposed: model.SaveProgressRequest{
			SessionID:            sess.ID,
			CurrentQuestionIndex: 1,
			// A late answer for the question whose timer lapsed.
			Answers:              map[string]string{"q1": "A"},
			RemainingTimeSeconds: 600,
		},
		Set:           set,
		Session:       sess,
		DefaultBudget: 30,
		Now:           t0.Add(45 * time.Second),
	})
	require.NoError(t, err)

	snap := res.Snapshot
	assert.Equal(t, []string{"q1"}, res.NewlyExpired)
	assert.Empty(t, snap.Answers)
	assert.Equal(t, model.QuestionStatusExpired, snap.QuestionStatus["q1"])
	assert.Equal(t, []string{"q1"}, snap.ExpiredQuestionIDs)
}

func TestMergeSnapshot_ExpiryIsSticky(t *testing.T) {
	set := threeMCQ()
	sess := activeSession(model.IdentityAnonymous, nil)
	prev := InitialSnapshot(sess, "k")
	prev.ExpiredQuestionIDs = []string{"q3"}
	prev.QuestionStatus = map[string]model.QuestionStatus{"q3": model.QuestionStatusExpired}

	res, err := MergeSnapshot(MergeInput{
		Prev: prev,
		Proposed: model.SaveProgressRequest{
			SessionID:            sess.ID,
			Answers:              map[string]string{"q3": "C"},
			QuestionStatus:       map[string]model.QuestionStatus{"q3": model.QuestionStatusAnswered},
			RemainingTimeSeconds: 590,
		},
		Set:     set,
		Session: sess,
		Now:     t0.Add(10 * time.Second),
	})
	require.NoError(t, err)
	assert.Empty(t, res.NewlyExpired)
	assert.NotContains(t, res.Snapshot.Answers, "q3")
	assert.Equal(t, model.QuestionStatusExpired, res.Snapshot.QuestionStatus["q3"])
}

func TestInitialSnapshot_KeepsSessionClocks(t *testing.T) {
	set := threeMCQ()
	sess := activeSession(model.IdentityAnonymous, nil)
	lastSave := t0.Add(80 * time.Second)
	sess.CurrentQuestionIndex = 1
	sess.ExpiredQuestionIDs = []string{"q2"}
	sess.QuestionElapsedSeconds = map[string]int{"q1": 10, "q2": 70}
	sess.LastSavedAt = &lastSave

	prev := InitialSnapshot(sess, "k")
	assert.Equal(t, 1, prev.CurrentQuestionIndex)
	assert.Equal(t, []string{"q2"}, prev.ExpiredQuestionIDs)
	assert.Equal(t, lastSave, prev.LastSavedAt)
	assert.Equal(t, 520, prev.RemainingTimeSeconds)
	assert.Empty(t, prev.Answers)

	res, err := MergeSnapshot(MergeInput{
		Prev: prev,
		Proposed: model.SaveProgressRequest{
			SessionID:            sess.ID,
			CurrentQuestionIndex: 1,
			Answers:              map[string]string{"q1": "A", "q2": "B"},
			RemainingTimeSeconds: 515,
		},
		Set:           set,
		Session:       sess,
		DefaultBudget: 60,
		Now:           lastSave.Add(5 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"q2"}, res.Snapshot.ExpiredQuestionIDs)
	assert.Equal(t, map[string]string{"q1": "A"}, res.Snapshot.Answers)
	assert.Equal(t, 10, res.Snapshot.QuestionElapsedSeconds["q1"])
	assert.Equal(t, 75, res.Snapshot.QuestionElapsedSeconds["q2"])
}

func TestMergeSnapshot_SessionExpiryWinsTie(t *testing.T) {
	set := threeMCQ()
	sess := activeSession(model.IdentityAnonymous, nil)
	sess.DurationSeconds = 30

	res, err := MergeSnapshot(MergeInput{
		Prev:          InitialSnapshot(sess, "k"),
		Proposed:      model.SaveProgressRequest{SessionID: sess.ID, RemainingTimeSeconds: 0},
		Set:           set,
		Session:       sess,
		DefaultBudget: 28,
		Now:           t0.Add(30 * time.Second),
	})
	require.NoError(t, err)
	assert.True(t, res.SessionExpired)
	assert.Empty(t, res.NewlyExpired)
	assert.Equal(t, 0, res.Snapshot.RemainingTimeSeconds)
}

func TestMergeSnapshot_RejectsForeignShapes(t *testing.T) {
	set := threeMCQ()
	sess := activeSession(model.IdentityAnonymous, nil)

	proposals := map[string]model.SaveProgressRequest{
		"unknown answer id":   {SessionID: sess.ID, Answers: map[string]string{"zz": "A"}},
		"invalid option":      {SessionID: sess.ID, Answers: map[string]string{"q1": "Q"}},
		"unknown status id":   {SessionID: sess.ID, QuestionStatus: map[string]model.QuestionStatus{"zz": "answered"}},
		"unknown status":      {SessionID: sess.ID, QuestionStatus: map[string]model.QuestionStatus{"q1": "skipped"}},
		"unknown expired id":  {SessionID: sess.ID, ExpiredQuestionIDs: []string{"zz"}},
		"index out of bounds": {SessionID: sess.ID, CurrentQuestionIndex: 3},
	}
	for name, p := range proposals {
		t.Run(name, func(t *testing.T) {
			_, err := MergeSnapshot(MergeInput{Prev: InitialSnapshot(sess, "k"), Proposed: p, Set: set, Session: sess, Now: t0})
			assert.ErrorIs(t, err, ErrInvalidAnswerShape)
		})
	}
}

func TestMergeSnapshot_SameSnapshotTwice(t *testing.T) {
	set := threeMCQ()
	sess := activeSession(model.IdentityAnonymous, nil)
	proposed := model.SaveProgressRequest{
		SessionID:            sess.ID,
		Answers:              map[string]string{"q1": "A"},
		RemainingTimeSeconds: 595,
	}

	first, err := MergeSnapshot(MergeInput{Prev: InitialSnapshot(sess, "k"), Proposed: proposed, Set: set, Session: sess, Now: t0.Add(5 * time.Second)})
	require.NoError(t, err)
	second, err := MergeSnapshot(MergeInput{Prev: first.Snapshot, Proposed: proposed, Set: set, Session: sess, Now: t0.Add(5 * time.Second)})
	require.NoError(t, err)

	assert.Equal(t, first.Snapshot, second.Snapshot)
}

func TestElapsedRemaining(t *testing.T) {
	assert.Equal(t, 290, ElapsedRemaining(300, t0, t0.Add(10*time.Second)))
	assert.Equal(t, 0, ElapsedRemaining(5, t0, t0.Add(10*time.Second)))
	assert.Equal(t, 300, ElapsedRemaining(300, t0, t0))
}
