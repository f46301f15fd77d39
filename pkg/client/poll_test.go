package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResults struct {
	mu      sync.Mutex
	pending int
	err     error
	calls   int
}

func (f *fakeResults) Results(_ context.Context, sessionID string) (*model.DetailedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.pending {
		return nil, ErrResultsPending
	}
	return &model.DetailedResult{SessionID: sessionID}, nil
}

func TestPollResults(t *testing.T) {
	notFound := &APIError{Status: 404, Code: response.ErrSessionNotFound}

	tests := []struct {
		name      string
		src       *fakeResults
		wantErr   error
		wantCalls int
	}{
		{name: "ready at once", src: &fakeResults{}, wantCalls: 1},
		{name: "ready after pending", src: &fakeResults{pending: 3}, wantCalls: 4},
		{name: "terminal error", src: &fakeResults{err: notFound}, wantErr: notFound, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := PollResults(context.Background(), tt.src, "s1", PollOptions{Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "s1", res.SessionID)
			}
			assert.Equal(t, tt.wantCalls, tt.src.calls)
		})
	}
}

func TestPollResults_Cancelled(t *testing.T) {
	src := &fakeResults{pending: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := PollResults(ctx, src, "s1", PollOptions{Interval: time.Millisecond})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPollOptions_Defaults(t *testing.T) {
	o := PollOptions{}.withDefaults()
	assert.Equal(t, time.Second, o.Interval)
	assert.Equal(t, 10*time.Second, o.MaxInterval)

	o = PollOptions{Interval: time.Minute}.withDefaults()
	assert.Equal(t, time.Minute, o.MaxInterval)
}
