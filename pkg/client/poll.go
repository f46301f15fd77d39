package client

import (
	"context"
	"errors"
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// PollOptions bounds the result poll loop.
type PollOptions struct {
	Interval    time.Duration // first wait, doubled after every pending answer
	MaxInterval time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = 10 * time.Second
		if o.MaxInterval < o.Interval {
			o.MaxInterval = o.Interval
		}
	}
	return o
}

// ResultSource is the part of the client PollResults needs.
type ResultSource interface {
	Results(ctx context.Context, sessionID string) (*model.DetailedResult, error)
}

// PollResults waits until a session is graded. It returns as soon as the
// result is ready, on any error other than pending, or when ctx is done.
func PollResults(ctx context.Context, src ResultSource, sessionID string, opts PollOptions) (*model.DetailedResult, error) {
	opts = opts.withDefaults()
	wait := opts.Interval

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		res, err := src.Results(ctx, sessionID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrResultsPending) {
			return nil, err
		}

		timer.Reset(wait)
		wait *= 2
		if wait > opts.MaxInterval {
			wait = opts.MaxInterval
		}
	}
}
