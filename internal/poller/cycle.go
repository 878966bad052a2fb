package poller

import (
	"context"

	"reviewbot/internal/review"
	logx "reviewbot/pkg/logx"
)

// Fetcher returns the raw review API payload for changes since cursor.
type Fetcher interface {
	Fetch(ctx context.Context, cursor int64) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, cursor int64) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, cursor int64) ([]byte, error) { return f(ctx, cursor) }

// Result is the outcome of one cycle. NextCursor is meaningful only when
// HasCursor is true, i.e. fetch and validation both succeeded.
type Result struct {
	NextCursor int64
	HasCursor  bool
	Messages   []string
	Errors     []Descriptor
}

// Cycle runs one fetch/validate/translate pass.
type Cycle struct {
	fetch Fetcher
	log   logx.Logger
}

func NewCycle(f Fetcher, log logx.Logger) *Cycle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cycle{fetch: f, log: log}
}

// Run fetches changes since cursor and renders one message per item.
// A message equal to the one before it (starting with lastNotified) is
// dropped. Item failures are collected and do not stop the batch.
func (c *Cycle) Run(ctx context.Context, cursor int64, lastNotified string) Result {
	raw, err := c.fetch.Fetch(ctx, cursor)
	if err != nil {
		return Result{Errors: []Descriptor{describe(KindFetchFailed, err)}}
	}
	resp, err := review.ParseResponse(raw)
	if err != nil {
		return Result{Errors: []Descriptor{describe(KindInvalidResponse, err)}}
	}

	res := Result{NextCursor: resp.Cursor, HasCursor: true}
	last := lastNotified
	for i, it := range resp.Items {
		msg, err := review.Translate(it)
		if err != nil {
			c.log.Warn("item skipped", logx.Int("index", i), logx.String("item", it.ID), logx.String("status", it.Status), logx.Err(err))
			res.Errors = append(res.Errors, describe(KindTranslationFailed, err))
			continue
		}
		if msg == last {
			c.log.Debug("duplicate message suppressed", logx.String("item", it.ID))
			continue
		}
		res.Messages = append(res.Messages, msg)
		last = msg
	}
	return res
}
