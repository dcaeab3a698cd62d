package llm

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/chatline/internal/backoff"
)

// emitter forwards chunks to the consumer and records whether anything was
// sent, since a stream that already produced output cannot be retried.
type emitter struct {
	ctx     context.Context
	out     chan<- Chunk
	emitted bool
}

func (e *emitter) send(c Chunk) bool {
	if !c.Done && c.Err == nil {
		e.emitted = true
	}
	select {
	case e.out <- c:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// attemptFunc runs one streaming attempt. It returns the finish chunk on
// success.
type attemptFunc func(ctx context.Context, em *emitter) (Chunk, error)

// runStream drives attempt with retries in a goroutine and returns the chunk
// channel. Retries happen only while nothing has been emitted.
func runStream(ctx context.Context, cfg Config, logger *slog.Logger, provider string, attempt attemptFunc) <-chan Chunk {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		em := &emitter{ctx: ctx, out: out}

		var final Chunk
		err := backoff.Retry(ctx, cfg.Backoff, cfg.MaxRetries,
			func(err error) bool { return !em.emitted && IsRetryable(err) },
			func(n int) error {
				if n > 1 {
					logger.WarnContext(ctx, "retrying model request", "provider", provider, "attempt", n)
				}
				var err error
				final, err = attempt(ctx, em)
				return err
			})
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			em.send(Chunk{Err: err, Done: true})
			return
		}
		final.Done = true
		em.send(final)
	}()
	return out
}
