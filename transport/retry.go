package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-cavro/internal/pool"
	"github.com/arloliu/go-cavro/logger"
	"github.com/arloliu/go-cavro/tecanapi"
)

// exchangeFunc performs one attempt: write frame, wait for one reply.
type exchangeFunc func(ctx context.Context, frame []byte) (*tecanapi.Response, error)

// retrier implements the attempt loop shared by all links.
//
// retrier is not goroutine-safe; callers hold the wire lock.
type retrier struct {
	cfg     *LinkConfig
	framer  *tecanapi.Framer
	metrics *LinkMetrics
	logger  logger.Logger
}

func newRetrier(cfg *LinkConfig, addr int, l logger.Logger) (*retrier, error) {
	framer, err := tecanapi.NewFramer(addr)
	if err != nil {
		return nil, err
	}

	return &retrier{
		cfg:     cfg,
		framer:  framer,
		metrics: &LinkMetrics{},
		logger:  l,
	}, nil
}

// sendRcv sends a fresh frame for cmd and retries with repeat frames until a
// valid reply arrives or the attempts are exhausted.
func (r *retrier) sendRcv(ctx context.Context, cmd []byte, exchange exchangeFunc) (*tecanapi.Response, error) {
	maxAttempts := r.cfg.maxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var frame []byte
		if attempt == 1 {
			frame = r.framer.Emit(cmd)
		} else {
			frame = r.framer.EmitRepeat()
			r.metrics.incRetryCount()
		}
		r.metrics.incFrameSendCount()

		resp, err := exchange(ctx, frame)
		if err == nil {
			r.metrics.incFrameRecvCount()
			return resp, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var wait time.Duration
		if isInvalidReply(err) {
			r.metrics.incInvalidFrameCount()
			wait = r.cfg.backoff * time.Duration(attempt)
		} else {
			wait = r.cfg.errorBackoff
		}

		r.logger.Debug("transport: no valid reply, retrying",
			"cmd", string(cmd),
			"seq", r.framer.Seq(),
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"error", err,
		)

		if attempt < maxAttempts {
			if err := pool.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	r.metrics.incTimeoutCount()
	r.logger.Warn("transport: max attempts exceeded", "cmd", string(cmd), "maxAttempts", maxAttempts)

	return nil, fmt.Errorf("%w: exceeded max attempts [%d]", ErrTimeout, maxAttempts)
}
