package pager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentworkforce/graphsync/internal/graph"
	"go.uber.org/zap"
)

const (
	DefaultPageDelay          = time.Second
	DefaultRetryAfter         = 5 * time.Second
	DefaultMaxThrottleRetries = 5
)

// ErrThrottleExhausted is returned when the remote side keeps throttling the
// same request past the retry budget. It is a transport failure.
var ErrThrottleExhausted = errors.New("throttle retries exhausted")

type SleepFunc func(ctx context.Context, d time.Duration) error

type ControllerOptions struct {
	PageDelay          time.Duration
	DefaultRetryAfter  time.Duration
	MaxThrottleRetries int
	// OnThrottle is called once per throttled response with the wait applied.
	OnThrottle func(wait time.Duration)
	Logger     *zap.Logger
	Sleep      SleepFunc
}

// Controller paces successive page requests and turns throttling responses
// into delayed retries of the same request.
type Controller struct {
	pageDelay          time.Duration
	defaultRetryAfter  time.Duration
	maxThrottleRetries int
	onThrottle         func(time.Duration)
	logger             *zap.Logger
	sleep              SleepFunc
}

func NewController(opts ControllerOptions) *Controller {
	c := &Controller{
		pageDelay:          opts.PageDelay,
		defaultRetryAfter:  opts.DefaultRetryAfter,
		maxThrottleRetries: opts.MaxThrottleRetries,
		onThrottle:         opts.OnThrottle,
		logger:             opts.Logger,
		sleep:              opts.Sleep,
	}
	if c.pageDelay <= 0 {
		c.pageDelay = DefaultPageDelay
	}
	if c.defaultRetryAfter <= 0 {
		c.defaultRetryAfter = DefaultRetryAfter
	}
	if c.maxThrottleRetries <= 0 {
		c.maxThrottleRetries = DefaultMaxThrottleRetries
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// Pace waits the inter-page delay.
func (c *Controller) Pace(ctx context.Context) error {
	return c.sleep(ctx, c.pageDelay)
}

// Do issues fetch until it succeeds, fails, or throttling outlasts the retry
// budget. Throttled attempts are re-issued unchanged after the advertised
// Retry-After, or the default delay when none was given.
func (c *Controller) Do(ctx context.Context, fetch func(ctx context.Context) graph.FetchResult) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		result := fetch(ctx)
		switch result.Status {
		case graph.StatusOK:
			return result.Body, nil
		case graph.StatusThrottled:
			if attempt >= c.maxThrottleRetries {
				return nil, fmt.Errorf("%w: %d retries", ErrThrottleExhausted, attempt)
			}
			wait := result.RetryAfter
			if wait <= 0 {
				wait = c.defaultRetryAfter
			}
			if c.onThrottle != nil {
				c.onThrottle(wait)
			}
			c.logger.Warn("throttled, retrying same page",
				zap.Duration("retry_after", wait),
				zap.Int("attempt", attempt+1),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		default:
			if result.Err != nil {
				return nil, result.Err
			}
			return nil, errors.New("request failed")
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
